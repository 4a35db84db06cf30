package anchor

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/repomesh/core/reperr"
)

// ManifestServer is the server API for the anchor manifest gRPC service: a
// read/write directory of partition manifests keyed by partitionId.
//
// We intentionally use protobuf well-known wrapper types so this package
// does not require a protoc/codegen toolchain.
//
// The service descriptor below is written by hand; no .proto file is shipped.
type ManifestServer interface {
	Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Put(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

// UnimplementedManifestServer can be embedded to have forward compatible implementations.
type UnimplementedManifestServer struct{}

func (UnimplementedManifestServer) Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedManifestServer) Put(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Put not implemented")
}

// RegisterManifestServer registers the Manifest service on a gRPC server.
func RegisterManifestServer(s grpc.ServiceRegistrar, srv ManifestServer) {
	s.RegisterService(&Manifest_ServiceDesc, srv)
}

// ManifestClient is the client API for the Manifest gRPC service.
type ManifestClient interface {
	Get(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Put(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type manifestClient struct{ cc grpc.ClientConnInterface }

func NewManifestClient(cc grpc.ClientConnInterface) ManifestClient { return &manifestClient{cc: cc} }

func (c *manifestClient) Get(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/repomesh.core.anchor.v1.Manifest/Get", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *manifestClient) Put(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/repomesh.core.anchor.v1.Manifest/Put", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Manifest_Get_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ManifestServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/repomesh.core.anchor.v1.Manifest/Get"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ManifestServer).Get(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Manifest_Put_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ManifestServer).Put(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/repomesh.core.anchor.v1.Manifest/Put"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ManifestServer).Put(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Manifest_ServiceDesc is the grpc.ServiceDesc for the Manifest service.
var Manifest_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "repomesh.core.anchor.v1.Manifest",
	HandlerType: (*ManifestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: _Manifest_Get_Handler},
		{MethodName: "Put", Handler: _Manifest_Put_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "manifest.proto",
}

// Server exposes a *Store over the Manifest gRPC service.
type Server struct {
	UnimplementedManifestServer
	Store *Store
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing manifest store")
	}
	m, err := s.Store.Get(in.GetValue())
	if err != nil {
		return nil, mapStoreErr(err)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "manifest marshal failed")
	}
	return wrapperspb.String(string(b)), nil
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing manifest store")
	}
	var m Manifest
	if err := json.Unmarshal([]byte(in.GetValue()), &m); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed manifest json")
	}
	if err := m.VerifySelfBinding(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.Store.Put(m); err != nil {
		return nil, mapStoreErr(err)
	}
	return wrapperspb.String(m.PartitionID), nil
}

// RemoteSource adapts a ManifestClient into a ManifestGetter, so a
// repomesh-anchord daemon can stand in as a fallback adapter behind a local
// Store in a MultiSource chain.
type RemoteSource struct {
	Client ManifestClient
	Ctx    context.Context
}

// Get implements ManifestGetter.
func (r RemoteSource) Get(partitionID string) (Manifest, error) {
	ctx := r.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	out, err := r.Client.Get(ctx, wrapperspb.String(partitionID))
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return Manifest{}, reperr.Wrap(reperr.KindManifestUnavailable, "no manifest for partition "+partitionID, err)
		}
		return Manifest{}, err
	}
	var m Manifest
	if jerr := json.Unmarshal([]byte(out.GetValue()), &m); jerr != nil {
		return Manifest{}, reperr.Wrap(reperr.KindManifestUnavailable, "manifest for "+partitionID+" is corrupt", jerr)
	}
	return m, nil
}

func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	switch reperr.KindOf(err) {
	case reperr.KindManifestUnavailable:
		return status.Error(codes.NotFound, err.Error())
	case reperr.KindManifestConflict:
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
