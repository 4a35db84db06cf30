package ledgerio

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// LedgerServer is the server API for the external-ledger gRPC service.
//
// Requests and responses are JSON payloads carried inside protobuf
// well-known wrapper types, so this package needs no protoc/codegen
// toolchain: SubmitSelfPayment takes a StringValue holding
// {"walletAddress","memoTypeHex","memoFormatHex","memoDataHex"} and returns
// a StringValue txHash; GetTransaction takes a StringValue txHash and
// returns a StringValue holding a JSON array of
// {"memoTypeHex","memoFormatHex","memoDataHex"} objects.
//
// The service descriptor below is written by hand; no .proto file is shipped.
type LedgerServer interface {
	SubmitSelfPayment(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	GetTransaction(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

// UnimplementedLedgerServer can be embedded to have forward compatible implementations.
type UnimplementedLedgerServer struct{}

func (UnimplementedLedgerServer) SubmitSelfPayment(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method SubmitSelfPayment not implemented")
}
func (UnimplementedLedgerServer) GetTransaction(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetTransaction not implemented")
}

// RegisterLedgerServer registers the ledger service on a gRPC server.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&Ledger_ServiceDesc, srv)
}

// LedgerClient is the client API for the external-ledger gRPC service.
type LedgerClient interface {
	SubmitSelfPayment(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	GetTransaction(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type ledgerClient struct{ cc grpc.ClientConnInterface }

func NewLedgerClient(cc grpc.ClientConnInterface) LedgerClient { return &ledgerClient{cc: cc} }

func (c *ledgerClient) SubmitSelfPayment(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/repomesh.core.ledgerio.v1.Ledger/SubmitSelfPayment", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerClient) GetTransaction(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/repomesh.core.ledgerio.v1.Ledger/GetTransaction", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Ledger_SubmitSelfPayment_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).SubmitSelfPayment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/repomesh.core.ledgerio.v1.Ledger/SubmitSelfPayment"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).SubmitSelfPayment(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ledger_GetTransaction_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).GetTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/repomesh.core.ledgerio.v1.Ledger/GetTransaction"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).GetTransaction(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Ledger_ServiceDesc is the grpc.ServiceDesc for the Ledger service.
var Ledger_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "repomesh.core.ledgerio.v1.Ledger",
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitSelfPayment", Handler: _Ledger_SubmitSelfPayment_Handler},
		{MethodName: "GetTransaction", Handler: _Ledger_GetTransaction_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger.proto",
}
