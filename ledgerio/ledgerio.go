// Package ledgerio is the consumed contract for the external public ledger
// the anchor engine pins checkpoints to: submitting a signed self-payment
// carrying a memo, and fetching a transaction back out by hash.
package ledgerio

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/repomesh/core/anchor"
	"github.com/repomesh/core/reperr"
)

// DefaultTimeout bounds a single RPC attempt.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the number of retries attempted after the first failed
// call, before the caller sees ExternalLedgerUnavailable.
const DefaultRetries = 3

// Memo is the external ledger's three-field memo contract: Type and Format
// travel alongside Data (all UTF-8 at this level; the wire transport
// hex-encodes all three, per the memo grammar), so a third party walking a
// wallet's transaction history can filter down to anchor transactions by
// Type alone, without JSON-decoding every payment on the ledger.
// anchor.MemoType/anchor.MemoFormat are the values the anchor engine
// submits; Data is what anchor.EncodeMemo/DecodeMemo already hex-encode.
type Memo struct {
	Type   string
	Format string
	Data   string
}

// Client is the anchor engine's view of the external ledger: submit a
// self-payment carrying an anchor memo, and fetch a transaction's memos
// back out by hash. Implementations must treat transport failures as
// retriable and must not silently swallow a failed submission.
type Client interface {
	// SubmitSelfPayment submits a self-addressed payment to walletAddress
	// carrying memo, returning the resulting TransactionResult.
	SubmitSelfPayment(ctx context.Context, walletAddress string, memo Memo) (anchor.TransactionResult, error)

	// GetTransaction fetches a previously submitted transaction and returns
	// the memos attached to it, in ledger order.
	GetTransaction(ctx context.Context, txHash string) ([]Memo, error)
}

// submitRequest is the JSON payload carried inside the gRPC service's
// StringValue wrapper. MemoTypeHex/MemoFormatHex carry the hex encoding of
// Memo.Type/Memo.Format; MemoDataHex is Memo.Data unchanged, since
// anchor.EncodeMemo already returns its hex form.
type submitRequest struct {
	WalletAddress string `json:"walletAddress"`
	MemoTypeHex   string `json:"memoTypeHex"`
	MemoFormatHex string `json:"memoFormatHex"`
	MemoDataHex   string `json:"memoDataHex"`
}

// wireMemo is the JSON shape of one memo entry in a GetTransaction response.
type wireMemo struct {
	MemoTypeHex   string `json:"memoTypeHex"`
	MemoFormatHex string `json:"memoFormatHex"`
	MemoDataHex   string `json:"memoDataHex"`
}

func encodeMemoForWire(m Memo) submitRequest {
	return submitRequest{
		MemoTypeHex:   hex.EncodeToString([]byte(m.Type)),
		MemoFormatHex: hex.EncodeToString([]byte(m.Format)),
		MemoDataHex:   m.Data,
	}
}

func decodeMemoFromWire(w wireMemo) (Memo, error) {
	typeBytes, err := hex.DecodeString(w.MemoTypeHex)
	if err != nil {
		return Memo{}, reperr.Wrap(reperr.KindMemoDecodeFailed, "memoTypeHex is not valid hex", err)
	}
	formatBytes, err := hex.DecodeString(w.MemoFormatHex)
	if err != nil {
		return Memo{}, reperr.Wrap(reperr.KindMemoDecodeFailed, "memoFormatHex is not valid hex", err)
	}
	return Memo{Type: string(typeBytes), Format: string(formatBytes), Data: w.MemoDataHex}, nil
}

// GRPCClient implements Client over a LedgerClient connection, retrying
// transport failures with exponential backoff up to a bounded count before
// surfacing ExternalLedgerUnavailable.
type GRPCClient struct {
	cc     *grpc.ClientConn
	client LedgerClient

	// Timeout bounds each individual RPC attempt. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Retries bounds the retry count after the first attempt. Defaults to DefaultRetries.
	Retries int
}

// DialOptions configures GRPCClient's underlying connection.
type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration
}

// Dial connects to an external-ledger gRPC endpoint.
func Dial(target string, opts DialOptions) (*GRPCClient, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{cc: cc, client: NewLedgerClient(cc), Timeout: DefaultTimeout, Retries: DefaultRetries}, nil
}

func (c *GRPCClient) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *GRPCClient) SubmitSelfPayment(ctx context.Context, walletAddress string, memo Memo) (anchor.TransactionResult, error) {
	wireReq := encodeMemoForWire(memo)
	wireReq.WalletAddress = walletAddress
	req, err := json.Marshal(wireReq)
	if err != nil {
		return anchor.TransactionResult{}, reperr.Wrap(reperr.KindInternal, "failed to encode submit request", err)
	}

	var txHash string
	err = withRetry(ctx, c.retries(), func(attemptCtx context.Context) error {
		reply, rerr := c.client.SubmitSelfPayment(attemptCtx, wrapperspb.String(string(req)))
		if rerr != nil {
			return rerr
		}
		txHash = reply.GetValue()
		return nil
	}, c.timeout())
	if err != nil {
		return anchor.TransactionResult{}, mapUnavailable(err)
	}
	return anchor.TransactionResult{TxHash: txHash, WalletAddress: walletAddress}, nil
}

func (c *GRPCClient) GetTransaction(ctx context.Context, txHash string) ([]Memo, error) {
	var wireMemos []wireMemo
	err := withRetry(ctx, c.retries(), func(attemptCtx context.Context) error {
		reply, rerr := c.client.GetTransaction(attemptCtx, wrapperspb.String(txHash))
		if rerr != nil {
			return rerr
		}
		return json.Unmarshal([]byte(reply.GetValue()), &wireMemos)
	}, c.timeout())
	if err != nil {
		return nil, mapUnavailable(err)
	}
	memos := make([]Memo, 0, len(wireMemos))
	for _, w := range wireMemos {
		m, derr := decodeMemoFromWire(w)
		if derr != nil {
			return nil, derr
		}
		memos = append(memos, m)
	}
	return memos, nil
}

func (c *GRPCClient) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c *GRPCClient) retries() int {
	if c.Retries > 0 {
		return c.Retries
	}
	return DefaultRetries
}

// withRetry runs fn once, then up to retries more times on failure, with
// full-jitter exponential backoff starting at 200ms. It gives up early if
// ctx is done or if fn's error is a gRPC InvalidArgument or NotFound status,
// which is the ledger rejecting the request rather than a transport failure.
func withRetry(ctx context.Context, retries int, fn func(context.Context) error, perAttempt time.Duration) error {
	var lastErr error
	base := 200 * time.Millisecond
	for attempt := 0; attempt <= retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		lastErr = fn(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if st, ok := status.FromError(lastErr); ok && (st.Code() == codes.InvalidArgument || st.Code() == codes.NotFound) {
			return lastErr
		}
		if attempt == retries {
			break
		}
		delay := base * time.Duration(1<<uint(attempt))
		jittered := time.Duration(rand.Int63n(int64(delay) + 1))
		timer := time.NewTimer(jittered)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}
	return lastErr
}

// mapUnavailable turns an exhausted-retry-budget transport error into the
// warn-class ExternalLedgerUnavailable, preserving the underlying cause.
func mapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument, codes.NotFound:
			return reperr.Wrap(reperr.KindInvalidRequest, "external ledger rejected the request", err)
		}
	}
	return reperr.Wrap(reperr.KindExternalLedgerUnavail, "external ledger unreachable after retry budget", err)
}
