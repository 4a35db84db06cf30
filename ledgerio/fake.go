package ledgerio

import (
	"context"
	"sort"
	"sync"

	"github.com/repomesh/core/anchor"
	"github.com/repomesh/core/reperr"
)

// fakeTx is one recorded self-payment: the wallet it was submitted to, and
// the memos it carries.
type fakeTx struct {
	walletAddress string
	memos         []Memo
}

// FakeClient is an in-memory stand-in for the external ledger, used in
// tests that exercise anchor emission and anchor-proof replay without a
// live gRPC endpoint. Transaction hashes are assigned sequentially.
type FakeClient struct {
	mu   sync.Mutex
	txs  map[string]fakeTx
	next int

	// FailNext, when > 0, makes that many upcoming calls fail with a
	// transport error before succeeding, to exercise retry behavior.
	FailNext int
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{txs: make(map[string]fakeTx)}
}

func (f *FakeClient) SubmitSelfPayment(ctx context.Context, walletAddress string, memo Memo) (anchor.TransactionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext > 0 {
		f.FailNext--
		return anchor.TransactionResult{}, reperr.New(reperr.KindExternalLedgerUnavail, "simulated transport failure")
	}
	f.next++
	txHash := fakeTxHash(f.next)
	f.txs[txHash] = fakeTx{walletAddress: walletAddress, memos: []Memo{memo}}
	return anchor.TransactionResult{TxHash: txHash, WalletAddress: walletAddress}, nil
}

func (f *FakeClient) GetTransaction(ctx context.Context, txHash string) ([]Memo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext > 0 {
		f.FailNext--
		return nil, reperr.New(reperr.KindExternalLedgerUnavail, "simulated transport failure")
	}
	tx, ok := f.txs[txHash]
	if !ok {
		return nil, reperr.New(reperr.KindInvalidRequest, "unknown transaction hash: "+txHash)
	}
	return tx.memos, nil
}

// FindByMemoType scans every self-payment submitted to walletAddress and
// returns the hashes of those whose first memo matches memoType — the fake
// equivalent of the cheap ledger-side filter a real explorer would offer, so
// callers can locate anchor transactions without decoding every payment on
// the wallet.
func (f *FakeClient) FindByMemoType(walletAddress, memoType string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hashes []string
	for hash, tx := range f.txs {
		if tx.walletAddress != walletAddress {
			continue
		}
		if len(tx.memos) > 0 && tx.memos[0].Type == memoType {
			hashes = append(hashes, hash)
		}
	}
	sort.Strings(hashes)
	return hashes
}

func fakeTxHash(n int) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = hexDigits[0]
	}
	// Encode n into the low digits so successive fake transactions are
	// distinguishable without pulling in a real hashing dependency.
	i := len(buf) - 1
	for n > 0 && i >= 0 {
		buf[i] = hexDigits[n%16]
		n /= 16
		i--
	}
	return string(buf)
}
