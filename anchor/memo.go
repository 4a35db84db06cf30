package anchor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/repomesh/core/reperr"
)

// MemoType and MemoFormat travel alongside the hex-encoded memo payload on
// the external-ledger self-payment used to pin an anchor: ledgerio.Memo
// carries all three, and verify.ReplayAnchorProof uses Type/Format to pick
// the anchor memo out of a transaction's memos before decoding it.
const (
	MemoType   = "repomesh-anchor-v1"
	MemoFormat = "application/json"

	// MaxMemoBytes bounds the compact JSON payload before hex encoding.
	MaxMemoBytes = 700
)

// memo is the compact wire form of a Manifest, using single-letter keys to
// stay well under the external ledger's memo size limit.
type memo struct {
	V  int    `json:"v"`
	P  string `json:"p"`
	N  string `json:"n"`
	R  string `json:"r"`
	H  string `json:"h"`
	C  int    `json:"c"`
	Pv string `json:"pv"`
	Rg string `json:"rg"`
}

// EncodeMemo renders m as a compact JSON object and returns its hex
// encoding for transport as MemoData. Prev and Range collapse to "0" for
// genesis manifests, matching the wire grammar.
func EncodeMemo(m Manifest) (string, error) {
	prev := "0"
	if m.Prev != nil {
		prev = *m.Prev
	}
	rangeField := "0"
	if len(m.Range) == 2 {
		rangeField = m.Range[0] + ".." + m.Range[1]
	}
	body := memo{
		V: m.V, P: m.PartitionID, N: m.Network, R: m.Root, H: m.ManifestHash,
		C: m.Count, Pv: prev, Rg: rangeField,
	}
	compact, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	if len(compact) > MaxMemoBytes {
		return "", reperr.New(reperr.KindMemoTooLarge, "encoded memo exceeds the external-ledger size cap")
	}
	return hex.EncodeToString(compact), nil
}

// DecodedMemo is the parsed form of a memo, expanded back into its manifest
// field names for comparison against a locally recomputed manifest.
type DecodedMemo struct {
	SchemaVersion int
	PartitionID   string
	Network       string
	Root          string
	ManifestHash  string
	Count         int
	Prev          string // "0" for genesis
	Range         string // "first..last", or "0" for genesis
}

// DecodeMemo reverses EncodeMemo: hex-decode, then parse the compact JSON.
func DecodeMemo(hexMemo string) (DecodedMemo, error) {
	raw, err := hex.DecodeString(hexMemo)
	if err != nil {
		return DecodedMemo{}, reperr.Wrap(reperr.KindMemoDecodeFailed, "memo is not valid hex", err)
	}
	var body memo
	if err := json.Unmarshal(raw, &body); err != nil {
		return DecodedMemo{}, reperr.Wrap(reperr.KindMemoDecodeFailed, "memo is not valid JSON", err)
	}
	if body.V == 0 || body.P == "" || body.R == "" || body.H == "" {
		return DecodedMemo{}, reperr.New(reperr.KindMemoDecodeFailed, "memo is missing required fields")
	}
	if body.V != SchemaVersion {
		return DecodedMemo{}, reperr.New(reperr.KindMemoVersionMismatch,
			fmt.Sprintf("memo schema version %d is not the supported version %d", body.V, SchemaVersion))
	}
	return DecodedMemo{
		SchemaVersion: body.V, PartitionID: body.P, Network: body.N, Root: body.R,
		ManifestHash: body.H, Count: body.C, Prev: body.Pv, Range: body.Rg,
	}, nil
}
