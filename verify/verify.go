// Package verify implements the end-to-end verification orchestrator: is a
// release authentic, attested, and anchored — plus the independent
// anchor-proof replay path from an external-ledger transaction hash.
package verify

import (
	"context"
	"sort"

	"github.com/repomesh/core/anchor"
	"github.com/repomesh/core/event"
	"github.com/repomesh/core/ledgerio"
	"github.com/repomesh/core/reperr"
)

// AttestationVerdict is the outcome of C1-verifying one AttestationPublished
// event found for the release under check.
type AttestationVerdict struct {
	CheckKind string
	SignerKey string
	Verified  bool
	Err       error
}

// AnchorStatus reports whether, and where, a release's canonical hash was
// found included in an anchored partition.
type AnchorStatus struct {
	Anchored    bool
	PartitionID string
	Root        string
}

// Result is C6's structured verification outcome.
type Result struct {
	OK           bool
	Release      event.Event
	Attestations []AttestationVerdict
	Anchor       *AnchorStatus
}

// ManifestSource resolves manifests by partitionId, backing the anchor walk.
type ManifestSource interface {
	Get(partitionID string) (anchor.Manifest, error)
}

// VerifyRelease locates the unique ReleasePublished event for (repo,
// version) in events, verifies its signature, verifies every attestation
// event targeting it, and — if anchored is true — walks the log's anchor
// events newest-first looking for the release's canonical hash included in
// some partition.
func VerifyRelease(repo, version string, anchored bool, events []event.Event, resolver event.KeyResolver, manifests ManifestSource) (*Result, error) {
	release, ok := findRelease(events, repo, version)
	if !ok {
		return nil, reperr.New(reperr.KindReleaseNotFound, "no ReleasePublished event for "+repo+"@"+version)
	}
	if err := event.Verify(release, resolver); err != nil {
		return nil, reperr.Wrap(reperr.KindReleaseSignatureBad, "release signature invalid", err)
	}

	res := &Result{OK: true, Release: release}
	for _, e := range events {
		if e.Type != event.TypeAttestationPublished || e.Repo != repo || e.Version != version {
			continue
		}
		verr := event.Verify(e, resolver)
		for _, a := range e.Attestations {
			res.Attestations = append(res.Attestations, AttestationVerdict{
				CheckKind: a.Type,
				SignerKey: e.Signature.KeyID,
				Verified:  verr == nil,
				Err:       verr,
			})
		}
	}

	if anchored {
		status, err := walkForInclusion(release, events, manifests)
		if err != nil {
			return nil, err
		}
		res.Anchor = status
	}
	return res, nil
}

func findRelease(events []event.Event, repo, version string) (event.Event, bool) {
	for _, e := range events {
		if e.Type == event.TypeReleasePublished && e.Repo == repo && e.Version == version {
			return e, true
		}
	}
	return event.Event{}, false
}

// anchorEvents returns every ledger.anchor AttestationPublished event in
// events, newest first.
func anchorEvents(events []event.Event) []event.Event {
	var out []event.Event
	for _, e := range events {
		if e.Type != event.TypeAttestationPublished {
			continue
		}
		for _, a := range e.Attestations {
			if a.Type == anchor.AnchorEventType {
				out = append(out, e)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func walkForInclusion(release event.Event, events []event.Event, manifests ManifestSource) (*AnchorStatus, error) {
	hash, err := release.CanonicalHash()
	if err != nil {
		return nil, err
	}

	for _, anchorEvt := range anchorEvents(events) {
		notes, err := anchor.DecodeAnchorNotes(anchorEvt.Notes)
		if err != nil {
			continue
		}
		m, err := manifests.Get(notes.PartitionID)
		if err != nil {
			return nil, reperr.Wrap(reperr.KindManifestUnavailable, "manifest for "+notes.PartitionID+" unavailable during anchor walk", err)
		}

		_, leafHashes, err := anchor.SelectPartition(events, notes.PartitionID)
		if err != nil {
			continue
		}
		included := false
		for _, h := range leafHashes {
			if h == hash {
				included = true
				break
			}
		}
		if !included {
			continue
		}

		if err := m.VerifySelfBinding(); err != nil {
			return nil, err
		}
		return &AnchorStatus{Anchored: true, PartitionID: m.PartitionID, Root: m.Root}, nil
	}
	return &AnchorStatus{Anchored: false}, nil
}

// ReplayResult is the outcome of independently replaying an anchor-proof
// from an external-ledger transaction hash.
type ReplayResult struct {
	OK           bool
	PartitionID  string
	Root         string
	ManifestHash string
	Count        int
}

// ReplayAnchorProof fetches txHash from the ledger client, decodes its
// memo, locates the corresponding partition locally, reconstructs its
// leaves, and asserts the recomputed root/manifestHash/count agree with the
// memo's claims.
func ReplayAnchorProof(ctx context.Context, client ledgerio.Client, txHash string, events []event.Event) (*ReplayResult, error) {
	memos, err := client.GetTransaction(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if len(memos) == 0 {
		return nil, reperr.New(reperr.KindMemoDecodeFailed, "transaction carries no memo")
	}

	anchorMemo, ok := selectAnchorMemo(memos)
	if !ok {
		return nil, reperr.New(reperr.KindMemoDecodeFailed, "transaction carries no repomesh-anchor memo")
	}

	decoded, err := anchor.DecodeMemo(anchorMemo.Data)
	if err != nil {
		return nil, err
	}
	if decoded.SchemaVersion != anchor.SchemaVersion {
		return nil, reperr.New(reperr.KindMemoVersionMismatch,
			"memo schema version does not match the version this replay path supports")
	}

	leaves, _, err := anchor.SelectPartition(events, decoded.PartitionID)
	if err != nil {
		return nil, err
	}
	if len(leaves) != decoded.Count {
		return nil, reperr.New(reperr.KindPartitionLeafMismatch, "recomputed leaf count disagrees with memo count")
	}

	hexLeaves := make([]string, 0, len(leaves))
	for _, e := range leaves {
		h, err := e.CanonicalHash()
		if err != nil {
			return nil, err
		}
		hexLeaves = append(hexLeaves, h)
	}
	root, err := anchor.MerkleRootHex(hexLeaves)
	if err != nil {
		return nil, err
	}
	if root != decoded.Root {
		return nil, reperr.New(reperr.KindRootMismatch, "recomputed root disagrees with memo root")
	}

	var prevPtr *string
	if decoded.Prev != "0" {
		prevPtr = &decoded.Prev
	}
	m, err := anchor.Materialize(decoded.PartitionID, decoded.Network, prevPtr, hexLeaves)
	if err != nil {
		return nil, err
	}
	if m.ManifestHash != decoded.ManifestHash {
		return nil, reperr.New(reperr.KindManifestTampered, "recomputed manifestHash disagrees with memo manifestHash")
	}

	return &ReplayResult{OK: true, PartitionID: decoded.PartitionID, Root: root, ManifestHash: m.ManifestHash, Count: len(leaves)}, nil
}

// selectAnchorMemo picks the first memo carrying anchor.MemoType and
// anchor.MemoFormat out of a transaction's memos. A self-payment wallet may
// carry other, unrelated memos; this is the cheap filter the three-field
// memo contract exists for, applied before any JSON-decoding is attempted.
func selectAnchorMemo(memos []ledgerio.Memo) (ledgerio.Memo, bool) {
	for _, m := range memos {
		if m.Type == anchor.MemoType && m.Format == anchor.MemoFormat {
			return m, true
		}
	}
	return ledgerio.Memo{}, false
}
