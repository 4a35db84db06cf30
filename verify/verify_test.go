package verify

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/repomesh/core/anchor"
	"github.com/repomesh/core/event"
	"github.com/repomesh/core/ledgerio"
	"github.com/repomesh/core/registry"
	"github.com/repomesh/core/reperr"
)

func mustManifest(t *testing.T, id string, seed byte) (registry.ParticipantManifest, ed25519.PrivateKey) {
	t.Helper()
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = seed
	}
	priv := ed25519.NewKeyFromSeed(s)
	pub := priv.Public().(ed25519.PublicKey)
	pemStr, err := registry.EncodeEd25519PublicKeyPEM(pub)
	if err != nil {
		t.Fatalf("EncodeEd25519PublicKeyPEM: %v", err)
	}
	keyID := "ed25519:ktest:" + id
	m := registry.ParticipantManifest{
		ID:   id,
		Kind: registry.KindRegistry,
		Maintainers: []registry.Maintainer{
			{Name: "maintainer", KeyID: keyID, PublicKey: pemStr},
		},
	}
	return m, priv
}

func signRelease(t *testing.T, repo, version string, keyID string, priv ed25519.PrivateKey, ts time.Time) event.Event {
	t.Helper()
	e := event.Event{
		Type:      event.TypeReleasePublished,
		Repo:      repo,
		Version:   version,
		Commit:    "deadbeef",
		Timestamp: ts,
	}
	signed, err := event.Sign(e, keyID, priv)
	if err != nil {
		t.Fatalf("Sign release: %v", err)
	}
	return signed
}

func signAttestation(t *testing.T, repo, version, checkKind, verdict, keyID string, priv ed25519.PrivateKey, ts time.Time) event.Event {
	t.Helper()
	e := event.Event{
		Type:      event.TypeAttestationPublished,
		Repo:      repo,
		Version:   version,
		Commit:    "deadbeef",
		Timestamp: ts,
		Attestations: []event.AttestationRef{
			{Type: checkKind, URI: "repomesh:attestor:" + checkKind + ":" + verdict},
		},
	}
	signed, err := event.Sign(e, keyID, priv)
	if err != nil {
		t.Fatalf("Sign attestation: %v", err)
	}
	return signed
}

func TestVerifyReleaseUnattestedUnanchored(t *testing.T) {
	m, priv := mustManifest(t, "acme/widget", 1)
	reg, err := registry.New([]registry.ParticipantManifest{m})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	keyID := m.Maintainers[0].KeyID
	release := signRelease(t, "acme/widget", "1.0.0", keyID, priv, time.Unix(1000, 0).UTC())

	res, err := VerifyRelease("acme/widget", "1.0.0", false, []event.Event{release}, reg, nil)
	if err != nil {
		t.Fatalf("VerifyRelease: %v", err)
	}
	if !res.OK {
		t.Fatal("expected OK result")
	}
	if len(res.Attestations) != 0 {
		t.Fatalf("expected no attestations, got %d", len(res.Attestations))
	}
	if res.Anchor != nil {
		t.Fatal("expected no anchor status when anchored=false")
	}
}

func TestVerifyReleaseReportsAttestations(t *testing.T) {
	m, priv := mustManifest(t, "acme/widget", 2)
	reg, err := registry.New([]registry.ParticipantManifest{m})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	keyID := m.Maintainers[0].KeyID
	release := signRelease(t, "acme/widget", "1.0.0", keyID, priv, time.Unix(1000, 0).UTC())
	att := signAttestation(t, "acme/widget", "1.0.0", "license.audit", "pass", keyID, priv, time.Unix(1001, 0).UTC())

	res, err := VerifyRelease("acme/widget", "1.0.0", false, []event.Event{release, att}, reg, nil)
	if err != nil {
		t.Fatalf("VerifyRelease: %v", err)
	}
	if len(res.Attestations) != 1 {
		t.Fatalf("expected one attestation, got %d", len(res.Attestations))
	}
	if !res.Attestations[0].Verified {
		t.Fatalf("expected attestation to verify, got err: %v", res.Attestations[0].Err)
	}
	if res.Attestations[0].CheckKind != "license.audit" {
		t.Fatalf("unexpected check kind: %q", res.Attestations[0].CheckKind)
	}
}

func TestVerifyReleaseNotFound(t *testing.T) {
	reg, err := registry.New(nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	_, err = VerifyRelease("acme/widget", "1.0.0", false, nil, reg, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestVerifyReleaseSignatureBad(t *testing.T) {
	m, priv := mustManifest(t, "acme/widget", 3)
	reg, err := registry.New([]registry.ParticipantManifest{m})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	keyID := m.Maintainers[0].KeyID
	release := signRelease(t, "acme/widget", "1.0.0", keyID, priv, time.Unix(1000, 0).UTC())
	release.Commit = "tampered0" // invalidates the embedded canonical hash

	_, err = VerifyRelease("acme/widget", "1.0.0", false, []event.Event{release}, reg, nil)
	if err == nil {
		t.Fatal("expected signature verification to fail")
	}
}

type fakeManifests struct {
	m   anchor.Manifest
	err error
}

func (f fakeManifests) Get(partitionID string) (anchor.Manifest, error) {
	if f.err != nil {
		return anchor.Manifest{}, f.err
	}
	return f.m, nil
}

func TestVerifyReleaseWalksAnchorInclusion(t *testing.T) {
	m, priv := mustManifest(t, "acme/widget", 4)
	reg, err := registry.New([]registry.ParticipantManifest{m})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	keyID := m.Maintainers[0].KeyID
	release := signRelease(t, "acme/widget", "1.0.0", keyID, priv, time.Unix(1000, 0).UTC())

	leafHash, err := release.CanonicalHash()
	if err != nil {
		t.Fatalf("CanonicalHash: %v", err)
	}
	manifest, err := anchor.Materialize("genesis", "testnet", nil, []string{leafHash})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	anchorEvt, err := anchor.BuildAnchorEvent(manifest, anchor.TransactionResult{TxHash: "tx1", WalletAddress: "wallet1"}, "genesis.manifest.json", "acme/widget")
	if err != nil {
		t.Fatalf("BuildAnchorEvent: %v", err)
	}
	anchorEvt.Timestamp = time.Unix(2000, 0).UTC()
	anchorEvt, err = anchor.SignAnchorEvent(anchorEvt, keyID, priv)
	if err != nil {
		t.Fatalf("SignAnchorEvent: %v", err)
	}

	events := []event.Event{release, anchorEvt}
	res, err := VerifyRelease("acme/widget", "1.0.0", true, events, reg, fakeManifests{m: manifest})
	if err != nil {
		t.Fatalf("VerifyRelease: %v", err)
	}
	if res.Anchor == nil || !res.Anchor.Anchored {
		t.Fatal("expected release to be reported as anchored")
	}
	if res.Anchor.PartitionID != "genesis" {
		t.Fatalf("unexpected partition id: %q", res.Anchor.PartitionID)
	}
}

func TestVerifyReleaseNotYetAnchoredIsNotAnError(t *testing.T) {
	m, priv := mustManifest(t, "acme/widget", 5)
	reg, err := registry.New([]registry.ParticipantManifest{m})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	keyID := m.Maintainers[0].KeyID
	release := signRelease(t, "acme/widget", "1.0.0", keyID, priv, time.Unix(1000, 0).UTC())

	res, err := VerifyRelease("acme/widget", "1.0.0", true, []event.Event{release}, reg, fakeManifests{})
	if err != nil {
		t.Fatalf("VerifyRelease: %v", err)
	}
	if res.Anchor == nil || res.Anchor.Anchored {
		t.Fatal("expected an unanchored, non-error status")
	}
}

func TestVerifyReleaseManifestUnavailable(t *testing.T) {
	m, priv := mustManifest(t, "acme/widget", 6)
	reg, err := registry.New([]registry.ParticipantManifest{m})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	keyID := m.Maintainers[0].KeyID
	release := signRelease(t, "acme/widget", "1.0.0", keyID, priv, time.Unix(1000, 0).UTC())

	leafHash, err := release.CanonicalHash()
	if err != nil {
		t.Fatalf("CanonicalHash: %v", err)
	}
	manifest, err := anchor.Materialize("genesis", "testnet", nil, []string{leafHash})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	anchorEvt, err := anchor.BuildAnchorEvent(manifest, anchor.TransactionResult{TxHash: "tx1", WalletAddress: "wallet1"}, "genesis.manifest.json", "acme/widget")
	if err != nil {
		t.Fatalf("BuildAnchorEvent: %v", err)
	}
	anchorEvt.Timestamp = time.Unix(2000, 0).UTC()
	anchorEvt, err = anchor.SignAnchorEvent(anchorEvt, keyID, priv)
	if err != nil {
		t.Fatalf("SignAnchorEvent: %v", err)
	}

	events := []event.Event{release, anchorEvt}
	_, err = VerifyRelease("acme/widget", "1.0.0", true, events, reg, fakeManifests{err: reperr.New(reperr.KindManifestUnavailable, "manifest store offline")})
	if err == nil {
		t.Fatal("expected manifest lookup failure to propagate")
	}
}

func TestVerifyReleaseAnchorManifestTampered(t *testing.T) {
	m, priv := mustManifest(t, "acme/widget", 7)
	reg, err := registry.New([]registry.ParticipantManifest{m})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	keyID := m.Maintainers[0].KeyID
	release := signRelease(t, "acme/widget", "1.0.0", keyID, priv, time.Unix(1000, 0).UTC())

	leafHash, err := release.CanonicalHash()
	if err != nil {
		t.Fatalf("CanonicalHash: %v", err)
	}
	manifest, err := anchor.Materialize("genesis", "testnet", nil, []string{leafHash})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	anchorEvt, err := anchor.BuildAnchorEvent(manifest, anchor.TransactionResult{TxHash: "tx1", WalletAddress: "wallet1"}, "genesis.manifest.json", "acme/widget")
	if err != nil {
		t.Fatalf("BuildAnchorEvent: %v", err)
	}
	anchorEvt.Timestamp = time.Unix(2000, 0).UTC()
	anchorEvt, err = anchor.SignAnchorEvent(anchorEvt, keyID, priv)
	if err != nil {
		t.Fatalf("SignAnchorEvent: %v", err)
	}

	tampered := manifest
	tampered.Root = "0000000000000000000000000000000000000000000000000000000000000000"

	events := []event.Event{release, anchorEvt}
	_, err = VerifyRelease("acme/widget", "1.0.0", true, events, reg, fakeManifests{m: tampered})
	if err == nil {
		t.Fatal("expected tampered manifest to fail self-binding check")
	}
}

func TestReplayAnchorProofSucceeds(t *testing.T) {
	release := event.Event{
		Type:      event.TypeReleasePublished,
		Repo:      "acme/widget",
		Version:   "1.0.0",
		Commit:    "deadbeef",
		Timestamp: time.Unix(1000, 0).UTC(),
	}
	// The unsigned event's own canonical hash is still well-formed and is
	// all SelectPartition/ReplayAnchorProof need to reconstruct the leaves.
	leafHash, err := release.CanonicalHash()
	if err != nil {
		t.Fatalf("CanonicalHash: %v", err)
	}
	manifest, err := anchor.Materialize("genesis", "testnet", nil, []string{leafHash})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	memoHex, err := anchor.EncodeMemo(manifest)
	if err != nil {
		t.Fatalf("EncodeMemo: %v", err)
	}

	fc := ledgerio.NewFakeClient()
	res, err := fc.SubmitSelfPayment(context.Background(), "wallet1", ledgerio.Memo{Type: anchor.MemoType, Format: anchor.MemoFormat, Data: memoHex})
	if err != nil {
		t.Fatalf("SubmitSelfPayment: %v", err)
	}

	got, err := ReplayAnchorProof(context.Background(), fc, res.TxHash, []event.Event{release})
	if err != nil {
		t.Fatalf("ReplayAnchorProof: %v", err)
	}
	if !got.OK {
		t.Fatal("expected OK replay result")
	}
	if got.Root != manifest.Root || got.ManifestHash != manifest.ManifestHash {
		t.Fatalf("recomputed values disagree with materialized manifest: %+v vs %+v", got, manifest)
	}
	if got.Count != 1 {
		t.Fatalf("expected 1 leaf, got %d", got.Count)
	}
}

func TestReplayAnchorProofDetectsCountMismatch(t *testing.T) {
	release := event.Event{
		Type:      event.TypeReleasePublished,
		Repo:      "acme/widget",
		Version:   "1.0.0",
		Commit:    "deadbeef",
		Timestamp: time.Unix(1000, 0).UTC(),
	}
	leafHash, err := release.CanonicalHash()
	if err != nil {
		t.Fatalf("CanonicalHash: %v", err)
	}
	// Materialize a manifest claiming a leaf that never actually appears in
	// the local log, so the replay's recomputed partition comes up empty.
	manifest, err := anchor.Materialize("genesis", "testnet", nil, []string{leafHash})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	memoHex, err := anchor.EncodeMemo(manifest)
	if err != nil {
		t.Fatalf("EncodeMemo: %v", err)
	}

	fc := ledgerio.NewFakeClient()
	res, err := fc.SubmitSelfPayment(context.Background(), "wallet1", ledgerio.Memo{Type: anchor.MemoType, Format: anchor.MemoFormat, Data: memoHex})
	if err != nil {
		t.Fatalf("SubmitSelfPayment: %v", err)
	}

	_, err = ReplayAnchorProof(context.Background(), fc, res.TxHash, nil)
	if err == nil {
		t.Fatal("expected count mismatch against an empty local log")
	}
}

func TestReplayAnchorProofRejectsUndecodableMemo(t *testing.T) {
	fc := ledgerio.NewFakeClient()
	res, err := fc.SubmitSelfPayment(context.Background(), "wallet1", ledgerio.Memo{Type: anchor.MemoType, Format: anchor.MemoFormat, Data: "not-hex"})
	if err != nil {
		t.Fatalf("SubmitSelfPayment: %v", err)
	}

	_, err = ReplayAnchorProof(context.Background(), fc, res.TxHash, nil)
	if err == nil {
		t.Fatal("expected an error for a transaction carrying a malformed memo")
	}
	if reperr.KindOf(err) != reperr.KindMemoDecodeFailed {
		t.Fatalf("expected MemoDecodeFailed, got %v", reperr.KindOf(err))
	}
}

func TestReplayAnchorProofRejectsFutureSchemaVersion(t *testing.T) {
	// A hand-built memo claiming a schema version this build doesn't support,
	// in the same compact shape anchor.EncodeMemo produces.
	body := map[string]any{"v": anchor.SchemaVersion + 1, "p": "genesis", "n": "testnet", "r": hexRepeat64(t, 0x01), "h": hexRepeat64(t, 0x02), "c": 1, "pv": "0", "rg": "0"}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	memoHex := hex.EncodeToString(raw)

	fc := ledgerio.NewFakeClient()
	res, err := fc.SubmitSelfPayment(context.Background(), "wallet1", ledgerio.Memo{Type: anchor.MemoType, Format: anchor.MemoFormat, Data: memoHex})
	if err != nil {
		t.Fatalf("SubmitSelfPayment: %v", err)
	}

	_, err = ReplayAnchorProof(context.Background(), fc, res.TxHash, nil)
	if reperr.KindOf(err) != reperr.KindMemoVersionMismatch {
		t.Fatalf("expected MemoVersionMismatch, got %v", err)
	}
}

func TestReplayAnchorProofIgnoresMemoOfOtherType(t *testing.T) {
	// A self-payment carrying an unrelated memo type must be skipped rather
	// than fed straight into anchor.DecodeMemo.
	fc := ledgerio.NewFakeClient()
	res, err := fc.SubmitSelfPayment(context.Background(), "wallet1", ledgerio.Memo{Type: "some-other-app-v1", Format: "application/json", Data: "deadbeef"})
	if err != nil {
		t.Fatalf("SubmitSelfPayment: %v", err)
	}

	_, err = ReplayAnchorProof(context.Background(), fc, res.TxHash, nil)
	if reperr.KindOf(err) != reperr.KindMemoDecodeFailed {
		t.Fatalf("expected MemoDecodeFailed for a non-anchor memo type, got %v", err)
	}
}

func hexRepeat64(t *testing.T, b byte) string {
	t.Helper()
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = b
	}
	return hex.EncodeToString(buf)
}

func TestReplayAnchorProofUnknownTransaction(t *testing.T) {
	fc := ledgerio.NewFakeClient()
	_, err := ReplayAnchorProof(context.Background(), fc, "0000000000000000000000000000000000000000000000000000000000000000", nil)
	if err == nil {
		t.Fatal("expected an error for an unknown transaction hash")
	}
}
