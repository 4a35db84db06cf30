package event

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"github.com/repomesh/core/keys"
	"github.com/repomesh/core/reperr"
)

// mode3GenerateKey generates a deterministic Dilithium3 keypair for tests,
// avoiding a dependency on crypto/rand output being reproducible.
func mode3GenerateKey() (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return keys.GenerateDilithium3Keypair(&seqReader{b: 0x30})
}

type fakeResolver struct {
	pubs      map[string]ed25519.PublicKey
	repoOf    map[string]string
	dilithium map[string]*mode3.PublicKey
}

func (f fakeResolver) PublicKey(keyID string) (ed25519.PublicKey, bool) {
	p, ok := f.pubs[keyID]
	return p, ok
}

func (f fakeResolver) BelongsTo(keyID, repo string) bool {
	return f.repoOf[keyID] == repo
}

func (f fakeResolver) DilithiumPublicKey(keyID string) (*mode3.PublicKey, bool) {
	p, ok := f.dilithium[keyID]
	return p, ok
}

type seqReader struct{ b byte }

func (r *seqReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func newSignedRelease(t *testing.T, repo string) (Event, ed25519.PublicKey, string) {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	keyID := "ed25519:test"

	e := Event{
		Type:      TypeReleasePublished,
		Repo:      repo,
		Version:   "1.0.0",
		Commit:    "abc123",
		Timestamp: time.Now().UTC(),
		Artifacts: []Artifact{{Name: "x.tgz", SHA256: hex64('0')}},
	}
	signed, err := Sign(e, keyID, priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return signed, pub, keyID
}

// flipLastByte corrupts a base64 signature in place, preserving its length
// so a tampering test exercises signature-mismatch rather than a decode
// error or a bounds mismatch inside the verifier.
func flipLastByte(t *testing.T, sigB64 string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	return base64.StdEncoding.EncodeToString(raw)
}

func hex64(c byte) string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

func TestSignThenVerifySucceeds(t *testing.T) {
	e, pub, keyID := newSignedRelease(t, "acme/widget")
	resolver := fakeResolver{
		pubs:   map[string]ed25519.PublicKey{keyID: pub},
		repoOf: map[string]string{keyID: "acme/widget"},
	}
	if err := Verify(e, resolver); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestBitFlipInvalidatesSignature(t *testing.T) {
	e, pub, keyID := newSignedRelease(t, "acme/widget")
	resolver := fakeResolver{
		pubs:   map[string]ed25519.PublicKey{keyID: pub},
		repoOf: map[string]string{keyID: "acme/widget"},
	}
	e.Commit = "abc124" // single-character change
	err := Verify(e, resolver)
	if err == nil {
		t.Fatal("expected verification failure after tampering")
	}
	if reperr.KindOf(err) != reperr.KindCanonicalHashMismatch {
		t.Fatalf("expected CanonicalHashMismatch, got %v", reperr.KindOf(err))
	}
}

func TestReleaseMustBeSelfSigned(t *testing.T) {
	e, pub, keyID := newSignedRelease(t, "acme/widget")
	resolver := fakeResolver{
		pubs:   map[string]ed25519.PublicKey{keyID: pub},
		repoOf: map[string]string{keyID: "someoneelse/other"},
	}
	err := Verify(e, resolver)
	if reperr.KindOf(err) != reperr.KindUnknownKey {
		t.Fatalf("expected UnknownKey for non-self-signed release, got %v", err)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	e, _, _ := newSignedRelease(t, "acme/widget")
	resolver := fakeResolver{pubs: map[string]ed25519.PublicKey{}, repoOf: map[string]string{}}
	err := Verify(e, resolver)
	if reperr.KindOf(err) != reperr.KindUnknownKey {
		t.Fatalf("expected UnknownKey, got %v", err)
	}
}

func TestValidateSchemaRejectsBadRepo(t *testing.T) {
	e := Event{Type: TypeReleasePublished, Repo: "bad", Version: "1.0.0", Commit: "a", Timestamp: time.Now()}
	if err := e.ValidateSchema(); err == nil {
		t.Fatal("expected schema violation for malformed repo")
	}
}

func TestSignWithCoSignatureVerifies(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	keyID := "ed25519:test"

	coPub, coPriv, err := mode3GenerateKey()
	if err != nil {
		t.Fatalf("generate dilithium key: %v", err)
	}

	e := Event{
		Type:      TypeReleasePublished,
		Repo:      "acme/widget",
		Version:   "1.0.0",
		Commit:    "abc123",
		Timestamp: time.Now().UTC(),
	}
	signed, err := SignWithCoSignature(e, keyID, priv, coPriv)
	if err != nil {
		t.Fatalf("SignWithCoSignature: %v", err)
	}
	if signed.Signature.CoSigAlg != "dilithium3" {
		t.Fatalf("expected coSigAlg to be set, got %q", signed.Signature.CoSigAlg)
	}

	resolver := fakeResolver{
		pubs:      map[string]ed25519.PublicKey{keyID: pub},
		repoOf:    map[string]string{keyID: "acme/widget"},
		dilithium: map[string]*mode3.PublicKey{keyID: coPub},
	}
	if err := Verify(signed, resolver); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestCoSignatureTamperingIsRejected(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 2)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	keyID := "ed25519:test"

	coPub, coPriv, err := mode3GenerateKey()
	if err != nil {
		t.Fatalf("generate dilithium key: %v", err)
	}

	e := Event{
		Type:      TypeReleasePublished,
		Repo:      "acme/widget",
		Version:   "1.0.0",
		Commit:    "abc123",
		Timestamp: time.Now().UTC(),
	}
	signed, err := SignWithCoSignature(e, keyID, priv, coPriv)
	if err != nil {
		t.Fatalf("SignWithCoSignature: %v", err)
	}
	signed.Signature.CoSignature = flipLastByte(t, signed.Signature.CoSignature)

	resolver := fakeResolver{
		pubs:      map[string]ed25519.PublicKey{keyID: pub},
		repoOf:    map[string]string{keyID: "acme/widget"},
		dilithium: map[string]*mode3.PublicKey{keyID: coPub},
	}
	err = Verify(signed, resolver)
	if reperr.KindOf(err) != reperr.KindSignatureInvalid {
		t.Fatalf("expected SignatureInvalid for a tampered co-signature, got %v", err)
	}
}

func TestValidateSchemaRejectsUnpairedCoSignatureFields(t *testing.T) {
	e := Event{
		Type: TypeReleasePublished, Repo: "acme/widget", Version: "1.0.0", Commit: "a", Timestamp: time.Now(),
		Signature: Signature{CoSignature: "onlyhalf"},
	}
	if err := e.ValidateSchema(); reperr.KindOf(err) != reperr.KindSchemaViolation {
		t.Fatalf("expected SchemaViolation for a lone coSignature, got %v", reperr.KindOf(err))
	}
}

func TestParseAttestorURI(t *testing.T) {
	kind, verdict, ok := ParseAttestorURI("repomesh:attestor:license.audit:pass")
	if !ok || kind != "license.audit" || verdict != "pass" {
		t.Fatalf("got kind=%q verdict=%q ok=%v", kind, verdict, ok)
	}
	if _, _, ok := ParseAttestorURI("not-a-uri"); ok {
		t.Fatal("expected ok=false for malformed URI")
	}
}
