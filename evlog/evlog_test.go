package evlog

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"github.com/repomesh/core/event"
	"github.com/repomesh/core/keys"
	"github.com/repomesh/core/reperr"
)

// seqReader is a deterministic io.Reader stub for minting reproducible
// Dilithium3 test keypairs, since crypto/rand output can't be asserted on.
type seqReader struct{ b byte }

func (r *seqReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

type memResolver struct {
	pubs      map[string]ed25519.PublicKey
	repoOf    map[string]string
	dilithium map[string]*mode3.PublicKey
}

func (r memResolver) PublicKey(keyID string) (ed25519.PublicKey, bool) { p, ok := r.pubs[keyID]; return p, ok }
func (r memResolver) BelongsTo(keyID, repo string) bool                { return r.repoOf[keyID] == repo }
func (r memResolver) DilithiumPublicKey(keyID string) (*mode3.PublicKey, bool) {
	p, ok := r.dilithium[keyID]
	return p, ok
}

func mustSignedRelease(t *testing.T, repo, version string, seed byte) ([]byte, memResolver) {
	t.Helper()
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = seed
	}
	priv := ed25519.NewKeyFromSeed(s)
	pub := priv.Public().(ed25519.PublicKey)
	keyID := "ed25519:release-key"

	e := event.Event{
		Type:      event.TypeReleasePublished,
		Repo:      repo,
		Version:   version,
		Commit:    "deadbeef",
		Timestamp: time.Now().UTC(),
	}
	signed, err := event.Sign(e, keyID, priv)
	require.NoError(t, err)
	line, err := json.Marshal(signed)
	require.NoError(t, err)

	resolver := memResolver{
		pubs:   map[string]ed25519.PublicKey{keyID: pub},
		repoOf: map[string]string{keyID: repo},
	}
	return line, resolver
}

func TestAppendAcceptsValidBatch(t *testing.T) {
	dir := t.TempDir()
	log := Open(filepath.Join(dir, "events.jsonl"))

	line, resolver := mustSignedRelease(t, "acme/widget", "1.0.0", 0x01)
	got, err := log.Append([][]byte{line}, resolver)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "acme/widget", got[0].Repo)

	all, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestAppendRejectsDuplicateTuple(t *testing.T) {
	dir := t.TempDir()
	log := Open(filepath.Join(dir, "events.jsonl"))

	line, resolver := mustSignedRelease(t, "acme/widget", "1.0.0", 0x02)
	_, err := log.Append([][]byte{line}, resolver)
	require.NoError(t, err)

	_, err = log.Append([][]byte{line}, resolver)
	require.Equal(t, reperr.KindDuplicateEvent, reperr.KindOf(err))

	// A rejected batch must leave the file untouched.
	all, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestAppendRejectsUnknownSigner(t *testing.T) {
	dir := t.TempDir()
	log := Open(filepath.Join(dir, "events.jsonl"))

	line, _ := mustSignedRelease(t, "acme/widget", "1.0.0", 0x03)
	empty := memResolver{pubs: map[string]ed25519.PublicKey{}, repoOf: map[string]string{}}
	_, err := log.Append([][]byte{line}, empty)
	require.Equal(t, reperr.KindUnknownKey, reperr.KindOf(err))
}

func TestAppendDetectsExternalRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	log := Open(path)

	line1, resolver := mustSignedRelease(t, "acme/widget", "1.0.0", 0x04)
	_, err := log.Append([][]byte{line1}, resolver)
	require.NoError(t, err)

	// Simulate an external rewrite of the committed line.
	require.NoError(t, os.WriteFile(path, []byte("tampered\n"), 0o644))

	line2, resolver2 := mustSignedRelease(t, "acme/other", "1.0.0", 0x05)
	_, err = log.Append([][]byte{line2}, resolver2)
	require.Error(t, err)
}

func TestAppendRejectsOutOfRangeTimestamp(t *testing.T) {
	dir := t.TempDir()
	log := Open(filepath.Join(dir, "events.jsonl"))

	s := make([]byte, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(s)
	pub := priv.Public().(ed25519.PublicKey)
	e := event.Event{
		Type:      event.TypeReleasePublished,
		Repo:      "acme/widget",
		Version:   "1.0.0",
		Commit:    "deadbeef",
		Timestamp: time.Now().Add(-2 * 365 * 24 * time.Hour),
	}
	signed, err := event.Sign(e, "ed25519:old", priv)
	require.NoError(t, err)
	line, err := json.Marshal(signed)
	require.NoError(t, err)

	resolver := memResolver{
		pubs:   map[string]ed25519.PublicKey{"ed25519:old": pub},
		repoOf: map[string]string{"ed25519:old": "acme/widget"},
	}
	_, err = log.Append([][]byte{line}, resolver)
	require.Equal(t, reperr.KindTimestampOutOfRange, reperr.KindOf(err))
}

func TestAppendAcceptsCoSignedEvent(t *testing.T) {
	dir := t.TempDir()
	log := Open(filepath.Join(dir, "events.jsonl"))

	seed := make([]byte, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	keyID := "ed25519:co-signed-key"

	coPub, coPriv, err := keys.GenerateDilithium3Keypair(&seqReader{b: 0x11})
	require.NoError(t, err)

	e := event.Event{
		Type:      event.TypeReleasePublished,
		Repo:      "acme/widget",
		Version:   "1.0.0",
		Commit:    "deadbeef",
		Timestamp: time.Now().UTC(),
	}
	signed, err := event.SignWithCoSignature(e, keyID, priv, coPriv)
	require.NoError(t, err)
	require.Equal(t, "dilithium3", signed.Signature.CoSigAlg)
	line, err := json.Marshal(signed)
	require.NoError(t, err)

	resolver := memResolver{
		pubs:      map[string]ed25519.PublicKey{keyID: pub},
		repoOf:    map[string]string{keyID: "acme/widget"},
		dilithium: map[string]*mode3.PublicKey{keyID: coPub},
	}
	_, err = log.Append([][]byte{line}, resolver)
	require.NoError(t, err)
}

func TestAppendRejectsTamperedCoSignature(t *testing.T) {
	dir := t.TempDir()
	log := Open(filepath.Join(dir, "events.jsonl"))

	seed := make([]byte, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	keyID := "ed25519:tampered-co-key"

	coPub, coPriv, err := keys.GenerateDilithium3Keypair(&seqReader{b: 0x22})
	require.NoError(t, err)

	e := event.Event{
		Type:      event.TypeReleasePublished,
		Repo:      "acme/widget",
		Version:   "1.0.0",
		Commit:    "deadbeef",
		Timestamp: time.Now().UTC(),
	}
	signed, err := event.SignWithCoSignature(e, keyID, priv, coPriv)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(signed.Signature.CoSignature)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	signed.Signature.CoSignature = base64.StdEncoding.EncodeToString(raw)

	line, err := json.Marshal(signed)
	require.NoError(t, err)

	resolver := memResolver{
		pubs:      map[string]ed25519.PublicKey{keyID: pub},
		repoOf:    map[string]string{keyID: "acme/widget"},
		dilithium: map[string]*mode3.PublicKey{keyID: coPub},
	}
	_, err = log.Append([][]byte{line}, resolver)
	require.Equal(t, reperr.KindSignatureInvalid, reperr.KindOf(err))
}
