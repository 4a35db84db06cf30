// Package registry models the network's participant manifests, profiles,
// and per-target overrides, and resolves the signing authority that C1
// consults when verifying an event.
package registry

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"regexp"
	"sort"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"github.com/repomesh/core/canon"
	"github.com/repomesh/core/cidutil"
	"github.com/repomesh/core/reperr"
)

// Kind enumerates the roles a participant manifest may declare.
type Kind string

const (
	KindRegistry   Kind = "registry"
	KindAttestor   Kind = "attestor"
	KindPolicy     Kind = "policy"
	KindOracle     Kind = "oracle"
	KindCompute    Kind = "compute"
	KindSettlement Kind = "settlement"
	KindGovernance Kind = "governance"
	KindIdentity   Kind = "identity"
)

var validKinds = map[Kind]bool{
	KindRegistry: true, KindAttestor: true, KindPolicy: true, KindOracle: true,
	KindCompute: true, KindSettlement: true, KindGovernance: true, KindIdentity: true,
}

var participantIDPattern = regexp.MustCompile(`^[^/]+/[^/]+$`)

// Maintainer is a single keyholder authorized to sign on behalf of a
// participant. The Ed25519 key is mandatory; DilithiumPublicKey is an
// optional post-quantum co-signature key a maintainer may additionally
// register under the same keyId, so events they sign can carry a
// Dilithium3 co-signature alongside the required Ed25519 one.
type Maintainer struct {
	Name               string `json:"name"`
	KeyID              string `json:"keyId"`
	PublicKey          string `json:"publicKey"`                    // PEM-encoded Ed25519 public key
	DilithiumPublicKey string `json:"dilithiumPublicKey,omitempty"` // base64 raw Dilithium3 public key
	Contact            string `json:"contact,omitempty"`
}

// ParticipantManifest is a single network member: a source repository, an
// attestor node, a policy authority, or any other declared kind.
type ParticipantManifest struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	Provides    []string     `json:"provides,omitempty"`
	Consumes    []string     `json:"consumes,omitempty"`
	Maintainers []Maintainer `json:"maintainers"`
}

// Validate checks structural well-formedness: a valid id, a recognized
// kind, non-empty maintainers, and keyId uniqueness within the manifest.
func (m ParticipantManifest) Validate() error {
	if !participantIDPattern.MatchString(m.ID) {
		return reperr.New(reperr.KindInvalidRequest, "participant id must be \"<org>/<name>\": "+m.ID)
	}
	if !validKinds[m.Kind] {
		return reperr.New(reperr.KindInvalidRequest, "unknown participant kind: "+string(m.Kind))
	}
	if len(m.Maintainers) == 0 {
		return reperr.New(reperr.KindInvalidRequest, "participant "+m.ID+" has no maintainers")
	}
	seen := make(map[string]bool, len(m.Maintainers))
	for _, mm := range m.Maintainers {
		if mm.KeyID == "" {
			return reperr.New(reperr.KindInvalidRequest, "maintainer in "+m.ID+" has empty keyId")
		}
		if seen[mm.KeyID] {
			return reperr.New(reperr.KindInvalidRequest, "duplicate keyId within "+m.ID+": "+mm.KeyID)
		}
		seen[mm.KeyID] = true
		if _, err := decodeEd25519PublicKeyPEM(mm.PublicKey); err != nil {
			return reperr.Wrap(reperr.KindInvalidRequest, "maintainer "+mm.KeyID+" has invalid publicKey", err)
		}
		if mm.DilithiumPublicKey != "" {
			if _, err := DecodeDilithium3PublicKey(mm.DilithiumPublicKey); err != nil {
				return reperr.Wrap(reperr.KindInvalidRequest, "maintainer "+mm.KeyID+" has invalid dilithiumPublicKey", err)
			}
		}
	}
	return nil
}

// EncodeDilithium3PublicKey renders a Dilithium3 public key as the base64
// string a Maintainer's DilithiumPublicKey field stores. Dilithium3 keys
// have no PKIX/x509 encoding, so registry uses raw MarshalBinary bytes
// rather than the PEM wrapping used for Ed25519 keys.
func EncodeDilithium3PublicKey(pub *mode3.PublicKey) (string, error) {
	b, err := pub.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeDilithium3PublicKey is the inverse of EncodeDilithium3PublicKey.
func DecodeDilithium3PublicKey(b64 string) (*mode3.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, reperr.Wrap(reperr.KindInvalidRequest, "dilithiumPublicKey is not base64", err)
	}
	pub := new(mode3.PublicKey)
	if err := pub.UnmarshalBinary(raw); err != nil {
		return nil, reperr.Wrap(reperr.KindInvalidRequest, "dilithiumPublicKey is malformed", err)
	}
	return pub, nil
}

// CID derives m's content identifier over its canonical JSON encoding, for
// mirroring a participant manifest into an IPFS-compatible content store
// alongside its registered id.
func (m ParticipantManifest) CID() (string, error) {
	b, err := canon.Marshal(m)
	if err != nil {
		return "", err
	}
	return cidutil.Derive(b)
}

// decodeEd25519PublicKeyPEM extracts an Ed25519 public key from a PEM block
// carrying a PKIX-encoded SubjectPublicKeyInfo.
func decodeEd25519PublicKeyPEM(pemStr string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, reperr.New(reperr.KindInvalidRequest, "not a PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, reperr.New(reperr.KindInvalidRequest, "PEM key is not Ed25519")
	}
	return edPub, nil
}

// EncodeEd25519PublicKeyPEM is the inverse of decodeEd25519PublicKeyPEM,
// used by tooling that mints new maintainer entries.
func EncodeEd25519PublicKeyPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// keyIDHex renders a raw Ed25519 public key the same way keys.KeyIDFromPublicKey
// does, so ids minted by the keys package line up with what manifests store.
func keyIDHex(pub ed25519.PublicKey) string {
	return "ed25519:" + hex.EncodeToString(pub)
}

// Registry is an in-memory index over a set of participant manifests. It
// answers the authority questions C1's Verify needs: does this keyId exist,
// and does it belong to a maintainer of this repo.
type Registry struct {
	byID    map[string]ParticipantManifest
	byKeyID map[string]keyEntry
}

type keyEntry struct {
	participantID string
	pub           ed25519.PublicKey
	dilithiumPub  *mode3.PublicKey
}

// New builds a Registry from a set of manifests. Every manifest is
// validated; the first structural error aborts construction so the
// registry is never partially built.
func New(manifests []ParticipantManifest) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]ParticipantManifest, len(manifests)),
		byKeyID: make(map[string]keyEntry),
	}
	for _, m := range manifests {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, reperr.New(reperr.KindInvalidRequest, "duplicate participant id: "+m.ID)
		}
		r.byID[m.ID] = m
		for _, mm := range m.Maintainers {
			pub, err := decodeEd25519PublicKeyPEM(mm.PublicKey)
			if err != nil {
				return nil, err
			}
			var dpub *mode3.PublicKey
			if mm.DilithiumPublicKey != "" {
				dpub, err = DecodeDilithium3PublicKey(mm.DilithiumPublicKey)
				if err != nil {
					return nil, err
				}
			}
			// A keyId may legitimately be registered by only one participant;
			// historical keys are never removed (see BelongsTo's doc comment on
			// rotation), so a later collision is always a data error.
			if existing, dup := r.byKeyID[mm.KeyID]; dup && existing.participantID != m.ID {
				return nil, reperr.New(reperr.KindInvalidRequest, "keyId claimed by multiple participants: "+mm.KeyID)
			}
			r.byKeyID[mm.KeyID] = keyEntry{participantID: m.ID, pub: pub, dilithiumPub: dpub}
		}
	}
	return r, nil
}

// PublicKey implements event.KeyResolver.
func (r *Registry) PublicKey(keyID string) (ed25519.PublicKey, bool) {
	e, ok := r.byKeyID[keyID]
	if !ok {
		return nil, false
	}
	return e.pub, true
}

// BelongsTo implements event.KeyResolver: it reports whether keyId is
// registered to a maintainer of the named participant, irrespective of
// whether that key has since been rotated out (rotation only appends,
// never removes, per network policy).
func (r *Registry) BelongsTo(keyID, participantID string) bool {
	e, ok := r.byKeyID[keyID]
	if !ok {
		return false
	}
	return e.participantID == participantID
}

// DilithiumPublicKey implements event.KeyResolver: it reports the
// Dilithium3 co-signature key registered alongside keyId's Ed25519 key, if
// the maintainer opted into a co-signature key at all.
func (r *Registry) DilithiumPublicKey(keyID string) (*mode3.PublicKey, bool) {
	e, ok := r.byKeyID[keyID]
	if !ok || e.dilithiumPub == nil {
		return nil, false
	}
	return e.dilithiumPub, true
}

// NodeOf reports the participant id that keyId is registered under. The
// aggregator uses this to deduplicate attestations by (check kind, signer
// node) rather than by raw key, since a node may sign with more than one key.
func (r *Registry) NodeOf(keyID string) (string, bool) {
	e, ok := r.byKeyID[keyID]
	if !ok {
		return "", false
	}
	return e.participantID, true
}

// Get returns the manifest for a participant id, if registered.
func (r *Registry) Get(participantID string) (ParticipantManifest, bool) {
	m, ok := r.byID[participantID]
	return m, ok
}

// Participants returns every registered id in sorted order.
func (r *Registry) Participants() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
