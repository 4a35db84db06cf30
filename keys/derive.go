package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// KeyIDFromPublicKey returns the repomesh keyId for an Ed25519 public key:
// "ed25519:" + hex(pubkey), matching the wire form participant manifests use
// for Maintainer.KeyID lookups.
func KeyIDFromPublicKey(pub ed25519.PublicKey) string {
	return "ed25519:" + hex.EncodeToString(pub)
}

// KeyIDFromSeed returns the keyId that a given Ed25519 seed will produce.
func KeyIDFromSeed(seed []byte) string {
	priv := ed25519.NewKeyFromSeed(seed)
	return KeyIDFromPublicKey(priv.Public().(ed25519.PublicKey))
}

// DeriveRoleSeed deterministically derives a role-specific Ed25519 seed from
// a participant's root seed, so one root secret can mint several maintainer
// keys (e.g. one per CI environment) without ever handling more than one
// secret at rest.
//
// Each derived key is registered as its own maintainer entry with its own
// keyId; deriving a key is not a substitute for adding it to the
// participant manifest, and rotation never removes a prior entry.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: root seed must be %d bytes", ed25519.SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("repomesh-kms-lite-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("role:"))
	_, _ = h.Write([]byte(role))
	sum := h.Sum(nil)
	if len(sum) < ed25519.SeedSize {
		return nil, errors.New("keys: kdf output too short")
	}
	out := make([]byte, ed25519.SeedSize)
	copy(out, sum[:ed25519.SeedSize])
	return out, nil
}
