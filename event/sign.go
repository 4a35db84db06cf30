package event

import (
	"crypto/ed25519"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"github.com/repomesh/core/keys"
	"github.com/repomesh/core/reperr"
)

// coSignatureHashAlg fixes the digest algorithm the Dilithium3 co-signature
// binds to, matching keys.SignDilithium3Hash/VerifyDilithium3Hash's hashAlg
// parameter. It is not negotiable per event; Signature.CoSigAlg names the
// signature suite ("dilithium3"), not the digest underneath it.
const coSignatureHashAlg = "sha256"

// Sign computes e's canonical hash, embeds it as Signature.CanonicalHash, and
// signs it with priv under keyId. It returns the fully signed event; e itself
// is not mutated.
func Sign(e Event, keyID string, priv ed25519.PrivateKey) (Event, error) {
	hash, err := e.CanonicalHash()
	if err != nil {
		return Event{}, err
	}
	sigB64, err := keys.SignHash(hash, priv)
	if err != nil {
		return Event{}, reperr.Wrap(reperr.KindSignatureInvalid, "signing failed", err)
	}
	signed := e
	signed.Signature = Signature{
		Alg:           "ed25519",
		KeyID:         keyID,
		Value:         sigB64,
		CanonicalHash: hash,
	}
	return signed, nil
}

// SignWithCoSignature is Sign plus an additional Dilithium3 co-signature
// over the same canonical hash, embedded under the same keyId. A maintainer
// who has registered a DilithiumPublicKey alongside their Ed25519 key uses
// this instead of Sign to produce events admission can verify twice over.
func SignWithCoSignature(e Event, keyID string, priv ed25519.PrivateKey, coPriv *mode3.PrivateKey) (Event, error) {
	signed, err := Sign(e, keyID, priv)
	if err != nil {
		return Event{}, err
	}
	coSigB64, err := keys.SignDilithium3Hash(signed.Signature.CanonicalHash, coSignatureHashAlg, coPriv)
	if err != nil {
		return Event{}, reperr.Wrap(reperr.KindSignatureInvalid, "co-signing failed", err)
	}
	signed.Signature.CoSigAlg = "dilithium3"
	signed.Signature.CoSignature = coSigB64
	return signed, nil
}

// KeyResolver looks up a registered Ed25519 public key by keyId, reports
// whether keyId belongs to a maintainer of repo, and looks up the optional
// Dilithium3 co-signature key registered alongside that keyId. This is the
// abstraction Verify uses to consult participant registration data without
// event importing the registry package directly.
type KeyResolver interface {
	PublicKey(keyID string) (ed25519.PublicKey, bool)
	BelongsTo(keyID, repo string) bool
	DilithiumPublicKey(keyID string) (*mode3.PublicKey, bool)
}

// Verify checks an event's content-hash agreement and Ed25519 signature,
// applying the key-resolution authority rule: ReleasePublished events must
// be self-signed by a maintainer of the target repo; all other event types
// accept any registered signer.
func Verify(e Event, resolver KeyResolver) error {
	wantHash, err := e.CanonicalHash()
	if err != nil {
		return err
	}
	if wantHash != e.Signature.CanonicalHash {
		return reperr.New(reperr.KindCanonicalHashMismatch,
			"embedded canonicalHash does not match recomputed hash")
	}

	pub, ok := resolver.PublicKey(e.Signature.KeyID)
	if !ok {
		return reperr.New(reperr.KindUnknownKey, "keyId not registered: "+e.Signature.KeyID)
	}

	if e.Type == TypeReleasePublished {
		if !resolver.BelongsTo(e.Signature.KeyID, e.Repo) {
			return reperr.New(reperr.KindUnknownKey,
				"ReleasePublished must be self-signed by a maintainer of "+e.Repo)
		}
	}

	valid, err := keys.VerifyHash(e.Signature.CanonicalHash, e.Signature.Value, pub)
	if err != nil {
		return reperr.Wrap(reperr.KindSignatureInvalid, "signature verification error", err)
	}
	if !valid {
		return reperr.New(reperr.KindSignatureInvalid, "ed25519 signature does not verify")
	}

	if e.Signature.CoSignature != "" {
		coPub, ok := resolver.DilithiumPublicKey(e.Signature.KeyID)
		if !ok {
			return reperr.New(reperr.KindUnknownKey,
				"keyId has no registered dilithium co-signature key: "+e.Signature.KeyID)
		}
		coValid, err := keys.VerifyDilithium3Hash(e.Signature.CanonicalHash, coSignatureHashAlg, e.Signature.CoSignature, coPub)
		if err != nil {
			return reperr.Wrap(reperr.KindSignatureInvalid, "co-signature verification error", err)
		}
		if !coValid {
			return reperr.New(reperr.KindSignatureInvalid, "dilithium3 co-signature does not verify")
		}
	}
	return nil
}
