// Package keys implements the cryptographic primitives of C1: Ed25519
// signing over a content hash's raw bytes, an optional post-quantum
// co-signature suite, deterministic role-key derivation, and a local-first
// filesystem key store for development and testing use.
package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// SignHash signs the raw 32 bytes decoded from a hex-encoded SHA-256 hash.
// The signature binds to the hash bytes, not to the canonical JSON string,
// so a verifier only needs the hash and signature to check authorship.
func SignHash(canonicalHashHex string, priv ed25519.PrivateKey) (string, error) {
	raw, err := hex.DecodeString(canonicalHashHex)
	if err != nil {
		return "", fmt.Errorf("keys: canonicalHash is not hex: %w", err)
	}
	if len(raw) != sha256.Size {
		return "", fmt.Errorf("keys: canonicalHash must decode to %d bytes, got %d", sha256.Size, len(raw))
	}
	sig := ed25519.Sign(priv, raw)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyHash verifies an Ed25519 signature (base64) over the raw bytes of a
// hex-encoded SHA-256 hash.
func VerifyHash(canonicalHashHex, sigB64 string, pub ed25519.PublicKey) (bool, error) {
	raw, err := hex.DecodeString(canonicalHashHex)
	if err != nil {
		return false, fmt.Errorf("keys: canonicalHash is not hex: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("keys: signature is not base64: %w", err)
	}
	return ed25519.Verify(pub, raw, sig), nil
}

// digestFor selects the hash algorithm backing a Dilithium3 co-signature.
func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("keys: unsupported hash algorithm: %q", hashAlg)
	}
}

// SignDilithium3Hash returns a base64 Dilithium3 signature over hash(rawHashBytes).
//
// This backs the optional post-quantum co-signature a maintainer may attach
// to a participant manifest entry alongside their required Ed25519 key. It
// is never required for admission; when an event does carry one,
// event.Verify checks it in addition to the Ed25519 signature.
func SignDilithium3Hash(canonicalHashHex, hashAlg string, priv *mode3.PrivateKey) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("keys: missing dilithium private key")
	}
	raw, err := hex.DecodeString(canonicalHashHex)
	if err != nil {
		return "", fmt.Errorf("keys: canonicalHash is not hex: %w", err)
	}
	digest, err := digestFor(hashAlg, raw)
	if err != nil {
		return "", err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(priv, digest, sig)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyDilithium3Hash verifies a base64 Dilithium3 co-signature.
func VerifyDilithium3Hash(canonicalHashHex, hashAlg, sigB64 string, pub *mode3.PublicKey) (bool, error) {
	raw, err := hex.DecodeString(canonicalHashHex)
	if err != nil {
		return false, fmt.Errorf("keys: canonicalHash is not hex: %w", err)
	}
	digest, err := digestFor(hashAlg, raw)
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("keys: signature is not base64: %w", err)
	}
	return mode3.Verify(pub, digest, sig), nil
}

// GenerateDilithium3Keypair returns a new Dilithium3 keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}
