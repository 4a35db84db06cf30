// Package event defines the fundamental record of the repomesh append-only
// log and the canonicalization and content-hash primitives events are built
// on.
package event

import (
	"encoding/hex"
	"regexp"
	"time"

	"github.com/repomesh/core/canon"
	"github.com/repomesh/core/reperr"
)

// Type enumerates the admissible event types.
type Type string

const (
	TypeReleasePublished       Type = "ReleasePublished"
	TypeAttestationPublished   Type = "AttestationPublished"
	TypePolicyViolation        Type = "PolicyViolation"
	TypeBreakingChangeDetected Type = "BreakingChangeDetected"
	TypeHealthCheckFailed      Type = "HealthCheckFailed"
	TypeDependencyVulnFound    Type = "DependencyVulnFound"
	TypeInterfaceUpdated       Type = "InterfaceUpdated"
)

var validTypes = map[Type]bool{
	TypeReleasePublished:       true,
	TypeAttestationPublished:   true,
	TypePolicyViolation:        true,
	TypeBreakingChangeDetected: true,
	TypeHealthCheckFailed:      true,
	TypeDependencyVulnFound:    true,
	TypeInterfaceUpdated:       true,
}

// Artifact is a named build output with a content hash and a fetch URI.
type Artifact struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	URI    string `json:"uri"`
}

// AttestationRef points at a check result. For AttestationPublished events,
// Type carries the check kind and URI carries the attestor URI grammar
// ("repomesh:attestor:<kind>:<pass|warn|fail>").
type AttestationRef struct {
	Type string `json:"type"`
	URI  string `json:"uri"`
}

// Signature is the Ed25519 authorship envelope over an event's content
// hash, plus an optional Dilithium3 co-signature over the same hash. The
// co-signature fields are either both set or both empty.
type Signature struct {
	Alg           string `json:"alg"`
	KeyID         string `json:"keyId"`
	Value         string `json:"value"`
	CanonicalHash string `json:"canonicalHash"`
	CoSigAlg      string `json:"coSigAlg,omitempty"`
	CoSignature   string `json:"coSignature,omitempty"`
}

// Event is the fundamental append-only log record.
type Event struct {
	Type         Type             `json:"type"`
	Repo         string           `json:"repo"`
	Version      string           `json:"version"`
	Commit       string           `json:"commit"`
	Timestamp    time.Time        `json:"timestamp"`
	Artifacts    []Artifact       `json:"artifacts,omitempty"`
	Attestations []AttestationRef `json:"attestations,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	Signature    Signature        `json:"signature"`
}

var (
	repoPattern      = regexp.MustCompile(`^[^/]+/[^/]+$`)
	hexSHA256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
	attestationKind  = regexp.MustCompile(`^[a-z][a-z0-9.]*$`)
)

// signaturePayload is Event with Signature always omitted, used to compute
// the content hash: an event's hash binds everything except its own
// signature.
type signaturePayload struct {
	Type         Type             `json:"type"`
	Repo         string           `json:"repo"`
	Version      string           `json:"version"`
	Commit       string           `json:"commit"`
	Timestamp    time.Time        `json:"timestamp"`
	Artifacts    []Artifact       `json:"artifacts,omitempty"`
	Attestations []AttestationRef `json:"attestations,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// CanonicalBytes returns the canonical JSON encoding of e with Signature
// stripped — the exact byte sequence that CanonicalHash and the Ed25519
// signature bind to. Timestamp is truncated to millisecond precision first,
// matching the wire format's precision, so two events differing only in
// sub-millisecond clock noise still canonicalize identically.
func (e Event) CanonicalBytes() ([]byte, error) {
	return canon.Marshal(signaturePayload{
		Type:         e.Type,
		Repo:         e.Repo,
		Version:      e.Version,
		Commit:       e.Commit,
		Timestamp:    e.Timestamp.UTC().Round(0).Truncate(time.Millisecond),
		Artifacts:    e.Artifacts,
		Attestations: e.Attestations,
		Notes:        e.Notes,
	})
}

// CanonicalHash computes SHA-256 over CanonicalBytes, as lowercase hex.
func (e Event) CanonicalHash() (string, error) {
	b, err := e.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return sha256Hex(b), nil
}

// ValidateSchema enforces structural conformance of the event body,
// independent of signature or timestamp bounds.
func (e Event) ValidateSchema() error {
	if !validTypes[e.Type] {
		return reperr.New(reperr.KindSchemaViolation, "unknown event type: "+string(e.Type))
	}
	if !repoPattern.MatchString(e.Repo) {
		return reperr.New(reperr.KindSchemaViolation, "repo must be \"<org>/<name>\": "+e.Repo)
	}
	if e.Version == "" {
		return reperr.New(reperr.KindSchemaViolation, "version must not be empty")
	}
	if e.Commit == "" {
		return reperr.New(reperr.KindSchemaViolation, "commit must not be empty")
	}
	if e.Timestamp.IsZero() {
		return reperr.New(reperr.KindSchemaViolation, "timestamp must be set")
	}
	for _, a := range e.Artifacts {
		if a.Name == "" {
			return reperr.New(reperr.KindSchemaViolation, "artifact name must not be empty")
		}
		if !hexSHA256Pattern.MatchString(a.SHA256) {
			return reperr.New(reperr.KindSchemaViolation, "artifact has non-hex64 sha256")
		}
	}
	for _, a := range e.Attestations {
		if a.Type == "" {
			return reperr.New(reperr.KindSchemaViolation, "attestation.type must not be empty")
		}
	}
	if e.Signature.Alg != "" && e.Signature.Alg != "ed25519" {
		return reperr.New(reperr.KindSchemaViolation, "signature.alg must be \"ed25519\"")
	}
	if (e.Signature.CoSigAlg == "") != (e.Signature.CoSignature == "") {
		return reperr.New(reperr.KindSchemaViolation, "signature.coSigAlg and signature.coSignature must be set together")
	}
	if e.Signature.CoSigAlg != "" && e.Signature.CoSigAlg != "dilithium3" {
		return reperr.New(reperr.KindSchemaViolation, "signature.coSigAlg must be \"dilithium3\"")
	}
	if e.Type == TypeAttestationPublished {
		for _, a := range e.Attestations {
			kind, _, ok := parseAttestorURI(a.URI)
			if ok && !attestationKind.MatchString(kind) {
				return reperr.New(reperr.KindSchemaViolation, "attestation kind fails grammar: "+kind)
			}
		}
	}
	return nil
}

// parseAttestorURI parses "repomesh:attestor:<kind>:<pass|warn|fail>".
func parseAttestorURI(uri string) (kind, verdict string, ok bool) {
	const prefix = "repomesh:attestor:"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := uri[len(prefix):]
	// kind may itself contain dots but not colons; verdict is the final segment.
	idx := lastIndexByte(rest, ':')
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// ParseAttestorURI parses and validates an attestor URI of the form
// repomesh:attestor:<kind>:<pass|warn|fail>, rejecting unrecognized verdicts.
func ParseAttestorURI(uri string) (kind, verdict string, ok bool) {
	kind, verdict, ok = parseAttestorURI(uri)
	if !ok {
		return "", "", false
	}
	switch verdict {
	case "pass", "warn", "fail":
	default:
		return "", "", false
	}
	return kind, verdict, true
}

func decodeHash(hexHash string) ([]byte, error) {
	if !hexSHA256Pattern.MatchString(hexHash) {
		return nil, reperr.New(reperr.KindMalformedEvent, "hash is not 64 lowercase hex characters")
	}
	return hex.DecodeString(hexHash)
}
