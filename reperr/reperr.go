// Package reperr defines the stable, machine-readable error vocabulary shared
// by every repomesh core component.
package reperr

import "errors"

// Kind is a stable category for programmatic error handling. Callers should
// branch on Kind, never on Error()'s message text.
type Kind string

const (
	KindCanonicalHashMismatch  Kind = "CanonicalHashMismatch"
	KindSignatureInvalid       Kind = "SignatureInvalid"
	KindUnknownKey             Kind = "UnknownKey"
	KindMalformedEvent         Kind = "MalformedEvent"
	KindSchemaViolation        Kind = "SchemaViolation"
	KindDuplicateEvent         Kind = "DuplicateEvent"
	KindTimestampOutOfRange    Kind = "TimestampOutOfRange"
	KindLogRewrite             Kind = "LogRewrite"
	KindReleaseNotFound        Kind = "ReleaseNotFound"
	KindManifestConflict       Kind = "ManifestConflict"
	KindManifestUnavailable    Kind = "ManifestUnavailable"
	KindManifestTampered       Kind = "ManifestTampered"
	KindMemoDecodeFailed       Kind = "MemoDecodeFailed"
	KindMemoVersionMismatch    Kind = "MemoVersionMismatch"
	KindMemoTooLarge           Kind = "MemoTooLarge"
	KindPartitionLeafMismatch  Kind = "PartitionLeafCountMismatch"
	KindRootMismatch           Kind = "RootMismatch"
	KindExternalLedgerUnavail  Kind = "ExternalLedgerUnavailable" // warn-class
	KindEvidenceUnavailable    Kind = "EvidenceUnavailable"       // warn-class
	KindPolicyNoTrustedSources Kind = "PolicyNoTrustedSources"
	KindReleaseSignatureBad    Kind = "ReleaseSignatureInvalid"
	KindInvalidRequest         Kind = "InvalidRequest"
	KindInternal               Kind = "Internal"
)

// Error is repomesh's structured error type: a stable Kind plus a
// human-readable message, with an optional Cause for errors.Unwrap chains.
//
// Use errors.As to extract *Error for programmatic handling; do not match on
// Error()'s string.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New constructs an Error with no cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error carrying cause as its Unwrap target.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is (or wraps) an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of a structured error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// IsWarnClass reports whether kind is a warn-class outcome rather than a
// terminal failure: callers should surface these as degraded results, not
// hard errors.
func IsWarnClass(kind Kind) bool {
	switch kind {
	case KindExternalLedgerUnavail, KindEvidenceUnavailable:
		return true
	default:
		return false
	}
}
