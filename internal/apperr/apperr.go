// Package apperr defines the error taxonomy shared across the relay server.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for logging level and HTTP status mapping.
// It is not a type hierarchy — every Error carries exactly one Kind.
type Kind int

const (
	// KindDecode covers malformed frames, unknown message types, field
	// decode mismatches. Logged at warn; the frame is dropped.
	KindDecode Kind = iota
	// KindValidation covers unknown accounts, membership mismatches,
	// request bodies failing schema. Logged at warn.
	KindValidation
	// KindPersistence covers DB errors. Logged at error; handlers return
	// without mutating in-memory state.
	KindPersistence
	// KindPublish covers bus send failures. Never surfaced to the inbound
	// handler — enqueued, persisted, retried.
	KindPublish
	// KindFatal covers startup failures: TLS cert, DB open, port bind.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindPublish:
		return "publish"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and a stable code used by the
// HTTP Problem Details surface.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

// Decodef builds a KindDecode error with a formatted message.
func Decodef(code, format string, args ...any) *Error {
	return &Error{Kind: KindDecode, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Validationf builds a KindValidation error with a formatted message.
func Validationf(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind wrapping err.
func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
