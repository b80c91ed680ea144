// Package errs holds the module's shared error taxonomy: a small [Error]
// envelope plus the [ErrorKind] values every boundary classifies its
// failures into. It lives under internal/ so both the lower-level
// boundaries (internal/httpfetch, internal/diskcache) and the root package's
// public facade can depend on it without an import cycle; the root package
// re-exports these names as type aliases.
package errs

import (
	"errors"
	"strings"
)

// Error is this module's error domain type.
//
// Components should create an Error at a system boundary (an HTTP call, a
// disk read) and intermediate layers should prefer wrapping with
// [fmt.Errorf] and "%w" over constructing another Error, except to refine
// the [ErrorKind].
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrTransient, ErrRateLimitFatal, ErrBadPayload, ErrInternal, ErrInvalid, ErrCrash:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is] by comparing error kind.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap] and lets [errors.Is] see through to the
// sentinel an Error wraps (e.g. httpfetch.ErrAbsent), not just the Kind.
func (e *Error) Unwrap() error { return e.Inner }

// ErrorKind classes the errors this module's components produce, per the
// error taxonomy: transient network failure, fatal rate limiting, malformed
// payloads, internal faults, invalid input, and per-package crashes.
//
// Not-found is deliberately absent from this taxonomy: an absent package is
// a first-class domain outcome ([trust.NotFound]), not an error.
type ErrorKind string

var (
	ErrTransient      = ErrorKind("transient")         // timeout, reset, 5xx; retried locally, then treated as absence
	ErrRateLimitFatal = ErrorKind("rate limit fatal")   // source-host quota exhausted; aborts the scan
	ErrBadPayload     = ErrorKind("bad payload")        // malformed JSON or unexpected shape; treated as absence
	ErrInternal       = ErrorKind("internal")           // non-specific internal error
	ErrInvalid        = ErrorKind("invalid")            // invalid input, e.g. a malformed pkgref.Ref
	ErrCrash          = ErrorKind("per-package crash")  // unexpected failure evaluating one package; scan continues
)

// Error implements error.
func (e ErrorKind) Error() string { return string(e) }
