// Package slopguard evaluates a sequence of declared package dependencies
// against public registry metadata and produces a trust verdict for each
// one, defending against slopsquatting: the practice of preregistering
// packages under names that AI coding assistants commonly hallucinate.
//
// The package does not parse SBOM files or render reports; it consumes a
// deduplicated sequence of [github.com/quay/slopguard/pkgref.Ref] values and
// produces a [Summary] of [PackageVerdict] values for an external reporter
// to format.
package slopguard

import (
	"github.com/quay/slopguard/internal/errs"
)

// Error is this module's error domain type. Components construct one at a
// system boundary (an HTTP call, a disk read) and intermediate layers
// prefer wrapping with [fmt.Errorf] and "%w" over constructing another
// Error, except to refine the [ErrorKind].
//
// Error is a type alias over [errs.Error]: the taxonomy lives in
// internal/errs so the boundary packages themselves (internal/httpfetch,
// internal/diskcache) can construct it without importing this package.
type Error = errs.Error

// ErrorKind classes the errors this module's components produce, per the
// error taxonomy: transient network failure, fatal rate limiting, malformed
// payloads, internal faults, invalid input, and per-package crashes.
//
// Not-found is deliberately absent from this taxonomy: an absent package is
// a first-class domain outcome ([trust.NotFound]), not an error.
type ErrorKind = errs.ErrorKind

var (
	ErrTransient      = errs.ErrTransient      // timeout, reset, 5xx; retried locally, then treated as absence
	ErrRateLimitFatal = errs.ErrRateLimitFatal  // source-host quota exhausted; aborts the scan
	ErrBadPayload     = errs.ErrBadPayload      // malformed JSON or unexpected shape; treated as absence
	ErrInternal       = errs.ErrInternal        // non-specific internal error
	ErrInvalid        = errs.ErrInvalid         // invalid input, e.g. a malformed pkgref.Ref
	ErrCrash          = errs.ErrCrash           // unexpected failure evaluating one package; scan continues
)
