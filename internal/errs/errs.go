// Package errs defines the error taxonomy shared across the dispatch core.
// Callers classify failures with errors.Is against the sentinels; the HTTP
// layer maps them to status codes.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: no record, offer, or code exists for the given id.
	ErrNotFound = errors.New("not found")
	// ErrConflict: the operation lost to a concurrent owner, e.g. the
	// offer is already held by another partner.
	ErrConflict = errors.New("conflict")
	// ErrStale: a response arrived after expiry. Expected race, discarded.
	ErrStale = errors.New("stale")
	// ErrInvalidInput: malformed position, vehicle class, phase, or code.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCodeMismatch: the submitted verification code differs from the
	// issued one.
	ErrCodeMismatch = errors.New("code mismatch")
	// ErrUpstreamUnavailable: a collaborator call failed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

func Stale(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrStale)...)
}

func InvalidInput(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidInput)...)
}

func Upstream(op string, cause error) error {
	return fmt.Errorf("%s: %v: %w", op, cause, ErrUpstreamUnavailable)
}
