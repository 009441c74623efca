// Package apperror defines the error-kind taxonomy shared across the
// store, transport, runtime-driver, scheduler and orchestrator packages,
// and the retry policy for the kinds that are transient by nature.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of exit-code mapping,
// retry eligibility and upstream-failure propagation.
type Kind string

const (
	KindConfig          Kind = "config"
	KindTransport       Kind = "transport"
	KindStore           Kind = "store"
	KindRuntime         Kind = "runtime"
	KindScheduler       Kind = "scheduler"
	KindUpstreamFailure Kind = "upstream-failure"
)

// Error is the concrete type every package-level error constructor
// returns. It wraps an underlying cause and carries a Kind so callers
// can classify without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf constructs an *Error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Of classifies err, returning its Kind and true if err (or something it
// wraps) is an *Error; otherwise returns the zero Kind and false.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether errors of this kind are eligible for the
// shared backoff helper — transient connection and scheduling failures
// are, configuration and upstream-failure propagation are not.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransport, KindScheduler:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is classified as a retryable kind.
func IsRetryable(err error) bool {
	kind, ok := Of(err)
	return ok && kind.Retryable()
}
