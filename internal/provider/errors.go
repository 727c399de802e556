package provider

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes provider failures so callers can distinguish
// systemic outages from isolated bad inputs. The circuit breaker exposes
// per-kind counts for observability; the retry controller uses Transient
// to decide whether another attempt can possibly succeed.
type ErrorKind string

// Provider error kinds.
const (
	KindTimeout    ErrorKind = "timeout"
	KindAuth       ErrorKind = "auth"
	KindRateLimit  ErrorKind = "rate_limit"
	KindServer     ErrorKind = "server_error"
	KindValidation ErrorKind = "validation"
	KindUnknown    ErrorKind = "unknown"
)

// Error is a provider failure tagged with its kind. It wraps the underlying
// cause so errors.Is/errors.As keep working through it.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("provider error (%s): %v", e.Kind, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf wraps a formatted message with the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify returns the kind of a provider error, or KindUnknown if the
// error carries no kind.
func Classify(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// Transient reports whether another attempt at the failed call could
// plausibly succeed. Timeouts, server errors and provider throttling are
// transient; auth and validation failures never resolve by retrying.
// Unclassified errors are treated as transient, matching the posture of
// assuming a network hiccup unless proven otherwise.
func Transient(err error) bool {
	switch Classify(err) {
	case KindAuth, KindValidation:
		return false
	default:
		return true
	}
}
