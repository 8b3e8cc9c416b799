// Package errs defines the error categories the core exposes to its callers:
// Deserialize, Validation, Transient and Fatal. Every package in this module
// wraps its failures in one of these kinds so callers can branch with
// errors.Is/errors.As instead of string matching.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for propagation-policy purposes (spec §7).
type Kind int

const (
	// Deserialize marks malformed bytes. Never retried.
	Deserialize Kind = iota
	// Validation marks well-formed input rejected by a rule.
	Validation
	// Transient marks I/O timeouts, disconnects, retryable store errors.
	Transient
	// Fatal marks store corruption or invariant violations. The process
	// must not continue after one of these reaches the top level.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Deserialize:
		return "deserialize"
	case Validation:
		return "validation"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and, for Validation errors, a
// stable Reason code consumers can switch on (e.g. mempool rejection
// reasons).
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a Kind-tagged error. Fatal errors capture a stack trace via
// pkg/errors so a crash report has something to point at.
func New(kind Kind, reason string, cause error) *Error {
	if kind == Fatal && cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Reason: reason, cause: cause}
}

// Is reports whether err was constructed with the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
