package llm

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the core.
var (
	// ErrRateLimitExceeded is returned instead of blocking when a limiter is
	// configured in hard mode and a window bound is exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrAlreadyAttached indicates a session's document context was set twice.
	ErrAlreadyAttached = errors.New("documents already attached to session")

	// ErrNoStructuredOutput indicates a reply contained no JSON object at all.
	ErrNoStructuredOutput = errors.New("no structured output in reply")

	// ErrUnrepairableOutput indicates a reply could not be coerced into valid
	// JSON after all bounded repairs.
	ErrUnrepairableOutput = errors.New("unrepairable structured output")

	// ErrUnsupportedProvider indicates the requested provider has no
	// registered client variant.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrUnsupportedModelTier indicates the tier is not defined for the
	// requested provider.
	ErrUnsupportedModelTier = errors.New("unsupported model tier")
)

// Error wraps a provider failure with context. Retryable distinguishes
// transient failures (network errors, 429s, timeouts) the caller may retry
// from fatal ones (bad credentials, malformed requests) it must not.
type Error struct {
	Err       error
	Provider  string
	Op        string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// transientErr wraps err as a retryable provider error.
func transientErr(provider, op string, err error) error {
	return &Error{Provider: provider, Op: op, Err: err, Retryable: true}
}

// fatalErr wraps err as a non-retryable provider error.
func fatalErr(provider, op string, err error) error {
	return &Error{Provider: provider, Op: op, Err: err, Retryable: false}
}

// IsRetryable reports whether an error is transient and worth retrying.
func IsRetryable(err error) bool {
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RepairError carries the original raw reply alongside a repair failure so
// callers can diagnose what the model actually produced. The core never
// substitutes placeholder output for it.
type RepairError struct {
	Err error
	Raw string
}

func (e *RepairError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the repair sentinel for errors.Is support.
func (e *RepairError) Unwrap() error {
	return e.Err
}
