// Package syncerr classifies synchronization failures as retryable or
// terminal. The worker pool consults the classification to decide between
// requeue-with-backoff and dead-letter; nothing inspects concrete error
// types above the handler.
package syncerr

import (
	"errors"
	"fmt"
)

// Class tags an error for the queue's retry policy.
type Class int

const (
	// ClassRetryable covers transient failures: network errors, provider
	// 5xx and 429, rate limiter acquisition timeouts.
	ClassRetryable Class = iota
	// ClassTerminal covers failures retrying cannot fix: validation
	// rejections, missing external references, revoked authorization.
	ClassTerminal
)

// Error wraps a cause with its retry classification.
type Error struct {
	Cls   Class
	Cause error
}

func (e *Error) Error() string {
	return e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable wraps err as a transient failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Cls: ClassRetryable, Cause: err}
}

// Retryablef builds a retryable error from a format string.
func Retryablef(format string, args ...any) error {
	return &Error{Cls: ClassRetryable, Cause: fmt.Errorf(format, args...)}
}

// Terminal wraps err as a permanent failure.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Cls: ClassTerminal, Cause: err}
}

// Terminalf builds a terminal error from a format string.
func Terminalf(format string, args ...any) error {
	return &Error{Cls: ClassTerminal, Cause: fmt.Errorf(format, args...)}
}

// IsTerminal reports whether err is classified terminal. Unclassified errors
// count as retryable: an unknown failure (network hiccup, crashed provider)
// is safer to retry than to dead-letter.
func IsTerminal(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Cls == ClassTerminal
	}
	return false
}
