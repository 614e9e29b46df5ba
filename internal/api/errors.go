package api

import (
	"errors"
	"fmt"
)

// ValidationError reports a request the backend (or a pre-flight check)
// rejected as malformed: empty content, missing conversation. Validation
// failures are checked before any optimistic mutation, so there is nothing
// to roll back.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// AuthError reports an invalid or expired session. It is surfaced to the
// auth layer and never retried here.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (status %d)", e.Status)
}

// TransientError reports a retryable failure: timeouts, connection resets,
// server 5xx. The caller may resubmit the same content.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsAuth reports whether err is an auth failure.
func IsAuth(err error) bool {
	var a *AuthError
	return errors.As(err, &a)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
