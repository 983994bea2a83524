package domain

import (
	"errors"
	"fmt"
)

// State-conflict errors. The caller observed stale state and should refetch.
var (
	ErrAlreadyInSession    = errors.New("already in session")
	ErrWrongState          = errors.New("wrong session state")
	ErrPromptIndexMismatch = errors.New("prompt index mismatch")
	ErrDuplicateResponse   = errors.New("duplicate prompt response")
	ErrSessionNotActive    = errors.New("session not active")
	ErrAlreadyEnded        = errors.New("session already ended")
	ErrNotQueued           = errors.New("not queued")
)

// Authorization and lookup errors.
var (
	ErrNotAParticipant = errors.New("not a participant")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidCode     = errors.New("invalid reconnect code")
	ErrCodeExpired     = errors.New("reconnect code expired")
)

// ErrTransient marks a concurrency loss (lock timeout, busy database).
// The operation had no effect and may be retried with backoff.
var ErrTransient = errors.New("transient concurrency failure")

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err signals stale caller state.
func IsConflict(err error) bool {
	for _, target := range []error{
		ErrAlreadyInSession, ErrWrongState, ErrPromptIndexMismatch,
		ErrDuplicateResponse, ErrSessionNotActive, ErrAlreadyEnded, ErrNotQueued,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err may be retried by the caller.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
