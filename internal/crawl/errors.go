package crawl

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that the requested session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrSessionExists signals a duplicate session ID on create.
var ErrSessionExists = errors.New("session already exists")

// ValidationError reports bad input to session creation. No session state is
// created when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// FetchError reports a failed keyword fetch. It is recovered per keyword and
// never aborts a session on its own.
type FetchError struct {
	Keyword    string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %q: status %d: %v", e.Keyword, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %q: %v", e.Keyword, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Blocked reports whether the failure looks like the search engine throttling
// or refusing the crawler, which should trigger rate-controller backoff.
func (e *FetchError) Blocked() bool {
	return e.StatusCode == 429 || e.StatusCode == 503
}
