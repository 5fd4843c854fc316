package exchange

import (
	"errors"
	"fmt"
)

// ValidationError marks a request that failed parameter validation.
// These are never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// TransientError marks a network, rate-limit, or 5xx failure that a caller
// may retry.
type TransientError struct {
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient exchange error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transient exchange error: %s", e.Message)
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsValidation reports whether err is a fatal parameter-validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
