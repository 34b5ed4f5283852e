package backend

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrUnauthorized is wrapped by every authorization failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrQuotaExceeded is wrapped by rate limit and quota failures.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// AuthError is returned when the backend rejects the credentials.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authorization failed (status %d): %s", e.Status, e.Message)
	}
	return "authorization failed: " + e.Message
}

func (e *AuthError) Unwrap() error {
	return ErrUnauthorized
}

// QuotaError is returned when the backend refuses a request because of rate limits or quota.
type QuotaError struct {
	Status  int
	Message string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded (status %d): %s", e.Status, e.Message)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// APIError is any other failure reported by the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// ErrorFromStatus classifies an HTTP status code and message.
func ErrorFromStatus(status int, message string) error {
	switch status {
	case 401, 403:
		return &AuthError{Status: status, Message: message}
	case 429:
		return &QuotaError{Status: status, Message: message}
	default:
		return &APIError{Status: status, Message: message}
	}
}
