// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Browser errors.
	ErrNotInitialized = errors.New("browser not initialized")
	ErrTimeout        = errors.New("timed out waiting for element")

	// Portal session errors.
	ErrLoginFieldsNotFound = errors.New("login fields not found")
	ErrLoginRejected       = errors.New("login rejected")
	ErrSessionLost         = errors.New("portal session lost")
	ErrNotAuthenticated    = errors.New("portal session is not authenticated")

	// Sync errors.
	ErrSyncInProgress = errors.New("sync already in progress")

	// Import errors.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// Configuration errors.
	ErrMissingConfig      = errors.New("missing configuration")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingCredentials = errors.New("portal credentials are not configured")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrSessionLost) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

// Describe maps an error to a short operator-facing explanation. Configuration
// problems and automation breakage read differently on purpose.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredentials):
		return "portal credentials are missing from the configuration"
	case errors.Is(err, ErrLoginRejected):
		return "the portal rejected the configured credentials"
	case errors.Is(err, ErrLoginFieldsNotFound):
		return "the login form could not be located; portal markup may have changed"
	case errors.Is(err, ErrSessionLost):
		return "the portal session expired during the operation"
	case errors.Is(err, ErrTimeout):
		return "the portal did not render the expected page in time"
	case errors.Is(err, ErrSyncInProgress):
		return "another sync is already running"
	default:
		return err.Error()
	}
}
