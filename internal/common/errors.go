// Package common holds the error vocabulary, retry helper and logger setup
// shared by every other package.
package common

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNotFound is returned by stores for an unknown transaction id.
	ErrNotFound = errors.New("not found")
	// ErrOffline means the store could not be reached; the outcome is transient.
	ErrOffline = errors.New("store offline")

	// ErrKeysExhausted means every vision credential answered 429 in one rotation.
	ErrKeysExhausted = errors.New("all vision credentials rate limited")
	// ErrNoCredentials is returned when no vision API key is configured.
	ErrNoCredentials = errors.New("no vision credentials configured")

	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError carries a message meant for the operator alongside the cause.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.UserMessage
	}
	return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError wraps err with an operator-facing message. err may be nil.
func NewUserError(userMessage string, err error) error {
	return &UserError{UserMessage: userMessage, Err: err}
}

// IsRetryable reports whether err is worth another attempt: rate limits,
// an offline store, deadlines and network timeouts are; an explicit
// RetryableError decides for itself.
func IsRetryable(err error) bool {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Retryable
	}
	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrOffline) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
