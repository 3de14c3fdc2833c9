package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation and ownership errors
var (
	ErrInvalidHookKind       = errors.New("hookpipe: invalid hook kind (must be alphanumeric, start with letter)")
	ErrHookKindTooLong       = errors.New("hookpipe: hook kind too long")
	ErrInvalidTableName      = errors.New("hookpipe: invalid hook table name")
	ErrPayloadTooLarge       = errors.New("hookpipe: hook payload exceeds size limit")
	ErrLockLost              = errors.New("hookpipe: hook lock not owned by this token")
	ErrDuplicateHook         = errors.New("hookpipe: duplicate hook with same unique key")
	ErrUniqueKeyTooLong      = errors.New("hookpipe: unique key exceeds maximum length")
	ErrDuplicateNotification = errors.New("hookpipe: notification already exists")
	ErrNotificationNotFound  = errors.New("hookpipe: notification not found")
	ErrNoHandler             = errors.New("hookpipe: no handler registered for hook kind")
	ErrLockAbandoned         = errors.New("hookpipe: hook lock held past max hold")
)

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
