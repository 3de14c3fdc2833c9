package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoRetryError(t *testing.T) {
	originalErr := errors.New("permanent failure")
	wrapped := NoRetry(originalErr)

	var noRetryErr *NoRetryError
	assert.True(t, errors.As(wrapped, &noRetryErr))
	assert.Equal(t, originalErr, noRetryErr.Unwrap())
	assert.Contains(t, noRetryErr.Error(), "no retry")
	assert.Contains(t, noRetryErr.Error(), "permanent failure")
}

func TestRetryAfterError(t *testing.T) {
	originalErr := errors.New("temporary failure")
	delay := 5 * time.Second
	wrapped := RetryAfter(delay, originalErr)

	var retryErr *RetryAfterError
	assert.True(t, errors.As(wrapped, &retryErr))
	assert.Equal(t, originalErr, retryErr.Unwrap())
	assert.Equal(t, delay, retryErr.Delay)
	assert.Contains(t, retryErr.Error(), "retry after")
	assert.Contains(t, retryErr.Error(), "5s")
}

func TestErrorVariables(t *testing.T) {
	assert.Contains(t, ErrInvalidHookKind.Error(), "invalid hook kind")
	assert.Contains(t, ErrLockLost.Error(), "not owned")
	assert.Contains(t, ErrDuplicateHook.Error(), "duplicate")
	assert.Contains(t, ErrDuplicateNotification.Error(), "already exists")
}

func TestHookStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusFailed.IsTerminal())
	assert.True(t, StatusProcessed.IsTerminal())
	assert.True(t, StatusIgnored.IsTerminal())
}

func TestClaimRequest_RetryLimitFor(t *testing.T) {
	req := ClaimRequest{
		RetryLimits:       map[HookKind]int{KindEventWebhook: 5},
		DefaultRetryLimit: 3,
	}
	assert.Equal(t, 5, req.RetryLimitFor(KindEventWebhook))
	assert.Equal(t, 3, req.RetryLimitFor(KindPushNotification))
}
