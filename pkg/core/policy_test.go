package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_ReclaimOnNextPoll(t *testing.T) {
	p := DefaultRetryPolicy()
	now := time.Now()

	tr := p.OnFailure(0, now, errors.New("boom"))
	assert.Equal(t, StatusFailed, tr.Status)
	assert.Equal(t, 1, tr.FailedCount)
	assert.Nil(t, tr.RunAt)
	assert.False(t, tr.Terminal)

	tr = p.OnFailure(2, now, errors.New("boom"))
	assert.Equal(t, StatusFailed, tr.Status)
	assert.Equal(t, 3, tr.FailedCount)

	tr = p.OnFailure(3, now, errors.New("boom"))
	assert.Equal(t, StatusIgnored, tr.Status)
	assert.Equal(t, 4, tr.FailedCount)
	assert.True(t, tr.Terminal)
}

func TestRetryPolicy_Delayed(t *testing.T) {
	p := DelayedRetryPolicy()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tr := p.OnFailure(1, now, errors.New("503"))
	assert.Equal(t, StatusPending, tr.Status)
	assert.Equal(t, 2, tr.FailedCount)
	require.NotNil(t, tr.RunAt)
	assert.Equal(t, now.Add(3*time.Minute), *tr.RunAt)

	tr = p.OnFailure(5, now, errors.New("503"))
	assert.Equal(t, StatusFailed, tr.Status)
	assert.True(t, tr.Terminal)
	assert.Nil(t, tr.RunAt)
}

func TestRetryPolicy_NoRetry(t *testing.T) {
	tr := DefaultRetryPolicy().OnFailure(0, time.Now(), NoRetry(errors.New("bad payload")))
	assert.True(t, tr.Terminal)
	assert.Equal(t, StatusIgnored, tr.Status)
	assert.Equal(t, 1, tr.FailedCount)
}

func TestRetryPolicy_NoRetryWithFailedTerminalLeavesRetryWindow(t *testing.T) {
	p := DelayedRetryPolicy()
	tr := p.OnFailure(0, time.Now(), NoRetry(errors.New("endpoint gone")))
	assert.True(t, tr.Terminal)
	assert.Equal(t, StatusFailed, tr.Status)
	assert.Equal(t, p.Limit+1, tr.FailedCount)
}

func TestRetryPolicy_RetryAfterOverridesDelay(t *testing.T) {
	now := time.Now()
	tr := DefaultRetryPolicy().OnFailure(0, now, RetryAfter(time.Minute, errors.New("throttled")))
	assert.Equal(t, StatusPending, tr.Status)
	require.NotNil(t, tr.RunAt)
	assert.Equal(t, now.Add(time.Minute), *tr.RunAt)
}

func TestRetryPolicy_ZeroTerminalDefaultsToIgnored(t *testing.T) {
	tr := RetryPolicy{Limit: 0}.OnFailure(0, time.Now(), errors.New("x"))
	assert.Equal(t, StatusIgnored, tr.Status)
	assert.True(t, tr.Terminal)
}

// failed_count never exceeds limit+1 before the row becomes terminal.
func TestRetryPolicy_BoundedRetry(t *testing.T) {
	for _, p := range []RetryPolicy{DefaultRetryPolicy(), DelayedRetryPolicy(), {Limit: 0}} {
		count := 0
		for i := 0; i < 100; i++ {
			tr := p.OnFailure(count, time.Now(), errors.New("fail"))
			count = tr.FailedCount
			if tr.Terminal {
				break
			}
		}
		assert.Equal(t, p.Limit+1, count)
	}
}
