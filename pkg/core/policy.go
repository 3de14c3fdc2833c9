package core

import (
	"errors"
	"time"
)

// RetryPolicy decides what happens to a hook after a failed attempt.
//
// A zero Delay leaves the row failed so the next retryable claim picks it
// up. A positive Delay puts the row back to pending with its execution
// timestamp pushed forward. Either way, once the new failed count exceeds
// Limit the row moves to Terminal and is never claimed again.
type RetryPolicy struct {
	Limit    int
	Delay    time.Duration
	Terminal HookStatus
}

// DefaultRetryPolicy is used for push and email API hooks.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Limit: 3, Terminal: StatusIgnored}
}

// DelayedRetryPolicy is used for outbound event webhooks.
func DelayedRetryPolicy() RetryPolicy {
	return RetryPolicy{Limit: 5, Delay: 3 * time.Minute, Terminal: StatusFailed}
}

// Transition is the outcome of applying a RetryPolicy to one failure.
type Transition struct {
	Status      HookStatus
	FailedCount int
	RunAt       *time.Time
	Terminal    bool
}

// OnFailure computes the next state for a hook that has failed failedCount
// times before this attempt.
func (p RetryPolicy) OnFailure(failedCount int, now time.Time, err error) Transition {
	next := failedCount + 1

	var noRetry *NoRetryError
	if errors.As(err, &noRetry) || next > p.Limit {
		status := p.terminalStatus()
		// A terminal failed row must sit above the retryable window.
		if status == StatusFailed && next <= p.Limit {
			next = p.Limit + 1
		}
		return Transition{Status: status, FailedCount: next, Terminal: true}
	}

	delay := p.Delay
	var retryAfter *RetryAfterError
	if errors.As(err, &retryAfter) {
		delay = retryAfter.Delay
	}

	if delay > 0 {
		runAt := now.Add(delay)
		return Transition{Status: StatusPending, FailedCount: next, RunAt: &runAt}
	}
	return Transition{Status: StatusFailed, FailedCount: next}
}

func (p RetryPolicy) terminalStatus() HookStatus {
	if p.Terminal == "" {
		return StatusIgnored
	}
	return p.Terminal
}
