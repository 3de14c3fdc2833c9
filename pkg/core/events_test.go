package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHookProcessed_ImplementsEvent(t *testing.T) {
	var e Event = &HookProcessed{
		Table:     TableNotificationHooks,
		Hook:      &Hook{ID: 1},
		Duration:  time.Second,
		Timestamp: time.Now(),
	}
	assert.NotNil(t, e)
}

func TestHookFailed_ImplementsEvent(t *testing.T) {
	next := time.Now().Add(time.Minute)
	var e Event = &HookFailed{
		Hook:        &Hook{ID: 1},
		FailedCount: 1,
		Error:       errors.New("temp error"),
		NextRunAt:   &next,
		Timestamp:   time.Now(),
	}
	assert.NotNil(t, e)
}

func TestHookTerminated_ImplementsEvent(t *testing.T) {
	var e Event = &HookTerminated{
		Hook:        &Hook{ID: 1},
		Status:      StatusIgnored,
		FailedCount: 4,
		Error:       errors.New("gave up"),
		Timestamp:   time.Now(),
	}
	assert.NotNil(t, e)
}

func TestHookLockLost_ImplementsEvent(t *testing.T) {
	var e Event = &HookLockLost{HookID: 9, Token: "w1:abc", Timestamp: time.Now()}
	assert.NotNil(t, e)
}

func TestStaleLocksReleased_ImplementsEvent(t *testing.T) {
	var e Event = &StaleLocksReleased{Table: TableEmailServiceAPICallHooks, Count: 2, Timestamp: time.Now()}
	assert.NotNil(t, e)
}
