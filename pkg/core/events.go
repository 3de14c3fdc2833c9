package core

import "time"

// Event is the interface for all worker events.
type Event interface {
	eventMarker()
}

// HookProcessed is emitted when a hook is delivered and marked processed.
type HookProcessed struct {
	Table     string
	Hook      *Hook
	Duration  time.Duration
	Timestamp time.Time
}

func (*HookProcessed) eventMarker() {}

// HookFailed is emitted when a hook fails and stays eligible for retry.
type HookFailed struct {
	Table       string
	Hook        *Hook
	FailedCount int
	Error       error
	NextRunAt   *time.Time
	Timestamp   time.Time
}

func (*HookFailed) eventMarker() {}

// HookTerminated is emitted when a hook exhausts its retries.
type HookTerminated struct {
	Table       string
	Hook        *Hook
	Status      HookStatus
	FailedCount int
	Error       error
	Timestamp   time.Time
}

func (*HookTerminated) eventMarker() {}

// HookLockLost is emitted when a worker finds its lock reassigned before marking.
type HookLockLost struct {
	Table     string
	HookID    uint64
	Token     string
	Timestamp time.Time
}

func (*HookLockLost) eventMarker() {}

// StaleLocksReleased is emitted when the reaper frees abandoned locks.
type StaleLocksReleased struct {
	Table     string
	Count     int64
	Timestamp time.Time
}

func (*StaleLocksReleased) eventMarker() {}
