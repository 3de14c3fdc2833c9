// Package queue provides the Queue type for hook kind registration.
//
// This package includes:
//   - Queue: maps hook kinds to handlers and retry policies over a HookStore
//   - Option: configuration for registration and enqueueing
//   - Hook registration for lifecycle callbacks
//   - Event subscription for monitoring
//
// Most users should import the root package github.com/pepolabs/hookpipe
// which re-exports Queue and all option functions.
package queue
