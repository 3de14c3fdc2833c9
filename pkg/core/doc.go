// Package core provides the fundamental types and interfaces for hookpipe.
//
// This package contains:
//   - Hook, NotificationRecord and VisitDetail data models with GORM annotations
//   - HookStore and Timeline interfaces defining the persistence contract
//   - RetryPolicy, the single state machine shared by every hook kind
//   - Event types for worker monitoring
//   - Error types for hook processing
//
// Most users should import the root package github.com/pepolabs/hookpipe
// instead of this package directly.
package core
