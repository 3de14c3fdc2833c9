// Package storage provides persistence for hooks and notifications.
//
// This package includes:
//   - GormHookStore: core.HookStore on one hook table (SQLite or PostgreSQL)
//   - MemoryHookStore: a process-local core.HookStore
//   - GormTimeline: core.Timeline for notification records and visit details
//   - GormMembers: channel memberships and reply-thread followers
//   - ErrorLogStore: the persisted alert sink
//
// Open connects to a database with driver error translation enabled and
// the connection pool configured.
package storage
