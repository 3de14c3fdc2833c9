package core

import (
	"context"
	"encoding/json"
	"time"
)

// Starter is the interface for starting workers.
type Starter interface {
	Start(ctx context.Context) error
}

// HookStore is the durable hook queue backing one hook table.
//
// Every mutation of a claimed row is conditioned on the caller's lock token;
// a zero-row update returns ErrLockLost.
type HookStore interface {
	// Migrate creates the table and its claim index.
	Migrate(ctx context.Context) error

	// Table returns the hook table this store operates on.
	Table() string

	// Enqueue inserts a pending hook and writes the new id back into h.
	Enqueue(ctx context.Context, h *Hook) error
	// EnqueueUnique inserts h unless a hook with key exists that is not
	// ignored. Delivered hooks keep their key.
	EnqueueUnique(ctx context.Context, h *Hook, key string) error
	// EnqueueBatch inserts hooks in a single statement. Keyed hooks follow
	// the EnqueueUnique rule; skipped ones keep a zero ID.
	EnqueueBatch(ctx context.Context, hooks []*Hook) error

	// ClaimBatch locks up to req.Limit due pending rows. Zero is not an error.
	ClaimBatch(ctx context.Context, req ClaimRequest) (int64, error)
	// ClaimRetryable locks failed rows still under their kind's retry limit.
	ClaimRetryable(ctx context.Context, req ClaimRequest) (int64, error)
	// FetchClaimed returns the rows currently locked by token.
	FetchClaimed(ctx context.Context, token string) ([]*Hook, error)

	MarkProcessed(ctx context.Context, id uint64, token string, response json.RawMessage) error
	MarkFailed(ctx context.Context, id uint64, token string, failedCount int, response json.RawMessage) error
	MarkIgnored(ctx context.Context, id uint64, token string, failedCount int, response json.RawMessage) error
	// Reschedule unlocks the row back to pending with a new execution timestamp.
	Reschedule(ctx context.Context, id uint64, token string, failedCount int, runAt time.Time, response json.RawMessage) error

	// FetchStale returns up to limit rows locked for longer than maxHold.
	// They are settled like failed attempts under their stale token.
	FetchStale(ctx context.Context, maxHold time.Duration, limit int) ([]*Hook, error)

	GetHook(ctx context.Context, id uint64) (*Hook, error)
	CountByStatus(ctx context.Context) (map[HookStatus]int64, error)
}

// Timeline is the per-user notification store.
type Timeline interface {
	Migrate(ctx context.Context) error

	// Append inserts a record. An existing key yields ErrDuplicateNotification.
	Append(ctx context.Context, rec *NotificationRecord) error
	// AppendBatch inserts recs, skipping those whose (user, uuid) already
	// exists, and reports which were inserted. Skipped records are
	// reloaded in place.
	AppendBatch(ctx context.Context, recs []*NotificationRecord) ([]bool, error)

	Get(ctx context.Context, key NotificationKey) (*NotificationRecord, error)
	// Page returns up to limit records strictly older than cursor, newest first.
	Page(ctx context.Context, userID uint64, cursor Cursor, limit int) ([]*NotificationRecord, error)

	// MarkThankYou flips the thank-you flag once. applied is false when it
	// was already set.
	MarkThankYou(ctx context.Context, key NotificationKey, text string) (applied bool, err error)
	SetDeliveryResponse(ctx context.Context, key NotificationKey, response json.RawMessage) error

	IncrementUnread(ctx context.Context, userIDs []uint64) error
	ResetUnread(ctx context.Context, userID uint64) error
	MarkVisited(ctx context.Context, userID uint64, at time.Time) error
	GetVisit(ctx context.Context, userID uint64) (*VisitDetail, error)
}
