// Package hookpipe is a durable hook queue with notification fan-out.
//
// It re-exports the public types of the pkg/ packages for a compact API
// surface.
//
// Basic usage:
//
//	db, _ := storage.Open("sqlite", "hookpipe.db")
//	store, _ := hookpipe.NewGormHookStore(db, hookpipe.TableNotificationHooks)
//	store.Migrate(ctx)
//	q := hookpipe.New(store)
//
//	q.Register(hookpipe.KindPushNotification, func(ctx context.Context, p delivery.PushPayload) error {
//	    return send(ctx, p)
//	})
//	q.Enqueue(ctx, hookpipe.KindPushNotification, payload)
//
//	w := q.NewWorker(hookpipe.Concurrency(4))
//	w.Start(ctx)
package hookpipe

import (
	"time"

	"gorm.io/gorm"

	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/queue"
	"github.com/pepolabs/hookpipe/pkg/security"
	"github.com/pepolabs/hookpipe/pkg/storage"
	"github.com/pepolabs/hookpipe/pkg/worker"
)

func init() {
	queue.WorkerFactory = func(q *queue.Queue, opts ...any) core.Starter {
		workerOpts := make([]worker.WorkerOption, 0, len(opts))
		for _, opt := range opts {
			if wo, ok := opt.(worker.WorkerOption); ok {
				workerOpts = append(workerOpts, wo)
			}
		}
		return worker.NewWorker(q, workerOpts...)
	}
}

type (
	// Hook is one row of a hook table.
	Hook = core.Hook

	HookKind   = core.HookKind
	HookStatus = core.HookStatus
	HookStore  = core.HookStore

	// RetryPolicy decides what happens to a hook after a failed attempt.
	RetryPolicy = core.RetryPolicy

	NotificationRecord = core.NotificationRecord
	NotificationKind   = core.NotificationKind
	NotificationKey    = core.NotificationKey
	Timeline           = core.Timeline

	Event              = core.Event
	HookProcessed      = core.HookProcessed
	HookFailed         = core.HookFailed
	HookTerminated     = core.HookTerminated
	HookLockLost       = core.HookLockLost
	StaleLocksReleased = core.StaleLocksReleased

	NoRetryError    = core.NoRetryError
	RetryAfterError = core.RetryAfterError

	Queue  = queue.Queue
	Option = queue.Option

	Worker       = worker.Worker
	WorkerOption = worker.WorkerOption
	WorkerConfig = worker.WorkerConfig
	Reaper       = worker.Reaper

	GormHookStore = storage.GormHookStore
)

// Hook statuses.
const (
	StatusPending   = core.StatusPending
	StatusProcessed = core.StatusProcessed
	StatusFailed    = core.StatusFailed
	StatusIgnored   = core.StatusIgnored
)

// Hook kinds.
const (
	KindPushNotification      = core.KindPushNotification
	KindSendTransactionalMail = core.KindSendTransactionalMail
	KindAddContact            = core.KindAddContact
	KindUpdateContact         = core.KindUpdateContact
	KindEventWebhook          = core.KindEventWebhook
)

// Hook tables.
const (
	TableNotificationHooks        = core.TableNotificationHooks
	TableEmailServiceAPICallHooks = core.TableEmailServiceAPICallHooks
	TableWebhookEventHooks        = core.TableWebhookEventHooks
)

// Security limits.
const (
	MaxHookKindLength     = security.MaxHookKindLength
	MaxPayloadSize        = security.MaxPayloadSize
	MaxRetries            = security.MaxRetries
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxUniqueKeyLength    = security.MaxUniqueKeyLength
)

// Errors.
var (
	ErrInvalidHookKind       = core.ErrInvalidHookKind
	ErrHookKindTooLong       = core.ErrHookKindTooLong
	ErrInvalidTableName      = core.ErrInvalidTableName
	ErrPayloadTooLarge       = core.ErrPayloadTooLarge
	ErrLockLost              = core.ErrLockLost
	ErrDuplicateHook         = core.ErrDuplicateHook
	ErrNoHandler             = core.ErrNoHandler
	ErrNotificationNotFound  = core.ErrNotificationNotFound
	ErrDuplicateNotification = core.ErrDuplicateNotification
)

// New creates a queue backed by s.
func New(s HookStore) *Queue { return queue.New(s) }

// NewGormHookStore creates a store over one hook table.
func NewGormHookStore(db *gorm.DB, table string) (*GormHookStore, error) {
	return storage.NewGormHookStore(db, table)
}

// NewWorker creates a worker for q.
func NewWorker(q *Queue, opts ...WorkerOption) *Worker { return worker.NewWorker(q, opts...) }

// NoRetry marks err as final.
func NoRetry(err error) error { return core.NoRetry(err) }

// RetryAfter asks for the next attempt after d.
func RetryAfter(d time.Duration, err error) error { return core.RetryAfter(d, err) }

// DefaultRetryPolicy is the policy of kinds registered without one.
func DefaultRetryPolicy() RetryPolicy { return core.DefaultRetryPolicy() }

// DelayedRetryPolicy retries with a fixed delay between attempts.
func DelayedRetryPolicy() RetryPolicy { return core.DelayedRetryPolicy() }

// Registration and enqueue options.
var (
	Retries        = queue.Retries
	RetryDelay     = queue.RetryDelay
	TerminalStatus = queue.TerminalStatus
	WithPolicy     = queue.WithPolicy
	Timeout        = queue.Timeout
	Delay          = queue.Delay
	At             = queue.At
	Unique         = queue.Unique
)

// Worker options.
var (
	WithWorkerID     = worker.WithWorkerID
	PollInterval     = worker.PollInterval
	BatchSize        = worker.BatchSize
	Concurrency      = worker.Concurrency
	WithStorageRetry = worker.WithStorageRetry
	WithClaimRetry   = worker.WithClaimRetry
	WithAlertSink    = worker.WithAlertSink
	WithMetrics      = worker.WithMetrics
	WithLogger       = worker.WithLogger
)
