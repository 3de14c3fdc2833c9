// Package queue provides the kind registry and enqueue API for one hook table.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/internal/handler"
	"github.com/pepolabs/hookpipe/pkg/security"
)

// Queue maps hook kinds to handlers and retry policies on top of a store.
type Queue struct {
	store    core.HookStore
	handlers map[core.HookKind]*handler.Handler
	mu       sync.RWMutex

	// Hooks
	onStart     []func(context.Context, *core.Hook)
	onProcessed []func(context.Context, *core.Hook)
	onTerminal  []func(context.Context, *core.Hook, error)
	onRetry     []func(context.Context, *core.Hook, core.Transition, error)

	// Event stream
	eventSubs []chan core.Event
}

// New creates a new Queue with the given store.
func New(s core.HookStore) *Queue {
	return &Queue{
		store:    s,
		handlers: make(map[core.HookKind]*handler.Handler),
	}
}

// Register registers a handler for kind.
// The function must have signature func(ctx context.Context, payload T) error
// or func(ctx context.Context, payload T) (R, error).
func (q *Queue) Register(kind core.HookKind, fn any, opts ...Option) {
	if err := security.ValidateHookKind(kind); err != nil {
		panic(fmt.Sprintf("hookpipe: invalid hook kind %q: %v", kind, err))
	}

	h, err := handler.NewHandler(fn)
	if err != nil {
		panic(fmt.Sprintf("hookpipe: handler for %q: %v", kind, err))
	}

	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}
	h.Policy = o.Policy
	h.Timeout = o.Timeout

	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// HasHandler checks if a handler is registered.
func (q *Queue) HasHandler(kind core.HookKind) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.handlers[kind]
	return ok
}

// GetHandler returns the handler for kind.
func (q *Queue) GetHandler(kind core.HookKind) (*handler.Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[kind]
	return h, ok
}

// Policy returns the retry policy of kind, or the default policy.
func (q *Queue) Policy(kind core.HookKind) core.RetryPolicy {
	if h, ok := q.GetHandler(kind); ok {
		return h.Policy
	}
	return core.DefaultRetryPolicy()
}

// RetryLimits returns the retry limit of every registered kind, for
// retryable claims.
func (q *Queue) RetryLimits() map[core.HookKind]int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	limits := make(map[core.HookKind]int, len(q.handlers))
	for kind, h := range q.handlers {
		limits[kind] = h.Policy.Limit
	}
	return limits
}

// Enqueue marshals payload and inserts a pending hook of kind.
func (q *Queue) Enqueue(ctx context.Context, kind core.HookKind, payload any, opts ...Option) (uint64, error) {
	if !q.HasHandler(kind) {
		return 0, fmt.Errorf("%w: %q", core.ErrNoHandler, kind)
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("hookpipe: failed to marshal payload: %w", err)
	}
	if err := security.ValidatePayload(raw); err != nil {
		return 0, err
	}

	h := &core.Hook{
		Kind:    kind,
		Payload: raw,
		Status:  core.StatusPending,
	}
	if options.Delay > 0 {
		h.ExecutionTimestamp = time.Now().Add(options.Delay)
	}
	if options.RunAt != nil {
		h.ExecutionTimestamp = *options.RunAt
	}

	if options.UniqueKey != "" {
		if err := q.store.EnqueueUnique(ctx, h, options.UniqueKey); err != nil {
			if errors.Is(err, core.ErrDuplicateHook) {
				return 0, err
			}
			return 0, fmt.Errorf("hookpipe: failed to enqueue: %w", err)
		}
		return h.ID, nil
	}

	if err := q.store.Enqueue(ctx, h); err != nil {
		return 0, fmt.Errorf("hookpipe: failed to enqueue: %w", err)
	}
	return h.ID, nil
}

// UniqueKeyer is implemented by payloads that carry their own dedup key.
type UniqueKeyer interface {
	UniqueKey() string
}

// EnqueueBatch inserts one pending hook of kind per payload in a single
// store call. Payloads implementing UniqueKeyer are deduplicated like
// Unique; the returned ids cover only the hooks actually inserted.
func (q *Queue) EnqueueBatch(ctx context.Context, kind core.HookKind, payloads []any, opts ...Option) ([]uint64, error) {
	if !q.HasHandler(kind) {
		return nil, fmt.Errorf("%w: %q", core.ErrNoHandler, kind)
	}
	if len(payloads) == 0 {
		return nil, nil
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}
	var runAt time.Time
	if options.Delay > 0 {
		runAt = time.Now().Add(options.Delay)
	}
	if options.RunAt != nil {
		runAt = *options.RunAt
	}

	hooks := make([]*core.Hook, len(payloads))
	for i, p := range payloads {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("hookpipe: failed to marshal payload %d: %w", i, err)
		}
		if err := security.ValidatePayload(raw); err != nil {
			return nil, err
		}
		hooks[i] = &core.Hook{
			Kind:               kind,
			Payload:            raw,
			Status:             core.StatusPending,
			ExecutionTimestamp: runAt,
		}
		if k, ok := p.(UniqueKeyer); ok {
			if key := k.UniqueKey(); key != "" {
				hooks[i].UniqueKey = &key
			}
		}
	}

	if err := q.store.EnqueueBatch(ctx, hooks); err != nil {
		return nil, fmt.Errorf("hookpipe: failed to enqueue batch: %w", err)
	}
	ids := make([]uint64, 0, len(hooks))
	for _, h := range hooks {
		if h.ID != 0 {
			ids = append(ids, h.ID)
		}
	}
	return ids, nil
}

// Store returns the underlying hook store.
func (q *Queue) Store() core.HookStore {
	return q.store
}

// OnHookStart registers a callback run before a handler executes.
func (q *Queue) OnHookStart(fn func(context.Context, *core.Hook)) {
	q.mu.Lock()
	q.onStart = append(q.onStart, fn)
	q.mu.Unlock()
}

// OnHookProcessed registers a callback for successful deliveries.
func (q *Queue) OnHookProcessed(fn func(context.Context, *core.Hook)) {
	q.mu.Lock()
	q.onProcessed = append(q.onProcessed, fn)
	q.mu.Unlock()
}

// OnHookTerminal registers a callback for hooks that exhausted their retries.
func (q *Queue) OnHookTerminal(fn func(context.Context, *core.Hook, error)) {
	q.mu.Lock()
	q.onTerminal = append(q.onTerminal, fn)
	q.mu.Unlock()
}

// OnRetry registers a callback for failures that will be retried.
func (q *Queue) OnRetry(fn func(context.Context, *core.Hook, core.Transition, error)) {
	q.mu.Lock()
	q.onRetry = append(q.onRetry, fn)
	q.mu.Unlock()
}

// Events returns a channel for receiving worker events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers. Full subscriber buffers drop the event.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// CallStartHooks calls all registered start hooks.
func (q *Queue) CallStartHooks(ctx context.Context, h *core.Hook) {
	q.mu.RLock()
	fns := make([]func(context.Context, *core.Hook), len(q.onStart))
	copy(fns, q.onStart)
	q.mu.RUnlock()

	for _, fn := range fns {
		fn(ctx, h)
	}
}

// CallProcessedHooks calls all registered processed hooks.
func (q *Queue) CallProcessedHooks(ctx context.Context, h *core.Hook) {
	q.mu.RLock()
	fns := make([]func(context.Context, *core.Hook), len(q.onProcessed))
	copy(fns, q.onProcessed)
	q.mu.RUnlock()

	for _, fn := range fns {
		fn(ctx, h)
	}
}

// CallTerminalHooks calls all registered terminal hooks.
func (q *Queue) CallTerminalHooks(ctx context.Context, h *core.Hook, err error) {
	q.mu.RLock()
	fns := make([]func(context.Context, *core.Hook, error), len(q.onTerminal))
	copy(fns, q.onTerminal)
	q.mu.RUnlock()

	for _, fn := range fns {
		fn(ctx, h, err)
	}
}

// CallRetryHooks calls all registered retry hooks.
func (q *Queue) CallRetryHooks(ctx context.Context, h *core.Hook, tr core.Transition, err error) {
	q.mu.RLock()
	fns := make([]func(context.Context, *core.Hook, core.Transition, error), len(q.onRetry))
	copy(fns, q.onRetry)
	q.mu.RUnlock()

	for _, fn := range fns {
		fn(ctx, h, tr, err)
	}
}

// WorkerFactory is set by the root package to create workers.
// This avoids import cycles between queue and worker packages.
var WorkerFactory func(q *Queue, opts ...any) core.Starter

// NewWorker creates a new worker for this queue.
// Options should be worker.WorkerOption values.
func (q *Queue) NewWorker(opts ...any) core.Starter {
	if WorkerFactory == nil {
		panic("hookpipe: WorkerFactory not initialized - import github.com/pepolabs/hookpipe to initialize")
	}
	return WorkerFactory(q, opts...)
}
