package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/pepolabs/hookpipe/pkg/alert"
	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/internal/handler"
	"github.com/pepolabs/hookpipe/pkg/queue"
	"github.com/pepolabs/hookpipe/pkg/security"
)

// Worker drains one hook table: it claims due rows under a fresh lock
// token, dispatches them to the queue's handlers and records the outcome.
type Worker struct {
	queue  *queue.Queue
	config WorkerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewWorker creates a new worker for the given queue.
func NewWorker(q *queue.Queue, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		WorkerID:     uuid.New().String(),
		PollInterval: time.Second,
		BatchSize:    security.MaxBatchSize,
		Concurrency:  10,
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	if config.StorageRetry == nil {
		defaultCfg := DefaultRetryConfig()
		config.StorageRetry = &defaultCfg
	}
	if config.ClaimRetry == nil {
		// Longer backoff for claims to avoid hammering the DB during outages
		claimCfg := RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			JitterFraction:    0.2,
		}
		config.ClaimRetry = &claimCfg
	}
	if config.Alerts == nil {
		config.Alerts = alert.Nop{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		queue:  q,
		config: config,
		logger: logger.With("table", q.Store().Table(), "worker_id", config.WorkerID),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the effective configuration.
func (w *Worker) Config() WorkerConfig {
	return w.config
}

// Start runs claim cycles until ctx is cancelled. A cycle that claimed a
// full batch is followed immediately by the next one; otherwise the worker
// sleeps for PollInterval.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker started",
		"batch_size", w.config.BatchSize,
		"concurrency", w.config.Concurrency,
		"poll_interval", w.config.PollInterval)

	for {
		n, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("claim cycle failed", "error", err)
		}

		if err == nil && n >= w.config.BatchSize {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return ctx.Err()
		case <-time.After(w.config.PollInterval):
		}
	}
}

// RunOnce performs a single claim cycle and waits for every claimed row to
// be dispatched. It returns the number of rows dispatched.
//
// Fresh pending rows are claimed first; failed rows under their retry limit
// fill the remainder of the batch. If the claim or fetch fails the cycle is
// abandoned and any rows already locked wait for the stale-lock reaper.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	token := w.config.WorkerID + ":" + uuid.New().String()
	store := w.queue.Store()
	req := core.ClaimRequest{
		Token:             token,
		Limit:             w.config.BatchSize,
		Now:               w.now(),
		RetryLimits:       w.queue.RetryLimits(),
		DefaultRetryLimit: core.DefaultRetryPolicy().Limit,
	}

	var fresh int64
	err := retryWithBackoff(ctx, *w.config.ClaimRetry, func() error {
		var claimErr error
		fresh, claimErr = store.ClaimBatch(ctx, req)
		return claimErr
	})
	if err != nil {
		return 0, fmt.Errorf("claim pending: %w", err)
	}

	if remaining := int64(w.config.BatchSize) - fresh; remaining > 0 {
		retryReq := req
		retryReq.Limit = int(remaining)
		var retried int64
		err := retryWithBackoff(ctx, *w.config.ClaimRetry, func() error {
			var claimErr error
			retried, claimErr = store.ClaimRetryable(ctx, retryReq)
			return claimErr
		})
		switch {
		case err != nil && fresh == 0:
			return 0, fmt.Errorf("claim retryable: %w", err)
		case err != nil:
			w.logger.Warn("retryable claim failed, processing fresh rows only", "error", err)
		default:
			fresh += retried
		}
	}

	if fresh == 0 {
		return 0, nil
	}

	var hooks []*core.Hook
	err = retryWithBackoff(ctx, *w.config.ClaimRetry, func() error {
		var fetchErr error
		hooks, fetchErr = store.FetchClaimed(ctx, token)
		return fetchErr
	})
	if err != nil {
		return 0, fmt.Errorf("fetch claimed: %w", err)
	}

	w.config.Metrics.claimed(store.Table(), len(hooks))
	w.logger.Debug("claimed hooks", "count", len(hooks), "token", token)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Concurrency)
	for _, h := range hooks {
		h := h
		g.Go(func() error {
			w.dispatch(gctx, token, h)
			return nil
		})
	}
	_ = g.Wait()

	return len(hooks), nil
}

func (w *Worker) dispatch(ctx context.Context, token string, h *core.Hook) {
	start := time.Now()
	table := w.queue.Store().Table()
	// Marks outlive shutdown so a finished delivery is never re-sent.
	markCtx := context.WithoutCancel(ctx)

	hd, ok := w.queue.GetHandler(h.Kind)
	if !ok {
		w.logger.Error("no handler for hook", "hook_id", h.ID, "kind", h.Kind)
		w.fail(markCtx, token, h, core.NoRetry(fmt.Errorf("%w: %q", core.ErrNoHandler, h.Kind)), nil)
		return
	}

	w.queue.CallStartHooks(ctx, h)

	resp, err := w.execute(ctx, hd, h)
	w.config.Metrics.observe(table, h.Kind, time.Since(start))

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			w.logger.Warn("delivery interrupted by shutdown, lock left for reaper", "hook_id", h.ID)
			return
		}
		w.fail(markCtx, token, h, err, resp)
		return
	}

	markErr := retryWithBackoff(markCtx, *w.config.StorageRetry, func() error {
		return w.queue.Store().MarkProcessed(markCtx, h.ID, token, resp)
	})
	if markErr != nil {
		w.markFailed(h, token, markErr)
		return
	}

	h.Status = core.StatusProcessed
	h.SuccessResponse = datatypes.JSON(resp)
	w.config.Metrics.processed(table, h.Kind)
	w.queue.CallProcessedHooks(ctx, h)
	w.queue.Emit(&core.HookProcessed{Table: table, Hook: h, Duration: time.Since(start), Timestamp: w.now()})
}

func (w *Worker) execute(ctx context.Context, hd *handler.Handler, h *core.Hook) (resp json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hd.Execute(ctx, h.Payload)
}

// fail applies the kind's retry policy to err and writes the resulting
// transition under token.
func (w *Worker) fail(ctx context.Context, token string, h *core.Hook, err error, resp json.RawMessage) {
	table := w.queue.Store().Table()
	policy := w.queue.Policy(h.Kind)
	tr := policy.OnFailure(h.FailedCount, w.now(), err)
	blob := security.FailureResponse(err, resp)
	store := w.queue.Store()

	markErr := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		switch {
		case tr.Terminal && tr.Status == core.StatusIgnored:
			return store.MarkIgnored(ctx, h.ID, token, tr.FailedCount, blob)
		case tr.RunAt != nil:
			return store.Reschedule(ctx, h.ID, token, tr.FailedCount, *tr.RunAt, blob)
		default:
			return store.MarkFailed(ctx, h.ID, token, tr.FailedCount, blob)
		}
	})
	if markErr != nil {
		w.markFailed(h, token, markErr)
		return
	}

	h.Status = tr.Status
	h.FailedCount = tr.FailedCount
	h.FailedResponse = datatypes.JSON(blob)

	if tr.Terminal {
		w.logger.Warn("hook terminated",
			"hook_id", h.ID, "kind", h.Kind, "status", tr.Status,
			"failed_count", tr.FailedCount, "error", err)
		w.config.Metrics.terminal(table, h.Kind, tr.Status)

		a := alert.Alert{
			Kind:       "hook_terminal",
			Severity:   alert.SeverityHigh,
			Identifier: table + ":" + strconv.FormatUint(h.ID, 10),
			Data: map[string]any{
				"kind":         string(h.Kind),
				"status":       string(tr.Status),
				"failed_count": tr.FailedCount,
				"error":        security.SanitizeErrorMessage(err.Error()),
			},
		}
		if alertErr := w.config.Alerts.Alert(ctx, a); alertErr != nil {
			w.logger.Error("failed to raise alert", "hook_id", h.ID, "error", alertErr)
		}

		w.queue.CallTerminalHooks(ctx, h, err)
		w.queue.Emit(&core.HookTerminated{
			Table: table, Hook: h, Status: tr.Status,
			FailedCount: tr.FailedCount, Error: err, Timestamp: w.now(),
		})
		return
	}

	w.logger.Info("hook failed, will retry",
		"hook_id", h.ID, "kind", h.Kind, "failed_count", tr.FailedCount, "error", err)
	if tr.RunAt != nil {
		w.config.Metrics.rescheduled(table, h.Kind)
	} else {
		w.config.Metrics.failed(table, h.Kind)
	}
	w.queue.CallRetryHooks(ctx, h, tr, err)
	w.queue.Emit(&core.HookFailed{
		Table: table, Hook: h, FailedCount: tr.FailedCount,
		Error: err, NextRunAt: tr.RunAt, Timestamp: w.now(),
	})
}

// markFailed handles an error from a mark operation. A lost lock means the
// reaper or another worker took the row over; the outcome is discarded.
func (w *Worker) markFailed(h *core.Hook, token string, err error) {
	table := w.queue.Store().Table()
	if errors.Is(err, core.ErrLockLost) {
		w.logger.Warn("lock lost before mark, outcome discarded", "hook_id", h.ID, "token", token)
		w.config.Metrics.lockLost(table)
		w.queue.Emit(&core.HookLockLost{Table: table, HookID: h.ID, Token: token, Timestamp: w.now()})
		return
	}
	w.logger.Error("failed to record hook outcome after retries", "hook_id", h.ID, "error", err)
}
