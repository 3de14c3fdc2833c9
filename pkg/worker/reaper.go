package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pepolabs/hookpipe/pkg/alert"
	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/queue"
)

// DefaultMaxHold is how long a claim may stay locked before the reaper
// counts the attempt as failed.
const DefaultMaxHold = 5 * time.Minute

// DefaultReaperSchedule is the sweep schedule used when none is given.
const DefaultReaperSchedule = "@every 1m"

// reaperBatch bounds the stale rows settled per table and round.
const reaperBatch = 100

// Reaper settles locks abandoned by crashed or stuck workers. An abandoned
// lock counts as one failed attempt under the kind's retry policy, so a
// hook that keeps killing its worker still reaches its terminal state.
type Reaper struct {
	queues   []*queue.Queue
	schedule cron.Schedule
	maxHold  time.Duration
	metrics  *Metrics
	alerts   alert.Sink
	emit     func(core.Event)
	logger   *slog.Logger
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// ReaperMaxHold sets the lock age after which a row is released.
func ReaperMaxHold(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.maxHold = d
		}
	}
}

// ReaperMetrics records released locks.
func ReaperMetrics(m *Metrics) ReaperOption {
	return func(r *Reaper) { r.metrics = m }
}

// ReaperAlerts sets the sink for hooks the reaper terminates.
func ReaperAlerts(s alert.Sink) ReaperOption {
	return func(r *Reaper) { r.alerts = s }
}

// ReaperEvents forwards StaleLocksReleased events.
func ReaperEvents(emit func(core.Event)) ReaperOption {
	return func(r *Reaper) { r.emit = emit }
}

// ReaperLogger sets the reaper logger.
func ReaperLogger(l *slog.Logger) ReaperOption {
	return func(r *Reaper) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReaper creates a reaper sweeping the tables of queues on spec, a
// standard cron expression or descriptor such as "@every 1m". An empty spec
// uses DefaultReaperSchedule.
func NewReaper(spec string, queues []*queue.Queue, opts ...ReaperOption) (*Reaper, error) {
	if spec == "" {
		spec = DefaultReaperSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("hookpipe: invalid reaper schedule %q: %w", spec, err)
	}

	r := &Reaper{
		queues:   queues,
		schedule: schedule,
		maxHold:  DefaultMaxHold,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Sweep settles every stale lock once and returns the number of rows
// settled. A failing table does not stop the others.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	var total int64
	var firstErr error
	for _, q := range r.queues {
		n, err := r.sweep(ctx, q)
		total += n
		if err != nil {
			r.logger.Error("failed to settle stale locks", "table", q.Store().Table(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return total, firstErr
}

// sweep settles the stale rows of one table through a worker that owns
// nothing but applies the same failure path as a live one.
func (r *Reaper) sweep(ctx context.Context, q *queue.Queue) (int64, error) {
	store := q.Store()
	w := NewWorker(q,
		WithWorkerID("reaper"),
		WithAlertSink(r.alerts),
		WithMetrics(r.metrics),
		WithLogger(r.logger),
	)

	var n int64
	for {
		stale, err := store.FetchStale(ctx, r.maxHold, reaperBatch)
		if err != nil {
			return n, err
		}
		for _, h := range stale {
			w.fail(ctx, *h.LockID, h, core.ErrLockAbandoned, nil)
		}
		n += int64(len(stale))
		if len(stale) < reaperBatch || ctx.Err() != nil {
			break
		}
	}
	if n == 0 {
		return 0, nil
	}

	table := store.Table()
	r.logger.Warn("settled stale hook locks", "table", table, "count", n, "max_hold", r.maxHold)
	r.metrics.staleReleased(table, n)
	if r.emit != nil {
		r.emit(&core.StaleLocksReleased{Table: table, Count: n, Timestamp: time.Now().UTC()})
	}
	return n, nil
}

// Start sweeps on the configured schedule until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			_, _ = r.Sweep(ctx)
		}
	}
}
