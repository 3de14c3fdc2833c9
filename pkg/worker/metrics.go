package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// Metrics holds the Prometheus collectors updated by workers and the reaper.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Claimed       *prometheus.CounterVec
	Processed     *prometheus.CounterVec
	Failed        *prometheus.CounterVec
	Rescheduled   *prometheus.CounterVec
	Terminal      *prometheus.CounterVec
	LockLost      *prometheus.CounterVec
	StaleReleased *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
}

// NewMetrics creates the worker collectors and registers them with reg.
// A nil reg skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookpipe",
			Name:      "hooks_claimed_total",
			Help:      "Hook rows locked by claim cycles.",
		}, []string{"table"}),
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookpipe",
			Name:      "hooks_processed_total",
			Help:      "Hooks delivered successfully.",
		}, []string{"table", "kind"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookpipe",
			Name:      "hooks_failed_total",
			Help:      "Hook failures left for a retryable claim.",
		}, []string{"table", "kind"}),
		Rescheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookpipe",
			Name:      "hooks_rescheduled_total",
			Help:      "Hook failures put back to pending with a delay.",
		}, []string{"table", "kind"}),
		Terminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookpipe",
			Name:      "hooks_terminal_total",
			Help:      "Hooks that exhausted their retries.",
		}, []string{"table", "kind", "status"}),
		LockLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookpipe",
			Name:      "hooks_lock_lost_total",
			Help:      "Outcomes discarded because the row lock was taken over.",
		}, []string{"table"}),
		StaleReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookpipe",
			Name:      "hooks_stale_locks_released_total",
			Help:      "Locks cleared by the stale-lock reaper.",
		}, []string{"table"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hookpipe",
			Name:      "hook_dispatch_duration_seconds",
			Help:      "Time spent in hook handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table", "kind"}),
	}

	if reg != nil {
		reg.MustRegister(m.Claimed, m.Processed, m.Failed, m.Rescheduled,
			m.Terminal, m.LockLost, m.StaleReleased, m.Duration)
	}
	return m
}

func (m *Metrics) claimed(table string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Claimed.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) processed(table string, kind core.HookKind) {
	if m == nil {
		return
	}
	m.Processed.WithLabelValues(table, string(kind)).Inc()
}

func (m *Metrics) failed(table string, kind core.HookKind) {
	if m == nil {
		return
	}
	m.Failed.WithLabelValues(table, string(kind)).Inc()
}

func (m *Metrics) rescheduled(table string, kind core.HookKind) {
	if m == nil {
		return
	}
	m.Rescheduled.WithLabelValues(table, string(kind)).Inc()
}

func (m *Metrics) terminal(table string, kind core.HookKind, status core.HookStatus) {
	if m == nil {
		return
	}
	m.Terminal.WithLabelValues(table, string(kind), string(status)).Inc()
}

func (m *Metrics) lockLost(table string) {
	if m == nil {
		return
	}
	m.LockLost.WithLabelValues(table).Inc()
}

func (m *Metrics) staleReleased(table string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.StaleReleased.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) observe(table string, kind core.HookKind, d time.Duration) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(table, string(kind)).Observe(d.Seconds())
}
