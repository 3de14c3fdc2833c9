package worker

import (
	"log/slog"
	"time"

	"github.com/pepolabs/hookpipe/pkg/alert"
	"github.com/pepolabs/hookpipe/pkg/security"
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	WorkerID     string
	PollInterval time.Duration
	BatchSize    int // rows claimed per cycle
	Concurrency  int // parallel dispatches within a batch

	StorageRetry *RetryConfig
	ClaimRetry   *RetryConfig

	Alerts  alert.Sink
	Metrics *Metrics
	Logger  *slog.Logger
}

// WithWorkerID sets the prefix of lock tokens written by this worker.
func WithWorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = id
	})
}

// PollInterval sets the sleep between cycles that claimed less than a full batch.
func PollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// BatchSize sets how many rows one cycle claims.
// Values are clamped to [1, MaxBatchSize].
func BatchSize(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.BatchSize = security.ClampBatchSize(n)
	})
}

// Concurrency sets how many claimed rows are dispatched in parallel.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// WithStorageRetry sets the backoff used for mark operations.
func WithStorageRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = &cfg
	})
}

// WithClaimRetry sets the backoff used for claim and fetch operations.
func WithClaimRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.ClaimRetry = &cfg
	})
}

// WithAlertSink sets where terminal failures are reported.
func WithAlertSink(s alert.Sink) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Alerts = s
	})
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *Metrics) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Metrics = m
	})
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Logger = l
	})
}
