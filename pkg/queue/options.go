package queue

import (
	"time"

	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/security"
)

// Options holds configuration for handler registration and enqueueing.
type Options struct {
	Policy    core.RetryPolicy
	Timeout   time.Duration
	Delay     time.Duration
	RunAt     *time.Time
	UniqueKey string
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{Policy: core.DefaultRetryPolicy()}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Retries sets the retry limit of a kind.
// Values are clamped to [0, MaxRetries] (100).
func Retries(n int) Option {
	return optionFunc(func(o *Options) {
		o.Policy.Limit = security.ClampRetries(n)
	})
}

// RetryDelay makes failures reschedule the hook instead of leaving it for
// the next retryable claim.
func RetryDelay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Policy.Delay = d
	})
}

// TerminalStatus sets the status a hook ends in after its last retry.
func TerminalStatus(s core.HookStatus) Option {
	return optionFunc(func(o *Options) {
		o.Policy.Terminal = s
	})
}

// WithPolicy replaces the retry policy of a kind.
func WithPolicy(p core.RetryPolicy) Option {
	return optionFunc(func(o *Options) {
		p.Limit = security.ClampRetries(p.Limit)
		o.Policy = p
	})
}

// Timeout bounds a single handler execution.
func Timeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Timeout = d
	})
}

// Delay makes the hook due after a duration.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
	})
}

// At makes the hook due at a specific time.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.RunAt = &t
	})
}

// Unique skips the enqueue while a non-terminal hook with this key exists.
func Unique(key string) Option {
	return optionFunc(func(o *Options) {
		o.UniqueKey = key
	})
}
