package fanout

import (
	"log/slog"
	"time"

	"github.com/pepolabs/hookpipe/pkg/cache"
)

// Option configures a Publisher.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	deps        Deps
	invalidator cache.Invalidator
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func defaultConfig() *config {
	return &config{
		deps:        Deps{PageSize: DefaultPageSize},
		invalidator: cache.Nop{},
		logger:      slog.Default(),
		now:         time.Now,
	}
}

// WithMembers sets the channel membership source used by channel scans.
func WithMembers(m MemberSource) Option {
	return optionFunc(func(c *config) {
		c.deps.Members = m
	})
}

// WithFollowers sets the thread follower source.
func WithFollowers(f FollowerSource) Option {
	return optionFunc(func(c *config) {
		c.deps.Followers = f
	})
}

// WithPageSize sets the channel scan page size. Non-positive values keep
// the default.
func WithPageSize(n int) Option {
	return optionFunc(func(c *config) {
		if n > 0 {
			c.deps.PageSize = n
		}
	})
}

// WithInvalidator sets the cache invalidated after each written page.
func WithInvalidator(inv cache.Invalidator) Option {
	return optionFunc(func(c *config) {
		if inv != nil {
			c.invalidator = inv
		}
	})
}

// WithMetrics records publish outcomes.
func WithMetrics(m *Metrics) Option {
	return optionFunc(func(c *config) {
		c.metrics = m
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithClock replaces time.Now for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *config) {
		if now != nil {
			c.now = now
		}
	})
}
