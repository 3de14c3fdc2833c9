// Package config loads process configuration for the hookpipe binaries from
// the environment, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Defaults.
const (
	DefaultDBDriver        = "sqlite"
	DefaultDBDSN           = "hookpipe.db"
	DefaultHTTPAddr        = ":9090"
	DefaultPollInterval    = time.Second
	DefaultBatchSize       = 10
	DefaultConcurrency     = 4
	DefaultReaperSchedule  = "@every 1m"
	DefaultMaxHold         = 5 * time.Minute
	DefaultPushRateLimit   = 50
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultAMQPExchange    = "hookpipe.events"
	DefaultAMQPQueue       = "hookpipe.notifier"
	DefaultMembersTTL      = 10 * time.Minute
	DefaultFanoutPageSize  = 25
)

// Config is the merged process configuration.
type Config struct {
	WorkerID string
	HTTPAddr string
	LogLevel slog.Level

	DBDriver string
	DBDSN    string

	RedisURL     string
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	PollInterval   time.Duration
	BatchSize      int
	Concurrency    int
	ReaperSchedule string
	MaxHold        time.Duration

	FirebaseCredentialsFile string
	PushRateLimit           int

	EmailAPIBaseURL string
	EmailAPIKey     string
	WebhookURL      string
	DeliveryTimeout time.Duration

	MembersCacheTTL time.Duration
	FanoutPageSize  int
}

// Load reads the given .env files (".env" when none are named) into the
// process environment and parses it. A missing default .env is ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", strings.Join(files, ", "), err)
	}
	return Parse(os.Getenv)
}

// Parse builds a Config from getenv. Every malformed value is reported.
func Parse(getenv func(string) string) (Config, error) {
	p := &parser{getenv: getenv}
	cfg := Config{
		WorkerID: p.str("WORKER_ID", fmt.Sprintf("%s-%d", uuid.NewString(), os.Getpid())),
		HTTPAddr: p.str("HTTP_ADDR", DefaultHTTPAddr),
		LogLevel: p.level("LOG_LEVEL", slog.LevelInfo),

		DBDriver: p.str("DB_DRIVER", DefaultDBDriver),
		DBDSN:    p.str("DB_DSN", DefaultDBDSN),

		RedisURL:     p.str("REDIS_URL", ""),
		AMQPURL:      p.str("AMQP_URL", ""),
		AMQPExchange: p.str("AMQP_EXCHANGE", DefaultAMQPExchange),
		AMQPQueue:    p.str("AMQP_QUEUE", DefaultAMQPQueue),

		PollInterval:   p.duration("POLL_INTERVAL", DefaultPollInterval),
		BatchSize:      p.positive("BATCH_SIZE", DefaultBatchSize),
		Concurrency:    p.positive("CONCURRENCY", DefaultConcurrency),
		ReaperSchedule: p.str("REAPER_SCHEDULE", DefaultReaperSchedule),
		MaxHold:        p.duration("MAX_HOLD", DefaultMaxHold),

		FirebaseCredentialsFile: p.str("FIREBASE_CREDENTIALS_FILE", ""),
		PushRateLimit:           p.positive("PUSH_RATE_LIMIT", DefaultPushRateLimit),

		EmailAPIBaseURL: p.str("EMAIL_API_BASE_URL", ""),
		EmailAPIKey:     p.str("EMAIL_API_KEY", ""),
		WebhookURL:      p.str("WEBHOOK_URL", ""),
		DeliveryTimeout: p.duration("DELIVERY_TIMEOUT", DefaultDeliveryTimeout),

		MembersCacheTTL: p.duration("MEMBERS_CACHE_TTL", DefaultMembersTTL),
		FanoutPageSize:  p.positive("FANOUT_PAGE_SIZE", DefaultFanoutPageSize),
	}

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		p.fail("DB_DRIVER", fmt.Errorf("unsupported driver %q", cfg.DBDriver))
	}
	if _, err := cron.ParseStandard(cfg.ReaperSchedule); err != nil {
		p.fail("REAPER_SCHEDULE", err)
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Logger returns a JSON logger at the configured level.
func (c Config) Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: c.LogLevel}))
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) positive(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	if n <= 0 {
		p.fail(key, fmt.Errorf("must be positive, got %d", n))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	if d <= 0 {
		p.fail(key, fmt.Errorf("must be positive, got %s", d))
		return def
	}
	return d
}

func (p *parser) level(key string, def slog.Level) slog.Level {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, err)
		return def
	}
	return l
}
