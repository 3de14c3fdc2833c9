// Command notifier consumes domain events and notification center commands
// from RabbitMQ and turns them into timeline records and push hooks.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pepolabs/hookpipe/pkg/bus"
	"github.com/pepolabs/hookpipe/pkg/cache"
	"github.com/pepolabs/hookpipe/pkg/config"
	"github.com/pepolabs/hookpipe/pkg/fanout"
	"github.com/pepolabs/hookpipe/internal/app"
	"github.com/pepolabs/hookpipe/pkg/notify"
	"github.com/pepolabs/hookpipe/pkg/storage"
	"github.com/pepolabs/hookpipe/pkg/template"
)

func main() {
	if err := run(); err != nil {
		slog.Error("notifier stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required")
	}
	logger := cfg.Logger().With("service", "notifier")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDB(cfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	timeline := storage.NewGormTimeline(db)
	if err := timeline.Migrate(ctx); err != nil {
		return err
	}
	members := storage.NewGormMembers(db)
	if err := members.Migrate(ctx); err != nil {
		return err
	}
	devices := storage.NewGormDeviceTokens(db)
	if err := devices.Migrate(ctx); err != nil {
		return err
	}

	deliverers, err := app.NewDeliverers(ctx, cfg, devices, logger)
	if err != nil {
		return err
	}
	hooks, err := app.NewHooks(ctx, db, deliverers, timeline, logger)
	if err != nil {
		return err
	}

	var memberSource fanout.MemberSource = members
	var inv cache.Invalidator = cache.Nop{}
	if cfg.RedisURL != "" {
		rc, err := cache.Open(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func(c *redis.Client) { _ = c.Close() }(rc)
		memberSource = cache.NewMembers(members, rc, cfg.MembersCacheTTL)
		inv = cache.NewRedis(rc)
	}

	reg := prometheus.NewRegistry()
	engine := template.New(template.Default())
	publisher := fanout.NewPublisher(timeline, hooks.Notifications, engine,
		fanout.WithMembers(memberSource),
		fanout.WithFollowers(members),
		fanout.WithPageSize(cfg.FanoutPageSize),
		fanout.WithInvalidator(inv),
		fanout.WithMetrics(fanout.NewMetrics(reg)),
		fanout.WithLogger(logger),
	)
	center := notify.NewCenter(timeline, engine, publisher,
		notify.WithInvalidator(inv), notify.WithLogger(logger))
	handler := bus.NewSwitch(bus.NewRouter(publisher, logger), notify.NewCommands(center))

	consumer, err := bus.DialAMQP(ctx, bus.AMQPConfig{
		URL:      cfg.AMQPURL,
		Exchange: cfg.AMQPExchange,
		Queue:    cfg.AMQPQueue,
		Topics:   handler.Topics(),
	}, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := sqlDB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := consumer.Consume(gctx, handler.Handle)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("notifier started", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return g.Wait()
}
