// Command hookworker drains the hook tables: it runs one worker per table,
// the stale-lock reaper and a small admin HTTP server.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/pepolabs/hookpipe/pkg/alert"
	"github.com/pepolabs/hookpipe/pkg/config"
	"github.com/pepolabs/hookpipe/internal/app"
	"github.com/pepolabs/hookpipe/pkg/storage"
	"github.com/pepolabs/hookpipe/pkg/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("hookworker stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger().With("service", "hookworker")
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

	errorLogs := storage.NewErrorLogStore(db)
	if err := errorLogs.Migrate(ctx); err != nil {
		return err
	}
	devices := storage.NewGormDeviceTokens(db)
	if err := devices.Migrate(ctx); err != nil {
		return err
	}

	timeline := storage.NewGormTimeline(db)
	if err := timeline.Migrate(ctx); err != nil {
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		worker.NewDepthCollector(hooks.Stores()...),
	)
	metrics := worker.NewMetrics(reg)
	sink := alert.Multi{alert.LogSink{Logger: logger}, errorLogs}

	reaper, err := worker.NewReaper(cfg.ReaperSchedule, hooks.Queues(),
		worker.ReaperMaxHold(cfg.MaxHold),
		worker.ReaperMetrics(metrics),
		worker.ReaperAlerts(sink),
		worker.ReaperLogger(logger),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: (&server{
			ping:   sqlDB.PingContext,
			stores: hooks.Stores(),
			alerts: errorLogs,
			logger: logger,
		}).routes(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range hooks.Queues() {
		w := worker.NewWorker(q,
			worker.WithWorkerID(cfg.WorkerID),
			worker.PollInterval(cfg.PollInterval),
			worker.BatchSize(cfg.BatchSize),
			worker.Concurrency(cfg.Concurrency),
			worker.WithAlertSink(sink),
			worker.WithMetrics(metrics),
			worker.WithLogger(logger),
		)
		g.Go(func() error { return ignoreCanceled(w.Start(gctx)) })
	}
	g.Go(func() error { return ignoreCanceled(reaper.Start(gctx)) })
	g.Go(func() error {
		logger.Info("admin server listening", "addr", cfg.HTTPAddr)
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

	logger.Info("hookworker started", "worker_id", cfg.WorkerID, "driver", cfg.DBDriver)
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
