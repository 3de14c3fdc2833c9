package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pepolabs/hookpipe/pkg/core"
)

type alertLog interface {
	Recent(ctx context.Context, limit int) ([]core.ErrorLog, error)
}

type server struct {
	ping   func(ctx context.Context) error
	stores []core.HookStore
	alerts alertLog
	logger *slog.Logger
}

func (s *server) routes(reg prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/hooks/stats", s.stats)
	r.Get("/alerts", s.recentAlerts)
	return r
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]map[core.HookStatus]int64, len(s.stores))
	for _, st := range s.stores {
		counts, err := st.CountByStatus(r.Context())
		if err != nil {
			s.logger.Error("count hooks", "table", st.Table(), "error", err)
			http.Error(w, "count failed", http.StatusInternalServerError)
			return
		}
		out[st.Table()] = counts
	}
	writeJSON(w, out)
}

func (s *server) recentAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}
	logs, err := s.alerts.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("load alerts", "error", err)
		http.Error(w, "load failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, logs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
