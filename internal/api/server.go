// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

// Package api exposes the operational HTTP surface: liveness, readiness, and
// Prometheus metrics. It carries no ingestion or analytical endpoints; the
// store is consumed through SQL, not HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civitas-io/civitas/internal/config"
	"github.com/civitas-io/civitas/internal/database"
	"github.com/civitas-io/civitas/internal/logging"
)

// Server is the operational HTTP listener.
type Server struct {
	cfg  config.ServerConfig
	db   *database.DB
	http *http.Server
}

// New builds the server and its router.
func New(cfg config.ServerConfig, db *database.DB) *Server {
	s := &Server{cfg: cfg, db: db}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout,
	}
	return s
}

// Handler returns the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener is closed. ErrServerClosed is swallowed so
// a clean shutdown does not read as a failure.
func (s *Server) Start() error {
	logging.Info().Str("listen", s.cfg.Listen).Msg("Operational HTTP server starting")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleHealth reports process liveness only.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// handleReady reports readiness: the store must answer a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		logging.Warn().Err(err).Msg("Readiness probe failed")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
