// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

// Command civitas runs one ingestion pass of the NYC 311 service request
// dataset into a local DuckDB store.
//
// Configuration is layered (defaults, optional YAML file, environment
// variables); see internal/config. With no configuration at all the run
// covers the last seven days and writes ./civitas.duckdb. When
// server.listen is set, an operational HTTP listener (health, readiness,
// Prometheus metrics) serves for the duration of the run, which suits
// cron-style periodic deployments behind a scraper.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civitas-io/civitas/internal/api"
	"github.com/civitas-io/civitas/internal/config"
	"github.com/civitas-io/civitas/internal/database"
	"github.com/civitas-io/civitas/internal/ingest"
	"github.com/civitas-io/civitas/internal/logging"
	"github.com/civitas-io/civitas/internal/socrata"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Civitas exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	var client socrata.Fetcher = socrata.NewClient(&cfg.Socrata)
	if cfg.Socrata.BreakerEnabled {
		client = socrata.NewCircuitBreakerClient(client.(*socrata.Client))
	}

	var srv *api.Server
	if cfg.Server.Listen != "" {
		srv = api.New(cfg.Server, db)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error().Err(err).Msg("Operational HTTP server failed")
			}
		}()
	}

	report, runErr := ingest.New(cfg.Ingest, db, client).Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Operational HTTP server shutdown failed")
		}
	}

	if runErr != nil {
		return runErr
	}

	logging.Info().
		Str("run_id", report.RunID).
		Int64("upserted", report.Upserted).
		Int64("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("Civitas run finished")
	return nil
}
