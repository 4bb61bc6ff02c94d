// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

// Package config defines the immutable configuration structure for Civitas
// and loads it from layered sources (defaults, optional YAML file,
// environment variables) via Koanf v2.
//
// The loaded Config is passed explicitly into the components that need it;
// nothing reads the process environment after startup.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Civitas ingestion service.
// Loaded once at startup and treated as immutable afterwards.
type Config struct {
	Socrata  SocrataConfig  `koanf:"socrata"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// SocrataConfig holds connection settings for the upstream Socrata API.
type SocrataConfig struct {
	// BaseURL is the fixed resource endpoint returning a JSON array of records.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// AppToken is the optional application token sent as X-App-Token.
	// Unauthenticated access works but is throttled more aggressively.
	AppToken string `koanf:"app_token"`

	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// Retry policy for transient fetch failures (non-2xx status, body
	// parse errors). Attempts counts the first try, so 5 attempts means
	// up to 4 retries with delays 1s, 2s, 4s, 8s capped at RetryMaxDelay.
	RetryAttempts  int           `koanf:"retry_attempts" validate:"gte=1"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"gt=0"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay" validate:"gt=0"`

	// RateLimit is the maximum request rate in requests per second.
	// Zero disables client-side rate limiting.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`

	// BreakerEnabled wraps the client in a circuit breaker. Useful for
	// long-running periodic deployments; off by default for one-shot runs.
	BreakerEnabled bool `koanf:"breaker_enabled"`
}

// IngestConfig holds the ingestion window and paging settings.
type IngestConfig struct {
	// StartDate and EndDate bound the created_date window (ISO calendar
	// dates, e.g. 2023-01-01). When empty the window defaults to the last
	// LookbackDays days ending now (UTC).
	StartDate string `koanf:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `koanf:"end_date" validate:"omitempty,datetime=2006-01-02"`

	// LookbackDays is the default window length when StartDate is unset.
	LookbackDays int `koanf:"lookback_days" validate:"gt=0"`

	// PageSize is the $limit used for each page fetch.
	PageSize int `koanf:"page_size" validate:"gt=0"`

	// DimensionCacheSize bounds the per-run label -> id resolver cache.
	DimensionCacheSize int `koanf:"dimension_cache_size" validate:"gt=0"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the database file location. ":memory:" opens an in-memory
	// store (used by tests).
	Path string `koanf:"path" validate:"required"`

	// MaxMemory caps DuckDB memory usage (e.g. "1GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads sets DuckDB worker threads. 0 = runtime.NumCPU().
	Threads int `koanf:"threads" validate:"gte=0"`
}

// ServerConfig holds the optional operational HTTP listener settings.
type ServerConfig struct {
	// Listen is the bind address for /healthz, /readyz and /metrics.
	// Empty disables the listener.
	Listen string `koanf:"listen"`

	// Timeout is the read/write timeout for the operational listener.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Ingest.StartDate != "" && c.Ingest.EndDate != "" {
		start, _ := time.Parse("2006-01-02", c.Ingest.StartDate)
		end, _ := time.Parse("2006-01-02", c.Ingest.EndDate)
		if start.After(end) {
			return fmt.Errorf("invalid configuration: start_date %s is after end_date %s",
				c.Ingest.StartDate, c.Ingest.EndDate)
		}
	}

	if c.Socrata.RetryBaseDelay > c.Socrata.RetryMaxDelay {
		return fmt.Errorf("invalid configuration: retry_base_delay %s exceeds retry_max_delay %s",
			c.Socrata.RetryBaseDelay, c.Socrata.RetryMaxDelay)
	}

	return nil
}
