// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Socrata.BaseURL != DefaultSocrataURL {
		t.Errorf("BaseURL = %q, want %q", cfg.Socrata.BaseURL, DefaultSocrataURL)
	}
	if cfg.Ingest.PageSize != 5000 {
		t.Errorf("PageSize = %d, want 5000", cfg.Ingest.PageSize)
	}
	if cfg.Ingest.LookbackDays != 7 {
		t.Errorf("LookbackDays = %d, want 7", cfg.Ingest.LookbackDays)
	}
	if cfg.Socrata.RetryAttempts != 5 {
		t.Errorf("RetryAttempts = %d, want 5", cfg.Socrata.RetryAttempts)
	}
	if cfg.Socrata.RetryBaseDelay != time.Second {
		t.Errorf("RetryBaseDelay = %s, want 1s", cfg.Socrata.RetryBaseDelay)
	}
	if cfg.Socrata.RetryMaxDelay != 16*time.Second {
		t.Errorf("RetryMaxDelay = %s, want 16s", cfg.Socrata.RetryMaxDelay)
	}
	if cfg.Server.Listen != "" {
		t.Errorf("Listen = %q, want disabled by default", cfg.Server.Listen)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("START_DATE", "2023-01-01")
	t.Setenv("END_DATE", "2023-01-03")
	t.Setenv("PAGE_SIZE", "1000")
	t.Setenv("SOCRATA_APP_TOKEN", "secret-token")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Ingest.StartDate != "2023-01-01" {
		t.Errorf("StartDate = %q, want 2023-01-01", cfg.Ingest.StartDate)
	}
	if cfg.Ingest.EndDate != "2023-01-03" {
		t.Errorf("EndDate = %q, want 2023-01-03", cfg.Ingest.EndDate)
	}
	if cfg.Ingest.PageSize != 1000 {
		t.Errorf("PageSize = %d, want 1000", cfg.Ingest.PageSize)
	}
	if cfg.Socrata.AppToken != "secret-token" {
		t.Errorf("AppToken = %q, want secret-token", cfg.Socrata.AppToken)
	}
	if cfg.Database.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestPrefixedEnvOverrides(t *testing.T) {
	t.Setenv("CIVITAS_SOCRATA_RETRY_MAX_DELAY", "32s")
	t.Setenv("CIVITAS_INGEST_DIMENSION_CACHE_SIZE", "128")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Socrata.RetryMaxDelay != 32*time.Second {
		t.Errorf("RetryMaxDelay = %s, want 32s", cfg.Socrata.RetryMaxDelay)
	}
	if cfg.Ingest.DimensionCacheSize != 128 {
		t.Errorf("DimensionCacheSize = %d, want 128", cfg.Ingest.DimensionCacheSize)
	}
}

func TestConfigFileLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("ingest:\n  page_size: 250\nsocrata:\n  app_token: from-file\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ingest.PageSize != 250 {
		t.Errorf("PageSize = %d, want 250 from file", cfg.Ingest.PageSize)
	}
	if cfg.Socrata.AppToken != "from-file" {
		t.Errorf("AppToken = %q, want from-file", cfg.Socrata.AppToken)
	}

	// Env still wins over the file layer
	t.Setenv("PAGE_SIZE", "99")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ingest.PageSize != 99 {
		t.Errorf("PageSize = %d, want 99 from env", cfg.Ingest.PageSize)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad start date", func(c *Config) { c.Ingest.StartDate = "01/02/2023" }},
		{"zero page size", func(c *Config) { c.Ingest.PageSize = 0 }},
		{"start after end", func(c *Config) {
			c.Ingest.StartDate = "2023-05-01"
			c.Ingest.EndDate = "2023-04-01"
		}},
		{"base delay above cap", func(c *Config) {
			c.Socrata.RetryBaseDelay = time.Minute
		}},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"zero retry attempts", func(c *Config) { c.Socrata.RetryAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestEnvTransformIgnoresUnrelatedVars(t *testing.T) {
	for _, key := range []string{"PATH", "HOME", "GOPATH", "CIVITAS_BOGUS"} {
		if got := envTransformFunc(key); got != "" {
			t.Errorf("envTransformFunc(%q) = %q, want ignored", key, got)
		}
	}
}
