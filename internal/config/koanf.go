// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/civitas/config.yaml",
	"/etc/civitas/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultSocrataURL is the NYC 311 service request dataset endpoint.
const DefaultSocrataURL = "https://data.cityofnewyork.us/resource/erm2-nwe9.json"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Socrata: SocrataConfig{
			BaseURL:        DefaultSocrataURL,
			AppToken:       "",
			Timeout:        60 * time.Second,
			RetryAttempts:  5,
			RetryBaseDelay: 1 * time.Second,
			RetryMaxDelay:  16 * time.Second,
			RateLimit:      0, // Disabled; Socrata throttles server-side
			BreakerEnabled: false,
		},
		Ingest: IngestConfig{
			StartDate: "",
			EndDate:   "",
			// 7 days keeps the store small while remaining representative
			LookbackDays:       7,
			PageSize:           5000,
			DimensionCacheSize: 4096,
		},
		Database: DatabaseConfig{
			Path:      "./civitas.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Server: ServerConfig{
			Listen:  "", // Disabled by default for one-shot runs
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config File: optional YAML config file (if one exists)
//  3. Environment Variables: override any setting
//
// Precedence: ENV > File > Defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envMappings maps flat environment variable names (the names operators have
// used since the original pipeline) to nested koanf config paths.
var envMappings = map[string]string{
	// Ingestion window and paging
	"start_date": "ingest.start_date",
	"end_date":   "ingest.end_date",
	"page_size":  "ingest.page_size",

	// Socrata API
	"socrata_app_token":      "socrata.app_token",
	"socrata_base_url":       "socrata.base_url",
	"socrata_timeout":        "socrata.timeout",
	"socrata_rate_limit":     "socrata.rate_limit",
	"socrata_retry_attempts": "socrata.retry_attempts",

	// Database
	"db_path":       "database.path",
	"db_max_memory": "database.max_memory",
	"db_threads":    "database.threads",

	// Operational listener
	"listen_addr": "server.listen",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - START_DATE -> ingest.start_date
//   - SOCRATA_APP_TOKEN -> socrata.app_token
//   - DB_PATH -> database.path
//   - CIVITAS_SOCRATA_RETRY_MAX_DELAY -> socrata.retry_max_delay
//
// Unmapped variables without the CIVITAS_ prefix are ignored so arbitrary
// process environment (PATH, HOME, ...) never leaks into the configuration.
func envTransformFunc(key string) string {
	lower := strings.ToLower(key)

	if path, ok := envMappings[lower]; ok {
		return path
	}

	// CIVITAS_<SECTION>_<FIELD...> maps to <section>.<field_with_underscores>
	if rest, ok := strings.CutPrefix(lower, "civitas_"); ok {
		section, field, found := strings.Cut(rest, "_")
		if !found {
			return ""
		}
		switch section {
		case "socrata", "ingest", "database", "server", "logging":
			return section + "." + field
		}
	}

	return ""
}
