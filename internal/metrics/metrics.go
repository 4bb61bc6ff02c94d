// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline: fetch attempts and retries, page/record throughput, dimension
// cache efficiency, and run outcomes. Metrics are exposed via the optional
// operational HTTP listener (internal/api).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch client metrics
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitas_fetch_attempts_total",
			Help: "Total Socrata fetch attempts by outcome",
		},
		[]string{"outcome"}, // success, transient_error, permanent_error
	)

	FetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "civitas_fetch_retries_total",
			Help: "Total retries performed after transient fetch failures",
		},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civitas_fetch_duration_seconds",
			Help:    "Duration of a single Socrata page fetch including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	EstimateFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "civitas_estimate_failures_total",
			Help: "Total failed count-estimate calls (non-fatal)",
		},
	)

	// Ingestion throughput metrics
	PagesFetchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "civitas_pages_fetched_total",
			Help: "Total pages fetched from the Socrata API",
		},
	)

	PageSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civitas_page_records",
			Help:    "Number of records per fetched page",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 to ~16k
		},
	)

	RecordsUpsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "civitas_records_upserted_total",
			Help: "Total service request records upserted into the store",
		},
	)

	RecordsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitas_records_skipped_total",
			Help: "Total records skipped for missing or invalid natural keys",
		},
		[]string{"reason"}, // missing_key, invalid_key
	)

	FieldAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitas_field_anomalies_total",
			Help: "Total field-level coercion failures degraded to NULL",
		},
		[]string{"field"}, // latitude, longitude, dimension
	)

	PageCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civitas_page_commit_duration_seconds",
			Help:    "Duration of a page-level upsert transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dimension resolver metrics
	DimensionCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitas_dimension_cache_hits_total",
			Help: "Dimension resolver cache hits by table",
		},
		[]string{"table"},
	)

	DimensionCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitas_dimension_cache_misses_total",
			Help: "Dimension resolver cache misses by table",
		},
		[]string{"table"},
	)

	DimensionRowsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitas_dimension_rows_created_total",
			Help: "New dimension rows created for previously unseen labels",
		},
		[]string{"table"},
	)

	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitas_ingest_runs_total",
			Help: "Total ingestion runs by final status",
		},
		[]string{"status"}, // success, failure
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civitas_ingest_run_duration_seconds",
			Help:    "Duration of a full ingestion run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		},
	)

	// Circuit breaker metrics (optional fetch wrapper)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "civitas_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitas_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitas_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)
