// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

package ingest

import (
	"context"

	"github.com/jellydator/ttlcache/v3"

	"github.com/civitas-io/civitas/internal/database"
	"github.com/civitas-io/civitas/internal/logging"
	"github.com/civitas-io/civitas/internal/metrics"
)

// cacheKeySep joins table and label in the cache key. NUL cannot appear in
// either part.
const cacheKeySep = "\x00"

// Resolver maps free-text dimension labels (agency, complaint type,
// descriptor, borough) to their stable surrogate identifiers.
//
// The cache is a run-scoped read-through accelerator only: the store remains
// the source of truth, and a fresh Resolver is constructed per run, so
// nothing persists across runs. Capacity-bounded eviction keeps memory flat
// even against hostile label cardinality.
//
// Not safe for concurrent use; the single orchestrator goroutine owns it.
type Resolver struct {
	cache *ttlcache.Cache[string, int64]
}

// NewResolver creates a resolver with a bounded label cache.
func NewResolver(capacity int) *Resolver {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Resolver{
		cache: ttlcache.New[string, int64](
			ttlcache.WithCapacity[string, int64](uint64(capacity)),
			ttlcache.WithDisableTouchOnHit[string, int64](),
		),
	}
}

// Resolve returns the identifier for a label, creating the dimension row on
// first sighting.
//
//   - Empty label: nil identifier, no row created.
//   - Cache hit: cached identifier, no store round trip.
//   - Cache miss: insert-or-ignore into the dimension table, read back the
//     identifier (covers both the row this call created and one a prior run
//     created), cache it, return it.
//
// A read-back that finds no row is a data-quality anomaly, not a failure:
// the record's reference degrades to NULL and ingestion continues.
func (r *Resolver) Resolve(ctx context.Context, q database.Querier, table, label string) (*int64, error) {
	if label == "" {
		return nil, nil
	}

	key := table + cacheKeySep + label
	if item := r.cache.Get(key); item != nil {
		metrics.DimensionCacheHits.WithLabelValues(table).Inc()
		id := item.Value()
		return &id, nil
	}
	metrics.DimensionCacheMisses.WithLabelValues(table).Inc()

	id, found, err := database.EnsureDimension(ctx, q, table, label)
	if err != nil {
		return nil, err
	}
	if !found {
		metrics.FieldAnomaliesTotal.WithLabelValues("dimension").Inc()
		logging.Warn().Str("table", table).Str("label", label).Msg("Dimension read-back found no row; storing NULL reference")
		return nil, nil
	}

	r.cache.Set(key, id, ttlcache.NoTTL)
	return &id, nil
}

// Len returns the number of cached labels, for observability and tests.
func (r *Resolver) Len() int {
	return r.cache.Len()
}
