// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

// Package ingest drives the ingestion run: date-window resolution, paginated
// fetch through the Socrata client, timestamp normalization, dimension
// resolution, and page-atomic idempotent upserts into the store.
//
// One run is one sequential page-fetch/commit loop. Pages commit strictly in
// ascending created_date offset order; a fetch failure after retries aborts
// the run while already-committed pages stay durable.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/civitas-io/civitas/internal/config"
	"github.com/civitas-io/civitas/internal/database"
	"github.com/civitas-io/civitas/internal/logging"
	"github.com/civitas-io/civitas/internal/metrics"
	"github.com/civitas-io/civitas/internal/models"
	"github.com/civitas-io/civitas/internal/socrata"
)

// Orchestrator owns one ingestion run at a time. It is the store's only
// writer; no internal locking is needed.
type Orchestrator struct {
	cfg      config.IngestConfig
	store    *database.DB
	client   socrata.Fetcher
	resolver *Resolver

	// now is replaceable for tests.
	now func() time.Time
}

// Report summarizes a completed (or aborted) ingestion run.
type Report struct {
	RunID     string
	Window    socrata.Window
	Estimated int64 // 0 when the estimate call failed (unknown total)
	Fetched   int64 // Records returned by the API, including skipped ones
	Upserted  int64
	Skipped   int64 // Records without a usable natural key
	Duration  time.Duration
}

// New creates an orchestrator for the given store and API client.
func New(cfg config.IngestConfig, store *database.DB, client socrata.Fetcher) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		store:  store,
		client: client,
		now:    time.Now,
	}
}

// Run executes a full ingestion pass. The returned Report is valid even on
// error: it reflects the pages committed before the run aborted.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	start := o.now()
	report := &Report{RunID: uuid.NewString()}

	// The dimension cache is run-scoped: each run starts cold so stale
	// identifiers can never leak across stores or long deployments.
	o.resolver = NewResolver(o.cfg.DimensionCacheSize)
	log := logging.With().Str("run_id", report.RunID).Logger()

	window, err := o.resolveWindow()
	if err != nil {
		return report, o.fail(report, start, err)
	}
	report.Window = window

	log.Info().
		Str("start", window.Start.Format("2006-01-02")).
		Str("end", window.End.Format("2006-01-02")).
		Int("page_size", o.cfg.PageSize).
		Msg("Ingestion run starting")

	// Create-if-absent; re-applying against a populated store is a no-op
	if err := o.store.ApplySchema(ctx); err != nil {
		return report, o.fail(report, start, err)
	}

	report.Estimated = o.estimateTotal(ctx, window, log)

	if err := o.pageLoop(ctx, window, report, log); err != nil {
		return report, o.fail(report, start, err)
	}

	report.Duration = o.now().Sub(start)
	metrics.RunsTotal.WithLabelValues("success").Inc()
	metrics.RunDuration.Observe(report.Duration.Seconds())

	log.Info().
		Int64("fetched", report.Fetched).
		Int64("upserted", report.Upserted).
		Int64("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("Ingestion run completed")

	return report, nil
}

// resolveWindow determines the effective date window: explicit bounds when
// configured, otherwise the last LookbackDays days ending now (UTC). The
// short default bounds storage footprint while remaining representative.
func (o *Orchestrator) resolveWindow() (socrata.Window, error) {
	end := o.now().UTC()
	if o.cfg.EndDate != "" {
		parsed, err := time.Parse("2006-01-02", o.cfg.EndDate)
		if err != nil {
			return socrata.Window{}, fmt.Errorf("invalid end date %q: %w", o.cfg.EndDate, err)
		}
		end = parsed
	}

	start := end.AddDate(0, 0, -o.cfg.LookbackDays)
	if o.cfg.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", o.cfg.StartDate)
		if err != nil {
			return socrata.Window{}, fmt.Errorf("invalid start date %q: %w", o.cfg.StartDate, err)
		}
		start = parsed
	}

	return socrata.Window{Start: start, End: end}, nil
}

// estimateTotal issues the best-effort count query. Any failure degrades to
// an unknown total (0); progress falls back to raw counts.
func (o *Orchestrator) estimateTotal(ctx context.Context, window socrata.Window, log zerolog.Logger) int64 {
	total, err := o.client.Count(ctx, window)
	if err != nil {
		metrics.EstimateFailuresTotal.Inc()
		log.Warn().Err(err).Msg("Count estimate failed; continuing without progress percentage")
		return 0
	}
	log.Info().Int64("estimated", total).Msg("Estimated records to fetch")
	return total
}

// pageLoop fetches and commits pages until the API returns an empty page or
// the known total is reached, whichever comes first. The estimate and the
// page queries run independently against the remote API, so the two counts
// can diverge under concurrent upstream writes; both exit conditions are
// therefore honored.
func (o *Orchestrator) pageLoop(ctx context.Context, window socrata.Window, report *Report, log zerolog.Logger) error {
	offset := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := o.client.FetchPage(ctx, socrata.PageQuery{
			Window: window,
			Limit:  o.cfg.PageSize,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("failed to fetch page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			return nil // End of data
		}

		metrics.PagesFetchedTotal.Inc()
		metrics.PageSize.Observe(float64(len(page)))

		upserted, skipped, err := o.commitPage(ctx, page)
		if err != nil {
			return fmt.Errorf("failed to commit page at offset %d: %w", offset, err)
		}

		report.Fetched += int64(len(page))
		report.Upserted += upserted
		report.Skipped += skipped
		offset += o.cfg.PageSize

		progress := log.Info().
			Int64("fetched", report.Fetched).
			Int64("upserted", report.Upserted)
		if report.Estimated > 0 {
			pct := 100 * float64(report.Fetched) / float64(report.Estimated)
			progress = progress.Int64("total", report.Estimated).Str("progress", fmt.Sprintf("%.1f%%", pct))
		}
		progress.Msg("Page committed")

		if report.Estimated > 0 && report.Fetched >= report.Estimated {
			return nil
		}
	}
}

// commitPage upserts every record of a page inside one transaction: all
// records commit together, or none do. Within the page, upserts may apply in
// any order since each targets a distinct or idempotently-mergeable key.
func (o *Orchestrator) commitPage(ctx context.Context, page []models.Record) (upserted, skipped int64, err error) {
	start := time.Now()

	err = o.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range page {
			ok, err := o.upsertRecord(ctx, tx, &page[i])
			if err != nil {
				return err
			}
			if ok {
				upserted++
			} else {
				skipped++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	metrics.PageCommitDuration.Observe(time.Since(start).Seconds())
	metrics.RecordsUpsertedTotal.Add(float64(upserted))
	return upserted, skipped, nil
}

// upsertRecord normalizes and upserts one raw record. Returns false when the
// record was skipped for lacking a usable natural key; a record without an
// identity cannot be upserted. All other field-level coercion failures
// degrade the field to NULL rather than dropping the record or the page.
func (o *Orchestrator) upsertRecord(ctx context.Context, tx *sql.Tx, rec *models.Record) (bool, error) {
	if rec.UniqueKey == "" {
		metrics.RecordsSkippedTotal.WithLabelValues("missing_key").Inc()
		return false, nil
	}
	key, err := strconv.ParseInt(strings.TrimSpace(rec.UniqueKey), 10, 64)
	if err != nil {
		metrics.RecordsSkippedTotal.WithLabelValues("invalid_key").Inc()
		logging.Debug().Str("unique_key", rec.UniqueKey).Msg("Skipping record with non-numeric natural key")
		return false, nil
	}

	sr := &models.ServiceRequest{
		UniqueKey:             key,
		CreatedDate:           normalizeOptional(rec.CreatedDate),
		ClosedDate:            normalizeOptional(rec.ClosedDate),
		ResolutionDescription: optionalString(rec.ResolutionDescription),
		IncidentZip:           optionalString(rec.IncidentZip),
		Latitude:              parseCoordinate(rec.Latitude, "latitude"),
		Longitude:             parseCoordinate(rec.Longitude, "longitude"),
	}

	if sr.AgencyID, err = o.resolver.Resolve(ctx, tx, models.DimAgency, rec.Agency); err != nil {
		return false, err
	}
	if sr.ComplaintTypeID, err = o.resolver.Resolve(ctx, tx, models.DimComplaintType, rec.ComplaintType); err != nil {
		return false, err
	}
	if sr.DescriptorID, err = o.resolver.Resolve(ctx, tx, models.DimDescriptor, rec.Descriptor); err != nil {
		return false, err
	}
	if sr.BoroughID, err = o.resolver.Resolve(ctx, tx, models.DimBorough, rec.Borough); err != nil {
		return false, err
	}

	if err := database.UpsertServiceRequest(ctx, tx, sr); err != nil {
		return false, err
	}
	return true, nil
}

// parseCoordinate coerces a latitude/longitude string, degrading non-numeric
// values to NULL. The degradation is deliberate and consistent with the
// natural-key skip rule: a bad field never aborts the record or the page.
func parseCoordinate(s, field string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		metrics.FieldAnomaliesTotal.WithLabelValues(field).Inc()
		logging.Debug().Str("field", field).Str("value", s).Msg("Non-numeric coordinate degraded to NULL")
		return nil
	}
	return &f
}

// fail finalizes a run report for an aborted run. Pages committed before the
// failure remain durable; the error is surfaced, never swallowed.
func (o *Orchestrator) fail(report *Report, start time.Time, err error) error {
	report.Duration = o.now().Sub(start)
	metrics.RunsTotal.WithLabelValues("failure").Inc()
	metrics.RunDuration.Observe(report.Duration.Seconds())
	logging.Error().Err(err).Str("run_id", report.RunID).Int64("fetched", report.Fetched).Msg("Ingestion run failed")
	return err
}
