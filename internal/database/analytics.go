// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

/*
analytics.go - Read-only analytical queries over the populated store

Downstream reporting (CSV export, chart rendering) consumes the store via
plain SQL; these helpers cover the shared questions so reports and tests
agree on the exact query shapes:

  - AgencyWorkload: requests and resolution rate per agency
  - RequestsByBorough: volume per borough
  - TopComplaintTypes: most frequent complaint types
  - OpenClosedCounts: open vs closed split
  - OrphanedForeignKeyCount: referential integrity check (expected 0)

None of these mutate the store.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
)

// LabelCount pairs a dimension label with a row count.
type LabelCount struct {
	Label string
	Count int64
}

// AgencyWorkloadRow summarizes one agency's request volume and resolution rate.
type AgencyWorkloadRow struct {
	Agency            string
	TotalRequests     int64
	ClosedRequests    int64
	ResolutionRatePct float64
}

// AgencyWorkload returns per-agency request counts and resolution rates,
// busiest agencies first.
func (db *DB) AgencyWorkload(ctx context.Context, limit int) ([]AgencyWorkloadRow, error) {
	const query = `SELECT
			a.name,
			COUNT(*) AS total_requests,
			SUM(CASE WHEN sr.closed_date IS NOT NULL THEN 1 ELSE 0 END) AS closed_requests,
			ROUND(100.0 * SUM(CASE WHEN sr.closed_date IS NOT NULL THEN 1 ELSE 0 END) / COUNT(*), 2)
		FROM service_requests sr
		JOIN agency a ON a.id = sr.agency_id
		GROUP BY a.name
		ORDER BY total_requests DESC
		LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query agency workload: %w", err)
	}
	defer rows.Close()

	var out []AgencyWorkloadRow
	for rows.Next() {
		var r AgencyWorkloadRow
		if err := rows.Scan(&r.Agency, &r.TotalRequests, &r.ClosedRequests, &r.ResolutionRatePct); err != nil {
			return nil, fmt.Errorf("failed to scan agency workload row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TopComplaintTypes returns the most frequent complaint types.
func (db *DB) TopComplaintTypes(ctx context.Context, limit int) ([]LabelCount, error) {
	const query = `SELECT ct.name, COUNT(*) AS n
		FROM service_requests sr
		JOIN complaint_type ct ON ct.id = sr.complaint_type_id
		GROUP BY ct.name
		ORDER BY n DESC, ct.name
		LIMIT ?`

	return db.queryLabelCounts(ctx, query, limit)
}

// RequestsByBorough returns request volume per borough, highest first.
func (db *DB) RequestsByBorough(ctx context.Context) ([]LabelCount, error) {
	const query = `SELECT b.name, COUNT(*) AS n
		FROM service_requests sr
		JOIN borough b ON b.id = sr.borough_id
		GROUP BY b.name
		ORDER BY n DESC, b.name`

	return db.queryLabelCounts(ctx, query)
}

// OpenClosedCounts returns the number of open (no closed_date) and closed
// service requests.
func (db *DB) OpenClosedCounts(ctx context.Context) (open, closed int64, err error) {
	const query = `SELECT
			SUM(CASE WHEN closed_date IS NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN closed_date IS NOT NULL THEN 1 ELSE 0 END)
		FROM service_requests`

	var openN, closedN *int64 // SUM over zero rows yields NULL
	if err := db.conn.QueryRowContext(ctx, query).Scan(&openN, &closedN); err != nil {
		return 0, 0, fmt.Errorf("failed to query open/closed counts: %w", err)
	}
	if openN != nil {
		open = *openN
	}
	if closedN != nil {
		closed = *closedN
	}
	return open, closed, nil
}

// OrphanedForeignKeyCount returns the number of fact rows holding a non-null
// dimension reference that does not resolve to a dimension row. With foreign
// keys enforced this is always 0; the end-to-end tests assert it.
func (db *DB) OrphanedForeignKeyCount(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM service_requests sr
		LEFT JOIN agency a ON a.id = sr.agency_id
		LEFT JOIN complaint_type ct ON ct.id = sr.complaint_type_id
		LEFT JOIN descriptor d ON d.id = sr.descriptor_id
		LEFT JOIN borough b ON b.id = sr.borough_id
		WHERE (sr.agency_id IS NOT NULL AND a.id IS NULL)
		   OR (sr.complaint_type_id IS NOT NULL AND ct.id IS NULL)
		   OR (sr.descriptor_id IS NOT NULL AND d.id IS NULL)
		   OR (sr.borough_id IS NOT NULL AND b.id IS NULL)`

	var n int64
	if err := db.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to check referential integrity: %w", err)
	}
	return n, nil
}

// queryLabelCounts runs a query returning (label, count) pairs.
func (db *DB) queryLabelCounts(ctx context.Context, query string, args ...any) ([]LabelCount, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query label counts: %w", err)
	}
	defer rows.Close()

	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}
