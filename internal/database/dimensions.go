// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/civitas-io/civitas/internal/metrics"
	"github.com/civitas-io/civitas/internal/models"
)

// isDimensionTable reports whether table is one of the four known dimension
// tables. Table names are interpolated into SQL, so anything outside this
// allowlist is rejected before touching the store.
func isDimensionTable(table string) bool {
	return slices.Contains(models.DimensionTables, table)
}

// EnsureDimension inserts the label into the dimension table if absent
// (insert-or-ignore keyed on the unique name column) and returns its
// surrogate identifier. The read-back covers both the case where this call
// created the row and the case where a prior run already had.
//
// Returns found=false without error when the read-back finds no row; under
// correct unique-constraint enforcement this should not happen, and callers
// treat it as a data-quality anomaly rather than a failure.
func EnsureDimension(ctx context.Context, q Querier, table, name string) (id int64, found bool, err error) {
	if !isDimensionTable(table) {
		return 0, false, fmt.Errorf("unknown dimension table %q", table)
	}

	// RETURNING yields a row only when the insert actually happened, which
	// distinguishes a brand-new label from an already-known one.
	insert := fmt.Sprintf(`INSERT INTO %s (name) VALUES (?) ON CONFLICT (name) DO NOTHING RETURNING id`, table)
	err = q.QueryRowContext(ctx, insert, name).Scan(&id)
	switch {
	case err == nil:
		metrics.DimensionRowsCreated.WithLabelValues(table).Inc()
		return id, true, nil
	case errors.Is(err, sql.ErrNoRows):
		// Label already present; fall through to the read-back
	default:
		return 0, false, fmt.Errorf("failed to insert %s label: %w", table, err)
	}

	sel := fmt.Sprintf(`SELECT id FROM %s WHERE name = ?`, table)
	err = q.QueryRowContext(ctx, sel, name).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("failed to look up %s label: %w", table, err)
	}
}

// LookupDimension returns the identifier for a label without creating it.
func LookupDimension(ctx context.Context, q Querier, table, name string) (id int64, found bool, err error) {
	if !isDimensionTable(table) {
		return 0, false, fmt.Errorf("unknown dimension table %q", table)
	}

	sel := fmt.Sprintf(`SELECT id FROM %s WHERE name = ?`, table)
	err = q.QueryRowContext(ctx, sel, name).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("failed to look up %s label: %w", table, err)
	}
}

// CountDimensionRows returns the number of rows in a dimension table.
func (db *DB) CountDimensionRows(ctx context.Context, table string) (int64, error) {
	if !isDimensionTable(table) {
		return 0, fmt.Errorf("unknown dimension table %q", table)
	}

	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)
	if err := db.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s rows: %w", table, err)
	}
	return n, nil
}
