// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 60*time.Second)
}

// ApplySchema creates the persisted schema if absent. It never drops or
// rewrites existing tables, so re-running it against a populated store is a
// no-op (create-if-absent, no destructive migration).
//
// The timestamp columns are TEXT on purpose: the date normalizer stores
// unrecognized source values verbatim, so the store must accept
// non-canonical strings alongside canonical UTC timestamps.
func (db *DB) ApplySchema(ctx context.Context) error {
	ctx, cancel := schemaContext(ctx)
	defer cancel()

	for _, query := range schemaStatements() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema statement: %s: %w", query, err)
		}
	}

	return nil
}

// schemaStatements returns the DDL in dependency order: sequences, dimension
// tables, fact table, indexes. DuckDB has no AUTOINCREMENT, so each dimension
// draws its surrogate key from a dedicated sequence; identifiers are never
// renumbered for the lifetime of the store.
func schemaStatements() []string {
	stmts := make([]string, 0, 12)

	for _, dim := range []string{"agency", "complaint_type", "descriptor", "borough"} {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE SEQUENCE IF NOT EXISTS %s_id_seq`, dim),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY DEFAULT nextval('%s_id_seq'),
				name TEXT NOT NULL UNIQUE
			)`, dim, dim),
		)
	}

	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS service_requests (
			unique_key BIGINT PRIMARY KEY,
			created_date TEXT,
			closed_date TEXT,
			resolution_description TEXT,
			incident_zip TEXT,
			latitude DOUBLE,
			longitude DOUBLE,
			agency_id INTEGER REFERENCES agency(id),
			complaint_type_id INTEGER REFERENCES complaint_type(id),
			descriptor_id INTEGER REFERENCES descriptor(id),
			borough_id INTEGER REFERENCES borough(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_service_requests_created_date ON service_requests(created_date)`,
		`CREATE INDEX IF NOT EXISTS idx_service_requests_complaint_type ON service_requests(complaint_type_id)`,
		`CREATE INDEX IF NOT EXISTS idx_service_requests_borough ON service_requests(borough_id)`,
	)

	return stmts
}
