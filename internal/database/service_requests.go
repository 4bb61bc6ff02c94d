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

	"github.com/civitas-io/civitas/internal/models"
)

// upsertServiceRequestSQL overwrites every mutable column on conflict, so
// re-ingesting a key always leaves exactly one row reflecting the latest
// upstream values.
const upsertServiceRequestSQL = `INSERT INTO service_requests (
		unique_key, created_date, closed_date, resolution_description, incident_zip,
		latitude, longitude, agency_id, complaint_type_id, descriptor_id, borough_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (unique_key) DO UPDATE SET
		created_date = EXCLUDED.created_date,
		closed_date = EXCLUDED.closed_date,
		resolution_description = EXCLUDED.resolution_description,
		incident_zip = EXCLUDED.incident_zip,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		agency_id = EXCLUDED.agency_id,
		complaint_type_id = EXCLUDED.complaint_type_id,
		descriptor_id = EXCLUDED.descriptor_id,
		borough_id = EXCLUDED.borough_id`

// UpsertServiceRequest inserts or updates one fact row keyed on unique_key.
func UpsertServiceRequest(ctx context.Context, q Querier, sr *models.ServiceRequest) error {
	_, err := q.ExecContext(ctx, upsertServiceRequestSQL,
		sr.UniqueKey, sr.CreatedDate, sr.ClosedDate, sr.ResolutionDescription, sr.IncidentZip,
		sr.Latitude, sr.Longitude, sr.AgencyID, sr.ComplaintTypeID, sr.DescriptorID, sr.BoroughID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert service request %d: %w", sr.UniqueKey, err)
	}
	return nil
}

// GetServiceRequest fetches one fact row by its natural key.
func (db *DB) GetServiceRequest(ctx context.Context, uniqueKey int64) (*models.ServiceRequest, error) {
	const query = `SELECT
			unique_key, created_date, closed_date, resolution_description, incident_zip,
			latitude, longitude, agency_id, complaint_type_id, descriptor_id, borough_id
		FROM service_requests WHERE unique_key = ?`

	sr := &models.ServiceRequest{}
	err := db.conn.QueryRowContext(ctx, query, uniqueKey).Scan(
		&sr.UniqueKey, &sr.CreatedDate, &sr.ClosedDate, &sr.ResolutionDescription, &sr.IncidentZip,
		&sr.Latitude, &sr.Longitude, &sr.AgencyID, &sr.ComplaintTypeID, &sr.DescriptorID, &sr.BoroughID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service request %d: %w", uniqueKey, err)
	}
	return sr, nil
}

// CountServiceRequests returns the total number of fact rows.
func (db *DB) CountServiceRequests(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count service requests: %w", err)
	}
	return n, nil
}
