// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

// Package models defines the wire-level Socrata record and the normalized
// types stored in the database.
package models

// Record is one raw service request as returned by the Socrata API.
// Socrata serializes every field as a string; absent fields decode to "".
type Record struct {
	UniqueKey             string `json:"unique_key"`
	CreatedDate           string `json:"created_date"`
	ClosedDate            string `json:"closed_date"`
	ResolutionDescription string `json:"resolution_description"`
	IncidentZip           string `json:"incident_zip"`
	Latitude              string `json:"latitude"`
	Longitude             string `json:"longitude"`
	Agency                string `json:"agency"`
	ComplaintType         string `json:"complaint_type"`
	Descriptor            string `json:"descriptor"`
	Borough               string `json:"borough"`
}

// ServiceRequest is the normalized fact row keyed by the externally assigned
// unique_key. All fields other than the key are nullable; nil pointers map
// to SQL NULL. Timestamps are stored as canonical UTC strings, or verbatim
// when the source value did not match a recognized format.
type ServiceRequest struct {
	UniqueKey             int64
	CreatedDate           *string
	ClosedDate            *string
	ResolutionDescription *string
	IncidentZip           *string
	Latitude              *float64
	Longitude             *float64
	AgencyID              *int64
	ComplaintTypeID       *int64
	DescriptorID          *int64
	BoroughID             *int64
}

// Dimension table names. These are the only values accepted by the store's
// dimension operations; anything else is rejected before touching SQL.
const (
	DimAgency        = "agency"
	DimComplaintType = "complaint_type"
	DimDescriptor    = "descriptor"
	DimBorough       = "borough"
)

// DimensionTables lists all dimension tables in schema order.
var DimensionTables = []string{DimAgency, DimComplaintType, DimDescriptor, DimBorough}
