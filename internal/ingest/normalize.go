// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

package ingest

import (
	"time"
)

// timestampLayouts are the two recognized Socrata timestamp shapes: with and
// without sub-second precision, never carrying an explicit offset.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999", // e.g. 2023-01-01T12:34:56.789
	"2006-01-02T15:04:05",           // e.g. 2023-01-01T12:34:56
}

// NormalizeTimestamp parses a Socrata timestamp string into the canonical
// UTC-qualified form. Sub-second precision is rendered as six microsecond
// digits when non-zero and omitted when zero:
//
//	"2023-01-01T12:34:56.789" -> "2023-01-01T12:34:56.789000+00:00"
//	"2023-01-01T12:34:56"     -> "2023-01-01T12:34:56+00:00"
//
// Empty input returns empty. Non-empty input matching neither recognized
// layout is returned unchanged: downstream consumers tolerate
// malformed-but-non-empty values surviving into storage, and rejecting them
// here would silently drop otherwise usable records.
func NormalizeTimestamp(s string) string {
	if s == "" {
		return s
	}

	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			continue
		}
		if t.Nanosecond() == 0 {
			return t.Format("2006-01-02T15:04:05") + "+00:00"
		}
		return t.Format("2006-01-02T15:04:05.000000") + "+00:00"
	}

	// Fallback: store the source value verbatim
	return s
}

// normalizeOptional applies NormalizeTimestamp to a nullable field, mapping
// absent values to nil.
func normalizeOptional(s string) *string {
	if s == "" {
		return nil
	}
	normalized := NormalizeTimestamp(s)
	return &normalized
}

// optionalString maps empty strings to nil without normalization.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
