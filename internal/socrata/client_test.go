// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

package socrata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/civitas-io/civitas/internal/config"
)

// testWindow is the fixed fetch window used across these tests.
var testWindow = Window{
	Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
}

// fastRetry keeps test backoff delays in the millisecond range while
// preserving the production shape (5 attempts, doubling, capped).
var fastRetry = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   2 * time.Millisecond,
	Multiplier:  2,
	MaxDelay:    32 * time.Millisecond,
}

func newTestClient(serverURL, appToken string) *Client {
	c := NewClient(&config.SocrataConfig{
		BaseURL:        serverURL,
		AppToken:       appToken,
		Timeout:        5 * time.Second,
		RetryAttempts:  5,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  16 * time.Second,
	})
	c.retry = fastRetry
	return c
}

const pageBody = `[
	{"unique_key": "59000001", "created_date": "2023-01-01T10:00:00.000", "agency": "NYPD",
	 "complaint_type": "Noise - Residential", "descriptor": "Loud Music/Party", "borough": "BROOKLYN",
	 "incident_zip": "11201", "latitude": "40.6943", "longitude": "-73.9903"},
	{"unique_key": "59000002", "created_date": "2023-01-01T11:30:00", "agency": "DSNY",
	 "complaint_type": "Dirty Condition", "descriptor": "Trash", "borough": "QUEENS"}
]`

func TestFetchPageSuccess(t *testing.T) {
	var gotQuery map[string]string
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"$limit":  q.Get("$limit"),
			"$offset": q.Get("$offset"),
			"$order":  q.Get("$order"),
			"$where":  q.Get("$where"),
		}
		gotToken = r.Header.Get("X-App-Token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(pageBody))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "test-token")
	records, err := client.FetchPage(context.Background(), PageQuery{Window: testWindow, Limit: 1000, Offset: 2000})
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].UniqueKey != "59000001" || records[0].Agency != "NYPD" {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[1].Latitude != "" {
		t.Errorf("absent latitude decoded to %q, want empty", records[1].Latitude)
	}

	if gotQuery["$limit"] != "1000" || gotQuery["$offset"] != "2000" {
		t.Errorf("paging params = %v", gotQuery)
	}
	if gotQuery["$order"] != "created_date" {
		t.Errorf("$order = %q, want created_date", gotQuery["$order"])
	}
	want := "created_date between '2023-01-01T00:00:00' and '2023-01-03T23:59:59'"
	if gotQuery["$where"] != want {
		t.Errorf("$where = %q, want %q", gotQuery["$where"], want)
	}
	if gotToken != "test-token" {
		t.Errorf("X-App-Token = %q, want test-token", gotToken)
	}
}

func TestFetchPageOmitsTokenHeaderWhenUnset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["X-App-Token"]; ok {
			t.Error("X-App-Token header sent without a configured credential")
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	if _, err := client.FetchPage(context.Background(), PageQuery{Window: testWindow, Limit: 10}); err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
}

func TestFetchPageRetriesTransientThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 4 {
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(pageBody))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	records, err := client.FetchPage(context.Background(), PageQuery{Window: testWindow, Limit: 10})
	if err != nil {
		t.Fatalf("FetchPage() error = %v after %d attempts", err, attempts.Load())
	}
	if got := attempts.Load(); got != 5 {
		t.Errorf("attempts = %d, want exactly 5", got)
	}
	if len(records) != 2 {
		t.Errorf("len(records) = %d, want 2", len(records))
	}
}

func TestFetchPagePropagatesFinalFailure(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "still broken", http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	start := time.Now()
	_, err := client.FetchPage(context.Background(), PageQuery{Window: testWindow, Limit: 10})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("FetchPage() = nil error, want propagated failure")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", apiErr.StatusCode)
	}
	if got := attempts.Load(); got != 5 {
		t.Errorf("attempts = %d, want exactly 5", got)
	}
	// Backoff floor: 2 + 4 + 8 + 16 = 30ms of scheduled delay
	if minimum := 30 * time.Millisecond; elapsed < minimum {
		t.Errorf("elapsed = %s, want at least %s of backoff", elapsed, minimum)
	}
}

func TestFetchPageRetriesMalformedBody(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.Write([]byte(`{"not": "an array"`)) // Truncated JSON
			return
		}
		w.Write([]byte(pageBody))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	records, err := client.FetchPage(context.Background(), PageQuery{Window: testWindow, Limit: 10})
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if len(records) != 2 {
		t.Errorf("len(records) = %d, want 2", len(records))
	}
}

func TestFetchPagePermanentErrorSkipsRetry(t *testing.T) {
	client := newTestClient("http://example.com/\n", "")
	start := time.Now()
	_, err := client.FetchPage(context.Background(), PageQuery{Window: testWindow, Limit: 10})
	if err == nil {
		t.Fatal("FetchPage() = nil error for malformed request URL")
	}
	if elapsed := time.Since(start); elapsed >= fastRetry.BaseDelay {
		t.Errorf("elapsed = %s, permanent failure should not back off", elapsed)
	}
}

func TestFetchPageHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(server.URL, "")
	if _, err := client.FetchPage(ctx, PageQuery{Window: testWindow, Limit: 10}); err == nil {
		t.Fatal("FetchPage() = nil error with cancelled context")
	}
}

func TestCount(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int64
	}{
		{"estimate present", `[{"count_1": "48213"}]`, 48213},
		{"empty response", `[]`, 0},
		{"missing field", `[{"count": "10"}]`, 0},
		{"non-numeric value", `[{"count_1": "lots"}]`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("$select"); got != "count(1)" {
					t.Errorf("$select = %q, want count(1)", got)
				}
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(server.URL, "")
			n, err := client.Count(context.Background(), testWindow)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if n != tt.want {
				t.Errorf("Count() = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestCountPropagatesFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	if _, err := client.Count(context.Background(), testWindow); err == nil {
		t.Fatal("Count() = nil error, want failure after retries")
	}
}

func TestRetryPolicySchedule(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 16 * time.Second}
	bo := policy.newBackOff(context.Background())

	wantDelays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, want := range wantDelays {
		got := bo.NextBackOff()
		if got != want {
			t.Errorf("delay[%d] = %s, want %s", i, got, want)
		}
	}
	// Schedule stops after MaxAttempts-1 retries
	if got := bo.NextBackOff(); got != backoff.Stop {
		t.Errorf("delay[4] = %s, want Stop", got)
	}
}
