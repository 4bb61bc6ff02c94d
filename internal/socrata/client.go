// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

/*
client.go - Socrata Open Data API client

This file provides the HTTP client for the NYC 311 service request dataset.

Client Features:
  - Single fixed resource endpoint, SoQL query parameters ($limit, $offset,
    $order, $where, $select)
  - Optional X-App-Token authentication (unauthenticated access is throttled
    server-side)
  - Bounded exponential-backoff retry on transient failures via an explicit
    RetryPolicy (default: 5 attempts, 1s base, doubling, 16s cap)
  - Optional client-side rate limiting (golang.org/x/time/rate)
  - Context support for cancellation and timeouts

Failure taxonomy:
  - Transient (retried): non-success HTTP status, response body read or JSON
    parse failures
  - Permanent (no retry): malformed request construction, context
    cancellation

No caching: every call is a fresh network round trip.

Related Files:
  - circuit_breaker.go: optional circuit breaker wrapper for long-running
    periodic deployments
*/

//nolint:staticcheck // File documentation, not package doc
package socrata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/civitas-io/civitas/internal/config"
	"github.com/civitas-io/civitas/internal/logging"
	"github.com/civitas-io/civitas/internal/metrics"
	"github.com/civitas-io/civitas/internal/models"
)

// Window bounds a fetch on created_date, inclusive of both calendar dates.
type Window struct {
	Start time.Time
	End   time.Time
}

// whereClause renders the SoQL range filter for the window.
func (w Window) whereClause() string {
	return fmt.Sprintf("created_date between '%sT00:00:00' and '%sT23:59:59'",
		w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

// PageQuery describes one limit/offset page of a windowed fetch.
type PageQuery struct {
	Window Window
	Limit  int
	Offset int
}

// RetryPolicy is the explicit retry configuration applied around each fetch.
// Attempts counts the first try; delays grow from BaseDelay by Multiplier up
// to MaxDelay. Only transient failures are retried, and the final attempt's
// error propagates to the caller.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the upstream API's documented tolerance:
// 5 attempts, exponential 1s/2s/4s/8s capped at 16s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		Multiplier:  2,
		MaxDelay:    16 * time.Second,
	}
}

// newBackOff builds the backoff schedule for one fetch call.
func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = p.Multiplier
	bo.MaxInterval = p.MaxDelay
	bo.RandomizationFactor = 0 // Deterministic schedule
	bo.MaxElapsedTime = 0      // Bounded by attempt count, not wall clock
	bo.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)
}

// Client fetches service request pages from the Socrata API.
//
// Thread safety: safe for concurrent use; each request is independent.
type Client struct {
	baseURL  string
	appToken string
	http     *http.Client
	limiter  *rate.Limiter
	retry    RetryPolicy
}

// NewClient creates a Socrata client from configuration.
func NewClient(cfg *config.SocrataConfig) *Client {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		appToken: cfg.AppToken,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  limiter,
		retry: RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			Multiplier:  2,
			MaxDelay:    cfg.RetryMaxDelay,
		},
	}
}

// FetchPage retrieves one page of raw records ordered by created_date.
func (c *Client) FetchPage(ctx context.Context, page PageQuery) ([]models.Record, error) {
	params := url.Values{}
	params.Set("$limit", strconv.Itoa(page.Limit))
	params.Set("$offset", strconv.Itoa(page.Offset))
	params.Set("$order", "created_date")
	params.Set("$where", page.Window.whereClause())

	var records []models.Record
	err := c.fetch(ctx, params, func(body []byte) error {
		return json.Unmarshal(body, &records)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count issues the $select=count(1) estimate call for the window. The
// orchestrator treats failures as non-fatal and proceeds with an unknown
// total, so callers should not abort on error here.
func (c *Client) Count(ctx context.Context, w Window) (int64, error) {
	params := url.Values{}
	params.Set("$select", "count(1)")
	params.Set("$where", w.whereClause())

	var rows []map[string]string
	err := c.fetch(ctx, params, func(body []byte) error {
		return json.Unmarshal(body, &rows)
	})
	if err != nil {
		return 0, err
	}

	if len(rows) == 0 {
		return 0, nil
	}
	raw, ok := rows[0]["count_1"]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// fetch performs one logical call with the retry policy applied. The decode
// callback runs inside the retried operation so parse failures count as
// transient and trigger another attempt.
func (c *Client) fetch(ctx context.Context, params url.Values, decode func(body []byte) error) error {
	start := time.Now()
	defer func() {
		metrics.FetchDuration.Observe(time.Since(start).Seconds())
	}()

	attempt := 0
	operation := func() error {
		if attempt > 0 {
			metrics.FetchRetriesTotal.Inc()
		}
		attempt++
		err := c.doOnce(ctx, params, decode)
		if err != nil {
			logging.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", c.retry.MaxAttempts).Msg("Socrata fetch attempt failed")
		}
		return err
	}

	return backoff.Retry(operation, c.retry.newBackOff(ctx))
}

// doOnce performs a single HTTP round trip. Transient failures return plain
// errors (retried); anything unretryable is wrapped backoff.Permanent.
func (c *Client) doOnce(ctx context.Context, params url.Values, decode func(body []byte) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			metrics.FetchAttemptsTotal.WithLabelValues("permanent_error").Inc()
			return backoff.Permanent(err)
		}
	}

	reqURL := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		metrics.FetchAttemptsTotal.WithLabelValues("permanent_error").Inc()
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport-level failures are not retried; only HTTP-status and
		// parse-level failures fall under the transient taxonomy.
		metrics.FetchAttemptsTotal.WithLabelValues("permanent_error").Inc()
		return backoff.Permanent(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.FetchAttemptsTotal.WithLabelValues("transient_error").Inc()
		return &APIError{StatusCode: resp.StatusCode, Body: readBodyForError(resp.Body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.FetchAttemptsTotal.WithLabelValues("transient_error").Inc()
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := decode(body); err != nil {
		metrics.FetchAttemptsTotal.WithLabelValues("transient_error").Inc()
		return fmt.Errorf("invalid JSON response: %w", err)
	}

	metrics.FetchAttemptsTotal.WithLabelValues("success").Inc()
	return nil
}
