// Civitas - Civic Service Request Ingestion and Analytics
// Copyright 2026 Civitas contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitas-io/civitas

package socrata

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/civitas-io/civitas/internal/logging"
	"github.com/civitas-io/civitas/internal/metrics"
	"github.com/civitas-io/civitas/internal/models"
)

// Fetcher is the read surface the ingestion orchestrator consumes. Both
// Client and CircuitBreakerClient implement it.
type Fetcher interface {
	FetchPage(ctx context.Context, page PageQuery) ([]models.Record, error)
	Count(ctx context.Context, w Window) (int64, error)
}

// CircuitBreakerClient wraps Client with a circuit breaker. The breaker
// prevents hammering the Socrata API when it is unavailable or persistently
// slow, which matters for long-running periodic deployments; one-shot runs
// normally use the plain Client.
//
// The breaker uses real time for its interval and timeout calculations.
// Tests should exercise the wrapped client directly.
type CircuitBreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[any]
	name   string
}

// NewCircuitBreakerClient wraps client in a circuit breaker:
//   - max 3 concurrent requests in half-open state
//   - 1 minute measurement window while closed
//   - 2 minute open period before probing recovery
//   - opens at a 60% failure rate with at least 10 requests observed
func NewCircuitBreakerClient(client *Client) *CircuitBreakerClient {
	const cbName = "socrata-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false // Too few requests for statistical significance
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("Opening Socrata circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("Socrata circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &CircuitBreakerClient{client: client, cb: cb, name: cbName}
}

// FetchPage retrieves one page through the circuit breaker.
func (cbc *CircuitBreakerClient) FetchPage(ctx context.Context, page PageQuery) ([]models.Record, error) {
	result, err := cbc.execute(func() (any, error) {
		return cbc.client.FetchPage(ctx, page)
	})
	if err != nil {
		return nil, err
	}
	records, _ := result.([]models.Record)
	return records, nil
}

// Count issues the estimate call through the circuit breaker.
func (cbc *CircuitBreakerClient) Count(ctx context.Context, w Window) (int64, error) {
	result, err := cbc.execute(func() (any, error) {
		return cbc.client.Count(ctx, w)
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.(int64)
	return n, nil
}

// execute wraps an API call with circuit breaker protection and metrics.
func (cbc *CircuitBreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := cbc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("Socrata request rejected by open circuit")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	return result, nil
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
