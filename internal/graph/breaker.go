// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package graph

import (
	"context"
	"errors"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/todograph/todograph/internal/config"
	"github.com/todograph/todograph/internal/logging"
	"github.com/todograph/todograph/internal/metrics"
	"github.com/todograph/todograph/internal/models"
)

const breakerName = "graph-mirror"

// ErrMirrorUnavailable is returned when the breaker rejects a write without
// attempting it. Callers treat it as retryable.
var ErrMirrorUnavailable = errors.New("graph mirror unavailable")

// Breaker wraps a Writes implementation with a circuit breaker. After a run
// of consecutive failures the breaker opens and synchronous mirror writes are
// rejected immediately; the reconciler remains the only path to the graph
// until a probe write succeeds.
//
// The breaker uses real time for its cooldown. Tests that need determinism
// should exercise the wrapped Writes directly.
type Breaker struct {
	next Writes
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker builds a circuit breaker around next using cfg's threshold and
// cooldown.
func NewBreaker(next Writes, cfg *config.GraphConfig) *Breaker {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1, // one probe write in half-open state
		Timeout:     cfg.BreakerCooldown,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= cfg.BreakerFailures
			if trip {
				logging.Warn().
					Uint32("consecutive_failures", counts.ConsecutiveFailures).
					Msg("[CIRCUIT BREAKER] Opening circuit, mirror writes suspended")
			}
			return trip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateString(from), stateString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &Breaker{next: next, cb: cb}
}

// State reports the current breaker state for health reporting.
func (b *Breaker) State() string {
	return stateString(b.cb.State())
}

func (b *Breaker) UpsertUser(ctx context.Context, u *models.User) error {
	return b.execute("upsert_user", func() error { return b.next.UpsertUser(ctx, u) })
}

func (b *Breaker) UpsertTodo(ctx context.Context, t *models.Todo) error {
	return b.execute("upsert_todo", func() error { return b.next.UpsertTodo(ctx, t) })
}

func (b *Breaker) UpsertCategory(ctx context.Context, c *models.Category) error {
	return b.execute("upsert_category", func() error { return b.next.UpsertCategory(ctx, c) })
}

func (b *Breaker) DeleteTodo(ctx context.Context, id int64) error {
	return b.execute("delete_todo", func() error { return b.next.DeleteTodo(ctx, id) })
}

func (b *Breaker) DeleteCategory(ctx context.Context, id int64) error {
	return b.execute("delete_category", func() error { return b.next.DeleteCategory(ctx, id) })
}

func (b *Breaker) execute(operation string, fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordMirrorWrite(operation, "rejected", 0)
		return ErrMirrorUnavailable
	}
	return err
}

// Health pairs the mirror's connectivity check with the breaker's state for
// health reporting.
type Health struct {
	mirror  *Mirror
	breaker *Breaker
}

// NewHealth builds a Health view over mirror and breaker.
func NewHealth(mirror *Mirror, breaker *Breaker) *Health {
	return &Health{mirror: mirror, breaker: breaker}
}

// Ping verifies connectivity to the graph store.
func (h *Health) Ping(ctx context.Context) error {
	return h.mirror.Ping(ctx)
}

// State reports the breaker state.
func (h *Health) State() string {
	return h.breaker.State()
}

func stateValue(state gobreaker.State) float64 {
	switch state {
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

func stateString(state gobreaker.State) string {
	switch state {
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
