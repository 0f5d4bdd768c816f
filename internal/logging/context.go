// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// requestIDKey is the context key for HTTP request IDs.
	requestIDKey contextKey = "request_id"

	// sweepIDKey is the context key for reconcile sweep IDs.
	sweepIDKey contextKey = "sweep_id"
)

// GenerateRequestID creates a new unique request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// GenerateSweepID creates a short unique ID that correlates the log lines of
// one reconcile sweep.
func GenerateSweepID() string {
	return uuid.New().String()[:8]
}

// ContextWithRequestID returns a new context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithSweepID returns a new context carrying the given sweep ID.
func ContextWithSweepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sweepIDKey, id)
}

// SweepIDFromContext retrieves the sweep ID from context.
// Returns empty string if not present.
func SweepIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sweepIDKey).(string); ok {
		return id
	}
	return ""
}
