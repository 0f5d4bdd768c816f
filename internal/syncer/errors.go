// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"errors"
	"strings"

	"github.com/todograph/todograph/internal/graph"
)

// failureReason buckets a mirror write error for the enqueue metric. Every
// failure is queued regardless of reason; the reconciler re-derives from the
// system of record, so even a write that half-applied converges on retry.
func failureReason(err error) string {
	switch {
	case errors.Is(err, graph.ErrMirrorUnavailable):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case isConnectionError(err):
		return "connection"
	default:
		return "mirror_error"
	}
}

func isConnectionError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"connection refused", "connection reset", "no route to host", "broken pipe", "ConnectivityError"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
