// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package recommend serves read-only queries answered from the graph mirror.
package recommend

import (
	"context"

	"github.com/todograph/todograph/internal/logging"
	"github.com/todograph/todograph/internal/models"
)

// DefaultLimit caps how many recommendations one request returns.
const DefaultLimit = 5

// GraphReader is the read surface of the mirror. *graph.Mirror satisfies it.
type GraphReader interface {
	RecommendationsForUser(ctx context.Context, userID int64, limit int) ([]models.Recommendation, error)
	OwnedTodos(ctx context.Context, userID int64) ([]models.OwnedTodo, error)
}

// Reader answers recommendation queries. Recommendations are advisory and
// served from the mirror, which may lag the system of record; a lagging or
// unreachable mirror degrades to an empty list rather than an error.
type Reader struct {
	graph GraphReader
	limit int
}

// NewReader builds a Reader with the default result limit.
func NewReader(graph GraphReader) *Reader {
	return &Reader{graph: graph, limit: DefaultLimit}
}

// Recommendations returns todos from other users in categories the given
// user also uses. Never fails: mirror errors log and return an empty slice.
func (r *Reader) Recommendations(ctx context.Context, userID int64) []models.Recommendation {
	recs, err := r.graph.RecommendationsForUser(ctx, userID, r.limit)
	if err != nil {
		logging.Warn().Err(err).Int64("user_id", userID).Msg("[RECOMMEND] Mirror query failed, returning empty")
		return []models.Recommendation{}
	}
	if recs == nil {
		recs = []models.Recommendation{}
	}
	return recs
}

// OwnedTodos returns the user's ownership subgraph as the mirror sees it.
// Unlike Recommendations this propagates mirror errors: the endpoint exists
// to inspect mirror state, so masking unavailability would defeat it.
func (r *Reader) OwnedTodos(ctx context.Context, userID int64) ([]models.OwnedTodo, error) {
	return r.graph.OwnedTodos(ctx, userID)
}
