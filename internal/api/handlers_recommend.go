// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/todograph/todograph/internal/auth"
	"github.com/todograph/todograph/internal/models"
)

// Recommendations returns suggested todos from the graph mirror. A
// stale or unreachable mirror yields an empty list, never an error.
func (h *Handlers) Recommendations(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	recs := h.reader.Recommendations(r.Context(), userID)
	respondJSON(w, http.StatusOK, recs)
}

// GraphTodos returns the user's ownership subgraph as the mirror sees it.
// Divergence from /todos is expected while reconciliation is pending.
func (h *Handlers) GraphTodos(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	todos, err := h.reader.OwnedTodos(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "graph mirror unavailable")
		return
	}
	if todos == nil {
		todos = []models.OwnedTodo{}
	}
	respondJSON(w, http.StatusOK, todos)
}
