// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/todograph/todograph/internal/logging"
	"github.com/todograph/todograph/internal/syncer"
)

// SyncQueue lists pending reconciliation entries.
func (h *Handlers) SyncQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.Pending()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue scan failed")
		return
	}
	if entries == nil {
		entries = []syncer.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// DeadLetters lists entries that exhausted their retries.
func (h *Handlers) DeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.DeadLetters()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue scan failed")
		return
	}
	if entries == nil {
		entries = []syncer.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// RetryDeadLetter moves one dead letter back into the pending queue.
func (h *Handlers) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	kind := syncer.Kind(chi.URLParam(r, "kind"))
	switch kind {
	case syncer.KindUser, syncer.KindTodo, syncer.KindCategory:
	default:
		respondError(w, http.StatusBadRequest, "unknown kind")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}

	entry, err := h.queue.RetryDeadLetter(kind, id)
	if errors.Is(err, syncer.ErrEntryNotFound) {
		respondError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	respondJSON(w, http.StatusAccepted, entry)
}

// Reconcile triggers an immediate sweep and reports what it did.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciler.Sweep(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("[API] Manual reconcile failed")
		respondError(w, http.StatusInternalServerError, "reconcile failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
