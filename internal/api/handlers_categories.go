// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"net/http"

	"github.com/todograph/todograph/internal/auth"
	"github.com/todograph/todograph/internal/logging"
	"github.com/todograph/todograph/internal/models"
	"github.com/todograph/todograph/internal/store"
)

// ListCategories returns the authenticated user's categories.
func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	cats, err := h.store.CategoriesForUser(r.Context(), userID)
	if err != nil {
		logging.Error().Err(err).Msg("[API] Category list failed")
		respondError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if cats == nil {
		cats = []models.Category{}
	}
	respondJSON(w, http.StatusOK, cats)
}

// CreateCategory inserts a category and mirrors it.
func (h *Handlers) CreateCategory(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req models.CreateCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cat, err := h.store.CreateCategory(r.Context(), userID, &req)
	if err != nil {
		logging.Error().Err(err).Msg("[API] Category insert failed")
		respondError(w, http.StatusInternalServerError, "create failed")
		return
	}

	setMirrorStatus(w, h.sync.RecordCategoryCreate(r.Context(), cat))
	respondJSON(w, http.StatusCreated, cat)
}

// DeleteCategory removes a category. Todos keep their rows with the category
// reference cleared; the mirror's DETACH DELETE drops the matching edges.
func (h *Handlers) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	err := h.store.DeleteCategory(r.Context(), id, userID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "category not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("[API] Category delete failed")
		respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}

	setMirrorStatus(w, h.sync.RecordCategoryDelete(r.Context(), id))
	w.WriteHeader(http.StatusNoContent)
}
