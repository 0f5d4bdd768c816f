// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/todograph/todograph/internal/auth"
	"github.com/todograph/todograph/internal/logging"
	"github.com/todograph/todograph/internal/models"
	"github.com/todograph/todograph/internal/store"
)

// ListTodos returns the authenticated user's todos, newest first.
func (h *Handlers) ListTodos(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	offset, limit := h.pagination(r)

	todos, err := h.store.TodosForUser(r.Context(), userID, offset, limit)
	if err != nil {
		logging.Error().Err(err).Msg("[API] Todo list failed")
		respondError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if todos == nil {
		todos = []models.Todo{}
	}
	respondJSON(w, http.StatusOK, todos)
}

// CreateTodo inserts a todo and mirrors it.
func (h *Handlers) CreateTodo(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req models.CreateTodoRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.checkCategoryOwnership(w, r, req.CategoryID, userID) {
		return
	}

	todo, err := h.store.CreateTodo(r.Context(), userID, &req)
	if errors.Is(err, store.ErrForeignKey) {
		respondError(w, http.StatusBadRequest, "category does not exist")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("[API] Todo insert failed")
		respondError(w, http.StatusInternalServerError, "create failed")
		return
	}

	setMirrorStatus(w, h.sync.RecordTodoUpsert(r.Context(), todo))
	respondJSON(w, http.StatusCreated, todo)
}

// GetTodo returns one of the user's todos.
func (h *Handlers) GetTodo(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	todo, err := h.store.TodoByIDForUser(r.Context(), id, userID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "todo not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, todo)
}

// UpdateTodo applies a partial update and mirrors the result.
func (h *Handlers) UpdateTodo(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req models.UpdateTodoRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.checkCategoryOwnership(w, r, req.CategoryID, userID) {
		return
	}

	todo, err := h.store.UpdateTodo(r.Context(), id, userID, &req)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "todo not found")
		return
	}
	if errors.Is(err, store.ErrForeignKey) {
		respondError(w, http.StatusBadRequest, "category does not exist")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("[API] Todo update failed")
		respondError(w, http.StatusInternalServerError, "update failed")
		return
	}

	setMirrorStatus(w, h.sync.RecordTodoUpsert(r.Context(), todo))
	respondJSON(w, http.StatusOK, todo)
}

// DeleteTodo removes a todo and its graph node.
func (h *Handlers) DeleteTodo(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	err := h.store.DeleteTodo(r.Context(), id, userID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "todo not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("[API] Todo delete failed")
		respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}

	setMirrorStatus(w, h.sync.RecordTodoDelete(r.Context(), id))
	w.WriteHeader(http.StatusNoContent)
}

// checkCategoryOwnership rejects category references to other users'
// categories before the store's existence check can leak them.
func (h *Handlers) checkCategoryOwnership(w http.ResponseWriter, r *http.Request, categoryID *int64, userID int64) bool {
	if categoryID == nil {
		return true
	}
	_, err := h.store.CategoryByIDForUser(r.Context(), *categoryID, userID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusBadRequest, "category does not exist")
		return false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "category lookup failed")
		return false
	}
	return true
}

func (h *Handlers) pagination(r *http.Request) (offset, limit int) {
	limit = h.cfg.API.DefaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > h.cfg.API.MaxPageSize {
		limit = h.cfg.API.MaxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return offset, limit
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
