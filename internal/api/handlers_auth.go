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

// Register creates an account. The relational insert is authoritative; the
// graph user node follows best-effort.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password, h.cfg.Security.BcryptCost)
	if err != nil {
		logging.Error().Err(err).Msg("[API] Password hashing failed")
		respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username, req.Email, hash)
	if errors.Is(err, store.ErrDuplicate) {
		respondError(w, http.StatusConflict, "username or email already registered")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("[API] User insert failed")
		respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	setMirrorStatus(w, h.sync.RecordUserCreate(r.Context(), user))
	respondJSON(w, http.StatusCreated, user)
}

// Login verifies credentials and issues an access token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.store.UserByUsername(r.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		// Same response as a bad password so usernames cannot be probed.
		respondError(w, http.StatusUnauthorized, "incorrect username or password")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("[API] User lookup failed")
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	if !user.IsActive || !auth.VerifyPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "incorrect username or password")
		return
	}

	token, err := h.jwt.GenerateToken(user.ID, user.Username)
	if err != nil {
		logging.Error().Err(err).Msg("[API] Token generation failed")
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	respondJSON(w, http.StatusOK, &models.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}

// Me returns the authenticated user's profile.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	user, err := h.store.UserByID(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusUnauthorized, "account no longer exists")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, user)
}
