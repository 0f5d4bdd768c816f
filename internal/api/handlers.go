// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP surface: auth, todos, categories,
// recommendations, and the sync operations endpoints.
package api

import (
	"context"
	"net/http"

	"github.com/todograph/todograph/internal/auth"
	"github.com/todograph/todograph/internal/config"
	"github.com/todograph/todograph/internal/recommend"
	"github.com/todograph/todograph/internal/store"
	"github.com/todograph/todograph/internal/syncer"
)

// MirrorHealth reports mirror reachability and breaker state for the health
// endpoint.
type MirrorHealth interface {
	Ping(ctx context.Context) error
	State() string
}

// Handlers holds the dependencies shared by all HTTP handlers.
type Handlers struct {
	store      *store.Store
	sync       *syncer.Synchronizer
	queue      *syncer.Queue
	reconciler *syncer.Reconciler
	reader     *recommend.Reader
	jwt        *auth.JWTManager
	mirror     MirrorHealth
	cfg        *config.Config
}

// NewHandlers wires the handler set.
func NewHandlers(
	st *store.Store,
	sync *syncer.Synchronizer,
	queue *syncer.Queue,
	reconciler *syncer.Reconciler,
	reader *recommend.Reader,
	jwt *auth.JWTManager,
	mirror MirrorHealth,
	cfg *config.Config,
) *Handlers {
	return &Handlers{
		store:      st,
		sync:       sync,
		queue:      queue,
		reconciler: reconciler,
		reader:     reader,
		jwt:        jwt,
		mirror:     mirror,
		cfg:        cfg,
	}
}

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Pending int               `json:"sync_pending"`
	Dead    int               `json:"sync_dead_letters"`
}

// Health reports component health. The mirror being down degrades the
// service but does not fail it: mutations still commit and queue.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{
		"store":   "ok",
		"mirror":  "ok",
		"breaker": h.mirror.State(),
	}
	status := "ok"

	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = "unhealthy"
	}
	if err := h.mirror.Ping(ctx); err != nil {
		checks["mirror"] = err.Error()
		if status == "ok" {
			status = "degraded"
		}
	}

	pending, _ := h.queue.Pending()
	dead, _ := h.queue.DeadLetters()

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, &healthResponse{
		Status:  status,
		Checks:  checks,
		Pending: len(pending),
		Dead:    len(dead),
	})
}

// Liveness reports that the process is serving requests.
func (h *Handlers) Liveness(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness fails only when the system of record is unreachable. The mirror
// is best-effort and never gates readiness.
func (h *Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"store":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
