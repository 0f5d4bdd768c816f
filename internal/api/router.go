// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/todograph/todograph/internal/middleware"
)

// NewRouter assembles the chi router. Auth endpoints get strict per-IP rate
// limits; everything else shares the configured general limit.
func NewRouter(h *Handlers) http.Handler {
	sec := &h.cfg.Security

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   sec.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", MirrorStatusHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)

		r.Get("/health", h.Health)
		r.Get("/health/live", h.Liveness)
		r.Get("/health/ready", h.Readiness)

		r.Route("/auth", func(r chi.Router) {
			// Brute force protection on credential endpoints.
			r.Use(httprate.LimitByIP(10, time.Minute))
			r.Post("/register", h.Register)
			r.Post("/token", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(
				sec.RateLimitReqs,
				sec.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
			r.Use(h.jwt.Authenticate)

			r.Get("/users/me", h.Me)

			r.Route("/todos", func(r chi.Router) {
				r.Get("/", h.ListTodos)
				r.Post("/", h.CreateTodo)
				r.Get("/{id}", h.GetTodo)
				r.Put("/{id}", h.UpdateTodo)
				r.Delete("/{id}", h.DeleteTodo)
			})

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", h.ListCategories)
				r.Post("/", h.CreateCategory)
				r.Delete("/{id}", h.DeleteCategory)
			})

			r.Get("/recommendations", h.Recommendations)
			r.Get("/graph/todos", h.GraphTodos)

			r.Route("/sync", func(r chi.Router) {
				r.Get("/queue", h.SyncQueue)
				r.Get("/dead-letters", h.DeadLetters)
				r.Post("/dead-letters/{kind}/{id}/retry", h.RetryDeadLetter)
				r.Post("/reconcile", h.Reconcile)
			})
		})
	})

	return r
}
