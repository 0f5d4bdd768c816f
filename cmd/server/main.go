// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main is the entry point for the Todograph server.
//
// Todograph is a todo backend built around a dual-write pattern: a DuckDB
// relational store is the system of record, and a Neo4j graph mirrors users,
// todos, and categories for relationship queries like recommendations.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layering defaults, config file, environment
//  2. Store: DuckDB schema for users, todos, categories
//  3. Queue: BadgerDB-backed reconciliation queue and dead letters
//  4. Mirror: Neo4j driver wrapped in a circuit breaker
//  5. Supervisor: suture tree running the reconciler and the HTTP server
//
// The graph mirror is optional at runtime: if Neo4j is unreachable the
// server still starts, mutations commit relationally and queue for
// reconciliation, and recommendations return empty lists.
//
// Configuration comes from environment variables (NEO4J_URI, JWT_SECRET,
// DUCKDB_PATH, SYNC_QUEUE_PATH, ...) or a YAML file at CONFIG_PATH.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/todograph/todograph/internal/api"
	"github.com/todograph/todograph/internal/auth"
	"github.com/todograph/todograph/internal/config"
	"github.com/todograph/todograph/internal/graph"
	"github.com/todograph/todograph/internal/logging"
	"github.com/todograph/todograph/internal/recommend"
	"github.com/todograph/todograph/internal/store"
	"github.com/todograph/todograph/internal/supervisor"
	"github.com/todograph/todograph/internal/supervisor/services"
	"github.com/todograph/todograph/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("graph_uri", cfg.Graph.URI).
		Str("queue_path", cfg.Sync.QueuePath).
		Msg("Starting Todograph")

	st, err := store.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	queue, err := syncer.NewQueue(cfg.Sync.QueuePath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open reconciliation queue")
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing queue")
		}
	}()

	mirror, err := graph.New(&cfg.Graph)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build graph driver")
	}
	defer func() {
		if err := mirror.Close(context.Background()); err != nil {
			logging.Error().Err(err).Msg("Error closing graph driver")
		}
	}()

	// An unreachable mirror is not fatal: the store keeps accepting writes
	// and the reconciler converges the graph once it comes back.
	if err := mirror.Ping(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("Graph mirror unreachable at startup, reconciler will retry")
	} else {
		logging.Info().Msg("Connected to graph mirror")
	}
	breaker := graph.NewBreaker(mirror, &cfg.Graph)

	// In-process bus so a queued failure wakes the reconciler before the
	// next sweep tick.
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing bus")
		}
	}()

	backoff := syncer.NewBackoff(cfg.Sync.InitialBackoff, cfg.Sync.MaxBackoff, 0)

	// The synchronizer writes through the breaker; the reconciler talks to
	// the mirror directly so its sweeps double as recovery probes even while
	// the breaker is open.
	sync := syncer.New(breaker, queue, backoff, bus)
	reconciler := syncer.NewReconciler(queue, st, mirror, backoff, bus, &cfg.Sync)

	jwt, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}

	handlers := api.NewHandlers(
		st, sync, queue, reconciler,
		recommend.NewReader(mirror),
		jwt,
		graph.NewHealth(mirror, breaker),
		cfg,
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddSyncService(reconciler)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Todograph listening")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
	}
	logging.Info().Msg("Todograph stopped")
}
