// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package graph implements the Neo4j mirror of the system of record.
//
// The mirror is a projection, never an authority: every write here is an
// idempotent upsert keyed by the relational primary key, so replaying a write
// in any order converges on the same graph. Failures are reported to the
// caller and handled by the synchronizer; nothing in this package retries.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/todograph/todograph/internal/config"
	"github.com/todograph/todograph/internal/logging"
	"github.com/todograph/todograph/internal/metrics"
	"github.com/todograph/todograph/internal/models"
)

// Writes is the mutation surface of the mirror. The synchronizer and the
// circuit breaker both operate against this interface.
type Writes interface {
	UpsertUser(ctx context.Context, u *models.User) error
	UpsertTodo(ctx context.Context, t *models.Todo) error
	UpsertCategory(ctx context.Context, c *models.Category) error
	DeleteTodo(ctx context.Context, id int64) error
	DeleteCategory(ctx context.Context, id int64) error
}

// Mirror talks to the Neo4j graph store.
type Mirror struct {
	driver  neo4j.DriverWithContext
	timeout time.Duration
}

// New connects to the graph store. The connection is lazy; use Ping to verify
// reachability at startup.
func New(cfg *config.GraphConfig) (*Mirror, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph driver: %w", err)
	}
	return &Mirror{driver: driver, timeout: cfg.WriteTimeout}, nil
}

// Ping verifies connectivity to the graph store.
func (m *Mirror) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.driver.VerifyConnectivity(ctx)
}

// Close releases the underlying driver.
func (m *Mirror) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}

// UpsertUser creates or refreshes the user node.
func (m *Mirror) UpsertUser(ctx context.Context, u *models.User) error {
	return m.write(ctx, "upsert_user",
		`MERGE (u:User {id: $id})
		 SET u.username = $username, u.email = $email`,
		map[string]any{"id": u.ID, "username": u.Username, "email": u.Email},
	)
}

// UpsertTodo creates or refreshes the todo node, its OWNS edge from the
// owner, and its BELONGS_TO edge. Any previous BELONGS_TO edge is removed
// first so the graph always reflects the current category, including none.
func (m *Mirror) UpsertTodo(ctx context.Context, t *models.Todo) error {
	query := `MERGE (t:Todo {id: $id})
		 SET t.title = $title, t.completed = $completed, t.priority = $priority
		 WITH t
		 MERGE (u:User {id: $user_id})
		 MERGE (u)-[:OWNS]->(t)
		 WITH t
		 OPTIONAL MATCH (t)-[old:BELONGS_TO]->(:Category)
		 DELETE old`
	params := map[string]any{
		"id":        t.ID,
		"title":     t.Title,
		"completed": t.Completed,
		"priority":  t.Priority,
		"user_id":   t.UserID,
	}
	if t.CategoryID != nil {
		query += `
		 WITH t
		 MERGE (c:Category {id: $category_id})
		 MERGE (t)-[:BELONGS_TO]->(c)`
		params["category_id"] = *t.CategoryID
	}
	return m.write(ctx, "upsert_todo", query, params)
}

// UpsertCategory creates or refreshes the category node and its CREATED edge.
func (m *Mirror) UpsertCategory(ctx context.Context, c *models.Category) error {
	return m.write(ctx, "upsert_category",
		`MERGE (c:Category {id: $id})
		 SET c.name = $name, c.color = $color
		 WITH c
		 MERGE (u:User {id: $user_id})
		 MERGE (u)-[:CREATED]->(c)`,
		map[string]any{"id": c.ID, "name": c.Name, "color": c.Color, "user_id": c.UserID},
	)
}

// DeleteTodo removes the todo node and all its edges. Deleting a node that
// was never mirrored is a no-op.
func (m *Mirror) DeleteTodo(ctx context.Context, id int64) error {
	return m.write(ctx, "delete_todo",
		`MATCH (t:Todo {id: $id}) DETACH DELETE t`,
		map[string]any{"id": id},
	)
}

// DeleteCategory removes the category node and all its edges.
func (m *Mirror) DeleteCategory(ctx context.Context, id int64) error {
	return m.write(ctx, "delete_category",
		`MATCH (c:Category {id: $id}) DETACH DELETE c`,
		map[string]any{"id": id},
	)
}

// RecommendationsForUser returns uncompleted todos owned by other users in
// categories the given user also uses.
func (m *Mirror) RecommendationsForUser(ctx context.Context, userID int64, limit int) ([]models.Recommendation, error) {
	records, err := m.read(ctx, "recommendations",
		`MATCH (u:User {id: $user_id})-[:OWNS]->(:Todo)-[:BELONGS_TO]->(c:Category)
		       <-[:BELONGS_TO]-(rec:Todo)<-[:OWNS]-(other:User)
		 WHERE other.id <> $user_id AND rec.completed = false
		 RETURN DISTINCT rec.title AS title, c.name AS category
		 LIMIT $limit`,
		map[string]any{"user_id": userID, "limit": limit},
	)
	if err != nil {
		return nil, err
	}

	recs := make([]models.Recommendation, 0, len(records))
	for _, rec := range records {
		title, _ := rec.Get("title")
		category, _ := rec.Get("category")
		recs = append(recs, models.Recommendation{
			Title:    asString(title),
			Category: asString(category),
		})
	}
	return recs, nil
}

// OwnedTodos returns the user's todos as the mirror currently sees them.
// Divergence from the system of record here means a reconcile is pending.
func (m *Mirror) OwnedTodos(ctx context.Context, userID int64) ([]models.OwnedTodo, error) {
	records, err := m.read(ctx, "owned_todos",
		`MATCH (u:User {id: $user_id})-[:OWNS]->(t:Todo)
		 OPTIONAL MATCH (t)-[:BELONGS_TO]->(c:Category)
		 RETURN t.id AS id, t.title AS title, c.name AS category
		 ORDER BY id`,
		map[string]any{"user_id": userID},
	)
	if err != nil {
		return nil, err
	}

	todos := make([]models.OwnedTodo, 0, len(records))
	for _, rec := range records {
		id, _ := rec.Get("id")
		title, _ := rec.Get("title")
		category, _ := rec.Get("category")
		todos = append(todos, models.OwnedTodo{
			TodoID:   asInt64(id),
			Title:    asString(title),
			Category: asString(category),
		})
	}
	return todos, nil
}

func (m *Mirror) write(ctx context.Context, operation, query string, params map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	_, err := neo4j.ExecuteQuery(ctx, m.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithWritersRouting(),
	)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordMirrorWrite(operation, "failure", elapsed)
		logging.Warn().Err(err).Str("operation", operation).Dur("elapsed", elapsed).Msg("[GRAPH] Mirror write failed")
		return fmt.Errorf("mirror %s: %w", operation, err)
	}
	metrics.RecordMirrorWrite(operation, "success", elapsed)
	logging.Debug().Str("operation", operation).Dur("elapsed", elapsed).Msg("[GRAPH] Mirror write applied")
	return nil
}

func (m *Mirror) read(ctx context.Context, operation, query string, params map[string]any) ([]*neo4j.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	result, err := neo4j.ExecuteQuery(ctx, m.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		logging.Warn().Err(err).Str("operation", operation).Msg("[GRAPH] Read query failed")
		return nil, fmt.Errorf("graph %s: %w", operation, err)
	}
	logging.Debug().Str("operation", operation).Int("records", len(result.Records)).Dur("elapsed", time.Since(start)).Msg("[GRAPH] Read query done")
	return result.Records, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	n, _ := v.(int64)
	return n
}
