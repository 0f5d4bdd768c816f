// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/todograph/todograph/internal/metrics"
	"github.com/todograph/todograph/internal/models"
)

const todoColumns = `id, title, description, completed, priority, due_date, user_id, category_id, created_at, updated_at`

// CreateTodo inserts a new todo owned by userID and returns the stored row.
// When CategoryID is set it must reference one of the owner's categories.
func (s *Store) CreateTodo(ctx context.Context, userID int64, req *models.CreateTodoRequest) (*models.Todo, error) {
	if req.CategoryID != nil {
		if _, err := s.CategoryByID(ctx, *req.CategoryID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("create todo: %w", ErrForeignKey)
			}
			return nil, err
		}
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	start := time.Now()
	row := s.conn.QueryRowContext(ctx,
		`INSERT INTO todos (title, description, priority, due_date, user_id, category_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING `+todoColumns,
		req.Title, nullIfEmpty(req.Description), priority, req.DueDate, userID, req.CategoryID,
	)
	todo, err := scanTodo(row)
	metrics.RecordStoreQuery("insert", "todos", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("create todo: %w", translateError(err))
	}
	return todo, nil
}

// TodoByID returns the todo with the given id regardless of owner. The
// reconciler uses this to re-derive authoritative state.
func (s *Store) TodoByID(ctx context.Context, id int64) (*models.Todo, error) {
	start := time.Now()
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE id = ?`, id,
	)
	todo, err := scanTodo(row)
	metrics.RecordStoreQuery("select", "todos", time.Since(start), ignoreNotFound(err))
	if err != nil {
		return nil, err
	}
	return todo, nil
}

// TodoByIDForUser returns the todo only if it exists and is owned by userID.
func (s *Store) TodoByIDForUser(ctx context.Context, id, userID int64) (*models.Todo, error) {
	todo, err := s.TodoByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if todo.UserID != userID {
		// Foreign todos are indistinguishable from missing ones.
		return nil, ErrNotFound
	}
	return todo, nil
}

// TodosForUser lists a user's todos ordered by creation, newest first.
func (s *Store) TodosForUser(ctx context.Context, userID int64, offset, limit int) ([]models.Todo, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+todoColumns+` FROM todos
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	metrics.RecordStoreQuery("select", "todos", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	todos := make([]models.Todo, 0, limit)
	for rows.Next() {
		t, err := scanTodoRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, *t)
	}
	return todos, rows.Err()
}

// UpdateTodo applies non-nil fields of req to the todo owned by userID and
// returns the updated row. Returns ErrNotFound for missing or foreign todos.
func (s *Store) UpdateTodo(ctx context.Context, id, userID int64, req *models.UpdateTodoRequest) (*models.Todo, error) {
	current, err := s.TodoByIDForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if req.CategoryID != nil {
		if _, err := s.CategoryByID(ctx, *req.CategoryID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("update todo: %w", ErrForeignKey)
			}
			return nil, err
		}
	}

	title := current.Title
	if req.Title != nil {
		title = *req.Title
	}
	description := current.Description
	if req.Description != nil {
		description = *req.Description
	}
	completed := current.Completed
	if req.Completed != nil {
		completed = *req.Completed
	}
	priority := current.Priority
	if req.Priority != nil {
		priority = *req.Priority
	}
	dueDate := current.DueDate
	if req.DueDate != nil {
		dueDate = req.DueDate
	}
	categoryID := current.CategoryID
	if req.CategoryID != nil {
		categoryID = req.CategoryID
	}

	start := time.Now()
	row := s.conn.QueryRowContext(ctx,
		`UPDATE todos
		 SET title = ?, description = ?, completed = ?, priority = ?, due_date = ?, category_id = ?, updated_at = now()
		 WHERE id = ? AND user_id = ?
		 RETURNING `+todoColumns,
		title, nullIfEmpty(description), completed, priority, dueDate, categoryID, id, userID,
	)
	todo, err := scanTodo(row)
	metrics.RecordStoreQuery("update", "todos", time.Since(start), ignoreNotFound(err))
	if err != nil {
		return nil, fmt.Errorf("update todo: %w", translateError(err))
	}
	return todo, nil
}

// DeleteTodo removes the todo owned by userID. Returns ErrNotFound when the
// todo does not exist or belongs to someone else.
func (s *Store) DeleteTodo(ctx context.Context, id, userID int64) error {
	start := time.Now()
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM todos WHERE id = ? AND user_id = ?`, id, userID,
	)
	metrics.RecordStoreQuery("delete", "todos", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTodo(row *sql.Row) (*models.Todo, error) {
	var t models.Todo
	var description sql.NullString
	err := row.Scan(&t.ID, &t.Title, &description, &t.Completed, &t.Priority,
		&t.DueDate, &t.UserID, &t.CategoryID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Description = description.String
	return &t, nil
}

func scanTodoRows(rows *sql.Rows) (*models.Todo, error) {
	var t models.Todo
	var description sql.NullString
	err := rows.Scan(&t.ID, &t.Title, &description, &t.Completed, &t.Priority,
		&t.DueDate, &t.UserID, &t.CategoryID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Description = description.String
	return &t, nil
}

// nullIfEmpty maps empty strings to NULL so optional text columns stay NULL
// instead of collecting empty strings.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
