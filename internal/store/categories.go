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

// CreateCategory inserts a new category owned by userID.
func (s *Store) CreateCategory(ctx context.Context, userID int64, req *models.CreateCategoryRequest) (*models.Category, error) {
	color := req.Color
	if color == "" {
		color = "#3B82F6"
	}

	start := time.Now()
	row := s.conn.QueryRowContext(ctx,
		`INSERT INTO categories (name, color, user_id)
		 VALUES (?, ?, ?)
		 RETURNING id, name, color, user_id, created_at`,
		req.Name, color, userID,
	)
	cat, err := scanCategory(row)
	metrics.RecordStoreQuery("insert", "categories", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("create category: %w", translateError(err))
	}
	return cat, nil
}

// CategoryByID returns the category with the given id regardless of owner.
// The reconciler uses this to re-derive authoritative state.
func (s *Store) CategoryByID(ctx context.Context, id int64) (*models.Category, error) {
	start := time.Now()
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, name, color, user_id, created_at FROM categories WHERE id = ?`, id,
	)
	cat, err := scanCategory(row)
	metrics.RecordStoreQuery("select", "categories", time.Since(start), ignoreNotFound(err))
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// CategoryByIDForUser returns the category only if owned by userID.
func (s *Store) CategoryByIDForUser(ctx context.Context, id, userID int64) (*models.Category, error) {
	cat, err := s.CategoryByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cat.UserID != userID {
		return nil, ErrNotFound
	}
	return cat, nil
}

// CategoriesForUser lists a user's categories in creation order.
func (s *Store) CategoriesForUser(ctx context.Context, userID int64) ([]models.Category, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, color, user_id, created_at
		 FROM categories WHERE user_id = ? ORDER BY id`,
		userID,
	)
	metrics.RecordStoreQuery("select", "categories", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cats []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.UserID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// DeleteCategory removes the category owned by userID. Todos referencing it
// are detached in the same transaction, so a failed or unauthorized delete
// leaves their category assignment intact.
func (s *Store) DeleteCategory(ctx context.Context, id, userID int64) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete category: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	start := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE todos SET category_id = NULL, updated_at = now() WHERE category_id = ?`, id,
	); err != nil {
		metrics.RecordStoreQuery("update", "todos", time.Since(start), err)
		return fmt.Errorf("detach todos from category: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM categories WHERE id = ? AND user_id = ?`, id, userID,
	)
	metrics.RecordStoreQuery("delete", "categories", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func scanCategory(row *sql.Row) (*models.Category, error) {
	var c models.Category
	err := row.Scan(&c.ID, &c.Name, &c.Color, &c.UserID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
