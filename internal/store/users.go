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

// CreateUser inserts a new user and returns the stored row with its
// store-assigned id. Username and email uniqueness is enforced here.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	start := time.Now()
	row := s.conn.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash)
		 VALUES (?, ?, ?)
		 RETURNING id, username, email, password_hash, is_active, created_at`,
		username, email, passwordHash,
	)
	user, err := scanUser(row)
	metrics.RecordStoreQuery("insert", "users", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", translateError(err))
	}
	return user, nil
}

// UserByID returns the user with the given id.
func (s *Store) UserByID(ctx context.Context, id int64) (*models.User, error) {
	start := time.Now()
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_active, created_at
		 FROM users WHERE id = ?`, id,
	)
	user, err := scanUser(row)
	metrics.RecordStoreQuery("select", "users", time.Since(start), ignoreNotFound(err))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UserByUsername returns the user with the given username.
func (s *Store) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	start := time.Now()
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_active, created_at
		 FROM users WHERE username = ?`, username,
	)
	user, err := scanUser(row)
	metrics.RecordStoreQuery("select", "users", time.Since(start), ignoreNotFound(err))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UserByEmail returns the user with the given email.
func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	start := time.Now()
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_active, created_at
		 FROM users WHERE email = ?`, email,
	)
	user, err := scanUser(row)
	metrics.RecordStoreQuery("select", "users", time.Since(start), ignoreNotFound(err))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// scanUser scans a single user row, mapping sql.ErrNoRows to ErrNotFound.
func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ignoreNotFound drops ErrNotFound for metrics purposes: a miss is a normal
// outcome, not a query error.
func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
