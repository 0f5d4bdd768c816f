// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"strings"
)

// Sentinel errors returned by store operations.
var (
	// ErrNotFound is returned when the requested row does not exist (or is
	// not visible to the requesting owner).
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a uniqueness constraint is violated
	// (username or email already registered).
	ErrDuplicate = errors.New("store: duplicate value")

	// ErrForeignKey is returned when a referenced row does not exist
	// (e.g. a todo pointing at a missing category).
	ErrForeignKey = errors.New("store: referenced row does not exist")
)

// translateError maps DuckDB constraint violations onto sentinel errors so
// callers never have to string-match driver messages themselves.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint"):
		return ErrDuplicate
	case strings.Contains(msg, "foreign key") || strings.Contains(msg, "violates"):
		return ErrForeignKey
	default:
		return err
	}
}
