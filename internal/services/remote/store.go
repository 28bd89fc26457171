// Package remote holds the adapters for the remote relational store that is
// the source of truth for a user's library.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/amaumene/shelfsync/internal/models"
)

// ErrNotFound is wrapped by a RemoteError when the targeted id does not exist
var ErrNotFound = errors.New("library item not found")

// Store performs CRUD against the library_items table of a single user
type Store interface {
	// FetchAll returns every row ordered by added_at descending
	FetchAll(ctx context.Context) ([]models.Row, error)
	// Upsert inserts the row or replaces the existing row with the same id
	Upsert(ctx context.Context, row *models.Row) error
	// Patch updates a subset of columns of an existing row
	Patch(ctx context.Context, id string, fields models.Columns) error
	// Remove deletes a row by id
	Remove(ctx context.Context, id string) error
}

// RemoteError reports a failed store operation
type RemoteError struct {
	Op  string // fetch_all, upsert, patch, remove
	ID  string
	Err error
}

func (e *RemoteError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, ID: id, Err: err}
}

// checkColumns rejects columns an update is not allowed to write
func checkColumns(fields models.Columns) error {
	if len(fields) == 0 {
		return errors.New("no columns to update")
	}
	for c := range fields {
		if !models.PatchableColumns[c] {
			return fmt.Errorf("column %q cannot be patched", c)
		}
	}
	return nil
}
