// Package store persists items and completion records. It hands the rest of
// the program plain snapshots; the scheduling core never touches a Store.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"planner/internal/model"
)

// ErrNotFound is returned when an item ID does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence collaborator shared by the API, the refresher
// and the CLI.
type Store interface {
	// Items returns a snapshot of every item, locally entered and imported,
	// in insertion order.
	Items(ctx context.Context) ([]model.Item, error)
	Item(ctx context.Context, id string) (model.Item, error)
	// PutItem inserts or replaces an item. An empty ID is assigned.
	PutItem(ctx context.Context, it model.Item) (model.Item, error)
	DeleteItem(ctx context.Context, id string) error
	// ReplaceSource swaps every item tagged with source for items, at once.
	ReplaceSource(ctx context.Context, source string, items []model.Item) error

	// Completions returns every completion record, oldest first.
	Completions(ctx context.Context) ([]model.Completion, error)
	// RecordCompletion stores c unless a completion with the same dedupe key
	// exists. It returns the stored record and whether it was newly created.
	RecordCompletion(ctx context.Context, c model.Completion) (model.Completion, bool, error)

	Close() error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*PgStore)(nil)
)

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
