package dlq

import (
	"context"
	"time"

	"github.com/hypothesize-tech/courier/id"
)

// Store defines the persistence contract for dead letter entries.
type Store interface {
	// AddEntry persists a new entry.
	AddEntry(ctx context.Context, entry *Entry) error

	// UpdateEntry modifies an entry (attempts, handled timestamp).
	UpdateEntry(ctx context.Context, entry *Entry) error

	// GetEntry returns an entry by ID.
	GetEntry(ctx context.Context, entryID id.ID) (*Entry, error)

	// ListEntries returns entries, optionally filtered.
	ListEntries(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// PullUnhandled returns up to limit unhandled entries.
	PullUnhandled(ctx context.Context, limit int) ([]*Entry, error)

	// Purge deletes handled entries older than a threshold and returns
	// the number removed.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// CountEntries returns the number of unhandled entries.
	CountEntries(ctx context.Context) (int64, error)
}
