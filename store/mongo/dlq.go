package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/dlq"
	"github.com/hypothesize-tech/courier/id"
)

// AddEntry persists a new dead letter entry.
func (s *Store) AddEntry(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: add dead letter: %w", err)
	}

	return nil
}

// UpdateEntry modifies an entry (attempts, handled timestamp).
func (s *Store) UpdateEntry(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: update dead letter: %w", err)
	}

	if res.MatchedCount() == 0 {
		return courier.ErrDeadLetterNotFound
	}

	return nil
}

// GetEntry returns a dead letter entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.ID) (*dlq.Entry, error) {
	var m dlqEntryModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": entryID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, courier.ErrDeadLetterNotFound
		}

		return nil, fmt.Errorf("courier/mongo: get dead letter: %w", err)
	}

	return fromDLQEntryModel(&m)
}

// ListEntries returns dead letter entries, optionally filtered.
func (s *Store) ListEntries(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel

	filter := bson.M{}
	if opts.Operation != "" {
		filter["operation"] = opts.Operation
	}

	if opts.UserID != "" {
		filter["user_id"] = opts.UserID
	}

	if opts.Unhandled {
		filter["handled_at"] = nil
	}

	if opts.From != nil || opts.To != nil {
		dateFilter := bson.M{}
		if opts.From != nil {
			dateFilter["$gte"] = *opts.From
		}

		if opts.To != nil {
			dateFilter["$lte"] = *opts.To
		}

		filter["raised_at"] = dateFilter
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "raised_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list dead letters: %w", err)
	}

	return collectEntries(models)
}

// PullUnhandled returns up to limit unhandled entries, oldest first.
func (s *Store) PullUnhandled(ctx context.Context, limit int) ([]*dlq.Entry, error) {
	var models []dlqEntryModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{"handled_at": nil}).
		Sort(bson.D{{Key: "raised_at", Value: 1}})

	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: pull unhandled: %w", err)
	}

	return collectEntries(models)
}

// Purge deletes handled entries older than a threshold.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*dlqEntryModel)(nil)).
		Many().
		Filter(bson.M{
			"handled_at": bson.M{"$ne": nil},
			"raised_at":  bson.M{"$lt": before},
		}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/mongo: purge: %w", err)
	}

	return res.DeletedCount(), nil
}

// CountEntries returns the number of unhandled entries.
func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	count, err := s.mdb.NewFind((*dlqEntryModel)(nil)).
		Filter(bson.M{"handled_at": nil}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/mongo: count dead letters: %w", err)
	}

	return count, nil
}

func collectEntries(models []dlqEntryModel) ([]*dlq.Entry, error) {
	result := make([]*dlq.Entry, 0, len(models))

	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, entry)
	}

	return result, nil
}
