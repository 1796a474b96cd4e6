package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/dlq"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
)

// dlqModel is the JSON representation stored in Redis.
type dlqModel struct {
	ID        string            `json:"id"`
	Operation string            `json:"operation"`
	Request   any               `json:"request,omitempty"`
	Response  any               `json:"response,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Error     string            `json:"error"`
	Attempts  int               `json:"attempts"`
	RaisedAt  time.Time         `json:"raised_at"`
	HandledAt *time.Time        `json:"handled_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func toDLQModel(e *dlq.Entry) *dlqModel {
	return &dlqModel{
		ID:        e.ID.String(),
		Operation: e.Operation,
		Request:   e.Request,
		Response:  e.Response,
		UserID:    e.UserID,
		Metadata:  e.Metadata,
		Error:     e.Error,
		Attempts:  e.Attempts,
		RaisedAt:  e.RaisedAt,
		HandledAt: e.HandledAt,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDeadLetterID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse dead letter ID %q: %w", m.ID, err)
	}
	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        entryID,
		Operation: m.Operation,
		Request:   m.Request,
		Response:  m.Response,
		UserID:    m.UserID,
		Metadata:  m.Metadata,
		Error:     m.Error,
		Attempts:  m.Attempts,
		RaisedAt:  m.RaisedAt,
		HandledAt: m.HandledAt,
	}, nil
}

func (s *Store) AddEntry(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQModel(entry)
	key := entityKey(prefixDLQ, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("courier/redis: add dead letter: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zDLQAll, goredis.Z{Score: scoreFromTime(m.RaisedAt), Member: m.ID})
	pipe.ZAdd(ctx, zDLQUnhandled, goredis.Z{Score: scoreFromTime(m.RaisedAt), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: add dead letter indexes: %w", err)
	}
	return nil
}

func (s *Store) UpdateEntry(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQModel(entry)
	m.UpdatedAt = now()
	key := entityKey(prefixDLQ, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("courier/redis: update dead letter: %w", err)
	}
	if entry.Handled() {
		s.rdb.ZRem(ctx, zDLQUnhandled, m.ID)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, entryID id.ID) (*dlq.Entry, error) {
	var m dlqModel
	if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, courier.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("courier/redis: get dead letter: %w", err)
	}
	return fromDLQModel(&m)
}

func (s *Store) ListEntries(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	zKey := zDLQAll
	if opts.Unhandled {
		zKey = zDLQUnhandled
	}

	ids, err := s.rdb.ZRange(ctx, zKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list dead letters: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m dlqModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Operation != "" && m.Operation != opts.Operation {
			continue
		}
		if opts.UserID != "" && m.UserID != opts.UserID {
			continue
		}
		if opts.From != nil && m.RaisedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && m.RaisedAt.After(*opts.To) {
			continue
		}
		e, err := fromDLQModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) PullUnhandled(ctx context.Context, limit int) ([]*dlq.Entry, error) {
	ids, err := s.rdb.ZRange(ctx, zDLQUnhandled, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: pull unhandled: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for _, entryID := range ids {
		var m dlqModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		e, err := fromDLQModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	maxScore := fmt.Sprintf("%f", scoreFromTime(before))
	ids, err := s.rdb.ZRangeByScore(ctx, zDLQAll, &goredis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: purge scan: %w", err)
	}

	var count int64
	pipe := s.rdb.Pipeline()
	for _, entryID := range ids {
		var m dlqModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), &m); err != nil {
			continue
		}
		if m.HandledAt == nil {
			continue
		}
		pipe.Del(ctx, entityKey(prefixDLQ, entryID))
		pipe.ZRem(ctx, zDLQAll, entryID)
		pipe.ZRem(ctx, zDLQUnhandled, entryID)
		count++
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("courier/redis: purge: %w", err)
	}
	return count, nil
}

func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDLQUnhandled).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: count dead letters: %w", err)
	}
	return count, nil
}
