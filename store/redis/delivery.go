package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
)

// deliveryModel is the JSON representation stored in Redis.
type deliveryModel struct {
	ID             string                     `json:"id"`
	SubscriptionID string                     `json:"subscription_id"`
	UserID         string                     `json:"user_id"`
	EventID        string                     `json:"event_id"`
	EventType      string                     `json:"event_type"`
	Event          *event.Event               `json:"event,omitempty"`
	Attempt        int                        `json:"attempt"`
	Status         string                     `json:"status"`
	RetriesLeft    int                        `json:"retries_left"`
	NextRetryAt    *time.Time                 `json:"next_retry_at,omitempty"`
	Body           []byte                     `json:"body,omitempty"`
	Request        *delivery.RequestSnapshot  `json:"request,omitempty"`
	Response       *delivery.ResponseSnapshot `json:"response,omitempty"`
	Error          *delivery.ErrorInfo        `json:"error,omitempty"`
	CompletedAt    *time.Time                 `json:"completed_at,omitempty"`
	Metadata       map[string]string          `json:"metadata,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		SubscriptionID: d.SubscriptionID.String(),
		UserID:         d.UserID,
		EventID:        d.EventID.String(),
		EventType:      d.EventType,
		Event:          d.Event,
		Attempt:        d.Attempt,
		Status:         string(d.Status),
		RetriesLeft:    d.RetriesLeft,
		NextRetryAt:    d.NextRetryAt,
		Body:           d.Body,
		Request:        d.Request,
		Response:       d.Response,
		Error:          d.Error,
		CompletedAt:    d.CompletedAt,
		Metadata:       d.Metadata,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             delID,
		SubscriptionID: subID,
		UserID:         m.UserID,
		EventID:        evtID,
		EventType:      m.EventType,
		Event:          m.Event,
		Attempt:        m.Attempt,
		Status:         delivery.Status(m.Status),
		RetriesLeft:    m.RetriesLeft,
		NextRetryAt:    m.NextRetryAt,
		Body:           m.Body,
		Request:        m.Request,
		Response:       m.Response,
		Error:          m.Error,
		CompletedAt:    m.CompletedAt,
		Metadata:       m.Metadata,
	}, nil
}

// deliveryIndexes adds one delivery to its sorted set indexes.
func deliveryIndexes(ctx context.Context, pipe goredis.Pipeliner, m *deliveryModel) {
	pipe.ZAdd(ctx, zDeliverySub+m.SubscriptionID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.ZAdd(ctx, zDeliveryEvt+m.EventID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if m.Status == string(delivery.StatusPending) && m.NextRetryAt != nil {
		pipe.ZAdd(ctx, zDeliveryPend, goredis.Z{Score: scoreFromTime(*m.NextRetryAt), Member: m.ID})
	} else if m.Status == string(delivery.StatusPending) {
		pipe.ZAdd(ctx, zDeliveryPend, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	}
}

func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	key := entityKey(prefixDelivery, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("courier/redis: create delivery: %w", err)
	}

	pipe := s.rdb.Pipeline()
	deliveryIndexes(ctx, pipe, m)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: create delivery indexes: %w", err)
	}
	return nil
}

func (s *Store) CreateDeliveryBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, d := range ds {
		m := toDeliveryModel(d)
		raw, err := marshalEntity(m)
		if err != nil {
			return fmt.Errorf("courier/redis: create delivery batch marshal: %w", err)
		}
		pipe.Set(ctx, entityKey(prefixDelivery, m.ID), raw, 0)
		deliveryIndexes(ctx, pipe, m)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: create delivery batch: %w", err)
	}
	return nil
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = now()
	key := entityKey(prefixDelivery, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("courier/redis: update delivery: %w", err)
	}

	// Terminal deliveries leave the pending set.
	if d.Status != delivery.StatusPending {
		s.rdb.ZRem(ctx, zDeliveryPend, m.ID)
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	var m deliveryModel
	if err := s.getEntity(ctx, entityKey(prefixDelivery, delID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, courier.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("courier/redis: get delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliverySub+subID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list by subscription: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && delivery.Status(m.Status) != *opts.Status {
			continue
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliveryEvt+evtID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list by event: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

func (s *Store) ListDuePending(ctx context.Context, before time.Time, limit int) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, zDeliveryPend, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", scoreFromTime(before)),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list due pending: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for _, entryID := range ids {
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDeliveryPend).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: count pending: %w", err)
	}
	return count, nil
}
