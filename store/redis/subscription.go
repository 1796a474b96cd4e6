package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/catalog"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
	"github.com/hypothesize-tech/courier/subscription"
)

// subscriptionModel is the JSON representation stored in Redis. Secret is
// stored explicitly because the domain type never serializes it.
type subscriptionModel struct {
	ID                string                     `json:"id"`
	UserID            string                     `json:"user_id"`
	URL               string                     `json:"url"`
	Description       string                     `json:"description,omitempty"`
	EventTypes        []string                   `json:"event_types"`
	Active            bool                       `json:"active"`
	Auth              subscription.Auth          `json:"auth"`
	Filters           subscription.Filters       `json:"filters"`
	Headers           map[string]string          `json:"headers,omitempty"`
	Secret            string                     `json:"secret"`
	Template          string                     `json:"template,omitempty"`
	Retry             subscription.RetryPolicy   `json:"retry"`
	Timeout           time.Duration              `json:"timeout"`
	RateLimit         int                        `json:"rate_limit"`
	Version           string                     `json:"version"`
	Stats             subscription.Stats         `json:"stats"`
	DeactivatedReason string                     `json:"deactivated_reason,omitempty"`
	DeactivatedAt     *time.Time                 `json:"deactivated_at,omitempty"`
	Metadata          map[string]string          `json:"metadata,omitempty"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                sub.ID.String(),
		UserID:            sub.UserID,
		URL:               sub.URL,
		Description:       sub.Description,
		EventTypes:        sub.EventTypes,
		Active:            sub.Active,
		Auth:              sub.Auth,
		Filters:           sub.Filters,
		Headers:           sub.Headers,
		Secret:            sub.Secret,
		Template:          sub.Template,
		Retry:             sub.Retry,
		Timeout:           sub.Timeout,
		RateLimit:         sub.RateLimit,
		Version:           sub.Version,
		Stats:             sub.Stats,
		DeactivatedReason: sub.DeactivatedReason,
		DeactivatedAt:     sub.DeactivatedAt,
		Metadata:          sub.Metadata,
		CreatedAt:         sub.CreatedAt,
		UpdatedAt:         sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                subID,
		UserID:            m.UserID,
		URL:               m.URL,
		Description:       m.Description,
		EventTypes:        m.EventTypes,
		Active:            m.Active,
		Auth:              m.Auth,
		Filters:           m.Filters,
		Headers:           m.Headers,
		Secret:            m.Secret,
		Template:          m.Template,
		Retry:             m.Retry,
		Timeout:           m.Timeout,
		RateLimit:         m.RateLimit,
		Version:           m.Version,
		Stats:             m.Stats,
		DeactivatedReason: m.DeactivatedReason,
		DeactivatedAt:     m.DeactivatedAt,
		Metadata:          m.Metadata,
	}, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	key := entityKey(prefixSub, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("courier/redis: create subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zSubAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.ZAdd(ctx, zSubUser+m.UserID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if m.Active {
		pipe.SAdd(ctx, sSubActive, m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: create subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSub, subID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, courier.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("courier/redis: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := entityKey(prefixSub, sub.ID.String())

	var existing subscriptionModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return courier.ErrSubscriptionNotFound
		}
		return fmt.Errorf("courier/redis: update subscription get: %w", err)
	}

	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("courier/redis: update subscription: %w", err)
	}

	if m.Active {
		s.rdb.SAdd(ctx, sSubActive, m.ID)
	} else {
		s.rdb.SRem(ctx, sSubActive, m.ID)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	key := entityKey(prefixSub, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return courier.ErrSubscriptionNotFound
		}
		return fmt.Errorf("courier/redis: delete subscription get: %w", err)
	}

	// Cascade the delivery history for this subscription.
	delIDs, err := s.rdb.ZRange(ctx, zDeliverySub+m.ID, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: delete subscription history: %w", err)
	}

	pipe := s.rdb.Pipeline()
	for _, delID := range delIDs {
		pipe.Del(ctx, entityKey(prefixDelivery, delID))
		pipe.ZRem(ctx, zDeliveryPend, delID)
	}
	pipe.Del(ctx, zDeliverySub+m.ID)
	pipe.Del(ctx, zSubFailures+m.ID)
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, zSubAll, m.ID)
	pipe.ZRem(ctx, zSubUser+m.UserID, m.ID)
	pipe.SRem(ctx, sSubActive, m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: delete subscription: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubUser+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSub, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Active != nil && m.Active != *opts.Active {
			continue
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) Resolve(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.SMembers(ctx, sSubActive).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: resolve: %w", err)
	}

	var result []*subscription.Subscription
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSub, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		for _, pattern := range m.EventTypes {
			if catalog.Match(pattern, eventType) {
				sub, err := fromSubscriptionModel(&m)
				if err != nil {
					return nil, err
				}
				result = append(result, sub)
				break
			}
		}
	}
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool, reason string) error {
	key := entityKey(prefixSub, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return courier.ErrSubscriptionNotFound
		}
		return fmt.Errorf("courier/redis: set active get: %w", err)
	}

	t := now()
	m.Active = active
	m.UpdatedAt = t
	if active {
		m.DeactivatedReason = ""
		m.DeactivatedAt = nil
	} else {
		m.DeactivatedReason = reason
		m.DeactivatedAt = &t
	}

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("courier/redis: set active: %w", err)
	}
	if active {
		s.rdb.SAdd(ctx, sSubActive, m.ID)
	} else {
		s.rdb.SRem(ctx, sSubActive, m.ID)
	}
	return nil
}

func (s *Store) RecordResult(ctx context.Context, subID id.ID, success bool, latencyMs int64) error {
	key := entityKey(prefixSub, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return courier.ErrSubscriptionNotFound
		}
		return fmt.Errorf("courier/redis: record result get: %w", err)
	}

	t := now()
	m.Stats.TotalDeliveries++
	if success {
		m.Stats.SuccessCount++
		m.Stats.LastSuccessAt = &t
	} else {
		m.Stats.FailureCount++
		m.Stats.LastFailureAt = &t
	}
	m.Stats.AvgResponseMs += (float64(latencyMs) - m.Stats.AvgResponseMs) / float64(m.Stats.TotalDeliveries)
	m.UpdatedAt = t

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("courier/redis: record result: %w", err)
	}

	if !success {
		member := fmt.Sprintf("%d", t.UnixNano())
		s.rdb.ZAdd(ctx, zSubFailures+m.ID, goredis.Z{Score: scoreFromTime(t), Member: member})
	}
	return nil
}

func (s *Store) CountFailuresSince(ctx context.Context, subID id.ID, since time.Time) (int64, error) {
	key := zSubFailures + subID.String()

	// Drop entries older than the window while counting the rest.
	s.rdb.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%f", scoreFromTime(since)))

	count, err := s.rdb.ZCount(ctx, key, fmt.Sprintf("%f", scoreFromTime(since)), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: count failures: %w", err)
	}
	return count, nil
}
