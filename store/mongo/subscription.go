package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/catalog"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/subscription"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: create subscription: %w", err)
	}

	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, courier.ErrSubscriptionNotFound
		}

		return nil, fmt.Errorf("courier/mongo: get subscription: %w", err)
	}

	return fromSubscriptionModel(&m)
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: update subscription: %w", err)
	}

	if res.MatchedCount() == 0 {
		return courier.ErrSubscriptionNotFound
	}

	return nil
}

// DeleteSubscription removes a subscription along with its delivery
// history and failure log.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	if _, err := s.mdb.NewDelete((*deliveryModel)(nil)).
		Many().
		Filter(bson.M{"subscription_id": subID.String()}).
		Exec(ctx); err != nil {
		return fmt.Errorf("courier/mongo: delete subscription deliveries: %w", err)
	}

	if _, err := s.mdb.NewDelete((*failureModel)(nil)).
		Many().
		Filter(bson.M{"subscription_id": subID.String()}).
		Exec(ctx); err != nil {
		return fmt.Errorf("courier/mongo: delete subscription failures: %w", err)
	}

	res, err := s.mdb.NewDelete((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: delete subscription: %w", err)
	}

	if res.DeletedCount() == 0 {
		return courier.ErrSubscriptionNotFound
	}

	return nil
}

// ListSubscriptions returns subscriptions for a user, optionally filtered.
func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{"user_id": userID}
	if opts.Active != nil {
		filter["active"] = *opts.Active
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(models))

	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, sub)
	}

	return result, nil
}

// Resolve finds all active subscriptions whose patterns match an event type.
func (s *Store) Resolve(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"active": true}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: resolve: %w", err)
	}

	var result []*subscription.Subscription

	for i := range models {
		for _, pattern := range models[i].EventTypes {
			if catalog.Match(pattern, eventType) {
				sub, err := fromSubscriptionModel(&models[i])
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

// SetActive enables or disables a subscription, recording the reason
// when deactivating.
func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool, reason string) error {
	t := now()

	q := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Set("active", active).
		Set("updated_at", t)

	if active {
		q = q.Set("deactivated_reason", "").Set("deactivated_at", nil)
	} else {
		q = q.Set("deactivated_reason", reason).Set("deactivated_at", t)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: set active: %w", err)
	}

	if res.MatchedCount() == 0 {
		return courier.ErrSubscriptionNotFound
	}

	return nil
}

// RecordResult folds one delivery outcome into the subscription's
// rolling statistics. Last-writer-wins.
func (s *Store) RecordResult(ctx context.Context, subID id.ID, success bool, latencyMs int64) error {
	sub, err := s.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	t := now()
	st := sub.Stats
	st.TotalDeliveries++
	if success {
		st.SuccessCount++
		st.LastSuccessAt = &t
	} else {
		st.FailureCount++
		st.LastFailureAt = &t
	}
	st.AvgResponseMs += (float64(latencyMs) - st.AvgResponseMs) / float64(st.TotalDeliveries)
	sub.Stats = st

	m := toSubscriptionModel(sub)
	if _, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Set("stats", m.Stats).
		Set("updated_at", t).
		Exec(ctx); err != nil {
		return fmt.Errorf("courier/mongo: record result: %w", err)
	}

	if !success {
		f := &failureModel{
			ID:             bson.NewObjectID().Hex(),
			SubscriptionID: subID.String(),
			FailedAt:       t,
		}
		if _, err := s.mdb.NewInsert(f).Exec(ctx); err != nil {
			return fmt.Errorf("courier/mongo: record failure: %w", err)
		}
	}

	return nil
}

// CountFailuresSince returns the number of failed deliveries for a
// subscription after the given instant, pruning aged-out entries.
func (s *Store) CountFailuresSince(ctx context.Context, subID id.ID, since time.Time) (int64, error) {
	if _, err := s.mdb.NewDelete((*failureModel)(nil)).
		Many().
		Filter(bson.M{
			"subscription_id": subID.String(),
			"failed_at":       bson.M{"$lt": since},
		}).
		Exec(ctx); err != nil {
		return 0, fmt.Errorf("courier/mongo: prune failures: %w", err)
	}

	count, err := s.mdb.NewFind((*failureModel)(nil)).
		Filter(bson.M{
			"subscription_id": subID.String(),
			"failed_at":       bson.M{"$gte": since},
		}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/mongo: count failures: %w", err)
	}

	return count, nil
}
