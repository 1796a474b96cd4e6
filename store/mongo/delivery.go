package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/id"
)

// CreateDelivery persists a new delivery record.
func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: create delivery: %w", err)
	}

	return nil
}

// CreateDeliveryBatch persists multiple deliveries (fan-out).
func (s *Store) CreateDeliveryBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	models := make([]deliveryModel, len(ds))
	for i, d := range ds {
		models[i] = *toDeliveryModel(d)
	}

	_, err := s.mdb.NewInsert(&models).Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: create delivery batch: %w", err)
	}

	return nil
}

// UpdateDelivery modifies a delivery.
func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: update delivery: %w", err)
	}

	if res.MatchedCount() == 0 {
		return courier.ErrDeliveryNotFound
	}

	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	var m deliveryModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": delID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, courier.ErrDeliveryNotFound
		}

		return nil, fmt.Errorf("courier/mongo: get delivery: %w", err)
	}

	return fromDeliveryModel(&m)
}

// ListBySubscription returns delivery history for a subscription.
func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel

	filter := bson.M{"subscription_id": subID.String()}
	if opts.Status != nil {
		filter["status"] = string(*opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list by subscription: %w", err)
	}

	return collectDeliveries(models)
}

// ListByEvent returns all deliveries for a specific event.
func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	var models []deliveryModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"event_id": evtID.String()}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list by event: %w", err)
	}

	return collectDeliveries(models)
}

// ListDuePending returns pending deliveries whose scheduled time has
// passed, oldest first, for startup recovery.
func (s *Store) ListDuePending(ctx context.Context, before time.Time, limit int) ([]*delivery.Delivery, error) {
	var models []deliveryModel

	filter := bson.M{
		"status": string(delivery.StatusPending),
		"$or": []bson.M{
			{"next_retry_at": nil},
			{"next_retry_at": bson.M{"$lte": before}},
		},
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list due pending: %w", err)
	}

	return collectDeliveries(models)
}

// CountPending returns the number of deliveries awaiting attempt.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.mdb.NewFind((*deliveryModel)(nil)).
		Filter(bson.M{"status": string(delivery.StatusPending)}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/mongo: count pending: %w", err)
	}

	return count, nil
}

func collectDeliveries(models []deliveryModel) ([]*delivery.Delivery, error) {
	result := make([]*delivery.Delivery, 0, len(models))

	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, d)
	}

	return result, nil
}
