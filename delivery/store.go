package delivery

import (
	"context"
	"time"

	"github.com/hypothesize-tech/courier/id"
)

// Store defines the persistence contract for delivery audit records.
// Scheduling is the queue's job; the store only holds history.
type Store interface {
	// CreateDelivery persists a new delivery record.
	CreateDelivery(ctx context.Context, d *Delivery) error

	// CreateDeliveryBatch persists multiple deliveries (fan-out).
	CreateDeliveryBatch(ctx context.Context, ds []*Delivery) error

	// UpdateDelivery modifies a delivery (status, snapshots, error info).
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery returns a delivery by ID.
	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// ListBySubscription returns delivery history for a subscription,
	// newest first.
	ListBySubscription(ctx context.Context, subID id.ID, opts ListOpts) ([]*Delivery, error)

	// ListByEvent returns all deliveries for a specific event.
	ListByEvent(ctx context.Context, evtID id.ID) ([]*Delivery, error)

	// ListDuePending returns pending deliveries whose scheduled time has
	// passed, for startup recovery after an unclean shutdown.
	ListDuePending(ctx context.Context, before time.Time, limit int) ([]*Delivery, error)

	// CountPending returns the number of deliveries awaiting attempt.
	CountPending(ctx context.Context) (int64, error)
}
