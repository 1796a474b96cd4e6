package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/hypothesize-tech/courier/id"
)

// ErrNotFound is returned by stores when a subscription does not exist.
// Store errors that do not match it are treated as transient.
var ErrNotFound = errors.New("courier: subscription not found")

// Store defines the persistence contract for webhook subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription modifies an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription and cascades deletion of
	// its delivery history.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns subscriptions for a user, optionally filtered.
	ListSubscriptions(ctx context.Context, userID string, opts ListOpts) ([]*Subscription, error)

	// Resolve finds active subscriptions whose event type patterns match
	// an event type. This is the hot path — called on every dispatch.
	// Static and custom filters are applied by the caller via Matches.
	Resolve(ctx context.Context, eventType string) ([]*Subscription, error)

	// SetActive enables or disables a subscription without deleting it,
	// recording the reason when deactivating.
	SetActive(ctx context.Context, subID id.ID, active bool, reason string) error

	// RecordResult folds one delivery outcome into the subscription's
	// rolling statistics (counts, last timestamps, incremental average
	// response time). Last-writer-wins; no cross-process locking.
	RecordResult(ctx context.Context, subID id.ID, success bool, latencyMs int64) error

	// CountFailuresSince returns the number of terminally failed
	// deliveries for a subscription after the given instant. Used by the
	// chronic-failure health check.
	CountFailuresSince(ctx context.Context, subID id.ID, since time.Time) (int64, error)
}
