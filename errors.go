package courier

import (
	"errors"

	"github.com/hypothesize-tech/courier/subscription"
)

// Sentinel errors returned by Courier operations.
var (
	// ErrNoStore is returned when a Courier is created without a store.
	ErrNoStore = errors.New("courier: store is required")

	// ErrSubscriptionNotFound is returned when a subscription cannot be
	// found. It is the subscription package's sentinel, re-exported so
	// callers only need the root package.
	ErrSubscriptionNotFound = subscription.ErrNotFound

	// ErrSubscriptionInactive is returned when an operation requires an
	// active subscription.
	ErrSubscriptionInactive = errors.New("courier: subscription is inactive")

	// ErrEventTypeNotFound is returned when an event type is not registered in the catalog.
	ErrEventTypeNotFound = errors.New("courier: event type not found")

	// ErrEventTypeDeprecated is returned when emitting an event with a deprecated type.
	ErrEventTypeDeprecated = errors.New("courier: event type is deprecated")

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = errors.New("courier: event not found")

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = errors.New("courier: delivery not found")

	// ErrDeadLetterNotFound is returned when a dead letter entry cannot be found.
	ErrDeadLetterNotFound = errors.New("courier: dead letter entry not found")

	// ErrStoreClosed is returned when a store operation is attempted after Close.
	ErrStoreClosed = errors.New("courier: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("courier: migration failed")
)
