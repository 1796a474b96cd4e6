// Package store defines the composite Store interface for all Courier
// persistence.
//
// Each subsystem defines its own store interface next to its domain
// types; the aggregate Store composes them all, so a driver implements
// one interface and every service sees only the slice it needs.
package store

import (
	"context"

	"github.com/hypothesize-tech/courier/catalog"
	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/dlq"
	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/subscription"
)

// Store is the aggregate persistence interface.
type Store interface {
	catalog.Store
	subscription.Store
	event.Store
	delivery.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
