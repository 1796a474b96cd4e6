// Package memory provides an in-memory Store implementation for unit
// testing and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/catalog"
	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/dlq"
	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/id"
	courierstore "github.com/hypothesize-tech/courier/store"
	"github.com/hypothesize-tech/courier/subscription"
)

// compile-time interface check.
var _ courierstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	eventTypes     map[string]*catalog.EventType          // keyed by name
	eventTypesByID map[string]*catalog.EventType          // keyed by ID string
	subscriptions  map[string]*subscription.Subscription  // keyed by ID string
	events         map[string]*event.Event                // keyed by ID string
	deliveries     map[string]*delivery.Delivery          // keyed by ID string
	failureLog     map[string][]time.Time                 // subscription ID -> failure instants
	dlqEntries     map[string]*dlq.Entry                  // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		eventTypes:     make(map[string]*catalog.EventType),
		eventTypesByID: make(map[string]*catalog.EventType),
		subscriptions:  make(map[string]*subscription.Subscription),
		events:         make(map[string]*event.Event),
		deliveries:     make(map[string]*delivery.Delivery),
		failureLog:     make(map[string][]time.Time),
		dlqEntries:     make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return courier.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// catalog.Store
// ──────────────────────────────────────────────────

// RegisterType creates or updates an event type definition (upsert by name).
func (s *Store) RegisterType(_ context.Context, et *catalog.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.eventTypes[et.Definition.Name]; ok {
		existing.Definition = et.Definition
		existing.UpdatedAt = time.Now().UTC()
		existing.Metadata = et.Metadata
		et.ID = existing.ID
		return nil
	}

	s.eventTypes[et.Definition.Name] = et
	s.eventTypesByID[et.ID.String()] = et
	return nil
}

// GetType returns an event type by name.
func (s *Store) GetType(_ context.Context, name string) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return nil, courier.ErrEventTypeNotFound
	}
	return et, nil
}

// GetTypeByID returns an event type by its TypeID.
func (s *Store) GetTypeByID(_ context.Context, etID id.ID) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypesByID[etID.String()]
	if !ok {
		return nil, courier.ErrEventTypeNotFound
	}
	return et, nil
}

// ListTypes returns all registered event types, optionally filtered.
func (s *Store) ListTypes(_ context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.EventType, 0, len(s.eventTypes))
	for _, et := range s.eventTypes {
		if !opts.IncludeDeprecated && et.IsDeprecated {
			continue
		}
		if opts.Group != "" && et.Definition.Group != opts.Group {
			continue
		}
		result = append(result, et)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.Name < result[j].Definition.Name
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// DeleteType soft-deletes (deprecates) an event type.
func (s *Store) DeleteType(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return courier.ErrEventTypeNotFound
	}

	now := time.Now().UTC()
	et.IsDeprecated = true
	et.DeprecatedAt = &now
	et.UpdatedAt = now
	return nil
}

// MatchTypes returns event types matching a glob pattern.
func (s *Store) MatchTypes(_ context.Context, pattern string) ([]*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*catalog.EventType
	for _, et := range s.eventTypes {
		if et.IsDeprecated {
			continue
		}
		if catalog.Match(pattern, et.Definition.Name) {
			result = append(result, et)
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = sub
	return nil
}

// GetSubscription returns a copy of the subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, courier.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID.String()]; !ok {
		return courier.ErrSubscriptionNotFound
	}
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[sub.ID.String()] = sub
	return nil
}

// DeleteSubscription removes a subscription and its delivery history.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subID.String()
	if _, ok := s.subscriptions[key]; !ok {
		return courier.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, key)
	delete(s.failureLog, key)

	for delKey, d := range s.deliveries {
		if d.SubscriptionID.String() == key {
			delete(s.deliveries, delKey)
		}
	}
	return nil
}

// ListSubscriptions returns subscriptions for a user, optionally filtered.
func (s *Store) ListSubscriptions(_ context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}
		result = append(result, sub)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// Resolve finds all active subscriptions whose patterns match an event type.
func (s *Store) Resolve(_ context.Context, eventType string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if !sub.Active {
			continue
		}
		for _, pattern := range sub.EventTypes {
			if catalog.Match(pattern, eventType) {
				cp := *sub
				result = append(result, &cp)
				break
			}
		}
	}
	return result, nil
}

// SetActive enables or disables a subscription.
func (s *Store) SetActive(_ context.Context, subID id.ID, active bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return courier.ErrSubscriptionNotFound
	}

	now := time.Now().UTC()
	sub.Active = active
	sub.UpdatedAt = now
	if active {
		sub.DeactivatedReason = ""
		sub.DeactivatedAt = nil
	} else {
		sub.DeactivatedReason = reason
		sub.DeactivatedAt = &now
	}
	return nil
}

// RecordResult folds one delivery outcome into the subscription's stats.
func (s *Store) RecordResult(_ context.Context, subID id.ID, success bool, latencyMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return courier.ErrSubscriptionNotFound
	}

	now := time.Now().UTC()
	st := &sub.Stats
	st.TotalDeliveries++
	if success {
		st.SuccessCount++
		st.LastSuccessAt = &now
	} else {
		st.FailureCount++
		st.LastFailureAt = &now
		s.failureLog[subID.String()] = append(s.failureLog[subID.String()], now)
	}
	// Incremental mean over all recorded deliveries.
	st.AvgResponseMs += (float64(latencyMs) - st.AvgResponseMs) / float64(st.TotalDeliveries)
	sub.UpdatedAt = now
	return nil
}

// CountFailuresSince returns the number of failures after the given instant.
func (s *Store) CountFailuresSince(_ context.Context, subID id.ID, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.failureLog[subID.String()]

	// Prune entries that can never match again.
	kept := log[:0]
	var count int64
	for _, at := range log {
		if at.Before(since) {
			continue
		}
		kept = append(kept, at)
		count++
	}
	s.failureLog[subID.String()] = kept
	return count, nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[evt.ID.String()] = evt
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, courier.ErrEventNotFound
	}
	return evt, nil
}

// ListEvents returns events, optionally filtered.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if !matchEventOpts(evt, opts) {
			continue
		}
		result = append(result, evt)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListEventsByUser returns events raised for a specific user.
func (s *Store) ListEventsByUser(_ context.Context, userID string, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if evt.UserID != userID {
			continue
		}
		if !matchEventOpts(evt, opts) {
			continue
		}
		result = append(result, evt)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateDelivery persists a new delivery record.
func (s *Store) CreateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries[d.ID.String()] = d
	return nil
}

// CreateDeliveryBatch persists multiple deliveries.
func (s *Store) CreateDeliveryBatch(_ context.Context, ds []*delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range ds {
		s.deliveries[d.ID.String()] = d
	}
	return nil
}

// copyDelivery returns a shallow copy of the delivery.
func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	return &cp
}

// UpdateDelivery modifies a delivery.
func (s *Store) UpdateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deliveries[d.ID.String()]; !ok {
		return courier.ErrDeliveryNotFound
	}
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[d.ID.String()] = copyDelivery(d)
	return nil
}

// GetDelivery returns a copy of the delivery by ID.
func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, courier.ErrDeliveryNotFound
	}
	return copyDelivery(d), nil
}

// ListBySubscription returns delivery history for a subscription.
func (s *Store) ListBySubscription(_ context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.Status != nil && d.Status != *opts.Status {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListByEvent returns all deliveries for a specific event.
func (s *Store) ListByEvent(_ context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.EventID.String() != evtID.String() {
			continue
		}
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// ListDuePending returns pending deliveries whose scheduled time has passed.
func (s *Store) ListDuePending(_ context.Context, before time.Time, limit int) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.Status != delivery.StatusPending {
			continue
		}
		if d.NextRetryAt != nil && d.NextRetryAt.After(before) {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// CountPending returns the number of deliveries awaiting attempt.
func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, d := range s.deliveries {
		if d.Status == delivery.StatusPending {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// AddEntry persists a new dead letter entry.
func (s *Store) AddEntry(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// UpdateEntry modifies a dead letter entry.
func (s *Store) UpdateEntry(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dlqEntries[entry.ID.String()]; !ok {
		return courier.ErrDeadLetterNotFound
	}
	entry.UpdatedAt = time.Now().UTC()
	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// GetEntry returns a dead letter entry by ID.
func (s *Store) GetEntry(_ context.Context, entryID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[entryID.String()]
	if !ok {
		return nil, courier.ErrDeadLetterNotFound
	}
	return e, nil
}

// ListEntries returns dead letter entries, optionally filtered.
func (s *Store) ListEntries(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		if opts.Operation != "" && e.Operation != opts.Operation {
			continue
		}
		if opts.UserID != "" && e.UserID != opts.UserID {
			continue
		}
		if opts.Unhandled && e.Handled() {
			continue
		}
		if opts.From != nil && e.RaisedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && e.RaisedAt.After(*opts.To) {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RaisedAt.After(result[j].RaisedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// PullUnhandled returns up to limit unhandled entries, oldest first.
func (s *Store) PullUnhandled(_ context.Context, limit int) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*dlq.Entry
	for _, e := range s.dlqEntries {
		if e.Handled() {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RaisedAt.Before(result[j].RaisedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Purge deletes handled entries older than a threshold.
func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlqEntries {
		if !e.Handled() {
			continue
		}
		if e.RaisedAt.Before(before) {
			delete(s.dlqEntries, k)
			count++
		}
	}
	return count, nil
}

// CountEntries returns the number of unhandled entries.
func (s *Store) CountEntries(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, e := range s.dlqEntries {
		if !e.Handled() {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func matchEventOpts(evt *event.Event, opts event.ListOpts) bool {
	if opts.Type != "" && evt.Type != opts.Type {
		return false
	}
	if opts.From != nil && evt.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && evt.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
