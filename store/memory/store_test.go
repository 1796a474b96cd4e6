package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
	"github.com/hypothesize-tech/courier/store/memory"
	"github.com/hypothesize-tech/courier/subscription"
)

func newSub(userID string, eventTypes ...string) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		UserID:     userID,
		URL:        "https://example.com/hook",
		EventTypes: eventTypes,
		Active:     true,
	}
}

func newDelivery(subID id.ID, status delivery.Status) *delivery.Delivery {
	return &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: subID,
		Attempt:        1,
		Status:         status,
	}
}

func TestPingAfterClose(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, courier.ErrStoreClosed) {
		t.Errorf("ping after close = %v, want ErrStoreClosed", err)
	}
}

func TestResolveMatchesActivePatterns(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	costSub := newSub("user-1", "cost.*")
	allSub := newSub("user-2", "*")
	budgetSub := newSub("user-3", "budget.exceeded")
	inactive := newSub("user-4", "*")
	inactive.Active = false

	for _, sub := range []*subscription.Subscription{costSub, allSub, budgetSub, inactive} {
		if err := s.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	subs, err := s.Resolve(ctx, "cost.alert")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("resolved %d subscriptions, want 2", len(subs))
	}
	for _, sub := range subs {
		if sub.ID == budgetSub.ID || sub.ID == inactive.ID {
			t.Errorf("unexpected match: %s", sub.ID)
		}
	}
}

func TestDeleteSubscriptionCascades(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sub := newSub("user-1", "*")
	other := newSub("user-1", "*")
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateSubscription(ctx, other); err != nil {
		t.Fatalf("create: %v", err)
	}

	mine := newDelivery(sub.ID, delivery.StatusPending)
	theirs := newDelivery(other.ID, delivery.StatusPending)
	if err := s.CreateDeliveryBatch(ctx, []*delivery.Delivery{mine, theirs}); err != nil {
		t.Fatalf("create deliveries: %v", err)
	}

	if err := s.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSubscription(ctx, sub.ID); !errors.Is(err, courier.ErrSubscriptionNotFound) {
		t.Errorf("get deleted = %v, want ErrSubscriptionNotFound", err)
	}
	if _, err := s.GetDelivery(ctx, mine.ID); !errors.Is(err, courier.ErrDeliveryNotFound) {
		t.Error("delivery history not cascaded")
	}
	if _, err := s.GetDelivery(ctx, theirs.ID); err != nil {
		t.Error("unrelated delivery removed")
	}
}

func TestRecordResultMaintainsStats(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sub := newSub("user-1", "*")
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Two successes and one failure with latencies 100, 200, 600.
	for _, r := range []struct {
		ok      bool
		latency int64
	}{
		{true, 100},
		{true, 200},
		{false, 600},
	} {
		if err := s.RecordResult(ctx, sub.ID, r.ok, r.latency); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	st := got.Stats
	if st.TotalDeliveries != 3 || st.SuccessCount != 2 || st.FailureCount != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.AvgResponseMs != 300 {
		t.Errorf("avg response = %v, want 300", st.AvgResponseMs)
	}
	if st.LastSuccessAt == nil || st.LastFailureAt == nil {
		t.Error("last success/failure timestamps not set")
	}
}

func TestCountFailuresSinceWindow(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sub := newSub("user-1", "*")
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	for range 3 {
		if err := s.RecordResult(ctx, sub.ID, false, 0); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	count, err := s.CountFailuresSince(ctx, sub.ID, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	// A window starting in the future prunes everything.
	count, err = s.CountFailuresSince(ctx, sub.ID, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}

	// Pruned entries stay gone even for a generous window.
	count, _ = s.CountFailuresSince(ctx, sub.ID, time.Now().UTC().Add(-time.Hour))
	if count != 0 {
		t.Errorf("count = %d after prune, want 0", count)
	}
}

func TestListBySubscriptionStatusFilter(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sub := newSub("user-1", "*")
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.CreateDeliveryBatch(ctx, []*delivery.Delivery{
		newDelivery(sub.ID, delivery.StatusPending),
		newDelivery(sub.ID, delivery.StatusSuccess),
		newDelivery(sub.ID, delivery.StatusFailed),
	}); err != nil {
		t.Fatalf("create deliveries: %v", err)
	}

	all, err := s.ListBySubscription(ctx, sub.ID, delivery.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("listed %d deliveries, want 3", len(all))
	}

	failed := delivery.StatusFailed
	got, err := s.ListBySubscription(ctx, sub.ID, delivery.ListOpts{Status: &failed})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(got) != 1 || got[0].Status != delivery.StatusFailed {
		t.Errorf("status filter returned %d deliveries", len(got))
	}
}

func TestListDuePending(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sub := newSub("user-1", "*")
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	due := newDelivery(sub.ID, delivery.StatusPending)
	future := newDelivery(sub.ID, delivery.StatusPending)
	later := time.Now().UTC().Add(time.Hour)
	future.NextRetryAt = &later
	done := newDelivery(sub.ID, delivery.StatusSuccess)

	if err := s.CreateDeliveryBatch(ctx, []*delivery.Delivery{due, future, done}); err != nil {
		t.Fatalf("create deliveries: %v", err)
	}

	got, err := s.ListDuePending(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("due = %d deliveries", len(got))
	}

	count, err := s.CountPending(ctx)
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if count != 2 {
		t.Errorf("pending count = %d, want 2", count)
	}
}

func TestGetDeliveryReturnsCopy(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	d := newDelivery(id.NewSubscriptionID(), delivery.StatusPending)
	if err := s.CreateDelivery(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Status = delivery.StatusFailed

	again, err := s.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.Status != delivery.StatusPending {
		t.Error("mutation through a returned copy leaked into the store")
	}
}

func TestListEventsFilters(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	old := &event.Event{Entity: entity.New(), ID: id.NewEventID(), Type: "cost.alert", UserID: "user-2"}
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	for _, e := range []*event.Event{
		{Entity: entity.New(), ID: id.NewEventID(), Type: "cost.alert", UserID: "user-1", OccurredAt: time.Now().UTC()},
		{Entity: entity.New(), ID: id.NewEventID(), Type: "budget.exceeded", UserID: "user-1", OccurredAt: time.Now().UTC()},
		old,
	} {
		if err := s.CreateEvent(ctx, e); err != nil {
			t.Fatalf("create event: %v", err)
		}
	}

	got, err := s.ListEvents(ctx, event.ListOpts{Type: "cost.alert"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("type filter returned %d events, want 2", len(got))
	}

	got, err = s.ListEventsByUser(ctx, "user-1", event.ListOpts{})
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("user filter returned %d events, want 2", len(got))
	}

	from := time.Now().UTC().Add(-time.Hour)
	got, err = s.ListEvents(ctx, event.ListOpts{From: &from})
	if err != nil {
		t.Fatalf("list from: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("from filter returned %d events, want 2", len(got))
	}
}

func TestListSubscriptionsActiveFilterAndPagination(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for i := range 5 {
		sub := newSub("user-1", "*")
		sub.Active = i%2 == 0
		if err := s.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	active := true
	got, err := s.ListSubscriptions(ctx, "user-1", subscription.ListOpts{Active: &active})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("active filter returned %d, want 3", len(got))
	}

	got, err = s.ListSubscriptions(ctx, "user-1", subscription.ListOpts{Offset: 2, Limit: 2})
	if err != nil {
		t.Fatalf("list paginated: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("pagination returned %d, want 2", len(got))
	}
}
