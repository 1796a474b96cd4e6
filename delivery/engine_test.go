package delivery_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
	"github.com/hypothesize-tech/courier/queue/memq"
	"github.com/hypothesize-tech/courier/store/memory"
	"github.com/hypothesize-tech/courier/subscription"
)

// captureSink records terminal-failure pushes so tests can assert on the
// fallback path without a full dead-letter service.
type captureSink struct {
	mu     sync.Mutex
	pushes []*delivery.ErrorInfo
}

func (c *captureSink) PushFailed(_ context.Context, _ *delivery.Delivery, info *delivery.ErrorInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes = append(c.pushes, info)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pushes)
}

type engineFixture struct {
	store  *memory.Store
	engine *delivery.Engine
	sink   *captureSink
	cancel context.CancelFunc
}

func newEngineFixture(t *testing.T, cfg delivery.EngineConfig) *engineFixture {
	t.Helper()

	s := memory.New()
	hb := delivery.NewHeaderBuilder(nil, nil, nil)
	sender := delivery.NewSender(hb, 2*time.Second)
	sink := &captureSink{}

	if cfg.Concurrency == 0 {
		cfg.Concurrency = 2
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}

	eng := delivery.NewEngine(s, memq.New(), sender, sink, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	t.Cleanup(func() {
		cancel()
		eng.Stop(context.Background())
	})

	return &engineFixture{store: s, engine: eng, sink: sink, cancel: cancel}
}

func (f *engineFixture) createSubscription(t *testing.T, url string, retry subscription.RetryPolicy) *subscription.Subscription {
	t.Helper()
	sub := &subscription.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		UserID:     "user-1",
		URL:        url,
		Secret:     "whsec_enginetest",
		EventTypes: []string{"*"},
		Active:     true,
		Retry:      retry,
	}
	if err := f.store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func (f *engineFixture) createDelivery(t *testing.T, sub *subscription.Subscription) *delivery.Delivery {
	t.Helper()
	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: sub.ID,
		EventType:      "cost.alert",
		Attempt:        1,
		Status:         delivery.StatusPending,
		RetriesLeft:    sub.Retry.MaxRetries,
		Body:           []byte(`{"amount":42}`),
	}
	if err := f.store.CreateDelivery(context.Background(), d); err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	if err := f.engine.Enqueue(context.Background(), d); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return d
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEngineDeliversSuccessfully(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{})
	sub := f.createSubscription(t, srv.URL, subscription.DefaultRetryPolicy())
	d := f.createDelivery(t, sub)

	waitFor(t, 3*time.Second, func() bool {
		got, err := f.store.GetDelivery(context.Background(), d.ID)
		return err == nil && got.Status == delivery.StatusSuccess
	})

	got, err := f.store.GetDelivery(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if got.Error != nil {
		t.Errorf("unexpected error info: %+v", got.Error)
	}
	if hits.Load() != 1 {
		t.Errorf("target hit %d times, want 1", hits.Load())
	}

	subAfter, err := f.store.GetSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if subAfter.Stats.TotalDeliveries != 1 || subAfter.Stats.SuccessCount != 1 {
		t.Errorf("stats = %+v, want one success", subAfter.Stats)
	}
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{})
	sub := f.createSubscription(t, srv.URL, subscription.RetryPolicy{
		MaxRetries:        3,
		BackoffMultiplier: 1.5,
		InitialDelay:      10 * time.Millisecond,
	})
	d := f.createDelivery(t, sub)

	// Retries are fresh records, so look for any success on the chain.
	waitFor(t, 5*time.Second, func() bool {
		ds, err := f.store.ListBySubscription(context.Background(), sub.ID, delivery.ListOpts{})
		if err != nil {
			return false
		}
		for _, got := range ds {
			if got.Status == delivery.StatusSuccess {
				return true
			}
		}
		return false
	})

	if hits.Load() != 3 {
		t.Errorf("target hit %d times, want 3", hits.Load())
	}

	orig, err := f.store.GetDelivery(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get original delivery: %v", err)
	}
	if orig.Status != delivery.StatusFailed {
		t.Errorf("original status = %s, want failed (superseded)", orig.Status)
	}
	if orig.Error == nil || orig.Error.Type != delivery.ErrTypeRetryScheduled {
		t.Errorf("original error = %+v, want retry_scheduled", orig.Error)
	}

	ds, err := f.store.ListBySubscription(context.Background(), sub.ID, delivery.ListOpts{})
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(ds) != 3 {
		t.Errorf("chain length = %d, want 3", len(ds))
	}

	if f.sink.count() != 0 {
		t.Errorf("fallback received %d pushes, want 0", f.sink.count())
	}
}

func TestEngineExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{})
	sub := f.createSubscription(t, srv.URL, subscription.RetryPolicy{
		MaxRetries:        1,
		BackoffMultiplier: 2.0,
		InitialDelay:      10 * time.Millisecond,
	})
	f.createDelivery(t, sub)

	waitFor(t, 5*time.Second, func() bool {
		return f.sink.count() >= 1
	})

	ds, err := f.store.ListBySubscription(context.Background(), sub.ID, delivery.ListOpts{})
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("chain length = %d, want 2", len(ds))
	}

	var last *delivery.Delivery
	for _, got := range ds {
		if got.Attempt == 2 {
			last = got
		}
	}
	if last == nil {
		t.Fatal("successor attempt not found")
	}
	waitFor(t, 2*time.Second, func() bool {
		got, err := f.store.GetDelivery(context.Background(), last.ID)
		return err == nil && got.Status == delivery.StatusFailed && got.RetriesLeft == 0
	})
}

// flakyStore fails a fixed number of subscription lookups before
// delegating to the underlying store.
type flakyStore struct {
	*memory.Store
	failures atomic.Int64
}

func (f *flakyStore) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return f.Store.GetSubscription(ctx, subID)
}

func TestEngineRetriesAfterTransientStoreFailure(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fs := &flakyStore{Store: memory.New()}
	fs.failures.Store(1)

	hb := delivery.NewHeaderBuilder(nil, nil, nil)
	sender := delivery.NewSender(hb, 2*time.Second)
	sink := &captureSink{}
	eng := delivery.NewEngine(fs, memq.New(), sender, sink, delivery.EngineConfig{
		Concurrency:  2,
		PollInterval: 20 * time.Millisecond,
		BatchSize:    10,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	t.Cleanup(func() {
		cancel()
		eng.Stop(context.Background())
	})

	sub := &subscription.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		UserID:     "user-1",
		URL:        srv.URL,
		Secret:     "whsec_enginetest",
		EventTypes: []string{"*"},
		Active:     true,
		Retry:      subscription.DefaultRetryPolicy(),
	}
	if err := fs.Store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: sub.ID,
		EventType:      "cost.alert",
		Attempt:        1,
		Status:         delivery.StatusPending,
		RetriesLeft:    sub.Retry.MaxRetries,
		Body:           []byte(`{"amount":42}`),
	}
	if err := fs.Store.CreateDelivery(ctx, d); err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	if err := eng.Enqueue(ctx, d); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The first lookup fails with a store error: the delivery must be
	// re-enqueued and then delivered, not failed terminally.
	waitFor(t, 3*time.Second, func() bool {
		got, err := fs.Store.GetDelivery(context.Background(), d.ID)
		return err == nil && got.Status == delivery.StatusSuccess
	})

	if hits.Load() != 1 {
		t.Errorf("target hit %d times, want 1", hits.Load())
	}
	if sink.count() != 0 {
		t.Errorf("fallback received %d pushes, want 0", sink.count())
	}
}

func TestEngineRejectsMissingSubscription(t *testing.T) {
	f := newEngineFixture(t, delivery.EngineConfig{})

	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: id.NewSubscriptionID(),
		EventType:      "cost.alert",
		Attempt:        1,
		Status:         delivery.StatusPending,
		RetriesLeft:    3,
		Body:           []byte(`{}`),
	}
	if err := f.store.CreateDelivery(context.Background(), d); err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	if err := f.engine.Enqueue(context.Background(), d); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		got, err := f.store.GetDelivery(context.Background(), d.ID)
		return err == nil && got.Status == delivery.StatusFailed
	})

	got, err := f.store.GetDelivery(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if got.Error == nil || got.Error.Type != delivery.ErrTypeNotFound {
		t.Errorf("error = %+v, want %s", got.Error, delivery.ErrTypeNotFound)
	}
	if got.RetriesLeft != 0 {
		t.Errorf("retries left = %d, want 0", got.RetriesLeft)
	}
}

func TestEngineRejectsInactiveSubscription(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{})
	sub := f.createSubscription(t, srv.URL, subscription.DefaultRetryPolicy())
	if err := f.store.SetActive(context.Background(), sub.ID, false, "paused by owner"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	d := f.createDelivery(t, sub)

	waitFor(t, 3*time.Second, func() bool {
		got, err := f.store.GetDelivery(context.Background(), d.ID)
		return err == nil && got.Status == delivery.StatusFailed
	})

	got, err := f.store.GetDelivery(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if got.Error == nil || got.Error.Type != delivery.ErrTypeInactive {
		t.Errorf("error = %+v, want %s", got.Error, delivery.ErrTypeInactive)
	}
	if got.RetriesLeft != 0 {
		t.Errorf("retries left = %d, want 0", got.RetriesLeft)
	}
	if hits.Load() != 0 {
		t.Errorf("target hit %d times, want 0", hits.Load())
	}
}

func TestEngineAutoDeactivatesFailingSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := newEngineFixture(t, delivery.EngineConfig{
		Concurrency:      1,
		FailureThreshold: 1,
		FailureWindow:    time.Hour,
	})
	sub := f.createSubscription(t, srv.URL, subscription.RetryPolicy{
		MaxRetries:        1,
		BackoffMultiplier: 2.0,
		InitialDelay:      10 * time.Millisecond,
	})

	// 400 responses are terminal, so each delivery is one failure. The
	// second failure exceeds the threshold of one.
	f.createDelivery(t, sub)
	f.createDelivery(t, sub)

	waitFor(t, 5*time.Second, func() bool {
		got, err := f.store.GetSubscription(context.Background(), sub.ID)
		return err == nil && !got.Active
	})

	got, err := f.store.GetSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if got.DeactivatedReason == "" {
		t.Error("deactivation reason not recorded")
	}
	if got.DeactivatedAt == nil {
		t.Error("deactivation time not recorded")
	}
}
