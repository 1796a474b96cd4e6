package courier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hypothesize-tech/courier/catalog"
	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/dlq"
	"github.com/hypothesize-tech/courier/emitter"
	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
	"github.com/hypothesize-tech/courier/observability"
	"github.com/hypothesize-tech/courier/payload"
	"github.com/hypothesize-tech/courier/queue"
	"github.com/hypothesize-tech/courier/queue/memq"
	"github.com/hypothesize-tech/courier/signature"
	"github.com/hypothesize-tech/courier/store"
	"github.com/hypothesize-tech/courier/subscription"
)

// Courier is the root event notification engine: emission, subscription
// fan-out, signed delivery with retries, and dead letter fallback.
type Courier struct {
	config   Config
	store    store.Store
	queue    queue.Queue
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	cipher   subscription.Cipher
	resolver payload.DirectoryResolver
	service  payload.ServiceInfo

	catalog *catalog.Catalog
	subSvc  *subscription.Service
	builder *payload.Builder
	engine  *delivery.Engine
	emitter *emitter.Emitter
	dlqSvc  *dlq.Service
}

// wireServices initializes the internal services after options have been applied.
func (c *Courier) wireServices() {
	c.catalog = catalog.NewCatalog(c.store, catalog.Config{
		CacheTTL: c.config.CacheTTL,
	}, c.logger)

	c.subSvc = subscription.NewService(c.store, c.cipher, c.logger)

	c.builder = payload.NewBuilder(c.resolver, c.service, c.logger)

	headers := delivery.NewHeaderBuilder(signature.NewSigner(), c.subSvc, c.logger)
	sender := delivery.NewSender(headers, c.config.MaxTimeout)

	c.dlqSvc = dlq.NewService(c.store, dlq.Config{}, c.logger)
	c.dlqSvc.RegisterHandler(dlq.OpWebhookDelivery, c.handleDeadLetter)

	if c.queue == nil {
		c.queue = memq.New()
	}
	if c.config.DispatchPerMinute > 0 {
		c.queue = queue.NewLimited(c.queue, c.config.DispatchPerMinute)
	}

	c.engine = delivery.NewEngine(c.store, c.queue, sender, c.dlqSvc, delivery.EngineConfig{
		Concurrency:      c.config.Concurrency,
		PollInterval:     c.config.PollInterval,
		BatchSize:        c.config.BatchSize,
		MaxTimeout:       c.config.MaxTimeout,
		FailureThreshold: c.config.FailureThreshold,
		FailureWindow:    c.config.FailureWindow,
		Metrics:          c.metrics,
		Tracer:           c.tracer,
	}, c.logger)

	c.emitter = emitter.NewEmitter(c.store, c.catalog, c, emitter.Config{
		FlushInterval: c.config.FlushInterval,
		BatchSize:     c.config.EmitBatchSize,
		Tracer:        c.tracer,
	}, c.metrics, c.logger)
}

// Start re-enqueues pending deliveries left over from a previous run and
// begins the background workers.
func (c *Courier) Start(ctx context.Context) error {
	if err := c.engine.Recover(ctx); err != nil {
		return fmt.Errorf("courier: recover deliveries: %w", err)
	}
	c.engine.Start(ctx)
	c.emitter.Start(ctx)
	c.dlqSvc.Start(ctx)
	return nil
}

// Stop gracefully shuts down the background workers. The emitter stops
// first so its final flush still reaches the engine queue.
func (c *Courier) Stop(ctx context.Context) {
	c.emitter.Stop(ctx)
	c.engine.Stop(ctx)
	c.dlqSvc.Stop(ctx)
	if err := c.queue.Close(); err != nil {
		c.logger.Warn("queue close failed", "error", err)
	}
}

// Emit builds an event from the given payload and routes it to matching
// subscriptions. See emitter.Emitter.Emit for option semantics.
func (c *Courier) Emit(ctx context.Context, eventType, userID string, data event.Payload, opts ...emitter.EmitOption) (*event.Event, error) {
	return c.emitter.Emit(ctx, eventType, userID, data, opts...)
}

// Subscribe registers an in-process listener invoked for every emitted
// event, before webhook fan-out.
func (c *Courier) Subscribe(fn emitter.Subscriber) {
	c.emitter.Subscribe(fn)
}

// Dispatch fans an event out to matching subscriptions: one pending
// delivery per match, payload rendered once at dispatch time. Implements
// emitter.Dispatcher.
func (c *Courier) Dispatch(ctx context.Context, evt *event.Event) error {
	subs, err := c.store.Resolve(ctx, evt.Type)
	if err != nil {
		return fmt.Errorf("courier: resolve subscriptions: %w", err)
	}
	matched := subscription.MatchAll(subs, evt)
	if len(matched) == 0 {
		return nil
	}

	deliveries := make([]*delivery.Delivery, 0, len(matched))
	for _, sub := range matched {
		retry := sub.Retry
		if !retry.Valid() {
			retry = subscription.DefaultRetryPolicy()
		}
		deliveries = append(deliveries, &delivery.Delivery{
			Entity:         entity.New(),
			ID:             id.NewDeliveryID(),
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			EventID:        evt.ID,
			EventType:      evt.Type,
			Event:          evt,
			Attempt:        1,
			Status:         delivery.StatusPending,
			RetriesLeft:    retry.MaxRetries,
			Body:           c.builder.Build(ctx, sub, evt),
		})
	}

	if err := c.store.CreateDeliveryBatch(ctx, deliveries); err != nil {
		return fmt.Errorf("courier: persist deliveries: %w", err)
	}

	// Enqueue failures are non-fatal: the records are pending and Recover
	// picks them up on the next start.
	for _, d := range deliveries {
		if err := c.engine.Enqueue(ctx, d); err != nil {
			c.logger.WarnContext(ctx, "delivery enqueue failed",
				"delivery_id", d.ID, "error", err)
		}
	}

	if c.metrics != nil {
		c.metrics.PendingDeliveries.Add(float64(len(deliveries)))
	}

	c.logger.DebugContext(ctx, "event dispatched",
		"event_id", evt.ID,
		"type", evt.Type,
		"subscriptions", len(deliveries),
	)
	return nil
}

// Replay re-sends a past delivery as a fresh chain: attempt 1, a full
// retry budget, and the original rendered body. The wire event id is
// derived from the original, never reused.
func (c *Courier) Replay(ctx context.Context, deliveryID id.ID) (*delivery.Delivery, error) {
	orig, err := c.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("courier: load delivery: %w", err)
	}

	sub, err := c.store.GetSubscription(ctx, orig.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("courier: load subscription: %w", err)
	}
	if !sub.Active {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionInactive, sub.ID)
	}

	evt := orig.Event
	if evt == nil {
		evt, err = c.store.GetEvent(ctx, orig.EventID)
		if err != nil {
			return nil, fmt.Errorf("courier: load event: %w", err)
		}
	}

	retry := sub.Retry
	if !retry.Valid() {
		retry = subscription.DefaultRetryPolicy()
	}

	now := time.Now().UTC()
	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: orig.SubscriptionID,
		UserID:         orig.UserID,
		EventID:        orig.EventID,
		EventType:      orig.EventType,
		Event:          evt,
		Attempt:        1,
		Status:         delivery.StatusPending,
		RetriesLeft:    retry.MaxRetries,
		Body:           orig.Body,
		Metadata: map[string]string{
			delivery.MetaReplayOf:      orig.ID.String(),
			delivery.MetaReplayEventID: evt.ReplayID(now),
		},
	}

	if err := c.store.CreateDelivery(ctx, d); err != nil {
		return nil, fmt.Errorf("courier: persist replay: %w", err)
	}
	if err := c.engine.Enqueue(ctx, d); err != nil {
		c.logger.WarnContext(ctx, "replay enqueue failed",
			"delivery_id", d.ID, "error", err)
	}

	c.logger.InfoContext(ctx, "delivery replayed",
		"delivery_id", d.ID, "replay_of", orig.ID)
	return d, nil
}

// handleDeadLetter processes webhook_delivery dead letters. Entries
// raised for bookkeeping errors reference a delivery that may still be
// pending; those are re-enqueued. Terminal failures are marked handled
// and stay queryable until purge.
func (c *Courier) handleDeadLetter(ctx context.Context, entry *dlq.Entry) error {
	if !strings.HasPrefix(entry.Error, string(delivery.ErrTypeUnknown)) {
		return nil
	}

	delID, err := id.ParseDeliveryID(entry.Metadata["delivery_id"])
	if err != nil {
		c.logger.WarnContext(ctx, "dead letter has no usable delivery id",
			"entry_id", entry.ID, "error", err)
		return nil
	}

	d, err := c.store.GetDelivery(ctx, delID)
	if err != nil {
		return fmt.Errorf("courier: load dead-lettered delivery: %w", err)
	}
	if d.Status != delivery.StatusPending {
		return nil
	}
	return c.engine.Enqueue(ctx, d)
}

// Catalog returns the event type catalog.
func (c *Courier) Catalog() *catalog.Catalog {
	return c.catalog
}

// Subscriptions returns the subscription management service.
func (c *Courier) Subscriptions() *subscription.Service {
	return c.subSvc
}

// DLQ returns the dead letter service.
func (c *Courier) DLQ() *dlq.Service {
	return c.dlqSvc
}

// Store returns the underlying store.
func (c *Courier) Store() store.Store {
	return c.store
}
