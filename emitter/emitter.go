// Package emitter turns application facts into enriched, validated
// events and hands them to the dispatch pipeline, either immediately or
// through a micro-batch drained on an interval.
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hypothesize-tech/courier/catalog"
	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
	"github.com/hypothesize-tech/courier/observability"
	"github.com/hypothesize-tech/courier/scope"
)

// Dispatcher fans an event out to matching subscriptions.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt *event.Event) error
}

// Subscriber is an in-process listener invoked for every emitted event,
// before webhook fan-out.
type Subscriber func(ctx context.Context, evt *event.Event)

// Config holds emitter configuration.
type Config struct {
	// FlushInterval is how often the micro-batch is drained.
	FlushInterval time.Duration

	// BatchSize bounds one drain chunk.
	BatchSize int

	Tracer *observability.Tracer
}

func (c *Config) withDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

// Emitter builds, enriches, and routes events.
type Emitter struct {
	store      event.Store
	catalog    *catalog.Catalog
	validator  *catalog.Validator
	dispatcher Dispatcher
	config     Config
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu          sync.Mutex
	pending     []*event.Event
	subscribers []Subscriber

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEmitter creates an emitter.
func NewEmitter(store event.Store, cat *catalog.Catalog, dispatcher Dispatcher, cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.withDefaults()
	return &Emitter{
		store:      store,
		catalog:    cat,
		validator:  catalog.NewValidator(),
		dispatcher: dispatcher,
		config:     cfg,
		metrics:    metrics,
		logger:     logger,
	}
}

// Subscribe registers an in-process listener. Listeners run synchronously
// during processing; keep them fast.
func (e *Emitter) Subscribe(fn Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// EmitOption customizes a single emission.
type EmitOption func(*emitOptions)

type emitOptions struct {
	immediate  bool
	projectID  string
	occurredAt time.Time
	metadata   map[string]string
}

// WithImmediate bypasses the micro-batch and dispatches inline.
func WithImmediate() EmitOption {
	return func(o *emitOptions) { o.immediate = true }
}

// WithProjectID scopes the event to a project.
func WithProjectID(projectID string) EmitOption {
	return func(o *emitOptions) { o.projectID = projectID }
}

// WithOccurredAt backdates the event to when the fact happened.
func WithOccurredAt(at time.Time) EmitOption {
	return func(o *emitOptions) { o.occurredAt = at }
}

// WithEventMetadata attaches side-channel metadata to the event.
func WithEventMetadata(m map[string]string) EmitOption {
	return func(o *emitOptions) { o.metadata = m }
}

// Emit builds an event from the given payload, enriches it from the
// catalog, and routes it. Critical events and WithImmediate emissions
// dispatch inline; everything else joins the micro-batch.
func (e *Emitter) Emit(ctx context.Context, eventType, userID string, data event.Payload, opts ...EmitOption) (*event.Event, error) {
	if eventType == "" {
		return nil, fmt.Errorf("emitter: event type is required")
	}

	if e.config.Tracer != nil {
		var span trace.Span
		ctx, span = e.config.Tracer.StartEmitSpan(ctx, eventType)
		defer span.End()
	}

	var o emitOptions
	for _, opt := range opts {
		opt(&o)
	}

	if userID == "" {
		scopedUser, scopedProject := scope.Capture(ctx)
		userID = scopedUser
		if o.projectID == "" {
			o.projectID = scopedProject
		}
	}
	if userID == "" {
		return nil, fmt.Errorf("emitter: user id is required")
	}

	occurredAt := o.occurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	evt := &event.Event{
		Entity:     entity.New(),
		ID:         id.NewEventID(),
		Type:       eventType,
		UserID:     userID,
		ProjectID:  o.projectID,
		OccurredAt: occurredAt,
		Data:       data,
		Metadata:   o.metadata,
	}

	e.enrich(ctx, evt)

	if err := e.store.CreateEvent(ctx, evt); err != nil {
		return nil, fmt.Errorf("emitter: persist event: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RecordEvent(eventType)
	}

	if o.immediate || evt.Data.Severity == event.SeverityCritical {
		e.processOne(ctx, evt)
		return evt, nil
	}

	e.mu.Lock()
	e.pending = append(e.pending, evt)
	e.mu.Unlock()
	return evt, nil
}

// enrich fills missing payload fields from the catalog definition and
// validates the payload schema. Enrichment never fails an emission:
// unknown types and schema violations are logged and the event proceeds
// as given.
func (e *Emitter) enrich(ctx context.Context, evt *event.Event) {
	et, err := e.catalog.GetType(ctx, evt.Type)
	if err != nil {
		e.logger.DebugContext(ctx, "event type not in catalog, skipping enrichment",
			"event_type", evt.Type)
		if evt.Data.Severity == "" {
			evt.Data.Severity = event.SeverityLow
		}
		return
	}
	def := et.Definition

	if evt.Data.Title == "" {
		evt.Data.Title = def.DefaultTitle
	}
	if evt.Data.Description == "" {
		evt.Data.Description = def.DefaultDescription
	}
	if evt.Data.Severity == "" {
		evt.Data.Severity = e.deriveSeverity(def, evt)
	}

	if len(def.Schema) > 0 {
		var schema any
		if err := unmarshalSchema(def.Schema, &schema); err != nil {
			e.logger.WarnContext(ctx, "event type schema is malformed",
				"event_type", evt.Type, "error", err)
			return
		}
		if err := e.validator.Validate(schema, payloadDocument(evt)); err != nil {
			e.logger.WarnContext(ctx, "event payload failed schema validation",
				"event_type", evt.Type, "event_id", evt.ID, "error", err)
		}
	}
}

// deriveSeverity resolves a missing severity. Dynamic types grade the
// magnitude of the change-percentage metric; everything else takes the
// static default.
func (e *Emitter) deriveSeverity(def catalog.Definition, evt *event.Event) event.Severity {
	fallback := def.DefaultSeverity
	if fallback == "" {
		fallback = event.SeverityLow
	}
	if def.SeverityMode != catalog.SeverityDynamic {
		return fallback
	}

	pct, ok := changePercent(evt)
	if !ok {
		return fallback
	}

	magnitude := math.Abs(pct)
	switch {
	case magnitude >= 75:
		return event.SeverityCritical
	case magnitude >= 50:
		return event.SeverityHigh
	case magnitude >= 25:
		return event.SeverityMedium
	default:
		return event.SeverityLow
	}
}

func changePercent(evt *event.Event) (float64, bool) {
	for _, key := range []string{"change_pct", "change_percentage", "percentage_change"} {
		if v, ok := evt.Field("data.metrics." + key); ok {
			if f, ok := toFloat(v); ok {
				return f, true
			}
		}
		if v, ok := evt.Field("data.context." + key); ok {
			if f, ok := toFloat(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// Start begins the flush loop.
func (e *Emitter) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.config.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Final drain so batched events are not lost on shutdown.
				e.Flush(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				e.Flush(ctx)
			}
		}
	}()
}

// Stop halts the flush loop after a final drain.
func (e *Emitter) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Flush drains the micro-batch in BatchSize chunks. Failures are logged
// per event and never block the rest of the batch.
func (e *Emitter) Flush(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.mu.Unlock()
			return
		}
		n := len(e.pending)
		if n > e.config.BatchSize {
			n = e.config.BatchSize
		}
		batch := e.pending[:n]
		e.pending = e.pending[n:]
		e.mu.Unlock()

		for _, evt := range batch {
			e.processOne(ctx, evt)
		}
	}
}

// processOne fans the event out to in-process subscribers and then to
// webhook dispatch.
func (e *Emitter) processOne(ctx context.Context, evt *event.Event) {
	e.mu.Lock()
	subs := make([]Subscriber, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.Unlock()

	for _, fn := range subs {
		fn(ctx, evt)
	}

	if e.dispatcher == nil {
		return
	}
	if err := e.dispatcher.Dispatch(ctx, evt); err != nil {
		e.logger.ErrorContext(ctx, "event dispatch failed",
			"event_id", evt.ID, "event_type", evt.Type, "error", err)
	}
}
