package emitter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hypothesize-tech/courier/catalog"
	"github.com/hypothesize-tech/courier/emitter"
	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/observability"
	"github.com/hypothesize-tech/courier/store/memory"
)

// captureDispatcher records dispatched events.
type captureDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (c *captureDispatcher) Dispatch(_ context.Context, evt *event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captureDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newTestEmitter(t *testing.T, cfg emitter.Config) (*emitter.Emitter, *captureDispatcher, *catalog.Catalog) {
	t.Helper()
	s := memory.New()
	cat := catalog.NewCatalog(s, catalog.Config{}, nil)
	disp := &captureDispatcher{}
	return emitter.NewEmitter(s, cat, disp, cfg, nil, nil), disp, cat
}

func TestEmitRequiresTypeAndUser(t *testing.T) {
	e, _, _ := newTestEmitter(t, emitter.Config{})
	ctx := context.Background()

	if _, err := e.Emit(ctx, "", "user-1", event.Payload{}); err == nil {
		t.Error("expected an error for a missing event type")
	}
	if _, err := e.Emit(ctx, "cost.alert", "", event.Payload{}); err == nil {
		t.Error("expected an error for a missing user id")
	}
}

func TestEmitWithTracerConfigured(t *testing.T) {
	e, disp, _ := newTestEmitter(t, emitter.Config{Tracer: observability.NewTracer()})
	ctx := context.Background()

	// The span wraps the whole emission, including inline dispatch.
	evt, err := e.Emit(ctx, "cost.alert", "user-1", event.Payload{}, emitter.WithImmediate())
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if evt == nil {
		t.Fatal("emit returned no event")
	}
	if disp.count() != 1 {
		t.Errorf("dispatched %d events, want 1", disp.count())
	}
}

func TestEmitPersistsAndBatches(t *testing.T) {
	e, disp, _ := newTestEmitter(t, emitter.Config{})
	ctx := context.Background()

	evt, err := e.Emit(ctx, "cost.alert", "user-1", event.Payload{Title: "spend is up"})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if evt.ID.IsNil() {
		t.Error("event id not assigned")
	}
	if evt.OccurredAt.IsZero() {
		t.Error("occurred_at not stamped")
	}

	// Batched: nothing dispatched until a flush.
	if disp.count() != 0 {
		t.Fatalf("dispatched %d events before flush, want 0", disp.count())
	}

	e.Flush(ctx)
	if disp.count() != 1 {
		t.Fatalf("dispatched %d events after flush, want 1", disp.count())
	}
}

func TestEmitImmediateBypassesBatch(t *testing.T) {
	e, disp, _ := newTestEmitter(t, emitter.Config{})

	_, err := e.Emit(context.Background(), "cost.alert", "user-1", event.Payload{}, emitter.WithImmediate())
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if disp.count() != 1 {
		t.Fatalf("dispatched %d events, want 1", disp.count())
	}
}

func TestEmitCriticalSeverityDispatchesInline(t *testing.T) {
	e, disp, _ := newTestEmitter(t, emitter.Config{})

	_, err := e.Emit(context.Background(), "security.alert", "user-1",
		event.Payload{Severity: event.SeverityCritical})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if disp.count() != 1 {
		t.Fatalf("dispatched %d events, want 1", disp.count())
	}
}

func TestEmitEnrichesFromCatalog(t *testing.T) {
	e, _, cat := newTestEmitter(t, emitter.Config{})
	ctx := context.Background()

	_, err := cat.RegisterType(ctx, catalog.Definition{
		Name:               "budget.exceeded",
		Description:        "a budget ran out",
		DefaultTitle:       "Budget exceeded",
		DefaultDescription: "Spending passed the configured budget",
		DefaultSeverity:    event.SeverityHigh,
		Version:            "2025-06-01",
	})
	if err != nil {
		t.Fatalf("register type: %v", err)
	}

	evt, err := e.Emit(ctx, "budget.exceeded", "user-1", event.Payload{})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if evt.Data.Title != "Budget exceeded" {
		t.Errorf("title = %q, want catalog default", evt.Data.Title)
	}
	if evt.Data.Description != "Spending passed the configured budget" {
		t.Errorf("description = %q, want catalog default", evt.Data.Description)
	}
	if evt.Data.Severity != event.SeverityHigh {
		t.Errorf("severity = %s, want high", evt.Data.Severity)
	}
}

func TestEmitEnrichmentKeepsCallerValues(t *testing.T) {
	e, _, cat := newTestEmitter(t, emitter.Config{})
	ctx := context.Background()

	_, err := cat.RegisterType(ctx, catalog.Definition{
		Name:            "budget.exceeded",
		DefaultTitle:    "Budget exceeded",
		DefaultSeverity: event.SeverityHigh,
		Version:         "2025-06-01",
	})
	if err != nil {
		t.Fatalf("register type: %v", err)
	}

	evt, err := e.Emit(ctx, "budget.exceeded", "user-1", event.Payload{
		Title:    "Marketing budget blown",
		Severity: event.SeverityLow,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if evt.Data.Title != "Marketing budget blown" {
		t.Errorf("title = %q, caller value overwritten", evt.Data.Title)
	}
	if evt.Data.Severity != event.SeverityLow {
		t.Errorf("severity = %s, caller value overwritten", evt.Data.Severity)
	}
}

func TestEmitDynamicSeverityFromChangePercent(t *testing.T) {
	e, _, cat := newTestEmitter(t, emitter.Config{})
	ctx := context.Background()

	_, err := cat.RegisterType(ctx, catalog.Definition{
		Name:            "cost.spike",
		DefaultSeverity: event.SeverityLow,
		SeverityMode:    catalog.SeverityDynamic,
		Version:         "2025-06-01",
	})
	if err != nil {
		t.Fatalf("register type: %v", err)
	}

	for _, tc := range []struct {
		pct  float64
		want event.Severity
	}{
		{10, event.SeverityLow},
		{30, event.SeverityMedium},
		{60, event.SeverityHigh},
		{90, event.SeverityCritical},
		{-80, event.SeverityCritical},
	} {
		evt, err := e.Emit(ctx, "cost.spike", "user-1", event.Payload{
			Metrics: map[string]any{"change_pct": tc.pct},
		})
		if err != nil {
			t.Fatalf("emit: %v", err)
		}
		if evt.Data.Severity != tc.want {
			t.Errorf("change %v%%: severity = %s, want %s", tc.pct, evt.Data.Severity, tc.want)
		}
	}
}

func TestEmitUnknownTypeDefaultsSeverity(t *testing.T) {
	e, _, _ := newTestEmitter(t, emitter.Config{})

	evt, err := e.Emit(context.Background(), "made.up", "user-1", event.Payload{})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if evt.Data.Severity != event.SeverityLow {
		t.Errorf("severity = %s, want low", evt.Data.Severity)
	}
}

func TestEmitOptions(t *testing.T) {
	e, _, _ := newTestEmitter(t, emitter.Config{})
	at := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	evt, err := e.Emit(context.Background(), "cost.alert", "user-1", event.Payload{},
		emitter.WithProjectID("proj-9"),
		emitter.WithOccurredAt(at),
		emitter.WithEventMetadata(map[string]string{"source": "cron"}),
	)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if evt.ProjectID != "proj-9" {
		t.Errorf("project id = %q", evt.ProjectID)
	}
	if !evt.OccurredAt.Equal(at) {
		t.Errorf("occurred_at = %s, want %s", evt.OccurredAt, at)
	}
	if evt.Metadata["source"] != "cron" {
		t.Errorf("metadata = %v", evt.Metadata)
	}
}

func TestSubscriberRunsBeforeDispatch(t *testing.T) {
	e, disp, _ := newTestEmitter(t, emitter.Config{})

	var seen []string
	e.Subscribe(func(_ context.Context, evt *event.Event) {
		seen = append(seen, evt.Type)
	})

	_, err := e.Emit(context.Background(), "cost.alert", "user-1", event.Payload{}, emitter.WithImmediate())
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(seen) != 1 || seen[0] != "cost.alert" {
		t.Errorf("subscriber saw %v", seen)
	}
	if disp.count() != 1 {
		t.Errorf("dispatched %d events, want 1", disp.count())
	}
}

func TestFlushLoopDrainsBatch(t *testing.T) {
	e, disp, _ := newTestEmitter(t, emitter.Config{FlushInterval: 20 * time.Millisecond})
	ctx := context.Background()

	for range 3 {
		if _, err := e.Emit(ctx, "cost.alert", "user-1", event.Payload{}); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	e.Start(ctx)
	defer e.Stop(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if disp.count() == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dispatched %d events, want 3", disp.count())
}
