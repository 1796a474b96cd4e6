package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hypothesize-tech/courier"

// Tracer provides OpenTelemetry tracing for Courier.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Courier tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, eventID, subscriptionID string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "courier.delivery",
		trace.WithAttributes(
			attribute.String("courier.delivery_id", deliveryID),
			attribute.String("courier.event_id", eventID),
			attribute.String("courier.subscription_id", subscriptionID),
			attribute.Int("courier.attempt", attempt),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode int, latencyMs int64, errMsg string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int64("courier.latency_ms", latencyMs),
	)
	if errMsg != "" {
		span.SetAttributes(attribute.String("courier.error", errMsg))
	}
	span.End()
}

// StartEmitSpan starts a span covering event emission and fan-out.
func (t *Tracer) StartEmitSpan(ctx context.Context, eventType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "courier.emit",
		trace.WithAttributes(attribute.String("courier.event_type", eventType)),
	)
}
