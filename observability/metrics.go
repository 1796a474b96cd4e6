// Package observability provides metric instruments and tracing spans
// for the delivery pipeline.
package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for Courier, backed by any go-utils
// MetricFactory.
type Metrics struct {
	EventsEmittedTotal gu.Counter
	DeliveriesTotal    gu.Counter
	DeliveryLatency    gu.Histogram
	DeadLetterSize     gu.Gauge
	PendingDeliveries  gu.Gauge
	QueueDepth         gu.Gauge
}

// NewMetrics creates Courier metric instruments using the supplied
// factory. Pass metrics.NewMetricsCollector() for standalone usage.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsEmittedTotal: factory.Counter("courier_events_emitted_total"),
		DeliveriesTotal:    factory.Counter("courier_deliveries_total"),
		DeliveryLatency:    factory.Histogram("courier_delivery_latency_seconds"),
		DeadLetterSize:     factory.Gauge("courier_dead_letter_size"),
		PendingDeliveries:  factory.Gauge("courier_pending_deliveries"),
		QueueDepth:         factory.Gauge("courier_queue_depth"),
	}
}

// RecordDelivery records a delivery attempt with the given outcome and latency.
func (m *Metrics) RecordDelivery(outcome string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabels(map[string]string{"outcome": outcome}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordEvent records an emitted event by type.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsEmittedTotal.WithLabels(map[string]string{"type": eventType}).Inc()
}
