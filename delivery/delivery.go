// Package delivery implements webhook delivery: the per-attempt audit
// record, HTTP sending, retry scheduling, and the worker engine.
package delivery

import (
	"time"

	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
)

// Status represents the current state of a delivery.
type Status string

const (
	// StatusPending indicates the delivery is awaiting attempt.
	StatusPending Status = "pending"

	// StatusSuccess indicates the delivery was acknowledged with a 2xx.
	StatusSuccess Status = "success"

	// StatusFailed indicates the attempt failed. The failure is terminal
	// when RetriesLeft is zero; otherwise a successor attempt record has
	// been scheduled.
	StatusFailed Status = "failed"
)

// Metadata keys linking records across a retry chain.
const (
	// MetaPreviousAttempt links a retry to the delivery it supersedes.
	MetaPreviousAttempt = "previous_attempt_id"

	// MetaReplayOf marks a delivery created by explicit replay.
	MetaReplayOf = "replay_of"

	// MetaReplayEventID is the wire event identifier for a replayed
	// delivery. Replays never reuse the original event id on the wire.
	MetaReplayEventID = "replay_event_id"
)

// RequestSnapshot captures the outbound HTTP request of one attempt.
type RequestSnapshot struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
	SentAt  time.Time         `json:"sent_at"`
}

// ResponseSnapshot captures the target's response to one attempt.
// The body is truncated to the storage cap.
type ResponseSnapshot struct {
	StatusCode     int               `json:"status_code"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	ResponseTimeMs int64             `json:"response_time_ms"`
	ReceivedAt     time.Time         `json:"received_at"`
}

// ErrorInfo is the structured error recorded on a failed delivery.
type ErrorInfo struct {
	Type    ErrorType      `json:"type"`
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Delivery is the unit of work and audit record for one
// subscription/event pairing. Retries are new Delivery records linked via
// metadata, never in-place mutations, preserving full audit history.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery.
	ID id.ID `json:"id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// UserID identifies the subscription owner.
	UserID string `json:"user_id"`

	// EventID references the event being delivered.
	EventID id.ID `json:"event_id"`

	// EventType is the event type name, denormalized for filtering.
	EventType string `json:"event_type"`

	// Event is a snapshot of the event at dispatch time.
	Event *event.Event `json:"event,omitempty"`

	// Attempt is the 1-based position in the retry chain. Attempt numbers
	// strictly increase across a chain.
	Attempt int `json:"attempt"`

	// Status is the current delivery state.
	Status Status `json:"status"`

	// RetriesLeft is the remaining retry budget. It decreases by exactly
	// one per scheduled retry and is forced to zero on terminal failure.
	RetriesLeft int `json:"retries_left"`

	// NextRetryAt is when the successor attempt should run, set on the
	// superseded record for audit and on the successor for scheduling.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// Body is the rendered payload, built once at dispatch and shared by
	// every attempt in the chain.
	Body []byte `json:"body,omitempty"`

	// Request snapshots the outbound HTTP request of this attempt.
	Request *RequestSnapshot `json:"request,omitempty"`

	// Response snapshots the target's response to this attempt.
	Response *ResponseSnapshot `json:"response,omitempty"`

	// Error is the structured failure recorded on this attempt.
	Error *ErrorInfo `json:"error,omitempty"`

	// CompletedAt is when the delivery reached success or failed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Metadata carries retry chain links and replay provenance.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Terminal reports whether this delivery will never be re-queued
// automatically: success, or failed with no retry budget left.
func (d *Delivery) Terminal() bool {
	if d.Status == StatusSuccess {
		return true
	}
	return d.Status == StatusFailed && d.RetriesLeft == 0
}

// PreviousAttemptID returns the id of the superseded delivery, if any.
func (d *Delivery) PreviousAttemptID() string {
	return d.Metadata[MetaPreviousAttempt]
}

// NextAttempt clones the delivery into the successor record for a
// scheduled retry: attempt+1, the already-decremented retry budget, and a
// metadata link back to this record.
func (d *Delivery) NextAttempt(runAt time.Time) *Delivery {
	meta := make(map[string]string, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	meta[MetaPreviousAttempt] = d.ID.String()

	next := &Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: d.SubscriptionID,
		UserID:         d.UserID,
		EventID:        d.EventID,
		EventType:      d.EventType,
		Event:          d.Event,
		Attempt:        d.Attempt + 1,
		Status:         StatusPending,
		RetriesLeft:    d.RetriesLeft,
		NextRetryAt:    &runAt,
		Body:           d.Body,
		Metadata:       meta,
	}
	return next
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
