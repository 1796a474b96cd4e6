// Package subscription defines webhook subscriptions: user-owned rules
// mapping event filters to a delivery target and policy.
package subscription

import (
	"time"

	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
)

// RetryPolicy controls per-subscription retry behavior.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `json:"max_retries"`

	// BackoffMultiplier is the exponential growth factor between retries.
	BackoffMultiplier float64 `json:"backoff_multiplier"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `json:"initial_delay"`
}

// DefaultRetryPolicy returns the retry policy applied when a subscription
// does not specify one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BackoffMultiplier: 2.0,
		InitialDelay:      30 * time.Second,
	}
}

// Valid reports whether every policy value is positive.
func (p RetryPolicy) Valid() bool {
	return p.MaxRetries > 0 && p.BackoffMultiplier > 0 && p.InitialDelay > 0
}

// Stats holds rolling delivery statistics for a subscription.
// Mutated only by the delivery engine, last-writer-wins.
type Stats struct {
	TotalDeliveries int64      `json:"total_deliveries"`
	SuccessCount    int64      `json:"success_count"`
	FailureCount    int64      `json:"failure_count"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt   *time.Time `json:"last_failure_at,omitempty"`

	// AvgResponseMs is an incrementally maintained mean response time.
	AvgResponseMs float64 `json:"avg_response_ms"`
}

// Filters are the static conditions an event must satisfy, beyond event
// type membership, for the subscription to receive it. Every populated
// filter must be satisfied; an empty filter matches all.
type Filters struct {
	// ProjectIDs restricts to events scoped to one of these projects.
	ProjectIDs []string `json:"project_ids,omitempty"`

	// Severities restricts to events carrying one of these severities.
	Severities []event.Severity `json:"severities,omitempty"`

	// Tags requires at least one shared tag with the event.
	Tags []string `json:"tags,omitempty"`

	// MinCost requires the event's cost metric to be at least this value.
	MinCost *float64 `json:"min_cost,omitempty"`

	// Custom maps dotted event field paths to comparator conditions.
	Custom map[string]Condition `json:"custom,omitempty"`
}

// Empty reports whether no filter is populated.
func (f Filters) Empty() bool {
	return len(f.ProjectIDs) == 0 && len(f.Severities) == 0 &&
		len(f.Tags) == 0 && f.MinCost == nil && len(f.Custom) == 0
}

// Subscription represents a stored webhook delivery rule owned by a user.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// UserID identifies the owner.
	UserID string `json:"user_id"`

	// URL is the webhook delivery target.
	URL string `json:"url"`

	// Description is a human-readable description of this subscription.
	Description string `json:"description,omitempty"`

	// EventTypes are glob patterns for event type subscriptions.
	EventTypes []string `json:"event_types"`

	// Active indicates whether the subscription receives deliveries.
	Active bool `json:"active"`

	// Auth describes how deliveries authenticate to the target.
	Auth Auth `json:"auth"`

	// Filters are the static match conditions.
	Filters Filters `json:"filters"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Secret is the HMAC signing secret for this subscription. Never serialized.
	Secret string `json:"-"`

	// Template is an optional custom payload template. Empty selects the
	// default envelope.
	Template string `json:"template,omitempty"`

	// Retry is the per-subscription retry policy.
	Retry RetryPolicy `json:"retry"`

	// Timeout bounds each delivery HTTP call.
	Timeout time.Duration `json:"timeout"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Version is bumped on structural change (URL, event types, template).
	Version string `json:"version"`

	// Stats are rolling delivery statistics.
	Stats Stats `json:"stats"`

	// DeactivatedReason records why the subscription was auto-deactivated.
	DeactivatedReason string `json:"deactivated_reason,omitempty"`

	// DeactivatedAt records when the subscription was auto-deactivated.
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
