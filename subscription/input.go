package subscription

import "time"

// Input is the creation/update payload for subscriptions.
type Input struct {
	// UserID identifies the owner.
	UserID string `json:"user_id"`

	// URL is the webhook delivery target.
	URL string `json:"url"`

	// Description is a human-readable description.
	Description string `json:"description"`

	// EventTypes are glob patterns for event type subscriptions.
	EventTypes []string `json:"event_types"`

	// Auth describes target authentication. Credential fields are given
	// in plaintext and encrypted by the service before storage.
	Auth Auth `json:"auth"`

	// Filters are the static match conditions.
	Filters Filters `json:"filters"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// Template is an optional custom payload template.
	Template string `json:"template,omitempty"`

	// Retry is the retry policy. Zero values take defaults on create.
	Retry RetryPolicy `json:"retry"`

	// Timeout bounds each delivery HTTP call. Zero takes the default.
	Timeout time.Duration `json:"timeout"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}
