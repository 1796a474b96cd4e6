// Package dlq implements the dead letter fallback: a durable record of
// failed operations plus a handler registry that retries them out of
// band. It is generic over operation kinds; webhook delivery is one
// registered operation among others.
package dlq

import (
	"strings"
	"time"

	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
)

// Entry is one failed operation awaiting out-of-band handling.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this entry.
	ID id.ID `json:"id"`

	// Operation names the failed operation kind, e.g. "webhook_delivery".
	// Handlers are registered against this name.
	Operation string `json:"operation"`

	// Request is the original operation input, preserved for replay.
	Request any `json:"request,omitempty"`

	// Response is whatever partial response the operation produced.
	Response any `json:"response,omitempty"`

	// UserID identifies the owner, when known.
	UserID string `json:"user_id,omitempty"`

	// Metadata carries operation-specific context.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Error is the failure message from the final attempt.
	Error string `json:"error"`

	// Attempts counts handler invocations for this entry.
	Attempts int `json:"attempts"`

	// RaisedAt is when the operation failed.
	RaisedAt time.Time `json:"raised_at"`

	// HandledAt is set once a handler processed the entry successfully.
	HandledAt *time.Time `json:"handled_at,omitempty"`
}

// Handled reports whether the entry is fully processed.
func (e *Entry) Handled() bool {
	return e.HandledAt != nil
}

// Priority ranks entries for the worker: newer entries first, with a
// boost for cost-related operations so billing-impacting failures are
// handled before cosmetic ones.
func (e *Entry) Priority(now time.Time) float64 {
	age := now.Sub(e.RaisedAt).Seconds()
	score := -age
	if strings.Contains(e.Operation, "cost") || strings.Contains(e.Operation, "billing") {
		score += 3600
	}
	return score
}

// ListOpts configures filtering and pagination for entry listing.
type ListOpts struct {
	Offset    int
	Limit     int
	Operation string
	UserID    string
	Unhandled bool
	From      *time.Time
	To        *time.Time
}
