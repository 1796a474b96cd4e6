// Package event defines the immutable domain event submitted for delivery.
package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
)

// Severity classifies how urgent an event is.
type Severity string

// Severity levels, ordered from least to most urgent.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Valid reports whether s is a known severity level.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is at least as urgent as other.
// Unknown severities rank below low.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Payload is the structured data block carried by an event.
type Payload struct {
	// Title is a short human-readable headline.
	Title string `json:"title"`

	// Description elaborates on what happened.
	Description string `json:"description,omitempty"`

	// Severity classifies the urgency of the event.
	Severity Severity `json:"severity"`

	// Resource describes the entity the event is about (model, project, key...).
	Resource map[string]any `json:"resource,omitempty"`

	// Context carries free-form contextual fields.
	Context map[string]any `json:"context,omitempty"`

	// Metrics carries numeric measurements (cost, token counts, percentages).
	Metrics map[string]any `json:"metrics,omitempty"`

	// Tags label the event for subscription tag filters.
	Tags []string `json:"tags,omitempty"`
}

// Event represents an immutable fact submitted for webhook delivery.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event. Replays get a fresh ID with
	// a "_replay_<ts>" suffix, never the original.
	ID id.ID `json:"id"`

	// Type is the dot-separated event type name (e.g. "cost.alert").
	Type string `json:"type"`

	// UserID identifies the user on whose behalf the event was raised.
	UserID string `json:"user_id"`

	// ProjectID optionally scopes the event to a project.
	ProjectID string `json:"project_id,omitempty"`

	// OccurredAt is when the underlying fact happened.
	OccurredAt time.Time `json:"occurred_at"`

	// Data is the event payload.
	Data Payload `json:"data"`

	// Metadata is optional side-channel data (replay provenance, trace ids).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ReplayID derives the wire identifier for a replayed emission of this
// event. The original event id is never reused.
func (e *Event) ReplayID(at time.Time) string {
	return fmt.Sprintf("%s_replay_%d", e.ID.String(), at.Unix())
}

// Cost returns the event's cost metric, if present. Checked in metrics
// first, then context, matching where producers record spend figures.
func (e *Event) Cost() (float64, bool) {
	if v, ok := toFloat(e.Data.Metrics["cost"]); ok {
		return v, true
	}
	if v, ok := toFloat(e.Data.Context["cost"]); ok {
		return v, true
	}
	return 0, false
}

// Field resolves a dotted path against the event for custom filter
// evaluation. Top-level segments: type, user_id, project_id, severity,
// title, description, plus data.{title,description,severity} and the
// free-form data.resource.*, data.context.*, data.metrics.* blocks.
func (e *Event) Field(path string) (any, bool) {
	parts := strings.Split(path, ".")

	switch parts[0] {
	case "type":
		return e.Type, true
	case "user_id":
		return e.UserID, true
	case "project_id":
		return e.ProjectID, true
	case "severity":
		return string(e.Data.Severity), true
	case "title":
		return e.Data.Title, true
	case "description":
		return e.Data.Description, true
	case "data":
		if len(parts) == 1 {
			return nil, false
		}
		return e.dataField(parts[1:])
	default:
		return nil, false
	}
}

func (e *Event) dataField(parts []string) (any, bool) {
	switch parts[0] {
	case "title":
		return e.Data.Title, true
	case "description":
		return e.Data.Description, true
	case "severity":
		return string(e.Data.Severity), true
	case "resource":
		return traverse(e.Data.Resource, parts[1:])
	case "context":
		return traverse(e.Data.Context, parts[1:])
	case "metrics":
		return traverse(e.Data.Metrics, parts[1:])
	default:
		return nil, false
	}
}

// traverse walks nested map[string]any values along the remaining path.
func traverse(m map[string]any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return m, m != nil
	}

	cur := any(m)
	for _, p := range parts {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = mm[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset int
	Limit  int
	Type   string
	From   *time.Time
	To     *time.Time
}
