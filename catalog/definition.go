package catalog

import (
	"encoding/json"

	"github.com/hypothesize-tech/courier/event"
)

// SeverityMode controls how a missing severity is filled during enrichment.
type SeverityMode string

const (
	// SeverityStatic fills a missing severity with DefaultSeverity.
	SeverityStatic SeverityMode = "static"

	// SeverityDynamic derives the severity from the magnitude of the
	// event's change-percentage metric, falling back to DefaultSeverity
	// when no such metric is present.
	SeverityDynamic SeverityMode = "dynamic"
)

// Definition is the canonical description of a notification event type.
// It is the unit of Courier's catalog: definitions carry the per-type
// enrichment defaults the emitter falls back to when producers omit
// title, description, or severity.
type Definition struct {
	// Name is the dot-separated event type name.
	// Convention: "<domain>.<action>" — e.g. "cost.alert", "optimization.completed".
	Name string `json:"name"`

	// Description is a human-readable explanation of when this event fires.
	Description string `json:"description"`

	// Group is an optional category for organizing event types.
	Group string `json:"group,omitempty"`

	// DefaultTitle fills a missing payload title during enrichment.
	DefaultTitle string `json:"default_title,omitempty"`

	// DefaultDescription fills a missing payload description during enrichment.
	DefaultDescription string `json:"default_description,omitempty"`

	// DefaultSeverity fills a missing payload severity during enrichment.
	DefaultSeverity event.Severity `json:"default_severity,omitempty"`

	// SeverityMode selects static or magnitude-derived severity defaulting.
	SeverityMode SeverityMode `json:"severity_mode,omitempty"`

	// Schema is an optional JSON Schema describing the payload context shape.
	// When set, the emitter validates event data against this schema; a
	// validation failure is logged but never blocks emission.
	Schema json.RawMessage `json:"schema,omitempty"`

	// SchemaVersion tracks changes to the Schema itself.
	SchemaVersion string `json:"schema_version,omitempty"`

	// Version is the API version of this event type.
	// Convention: date-based, e.g. "2025-01-01".
	Version string `json:"version"`

	// Example is an optional example payload for documentation and testing.
	Example json.RawMessage `json:"example,omitempty"`
}
