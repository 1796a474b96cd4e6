package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/hypothesize-tech/courier/catalog"
	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/dlq"
	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
	"github.com/hypothesize-tech/courier/subscription"
)

// --- Event Type models ---

type eventTypeModel struct {
	grove.BaseModel `grove:"table:courier_event_types"`

	ID                 string            `grove:"id,pk"               bson:"_id"`
	Name               string            `grove:"name,unique"         bson:"name"`
	Description        string            `grove:"description"         bson:"description"`
	GroupName          string            `grove:"group_name"          bson:"group_name"`
	DefaultTitle       string            `grove:"default_title"       bson:"default_title"`
	DefaultDescription string            `grove:"default_description" bson:"default_description"`
	DefaultSeverity    string            `grove:"default_severity"    bson:"default_severity"`
	SeverityMode       string            `grove:"severity_mode"       bson:"severity_mode"`
	Schema             json.RawMessage   `grove:"schema"              bson:"schema,omitempty"`
	SchemaVersion      string            `grove:"schema_version"      bson:"schema_version"`
	Version            string            `grove:"version"             bson:"version"`
	Example            json.RawMessage   `grove:"example"             bson:"example,omitempty"`
	IsDeprecated       bool              `grove:"is_deprecated"       bson:"is_deprecated"`
	DeprecatedAt       *time.Time        `grove:"deprecated_at"       bson:"deprecated_at,omitempty"`
	Metadata           map[string]string `grove:"metadata"            bson:"metadata,omitempty"`
	CreatedAt          time.Time         `grove:"created_at"          bson:"created_at"`
	UpdatedAt          time.Time         `grove:"updated_at"          bson:"updated_at"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	return &eventTypeModel{
		ID:                 et.ID.String(),
		Name:               et.Definition.Name,
		Description:        et.Definition.Description,
		GroupName:          et.Definition.Group,
		DefaultTitle:       et.Definition.DefaultTitle,
		DefaultDescription: et.Definition.DefaultDescription,
		DefaultSeverity:    string(et.Definition.DefaultSeverity),
		SeverityMode:       string(et.Definition.SeverityMode),
		Schema:             et.Definition.Schema,
		SchemaVersion:      et.Definition.SchemaVersion,
		Version:            et.Definition.Version,
		Example:            et.Definition.Example,
		IsDeprecated:       et.IsDeprecated,
		DeprecatedAt:       et.DeprecatedAt,
		Metadata:           et.Metadata,
		CreatedAt:          et.CreatedAt,
		UpdatedAt:          et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}

	return &catalog.EventType{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID: etID,
		Definition: catalog.Definition{
			Name:               m.Name,
			Description:        m.Description,
			Group:              m.GroupName,
			DefaultTitle:       m.DefaultTitle,
			DefaultDescription: m.DefaultDescription,
			DefaultSeverity:    event.Severity(m.DefaultSeverity),
			SeverityMode:       catalog.SeverityMode(m.SeverityMode),
			Schema:             m.Schema,
			SchemaVersion:      m.SchemaVersion,
			Version:            m.Version,
			Example:            m.Example,
		},
		IsDeprecated: m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
		Metadata:     m.Metadata,
	}, nil
}

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:courier_subscriptions"`

	ID                string            `grove:"id,pk"              bson:"_id"`
	UserID            string            `grove:"user_id"            bson:"user_id"`
	URL               string            `grove:"url"                bson:"url"`
	Description       string            `grove:"description"        bson:"description"`
	EventTypes        []string          `grove:"event_types"        bson:"event_types"`
	Active            bool              `grove:"active"             bson:"active"`
	Auth              json.RawMessage   `grove:"auth"               bson:"auth,omitempty"`
	Filters           json.RawMessage   `grove:"filters"            bson:"filters,omitempty"`
	Headers           map[string]string `grove:"headers"            bson:"headers,omitempty"`
	Secret            string            `grove:"secret"             bson:"secret"`
	Template          string            `grove:"template"           bson:"template,omitempty"`
	Retry             json.RawMessage   `grove:"retry"              bson:"retry,omitempty"`
	TimeoutMs         int64             `grove:"timeout_ms"         bson:"timeout_ms"`
	RateLimit         int               `grove:"rate_limit"         bson:"rate_limit"`
	Version           string            `grove:"version"            bson:"version"`
	Stats             json.RawMessage   `grove:"stats"              bson:"stats,omitempty"`
	DeactivatedReason string            `grove:"deactivated_reason" bson:"deactivated_reason,omitempty"`
	DeactivatedAt     *time.Time        `grove:"deactivated_at"     bson:"deactivated_at,omitempty"`
	Metadata          map[string]string `grove:"metadata"           bson:"metadata,omitempty"`
	CreatedAt         time.Time         `grove:"created_at"         bson:"created_at"`
	UpdatedAt         time.Time         `grove:"updated_at"         bson:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	auth, _ := json.Marshal(sub.Auth)       //nolint:errcheck // best-effort serialization
	filters, _ := json.Marshal(sub.Filters) //nolint:errcheck
	retry, _ := json.Marshal(sub.Retry)     //nolint:errcheck
	stats, _ := json.Marshal(sub.Stats)     //nolint:errcheck

	return &subscriptionModel{
		ID:                sub.ID.String(),
		UserID:            sub.UserID,
		URL:               sub.URL,
		Description:       sub.Description,
		EventTypes:        sub.EventTypes,
		Active:            sub.Active,
		Auth:              auth,
		Filters:           filters,
		Headers:           sub.Headers,
		Secret:            sub.Secret,
		Template:          sub.Template,
		Retry:             retry,
		TimeoutMs:         sub.Timeout.Milliseconds(),
		RateLimit:         sub.RateLimit,
		Version:           sub.Version,
		Stats:             stats,
		DeactivatedReason: sub.DeactivatedReason,
		DeactivatedAt:     sub.DeactivatedAt,
		Metadata:          sub.Metadata,
		CreatedAt:         sub.CreatedAt,
		UpdatedAt:         sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}

	sub := &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                subID,
		UserID:            m.UserID,
		URL:               m.URL,
		Description:       m.Description,
		EventTypes:        m.EventTypes,
		Active:            m.Active,
		Headers:           m.Headers,
		Secret:            m.Secret,
		Template:          m.Template,
		Timeout:           time.Duration(m.TimeoutMs) * time.Millisecond,
		RateLimit:         m.RateLimit,
		Version:           m.Version,
		DeactivatedReason: m.DeactivatedReason,
		DeactivatedAt:     m.DeactivatedAt,
		Metadata:          m.Metadata,
	}

	if len(m.Auth) > 0 {
		if err := json.Unmarshal(m.Auth, &sub.Auth); err != nil {
			return nil, fmt.Errorf("decode auth for %s: %w", m.ID, err)
		}
	}
	if len(m.Filters) > 0 {
		if err := json.Unmarshal(m.Filters, &sub.Filters); err != nil {
			return nil, fmt.Errorf("decode filters for %s: %w", m.ID, err)
		}
	}
	if len(m.Retry) > 0 {
		if err := json.Unmarshal(m.Retry, &sub.Retry); err != nil {
			return nil, fmt.Errorf("decode retry policy for %s: %w", m.ID, err)
		}
	}
	if len(m.Stats) > 0 {
		if err := json.Unmarshal(m.Stats, &sub.Stats); err != nil {
			return nil, fmt.Errorf("decode stats for %s: %w", m.ID, err)
		}
	}

	return sub, nil
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:courier_events"`

	ID         string            `grove:"id,pk"       bson:"_id"`
	Type       string            `grove:"type"        bson:"type"`
	UserID     string            `grove:"user_id"     bson:"user_id"`
	ProjectID  string            `grove:"project_id"  bson:"project_id,omitempty"`
	OccurredAt time.Time         `grove:"occurred_at" bson:"occurred_at"`
	Data       json.RawMessage   `grove:"data"        bson:"data,omitempty"`
	Metadata   map[string]string `grove:"metadata"    bson:"metadata,omitempty"`
	CreatedAt  time.Time         `grove:"created_at"  bson:"created_at"`
	UpdatedAt  time.Time         `grove:"updated_at"  bson:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	data, _ := json.Marshal(evt.Data) //nolint:errcheck // best-effort serialization

	return &eventModel{
		ID:         evt.ID.String(),
		Type:       evt.Type,
		UserID:     evt.UserID,
		ProjectID:  evt.ProjectID,
		OccurredAt: evt.OccurredAt,
		Data:       data,
		Metadata:   evt.Metadata,
		CreatedAt:  evt.CreatedAt,
		UpdatedAt:  evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}

	evt := &event.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         evtID,
		Type:       m.Type,
		UserID:     m.UserID,
		ProjectID:  m.ProjectID,
		OccurredAt: m.OccurredAt,
		Metadata:   m.Metadata,
	}

	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &evt.Data); err != nil {
			return nil, fmt.Errorf("decode payload for %s: %w", m.ID, err)
		}
	}

	return evt, nil
}

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:courier_deliveries"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	SubscriptionID string            `grove:"subscription_id" bson:"subscription_id"`
	UserID         string            `grove:"user_id"         bson:"user_id"`
	EventID        string            `grove:"event_id"        bson:"event_id"`
	EventType      string            `grove:"event_type"      bson:"event_type"`
	Event          json.RawMessage   `grove:"event"           bson:"event,omitempty"`
	Attempt        int               `grove:"attempt"         bson:"attempt"`
	Status         string            `grove:"status"          bson:"status"`
	RetriesLeft    int               `grove:"retries_left"    bson:"retries_left"`
	NextRetryAt    *time.Time        `grove:"next_retry_at"   bson:"next_retry_at,omitempty"`
	Body           []byte            `grove:"body"            bson:"body,omitempty"`
	Request        json.RawMessage   `grove:"request"         bson:"request,omitempty"`
	Response       json.RawMessage   `grove:"response"        bson:"response,omitempty"`
	Error          json.RawMessage   `grove:"error"           bson:"error,omitempty"`
	CompletedAt    *time.Time        `grove:"completed_at"    bson:"completed_at,omitempty"`
	Metadata       map[string]string `grove:"metadata"        bson:"metadata,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"      bson:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	m := &deliveryModel{
		ID:             d.ID.String(),
		SubscriptionID: d.SubscriptionID.String(),
		UserID:         d.UserID,
		EventID:        d.EventID.String(),
		EventType:      d.EventType,
		Attempt:        d.Attempt,
		Status:         string(d.Status),
		RetriesLeft:    d.RetriesLeft,
		NextRetryAt:    d.NextRetryAt,
		Body:           d.Body,
		CompletedAt:    d.CompletedAt,
		Metadata:       d.Metadata,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}

	if d.Event != nil {
		m.Event, _ = json.Marshal(d.Event) //nolint:errcheck // best-effort serialization
	}
	if d.Request != nil {
		m.Request, _ = json.Marshal(d.Request) //nolint:errcheck
	}
	if d.Response != nil {
		m.Response, _ = json.Marshal(d.Response) //nolint:errcheck
	}
	if d.Error != nil {
		m.Error, _ = json.Marshal(d.Error) //nolint:errcheck
	}

	return m
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}

	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}

	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}

	d := &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             delID,
		SubscriptionID: subID,
		UserID:         m.UserID,
		EventID:        evtID,
		EventType:      m.EventType,
		Attempt:        m.Attempt,
		Status:         delivery.Status(m.Status),
		RetriesLeft:    m.RetriesLeft,
		NextRetryAt:    m.NextRetryAt,
		Body:           m.Body,
		CompletedAt:    m.CompletedAt,
		Metadata:       m.Metadata,
	}

	if len(m.Event) > 0 {
		d.Event = new(event.Event)
		if err := json.Unmarshal(m.Event, d.Event); err != nil {
			return nil, fmt.Errorf("decode event snapshot for %s: %w", m.ID, err)
		}
	}
	if len(m.Request) > 0 {
		d.Request = new(delivery.RequestSnapshot)
		if err := json.Unmarshal(m.Request, d.Request); err != nil {
			return nil, fmt.Errorf("decode request snapshot for %s: %w", m.ID, err)
		}
	}
	if len(m.Response) > 0 {
		d.Response = new(delivery.ResponseSnapshot)
		if err := json.Unmarshal(m.Response, d.Response); err != nil {
			return nil, fmt.Errorf("decode response snapshot for %s: %w", m.ID, err)
		}
	}
	if len(m.Error) > 0 {
		d.Error = new(delivery.ErrorInfo)
		if err := json.Unmarshal(m.Error, d.Error); err != nil {
			return nil, fmt.Errorf("decode error info for %s: %w", m.ID, err)
		}
	}

	return d, nil
}

// --- Subscription failure log ---

type failureModel struct {
	grove.BaseModel `grove:"table:courier_subscription_failures"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	SubscriptionID string    `grove:"subscription_id" bson:"subscription_id"`
	FailedAt       time.Time `grove:"failed_at"       bson:"failed_at"`
}

// --- Dead letter models ---

type dlqEntryModel struct {
	grove.BaseModel `grove:"table:courier_dlq"`

	ID        string            `grove:"id,pk"      bson:"_id"`
	Operation string            `grove:"operation"  bson:"operation"`
	Request   json.RawMessage   `grove:"request"    bson:"request,omitempty"`
	Response  json.RawMessage   `grove:"response"   bson:"response,omitempty"`
	UserID    string            `grove:"user_id"    bson:"user_id,omitempty"`
	Metadata  map[string]string `grove:"metadata"   bson:"metadata,omitempty"`
	Error     string            `grove:"error"      bson:"error"`
	Attempts  int               `grove:"attempts"   bson:"attempts"`
	RaisedAt  time.Time         `grove:"raised_at"  bson:"raised_at"`
	HandledAt *time.Time        `grove:"handled_at" bson:"handled_at,omitempty"`
	CreatedAt time.Time         `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at" bson:"updated_at"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	request, _ := json.Marshal(e.Request)   //nolint:errcheck // best-effort serialization
	response, _ := json.Marshal(e.Response) //nolint:errcheck

	return &dlqEntryModel{
		ID:        e.ID.String(),
		Operation: e.Operation,
		Request:   request,
		Response:  response,
		UserID:    e.UserID,
		Metadata:  e.Metadata,
		Error:     e.Error,
		Attempts:  e.Attempts,
		RaisedAt:  e.RaisedAt,
		HandledAt: e.HandledAt,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDeadLetterID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse dead letter ID %q: %w", m.ID, err)
	}

	entry := &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        entryID,
		Operation: m.Operation,
		UserID:    m.UserID,
		Metadata:  m.Metadata,
		Error:     m.Error,
		Attempts:  m.Attempts,
		RaisedAt:  m.RaisedAt,
		HandledAt: m.HandledAt,
	}

	if len(m.Request) > 0 {
		entry.Request = json.RawMessage(m.Request)
	}
	if len(m.Response) > 0 {
		entry.Response = json.RawMessage(m.Response)
	}

	return entry, nil
}
