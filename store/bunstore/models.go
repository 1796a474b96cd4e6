package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

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
	bun.BaseModel `bun:"table:courier_event_types"`

	ID                 string            `bun:"id,pk"`
	Name               string            `bun:"name,unique"`
	Description        string            `bun:"description"`
	GroupName          string            `bun:"group_name"`
	DefaultTitle       string            `bun:"default_title"`
	DefaultDescription string            `bun:"default_description"`
	DefaultSeverity    string            `bun:"default_severity"`
	SeverityMode       string            `bun:"severity_mode"`
	Schema             json.RawMessage   `bun:"schema,type:jsonb"`
	SchemaVersion      string            `bun:"schema_version"`
	Version            string            `bun:"version"`
	Example            json.RawMessage   `bun:"example,type:jsonb"`
	IsDeprecated       bool              `bun:"is_deprecated"`
	DeprecatedAt       *time.Time        `bun:"deprecated_at"`
	Metadata           map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt          time.Time         `bun:"created_at"`
	UpdatedAt          time.Time         `bun:"updated_at"`
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
	bun.BaseModel `bun:"table:courier_subscriptions"`

	ID                string            `bun:"id,pk"`
	UserID            string            `bun:"user_id"`
	URL               string            `bun:"url"`
	Description       string            `bun:"description"`
	EventTypes        []string          `bun:"event_types,array"`
	Active            bool              `bun:"active"`
	Auth              json.RawMessage   `bun:"auth,type:jsonb"`
	Filters           json.RawMessage   `bun:"filters,type:jsonb"`
	Headers           map[string]string `bun:"headers,type:jsonb"`
	Secret            string            `bun:"secret"`
	Template          string            `bun:"template"`
	Retry             json.RawMessage   `bun:"retry,type:jsonb"`
	TimeoutMs         int64             `bun:"timeout_ms"`
	RateLimit         int               `bun:"rate_limit"`
	Version           string            `bun:"version"`
	Stats             json.RawMessage   `bun:"stats,type:jsonb"`
	DeactivatedReason string            `bun:"deactivated_reason"`
	DeactivatedAt     *time.Time        `bun:"deactivated_at"`
	Metadata          map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt         time.Time         `bun:"created_at"`
	UpdatedAt         time.Time         `bun:"updated_at"`
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
	bun.BaseModel `bun:"table:courier_events"`

	ID         string            `bun:"id,pk"`
	Type       string            `bun:"type"`
	UserID     string            `bun:"user_id"`
	ProjectID  string            `bun:"project_id"`
	OccurredAt time.Time         `bun:"occurred_at"`
	Data       json.RawMessage   `bun:"data,type:jsonb"`
	Metadata   map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt  time.Time         `bun:"created_at"`
	UpdatedAt  time.Time         `bun:"updated_at"`
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
	bun.BaseModel `bun:"table:courier_deliveries"`

	ID             string            `bun:"id,pk"`
	SubscriptionID string            `bun:"subscription_id"`
	UserID         string            `bun:"user_id"`
	EventID        string            `bun:"event_id"`
	EventType      string            `bun:"event_type"`
	Event          json.RawMessage   `bun:"event,type:jsonb"`
	Attempt        int               `bun:"attempt"`
	Status         string            `bun:"status"`
	RetriesLeft    int               `bun:"retries_left"`
	NextRetryAt    *time.Time        `bun:"next_retry_at"`
	Body           []byte            `bun:"body"`
	Request        json.RawMessage   `bun:"request,type:jsonb"`
	Response       json.RawMessage   `bun:"response,type:jsonb"`
	Error          json.RawMessage   `bun:"error,type:jsonb"`
	CompletedAt    *time.Time        `bun:"completed_at"`
	Metadata       map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt      time.Time         `bun:"created_at"`
	UpdatedAt      time.Time         `bun:"updated_at"`
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

// failureModel records one failed delivery attempt for the
// chronic-failure window query. Pruned opportunistically on count.
type failureModel struct {
	bun.BaseModel `bun:"table:courier_subscription_failures"`

	ID             int64     `bun:"id,pk,autoincrement"`
	SubscriptionID string    `bun:"subscription_id"`
	FailedAt       time.Time `bun:"failed_at"`
}

// --- Dead letter models ---

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:courier_dlq"`

	ID        string            `bun:"id,pk"`
	Operation string            `bun:"operation"`
	Request   json.RawMessage   `bun:"request,type:jsonb"`
	Response  json.RawMessage   `bun:"response,type:jsonb"`
	UserID    string            `bun:"user_id"`
	Metadata  map[string]string `bun:"metadata,type:jsonb"`
	Error     string            `bun:"error"`
	Attempts  int               `bun:"attempts"`
	RaisedAt  time.Time         `bun:"raised_at"`
	HandledAt *time.Time        `bun:"handled_at"`
	CreatedAt time.Time         `bun:"created_at"`
	UpdatedAt time.Time         `bun:"updated_at"`
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
