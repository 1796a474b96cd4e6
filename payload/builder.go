// Package payload renders subscriber-specific webhook bodies.
//
// Rendering never fails the delivery: any template error degrades to a
// minimal fallback body carrying the event id and an error marker.
package payload

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/subscription"
)

// maxCachedTemplates bounds the compiled-template cache. Eviction drops
// the whole cache; recompilation is cheap and has no correctness impact.
const maxCachedTemplates = 256

// fallbackError is the error marker carried by the fallback body.
const fallbackError = "Failed to build custom payload"

// Summary is a resolved directory entry for a user or project.
type Summary struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// DirectoryResolver resolves user and project summaries for the render
// context. It is an external collaborator; nil summaries are fine.
type DirectoryResolver interface {
	User(ctx context.Context, userID string) (Summary, error)
	Project(ctx context.Context, projectID string) (Summary, error)
}

// ServiceInfo identifies the emitting service in rendered payloads.
type ServiceInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RenderContext is the data a payload template executes against.
type RenderContext struct {
	Event     *event.Event `json:"event"`
	User      Summary      `json:"user"`
	Project   Summary      `json:"project"`
	Timestamp time.Time    `json:"timestamp"`
	Service   ServiceInfo  `json:"service"`
}

// Builder renders webhook bodies from subscription templates, with
// compiled-template caching and chat-platform payload shaping.
type Builder struct {
	resolver DirectoryResolver
	service  ServiceInfo
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]*template.Template // keyed by template text
}

// NewBuilder creates a payload builder. A nil resolver skips directory
// lookups; summaries then carry only the raw ids.
func NewBuilder(resolver DirectoryResolver, service ServiceInfo, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		resolver: resolver,
		service:  service,
		logger:   logger,
		cache:    make(map[string]*template.Template),
	}
}

// Build renders the delivery body for one subscription/event pair.
// Chat-platform URLs get platform-native payloads; otherwise the
// subscription's custom template, or the default envelope, is used.
// Build never returns an error: failures degrade to Fallback.
func (b *Builder) Build(ctx context.Context, sub *subscription.Subscription, evt *event.Event) []byte {
	switch detectPlatform(sub.URL) {
	case platformSlack:
		return b.marshalOrFallback(evt, slackPayload(evt))
	case platformDiscord:
		return b.marshalOrFallback(evt, discordPayload(evt))
	}

	rc := b.renderContext(ctx, evt)

	if sub.Template == "" {
		return b.marshalOrFallback(evt, defaultEnvelope(rc))
	}

	tmpl, err := b.compile(sub.Template)
	if err != nil {
		b.logger.WarnContext(ctx, "payload template compile failed",
			"subscription_id", sub.ID, "error", err)
		return Fallback(evt)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, rc); err != nil {
		b.logger.WarnContext(ctx, "payload template render failed",
			"subscription_id", sub.ID, "error", err)
		return Fallback(evt)
	}

	return buf.Bytes()
}

// Fallback is the minimal body sent when rendering fails.
func Fallback(evt *event.Event) []byte {
	body, err := json.Marshal(map[string]string{
		"event_id":   evt.ID.String(),
		"event_type": evt.Type,
		"error":      fallbackError,
	})
	if err != nil {
		// Marshaling a map of strings cannot fail; keep the compiler honest.
		return []byte(`{"error":"` + fallbackError + `"}`)
	}
	return body
}

func (b *Builder) renderContext(ctx context.Context, evt *event.Event) RenderContext {
	rc := RenderContext{
		Event:     evt,
		User:      Summary{ID: evt.UserID},
		Project:   Summary{ID: evt.ProjectID},
		Timestamp: time.Now().UTC(),
		Service:   b.service,
	}

	if b.resolver == nil {
		return rc
	}

	if evt.UserID != "" {
		if u, err := b.resolver.User(ctx, evt.UserID); err == nil {
			rc.User = u
		}
	}
	if evt.ProjectID != "" {
		if p, err := b.resolver.Project(ctx, evt.ProjectID); err == nil {
			rc.Project = p
		}
	}
	return rc
}

// compile returns a parsed template, using the cache for previously-seen
// template text.
func (b *Builder) compile(text string) (*template.Template, error) {
	b.mu.Lock()
	if t, ok := b.cache[text]; ok {
		b.mu.Unlock()
		return t, nil
	}
	b.mu.Unlock()

	t, err := template.New("payload").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if len(b.cache) >= maxCachedTemplates {
		b.cache = make(map[string]*template.Template, maxCachedTemplates)
	}
	b.cache[text] = t
	b.mu.Unlock()

	return t, nil
}

var templateFuncs = template.FuncMap{
	// json marshals a value for embedding inside a template body.
	"json": func(v any) (string, error) {
		raw, err := json.Marshal(v)
		return string(raw), err
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// envelope is the default JSON body shape.
type envelope struct {
	EventID     string         `json:"event_id"`
	EventType   string         `json:"event_type"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Severity    event.Severity `json:"severity"`
	ProjectID   string         `json:"project_id,omitempty"`
	User        Summary        `json:"user"`
	Project     Summary        `json:"project,omitempty"`
	Resource    map[string]any `json:"resource,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Metrics     map[string]any `json:"metrics,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Service     ServiceInfo    `json:"service"`
}

func defaultEnvelope(rc RenderContext) envelope {
	evt := rc.Event
	return envelope{
		EventID:     evt.ID.String(),
		EventType:   evt.Type,
		OccurredAt:  evt.OccurredAt,
		Title:       evt.Data.Title,
		Description: evt.Data.Description,
		Severity:    evt.Data.Severity,
		ProjectID:   evt.ProjectID,
		User:        rc.User,
		Project:     rc.Project,
		Resource:    evt.Data.Resource,
		Context:     evt.Data.Context,
		Metrics:     evt.Data.Metrics,
		Tags:        evt.Data.Tags,
		Timestamp:   rc.Timestamp,
		Service:     rc.Service,
	}
}

func (b *Builder) marshalOrFallback(evt *event.Event, v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("payload marshal failed", "event_id", evt.ID, "error", err)
		return Fallback(evt)
	}
	return body
}
