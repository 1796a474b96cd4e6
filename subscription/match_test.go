package subscription_test

import (
	"encoding/json"
	"testing"

	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/internal/entity"
	"github.com/hypothesize-tech/courier/subscription"
)

func matchSub(eventTypes []string, filters subscription.Filters) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		UserID:     "user-1",
		URL:        "https://example.com/hook",
		EventTypes: eventTypes,
		Active:     true,
		Filters:    filters,
	}
}

func matchEvent(eventType string) *event.Event {
	return &event.Event{
		Entity:    entity.New(),
		ID:        id.NewEventID(),
		Type:      eventType,
		UserID:    "user-1",
		ProjectID: "proj-1",
		Data: event.Payload{
			Severity: event.SeverityHigh,
			Tags:     []string{"prod", "billing"},
			Metrics:  map[string]any{"cost": 25.0, "change_pct": 60.0},
		},
	}
}

func TestMatchesEventTypePatterns(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		typ      string
		want     bool
	}{
		{"exact", []string{"cost.alert"}, "cost.alert", true},
		{"exact mismatch", []string{"cost.alert"}, "cost.spike", false},
		{"domain wildcard", []string{"cost.*"}, "cost.spike", true},
		{"domain wildcard mismatch", []string{"cost.*"}, "budget.exceeded", false},
		{"match all", []string{"*"}, "anything.at.all", true},
		{"second pattern wins", []string{"budget.*", "cost.alert"}, "cost.alert", true},
		{"no patterns", nil, "cost.alert", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := matchSub(tt.patterns, subscription.Filters{})
			if got := subscription.Matches(sub, matchEvent(tt.typ)); got != tt.want {
				t.Errorf("Matches(%v, %q) = %v, want %v", tt.patterns, tt.typ, got, tt.want)
			}
		})
	}
}

func TestMatchesInactiveNeverMatches(t *testing.T) {
	sub := matchSub([]string{"*"}, subscription.Filters{})
	sub.Active = false
	if subscription.Matches(sub, matchEvent("cost.alert")) {
		t.Error("inactive subscription matched")
	}
}

func TestMatchesFilters(t *testing.T) {
	minCost := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		filters subscription.Filters
		want    bool
	}{
		{"empty filters", subscription.Filters{}, true},
		{"project match", subscription.Filters{ProjectIDs: []string{"proj-1", "proj-2"}}, true},
		{"project mismatch", subscription.Filters{ProjectIDs: []string{"proj-9"}}, false},
		{"severity match", subscription.Filters{Severities: []event.Severity{event.SeverityHigh, event.SeverityCritical}}, true},
		{"severity mismatch", subscription.Filters{Severities: []event.Severity{event.SeverityCritical}}, false},
		{"tag overlap", subscription.Filters{Tags: []string{"billing", "staging"}}, true},
		{"tag disjoint", subscription.Filters{Tags: []string{"staging"}}, false},
		{"min cost satisfied", subscription.Filters{MinCost: minCost(10)}, true},
		{"min cost exact", subscription.Filters{MinCost: minCost(25)}, true},
		{"min cost too high", subscription.Filters{MinCost: minCost(100)}, false},
		{
			"all filters conjunctive",
			subscription.Filters{
				ProjectIDs: []string{"proj-1"},
				Severities: []event.Severity{event.SeverityHigh},
				Tags:       []string{"prod"},
				MinCost:    minCost(10),
			},
			true,
		},
		{
			"one failing filter rejects",
			subscription.Filters{
				ProjectIDs: []string{"proj-1"},
				MinCost:    minCost(100),
			},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := matchSub([]string{"*"}, tt.filters)
			if got := subscription.Matches(sub, matchEvent("cost.alert")); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesMinCostWithoutCostMetric(t *testing.T) {
	minCost := 1.0
	sub := matchSub([]string{"*"}, subscription.Filters{MinCost: &minCost})
	evt := matchEvent("cost.alert")
	evt.Data.Metrics = nil

	if subscription.Matches(sub, evt) {
		t.Error("event without a cost metric matched a min-cost filter")
	}
}

func TestMatchesCustomConditions(t *testing.T) {
	tests := []struct {
		name   string
		custom map[string]subscription.Condition
		want   bool
	}{
		{"eq on type", map[string]subscription.Condition{"type": subscription.Eq("cost.alert")}, true},
		{"eq mismatch", map[string]subscription.Condition{"type": subscription.Eq("cost.spike")}, false},
		{"gt on metric", map[string]subscription.Condition{"data.metrics.change_pct": subscription.Gt(50)}, true},
		{"gt not satisfied", map[string]subscription.Condition{"data.metrics.change_pct": subscription.Gt(90)}, false},
		{"lte on metric", map[string]subscription.Condition{"data.metrics.cost": subscription.Lte(25)}, true},
		{"in membership", map[string]subscription.Condition{"severity": subscription.In("high", "critical")}, true},
		{"in mismatch", map[string]subscription.Condition{"severity": subscription.In("low")}, false},
		{"unknown path", map[string]subscription.Condition{"data.metrics.nope": subscription.Gt(0)}, false},
		{"ne", map[string]subscription.Condition{"project_id": subscription.Ne("proj-9")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := matchSub([]string{"*"}, subscription.Filters{Custom: tt.custom})
			if got := subscription.Matches(sub, matchEvent("cost.alert")); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionUnmarshalForms(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field any
		want  bool
	}{
		{"bare literal is equality", `"prod"`, "prod", true},
		{"object gt", `{"gt": 100}`, 150.0, true},
		{"object gt false", `{"gt": 100}`, 50.0, false},
		{"dollar prefix", `{"$gte": 10}`, 10.0, true},
		{"in", `{"in": ["a", "b"]}`, "b", true},
		{"unknown operator never matches", `{"regex": ".*"}`, "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c subscription.Condition
			if err := json.Unmarshal([]byte(tt.raw), &c); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.raw, err)
			}
			if got := c.Evaluate(tt.field); got != tt.want {
				t.Errorf("Evaluate(%v) = %v, want %v", tt.field, got, tt.want)
			}
		})
	}
}

func TestMatchAll(t *testing.T) {
	evt := matchEvent("cost.alert")
	matching := matchSub([]string{"cost.*"}, subscription.Filters{})
	wrongType := matchSub([]string{"budget.*"}, subscription.Filters{})
	inactive := matchSub([]string{"*"}, subscription.Filters{})
	inactive.Active = false

	got := subscription.MatchAll([]*subscription.Subscription{matching, wrongType, inactive}, evt)
	if len(got) != 1 || got[0].ID != matching.ID {
		t.Errorf("MatchAll returned %d subs", len(got))
	}
}
