package subscription

import (
	"github.com/hypothesize-tech/courier/catalog"
	"github.com/hypothesize-tech/courier/event"
)

// Matches reports whether a subscription should receive an event: the
// subscription is active, the event type matches one of its patterns, and
// every populated filter is satisfied. Filter evaluation errors count as
// non-matches.
func Matches(s *Subscription, evt *event.Event) bool {
	if !s.Active {
		return false
	}

	if !matchesType(s.EventTypes, evt.Type) {
		return false
	}

	return matchesFilters(s.Filters, evt)
}

// MatchAll filters subs down to those matching evt. Order of the returned
// slice is unspecified; all matches are independent.
func MatchAll(subs []*Subscription, evt *event.Event) []*Subscription {
	matched := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if Matches(s, evt) {
			matched = append(matched, s)
		}
	}
	return matched
}

func matchesType(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if catalog.Match(p, eventType) {
			return true
		}
	}
	return false
}

func matchesFilters(f Filters, evt *event.Event) bool {
	if len(f.ProjectIDs) > 0 && !containsString(f.ProjectIDs, evt.ProjectID) {
		return false
	}

	if len(f.Severities) > 0 && !containsSeverity(f.Severities, evt.Data.Severity) {
		return false
	}

	if len(f.Tags) > 0 && !intersects(f.Tags, evt.Data.Tags) {
		return false
	}

	if f.MinCost != nil {
		cost, ok := evt.Cost()
		if !ok || cost < *f.MinCost {
			return false
		}
	}

	for path, cond := range f.Custom {
		fieldValue, ok := evt.Field(path)
		if !ok {
			return false
		}
		if !cond.Evaluate(fieldValue) {
			return false
		}
	}

	return true
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsSeverity(xs []event.Severity, v event.Severity) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
