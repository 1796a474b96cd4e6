package catalog_test

import (
	"testing"

	"github.com/hypothesize-tech/courier/catalog"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"cost.alert", "cost.alert", true},
		{"cost.alert", "cost.spike", false},
		{"cost.*", "cost.alert", true},
		{"cost.*", "cost.spike_detected", true},
		{"cost.*", "budget.exceeded", false},
		{"*", "anything", true},
		{"*", "cost.alert", true},
		{"*.alert", "cost.alert", true},
		{"*.alert", "security.alert", true},
		{"*.alert", "cost.spike", false},
		{"cost.*", "cost.alert.daily", false}, // wildcard spans one segment
		{"cost.*.daily", "cost.alert.daily", true},
		{"", "cost.alert", false},
		{"cost.alert", "", false},
	}
	for _, tt := range tests {
		if got := catalog.Match(tt.pattern, tt.eventType); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
		}
	}
}
