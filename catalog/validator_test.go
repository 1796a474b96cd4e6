package catalog_test

import (
	"testing"

	"github.com/hypothesize-tech/courier/catalog"
)

var costContextSchema = map[string]any{
	"type":     "object",
	"required": []any{"service"},
	"properties": map[string]any{
		"service": map[string]any{"type": "string"},
		"cost":    map[string]any{"type": "number", "minimum": 0},
	},
}

func TestValidateNilSchemaSkips(t *testing.T) {
	v := catalog.NewValidator()
	if err := v.Validate(nil, map[string]any{"anything": true}); err != nil {
		t.Errorf("nil schema should skip validation, got %v", err)
	}
}

func TestValidateAcceptsConformingDocument(t *testing.T) {
	v := catalog.NewValidator()
	doc := map[string]any{"service": "openai", "cost": 12.5}
	if err := v.Validate(costContextSchema, doc); err != nil {
		t.Errorf("conforming document rejected: %v", err)
	}
}

func TestValidateRejectsViolations(t *testing.T) {
	v := catalog.NewValidator()
	tests := []struct {
		name string
		doc  any
	}{
		{"missing required", map[string]any{"cost": 1.0}},
		{"wrong type", map[string]any{"service": 42}},
		{"below minimum", map[string]any{"service": "openai", "cost": -1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.Validate(costContextSchema, tt.doc); err == nil {
				t.Error("violation not reported")
			}
		})
	}
}

func TestValidateMalformedSchema(t *testing.T) {
	v := catalog.NewValidator()
	schema := map[string]any{"type": 123} // type must be a string or array
	if err := v.Validate(schema, map[string]any{}); err == nil {
		t.Error("expected a compilation error")
	}
}

func TestValidateReusesCompiledSchema(t *testing.T) {
	v := catalog.NewValidator()
	doc := map[string]any{"service": "anthropic"}
	for range 3 {
		if err := v.Validate(costContextSchema, doc); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}
}
