package subscription

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Operator is the closed set of comparators usable in custom filters.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpIn  Operator = "in"

	// opInvalid marks a condition whose operator was not recognized.
	// An invalid condition never matches (conservative behavior).
	opInvalid Operator = ""
)

// Condition is one comparator applied to a dotted event field path.
type Condition struct {
	Op Operator `json:"op"`

	// Value is the comparison operand for scalar operators.
	Value any `json:"value,omitempty"`

	// Values is the operand set for OpIn.
	Values []any `json:"values,omitempty"`
}

// Eq returns a literal-equality condition.
func Eq(v any) Condition { return Condition{Op: OpEq, Value: v} }

// Gt returns a greater-than condition.
func Gt(v any) Condition { return Condition{Op: OpGt, Value: v} }

// Gte returns a greater-or-equal condition.
func Gte(v any) Condition { return Condition{Op: OpGte, Value: v} }

// Lt returns a less-than condition.
func Lt(v any) Condition { return Condition{Op: OpLt, Value: v} }

// Lte returns a less-or-equal condition.
func Lte(v any) Condition { return Condition{Op: OpLte, Value: v} }

// Ne returns a not-equal condition.
func Ne(v any) Condition { return Condition{Op: OpNe, Value: v} }

// In returns a set-membership condition.
func In(vs ...any) Condition { return Condition{Op: OpIn, Values: vs} }

// UnmarshalJSON accepts either a bare literal (equality) or an object with
// a single operator key, e.g. {"gt": 100} or {"in": ["a","b"]}. An object
// with an unrecognized operator yields an invalid condition that never
// matches, rather than being ignored.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil && len(obj) > 0 {
		if len(obj) != 1 {
			c.Op = opInvalid
			return nil
		}
		for key, raw := range obj {
			op, known := parseOperator(key)
			if !known {
				c.Op = opInvalid
				return nil
			}
			c.Op = op
			if op == OpIn {
				return json.Unmarshal(raw, &c.Values)
			}
			return json.Unmarshal(raw, &c.Value)
		}
	}

	// Bare literal: equality.
	c.Op = OpEq
	return json.Unmarshal(data, &c.Value)
}

func parseOperator(key string) (Operator, bool) {
	switch key {
	case "eq", "$eq":
		return OpEq, true
	case "ne", "$ne":
		return OpNe, true
	case "gt", "$gt":
		return OpGt, true
	case "gte", "$gte":
		return OpGte, true
	case "lt", "$lt":
		return OpLt, true
	case "lte", "$lte":
		return OpLte, true
	case "in", "$in":
		return OpIn, true
	default:
		return opInvalid, false
	}
}

// Evaluate applies the condition to a resolved field value. Any evaluation
// error (type mismatch, unrecognized operator) is a non-match.
func (c Condition) Evaluate(fieldValue any) bool {
	switch c.Op {
	case OpEq:
		return looseEqual(fieldValue, c.Value)
	case OpNe:
		return !looseEqual(fieldValue, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(fieldValue)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn:
		for _, v := range c.Values {
			if looseEqual(fieldValue, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// looseEqual compares values with numeric coercion, so that a JSON float64
// matches an int operand and vice versa.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// String implements fmt.Stringer for debugging filter definitions.
func (c Condition) String() string {
	if c.Op == OpIn {
		return fmt.Sprintf("in %v", c.Values)
	}
	return fmt.Sprintf("%s %v", c.Op, c.Value)
}
