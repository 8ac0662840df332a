package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// RuleTarget selects whether a rule applies to step input or output
type RuleTarget string

const (
	RuleTargetInput  RuleTarget = "input"
	RuleTargetOutput RuleTarget = "output"
)

// RuleOp is a declarative predicate over a single field
type RuleOp string

const (
	RuleMin      RuleOp = "min"       // numeric value >= Value
	RuleMax      RuleOp = "max"       // numeric value <= Value
	RuleMinLen   RuleOp = "min_len"   // len(value) >= Value
	RuleMaxLen   RuleOp = "max_len"   // len(value) <= Value
	RuleNotEmpty RuleOp = "not_empty" // value is not nil, "" or an empty collection
	RuleEquals   RuleOp = "equals"    // value == Value
)

// Rule is a validation predicate with a human-readable violation message.
// Declarative rules skip absent fields; presence is enforced by the step's
// input/output field lists. Func, when set, replaces Op and sees the whole
// object.
type Rule struct {
	Target  RuleTarget `json:"target" yaml:"target"`
	Field   string     `json:"field,omitempty" yaml:"field"`
	Op      RuleOp     `json:"op,omitempty" yaml:"op"`
	Value   any        `json:"value,omitempty" yaml:"value"`
	Message string     `json:"message,omitempty" yaml:"message"`

	Func func(obj map[string]any) error `json:"-" yaml:"-"`
}

// Evaluate returns the violation message and false if obj breaks the rule
func (r *Rule) Evaluate(obj map[string]any) (string, bool) {
	if r.Func != nil {
		if err := r.Func(obj); err != nil {
			return r.message(err.Error()), false
		}
		return "", true
	}

	value, present := obj[r.Field]
	if !present {
		return "", true
	}

	switch r.Op {
	case RuleMin, RuleMax:
		got, ok := toFloat(value)
		if !ok {
			return r.message(fmt.Sprintf("%s is not numeric", r.Field)), false
		}
		limit, _ := toFloat(r.Value)
		if r.Op == RuleMin && got < limit {
			return r.message(fmt.Sprintf("%s %v below minimum %v", r.Field, value, r.Value)), false
		}
		if r.Op == RuleMax && got > limit {
			return r.message(fmt.Sprintf("%s %v above maximum %v", r.Field, value, r.Value)), false
		}
	case RuleMinLen, RuleMaxLen:
		n, ok := length(value)
		if !ok {
			return r.message(fmt.Sprintf("%s has no length", r.Field)), false
		}
		limit, _ := toFloat(r.Value)
		if r.Op == RuleMinLen && float64(n) < limit {
			return r.message(fmt.Sprintf("%s count %d below minimum %v", r.Field, n, r.Value)), false
		}
		if r.Op == RuleMaxLen && float64(n) > limit {
			return r.message(fmt.Sprintf("%s count %d above maximum %v", r.Field, n, r.Value)), false
		}
	case RuleNotEmpty:
		if isEmpty(value) {
			return r.message(fmt.Sprintf("%s is empty", r.Field)), false
		}
	case RuleEquals:
		if !equalValues(value, r.Value) {
			return r.message(fmt.Sprintf("%s is %v, expected %v", r.Field, value, r.Value)), false
		}
	}
	return "", true
}

func (r *Rule) message(fallback string) string {
	if r.Message != "" {
		return r.Message
	}
	return fallback
}

func (r *Rule) check() error {
	if r.Target != RuleTargetInput && r.Target != RuleTargetOutput {
		return fmt.Errorf("rule target must be input or output, got %q", r.Target)
	}
	if r.Func != nil {
		return nil
	}
	if r.Field == "" {
		return fmt.Errorf("rule field is required")
	}
	switch r.Op {
	case RuleMin, RuleMax, RuleMinLen, RuleMaxLen:
		if _, ok := toFloat(r.Value); !ok {
			return fmt.Errorf("rule %s on %s needs a numeric value", r.Op, r.Field)
		}
	case RuleNotEmpty, RuleEquals:
	default:
		return fmt.Errorf("unknown rule op %q", r.Op)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func length(v any) (int, bool) {
	if v == nil {
		return 0, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len(), true
	}
	return 0, false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	if n, ok := length(v); ok {
		return n == 0
	}
	return false
}

func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}
