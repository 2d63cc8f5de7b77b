package core

import (
	"fmt"
	"strings"
)

// ConditionOp is the whitelist of comparison operators a custom step's
// condition may use. Conditions are data, not code: there is no expression
// evaluation beyond a single comparison against the accumulated context.
type ConditionOp string

const (
	OpEquals       ConditionOp = "=="
	OpNotEquals    ConditionOp = "!="
	OpLessThan     ConditionOp = "<"
	OpLessEqual    ConditionOp = "<="
	OpGreaterThan  ConditionOp = ">"
	OpGreaterEqual ConditionOp = ">="
	OpExists       ConditionOp = "exists"
	OpContains     ConditionOp = "contains"
)

var validConditionOps = map[ConditionOp]bool{
	OpEquals:       true,
	OpNotEquals:    true,
	OpLessThan:     true,
	OpLessEqual:    true,
	OpGreaterThan:  true,
	OpGreaterEqual: true,
	OpExists:       true,
	OpContains:     true,
}

// Condition gates a custom step on a single comparison over the execution
// context. Field is a dot path ("research.word_count"); Value is compared
// with the resolved field using Op.
type Condition struct {
	Field string      `yaml:"field" json:"field"`
	Op    ConditionOp `yaml:"op" json:"op"`
	Value any         `yaml:"value,omitempty" json:"value,omitempty"`
}

// Validate checks that the condition uses a whitelisted operator.
func (c *Condition) Validate() error {
	if c.Field == "" {
		return ErrValidation("CONDITION_FIELD_REQUIRED", "condition field cannot be empty")
	}
	if !validConditionOps[c.Op] {
		return ErrValidation("CONDITION_OP_UNKNOWN",
			fmt.Sprintf("condition operator %q is not allowed", c.Op))
	}
	if c.Op != OpExists && c.Value == nil {
		return ErrValidation("CONDITION_VALUE_REQUIRED",
			fmt.Sprintf("condition %q %s needs a comparison value", c.Field, c.Op))
	}
	return nil
}

// Evaluate resolves the field against the context and applies the operator.
// A missing field satisfies only != and makes exists false; every other
// operator evaluates to false rather than erroring, so a malformed context
// skips the step instead of failing the execution.
func (c *Condition) Evaluate(context map[string]any) bool {
	val, found := lookupPath(context, c.Field)

	switch c.Op {
	case OpExists:
		return found
	case OpEquals:
		return found && looseEqual(val, c.Value)
	case OpNotEquals:
		return !found || !looseEqual(val, c.Value)
	case OpContains:
		s, ok := val.(string)
		want, ok2 := c.Value.(string)
		return found && ok && ok2 && strings.Contains(s, want)
	case OpLessThan, OpLessEqual, OpGreaterThan, OpGreaterEqual:
		if !found {
			return false
		}
		a, okA := toFloat(val)
		b, okB := toFloat(c.Value)
		if !okA || !okB {
			return false
		}
		switch c.Op {
		case OpLessThan:
			return a < b
		case OpLessEqual:
			return a <= b
		case OpGreaterThan:
			return a > b
		default:
			return a >= b
		}
	}
	return false
}

// lookupPath walks a dot path through nested maps.
func lookupPath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// looseEqual compares scalars across JSON/YAML numeric representations.
func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok2 := toFloat(b); ok2 {
			return fa == fb
		}
		return false
	}
	return a == b
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
	case uint64:
		return float64(n), true
	}
	return 0, false
}
