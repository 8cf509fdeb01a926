package approval

import (
	"fmt"
	"strings"
)

// Condition is a small, typed boolean expression evaluated against a
// request payload. It supports field lookups, comparisons and boolean
// combinators only; there is no code-execution path and no function
// call syntax.
type Condition struct {
	// Leaf comparison: Field Op Value.
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	Op    string `json:"op,omitempty" yaml:"op,omitempty"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`

	// Boolean combinators (exactly one of these or a leaf).
	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Condition `json:"any,omitempty" yaml:"any,omitempty"`
	Not *Condition  `json:"not,omitempty" yaml:"not,omitempty"`
}

// Comparison operators accepted in Condition.Op.
const (
	OpEq  = "=="
	OpNeq = "!="
	OpGt  = ">"
	OpGte = ">="
	OpLt  = "<"
	OpLte = "<="
)

// Eval evaluates the condition against the payload. A missing field,
// an unknown operator or an uncomparable value pair is an error, never
// a silent true or false: ambiguous policy must not self-resolve.
func (c *Condition) Eval(payload map[string]any) (bool, error) {
	switch {
	case len(c.All) > 0:
		for i := range c.All {
			ok, err := c.All[i].Eval(payload)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case len(c.Any) > 0:
		for i := range c.Any {
			ok, err := c.Any[i].Eval(payload)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case c.Not != nil:
		ok, err := c.Not.Eval(payload)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case c.Field != "":
		return c.evalLeaf(payload)

	default:
		return false, fmt.Errorf("empty condition")
	}
}

func (c *Condition) evalLeaf(payload map[string]any) (bool, error) {
	got, ok := lookup(payload, c.Field)
	if !ok {
		return false, fmt.Errorf("field %q not present in payload", c.Field)
	}

	switch c.Op {
	case OpEq, OpNeq:
		eq, err := equal(got, c.Value)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", c.Field, err)
		}
		if c.Op == OpNeq {
			return !eq, nil
		}
		return eq, nil

	case OpGt, OpGte, OpLt, OpLte:
		a, okA := toFloat(got)
		b, okB := toFloat(c.Value)
		if !okA || !okB {
			return false, fmt.Errorf("field %q: %s requires numeric operands", c.Field, c.Op)
		}
		switch c.Op {
		case OpGt:
			return a > b, nil
		case OpGte:
			return a >= b, nil
		case OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}

	default:
		return false, fmt.Errorf("field %q: unknown operator %q", c.Field, c.Op)
	}
}

// lookup resolves a dotted path ("requester.team") in a nested payload map.
func lookup(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = payload
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// equal compares two payload values: numerically when both sides are
// numeric, otherwise by string/bool identity.
func equal(a, b any) (bool, error) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb, nil
		}
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return false, fmt.Errorf("cannot compare string with %T", b)
		}
		return av == bv, nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return false, fmt.Errorf("cannot compare bool with %T", b)
		}
		return av == bv, nil
	default:
		return false, fmt.Errorf("unsupported comparison type %T", a)
	}
}

// toFloat normalizes the numeric types JSON and YAML decoding produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
