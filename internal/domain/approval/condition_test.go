package approval

import "testing"

func TestCondition_NumericComparisons(t *testing.T) {
	payload := map[string]any{"amount": 150.0}

	tests := []struct {
		op   string
		val  any
		want bool
	}{
		{OpGt, 100, true},
		{OpGt, 150, false},
		{OpGte, 150, true},
		{OpLt, 200, true},
		{OpLte, 149, false},
		{OpEq, 150, true},
		{OpNeq, 150, false},
	}
	for _, tt := range tests {
		c := &Condition{Field: "amount", Op: tt.op, Value: tt.val}
		got, err := c.Eval(payload)
		if err != nil {
			t.Fatalf("amount %s %v: %v", tt.op, tt.val, err)
		}
		if got != tt.want {
			t.Errorf("amount %s %v = %v, want %v", tt.op, tt.val, got, tt.want)
		}
	}
}

func TestCondition_StringAndBoolEquality(t *testing.T) {
	payload := map[string]any{"region": "eu", "urgent": true}

	ok, err := (&Condition{Field: "region", Op: OpEq, Value: "eu"}).Eval(payload)
	if err != nil || !ok {
		t.Fatalf("region == eu: ok=%v err=%v", ok, err)
	}
	ok, err = (&Condition{Field: "urgent", Op: OpNeq, Value: false}).Eval(payload)
	if err != nil || !ok {
		t.Fatalf("urgent != false: ok=%v err=%v", ok, err)
	}
}

func TestCondition_DottedPathLookup(t *testing.T) {
	payload := map[string]any{
		"requester": map[string]any{"team": "platform"},
	}
	ok, err := (&Condition{Field: "requester.team", Op: OpEq, Value: "platform"}).Eval(payload)
	if err != nil || !ok {
		t.Fatalf("dotted lookup failed: ok=%v err=%v", ok, err)
	}
}

func TestCondition_Combinators(t *testing.T) {
	payload := map[string]any{"amount": 50.0, "region": "eu"}

	c := &Condition{All: []Condition{
		{Field: "amount", Op: OpLt, Value: 100},
		{Field: "region", Op: OpEq, Value: "eu"},
	}}
	if ok, err := c.Eval(payload); err != nil || !ok {
		t.Fatalf("all: ok=%v err=%v", ok, err)
	}

	c = &Condition{Any: []Condition{
		{Field: "amount", Op: OpGt, Value: 100},
		{Field: "region", Op: OpEq, Value: "eu"},
	}}
	if ok, err := c.Eval(payload); err != nil || !ok {
		t.Fatalf("any: ok=%v err=%v", ok, err)
	}

	c = &Condition{Not: &Condition{Field: "amount", Op: OpGt, Value: 100}}
	if ok, err := c.Eval(payload); err != nil || !ok {
		t.Fatalf("not: ok=%v err=%v", ok, err)
	}
}

func TestCondition_MissingFieldIsError(t *testing.T) {
	c := &Condition{Field: "ghost", Op: OpEq, Value: 1}
	if _, err := c.Eval(map[string]any{}); err == nil {
		t.Fatal("missing field must be an error, not a silent false")
	}
}

func TestCondition_TypeMismatchIsError(t *testing.T) {
	c := &Condition{Field: "amount", Op: OpGt, Value: "big"}
	if _, err := c.Eval(map[string]any{"amount": 5.0}); err == nil {
		t.Fatal("non-numeric operand for > must be an error")
	}
}

func TestCondition_UnknownOperatorIsError(t *testing.T) {
	c := &Condition{Field: "amount", Op: "~=", Value: 1}
	if _, err := c.Eval(map[string]any{"amount": 1.0}); err == nil {
		t.Fatal("unknown operator must be an error")
	}
}

func TestCondition_EmptyIsError(t *testing.T) {
	if _, err := (&Condition{}).Eval(map[string]any{}); err == nil {
		t.Fatal("empty condition must be an error")
	}
}

func TestCondition_IntPayloadValues(t *testing.T) {
	// YAML decoding yields int, JSON yields float64; both must compare.
	ok, err := (&Condition{Field: "n", Op: OpGte, Value: 3}).Eval(map[string]any{"n": 3})
	if err != nil || !ok {
		t.Fatalf("int payload: ok=%v err=%v", ok, err)
	}
}
