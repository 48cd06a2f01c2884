package policy

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseOperator(t *testing.T) {
	tests := []struct {
		in      string
		want    Operator
		wantErr bool
	}{
		{in: "==", want: OpEqual},
		{in: "=", want: OpEqual},
		{in: "≠", want: OpNotEqual},
		{in: " >= ", want: OpGreaterEqual},
		{in: "≤", want: OpLessEqual},
		{in: "CONTAINS", want: OpContains},
		{in: "regex", want: OpMatches},
		{in: "between", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOperator(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOperator(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseOperator(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCondition_UnmarshalAlias(t *testing.T) {
	var c Condition
	if err := json.Unmarshal([]byte(`{"parameter":"amount","operator":"≥","value":10}`), &c); err != nil {
		t.Fatalf("Unmarshal() error = %v, want nil", err)
	}
	if c.Operator != OpGreaterEqual {
		t.Errorf("Operator = %q, want %q", c.Operator, OpGreaterEqual)
	}
}

func TestCondition_Equal(t *testing.T) {
	a := Condition{Parameter: "amount", Operator: OpGreater, Value: 1000}
	b := Condition{Parameter: "amount", Operator: OpGreater, Value: 1000.0}
	c := Condition{Parameter: "amount", Operator: OpGreater, Value: "1000"}

	if !a.Equal(b) {
		t.Error("Equal() = false for 1000 and 1000.0, want true")
	}
	if a.Equal(c) {
		t.Error("Equal() = true for 1000 and \"1000\", want false")
	}
}

func TestPolicy_Validate(t *testing.T) {
	valid := &Policy{
		ID:         "budget-cap",
		Version:    "1.0.0",
		Domain:     DomainFinance,
		Scope:      ScopeGlobal,
		Conditions: []Condition{{Parameter: "amount", Operator: OpGreater, Value: 1000}},
		Triggers:   []Trigger{{Type: TriggerOnViolation, ActionName: "reroute_task"}},
		Exceptions: []Exception{{Condition: "agent_id == admin", Override: OverrideIgnore}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	invalid := &Policy{
		Version:    "one",
		Domain:     "astrology",
		Conditions: []Condition{{Operator: "between"}},
		Triggers:   []Trigger{{Type: "sometimes"}},
		Exceptions: []Exception{{Override: "shrug"}},
	}
	err := invalid.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
	if len(verr.Problems) != 8 {
		t.Errorf("Problems = %d (%v), want 8", len(verr.Problems), verr.Problems)
	}

	var nilPolicy *Policy
	var cerr *ContractError
	if !errors.As(nilPolicy.Validate(), &cerr) {
		t.Error("Validate() on nil policy should return *ContractError")
	}
}

func TestPolicy_CloneIsDeep(t *testing.T) {
	p := &Policy{
		ID:           "p",
		Conditions:   []Condition{{Parameter: "a", Operator: OpEqual, Value: 1}},
		Triggers:     []Trigger{{Type: TriggerOnActivation, ActionName: "notify", Parameters: map[string]any{"channel": "ops"}}},
		Instructions: []string{"check twice"},
	}
	cp := p.Clone()
	cp.Conditions[0].Parameter = "b"
	cp.Triggers[0].Parameters["channel"] = "dev"
	cp.Instructions[0] = "changed"

	if p.Conditions[0].Parameter != "a" {
		t.Error("Clone() shares Conditions")
	}
	if p.Triggers[0].Parameters["channel"] != "ops" {
		t.Error("Clone() shares trigger parameters")
	}
	if p.Instructions[0] != "check twice" {
		t.Error("Clone() shares Instructions")
	}
}

func TestFilter_Matches(t *testing.T) {
	yes := true
	p := &Policy{ID: "p", Domain: DomainLegal, Industry: "banking", IsTemplate: true}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "empty", filter: Filter{}, want: true},
		{name: "domain", filter: Filter{Domain: DomainLegal}, want: true},
		{name: "wrong domain", filter: Filter{Domain: DomainFinance}, want: false},
		{name: "industry and template", filter: Filter{Industry: "banking", IsTemplate: &yes}, want: true},
		{name: "functional area", filter: Filter{FunctionalArea: "payments"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(p); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := PolicyChange{PolicyID: "p", RawText: "amount > 1000"}
	b := PolicyChange{PolicyID: "q", RawText: "amount > 1000", Source: "other"}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Fingerprint() depends on more than raw text")
	}
	if len(a.Fingerprint()) != 64 {
		t.Errorf("Fingerprint() length = %d, want 64", len(a.Fingerprint()))
	}
}
