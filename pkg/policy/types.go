package policy

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Domain is the governance area a policy belongs to.
type Domain string

const (
	DomainGovernance  Domain = "governance"
	DomainFinance     Domain = "finance"
	DomainOperations  Domain = "operations"
	DomainEthics      Domain = "ethics"
	DomainSecurity    Domain = "security"
	DomainLegal       Domain = "legal"
	DomainCooperation Domain = "cooperation"
)

// Domains lists every known domain.
var Domains = []Domain{
	DomainGovernance,
	DomainFinance,
	DomainOperations,
	DomainEthics,
	DomainSecurity,
	DomainLegal,
	DomainCooperation,
}

// Valid reports whether d is a known domain.
func (d Domain) Valid() bool {
	return slices.Contains(Domains, d)
}

// Scope controls which agents a policy applies to.
type Scope string

const (
	ScopeGlobal         Scope = "global"
	ScopeDomainSpecific Scope = "domain_specific"
	ScopeTeam           Scope = "team"
	ScopeAgentSpecific  Scope = "agent_specific"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeDomainSpecific, ScopeTeam, ScopeAgentSpecific:
		return true
	}
	return false
}

// TriggerType identifies when a trigger fires.
type TriggerType string

const (
	TriggerOnActivation TriggerType = "on_activation"
	TriggerOnViolation  TriggerType = "on_violation"
	TriggerOnScheduled  TriggerType = "on_scheduled"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerOnActivation, TriggerOnViolation, TriggerOnScheduled:
		return true
	}
	return false
}

// OverrideAction is what a matching exception does to evaluation.
type OverrideAction string

const (
	// OverrideIgnore short-circuits evaluation and allows the action.
	OverrideIgnore OverrideAction = "ignore"

	// OverrideLogOnly records the match and continues evaluation.
	OverrideLogOnly OverrideAction = "log_only"

	// OverrideEscalate records the match and continues evaluation.
	OverrideEscalate OverrideAction = "escalate"
)

// Valid reports whether a is a known override action.
func (a OverrideAction) Valid() bool {
	switch a {
	case OverrideIgnore, OverrideLogOnly, OverrideEscalate:
		return true
	}
	return false
}

// Condition is a single predicate over agent state.
type Condition struct {
	// Parameter is the state key the condition reads.
	Parameter string `json:"parameter" yaml:"parameter"`

	// Operator is the comparison applied to the state value.
	Operator Operator `json:"operator" yaml:"operator"`

	// Value is the scalar the state value is compared against.
	Value any `json:"value" yaml:"value"`

	// Description is optional human-readable text.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Equal reports whether two conditions have the same parameter, operator and value.
// Numeric values compare by magnitude so 1000 and 1000.0 are equal.
func (c Condition) Equal(other Condition) bool {
	if c.Parameter != other.Parameter || c.Operator != other.Operator {
		return false
	}
	return ValuesEqual(c.Value, other.Value)
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Parameter, c.Operator, c.Value)
}

// Trigger is an action a policy emits on activation, on violation, or on a schedule.
type Trigger struct {
	// Type is when the trigger fires.
	Type TriggerType `json:"type" yaml:"type"`

	// ActionName names the action, e.g. "reroute_task" or "suggest_correction".
	ActionName string `json:"action_name" yaml:"action"`

	// Parameters are free-form action arguments.
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// StringParam returns a string parameter, or "" when absent or not a string.
func (t Trigger) StringParam(key string) string {
	s, _ := t.Parameters[key].(string)
	return s
}

// Exception is a scoped override of a policy, matched against free-text conditions.
type Exception struct {
	// Condition is free text such as "agent_id == admin".
	Condition string `json:"condition" yaml:"condition"`

	// Override is what happens when the exception matches.
	Override OverrideAction `json:"override_action" yaml:"override"`

	// Priority orders exceptions for display. Matching uses declaration order.
	Priority int `json:"priority" yaml:"priority"`
}

// Policy is an immutable, versioned governance rule.
//
// A published Policy is never mutated. Producers build a new value per version
// and readers may share pointers freely.
type Policy struct {
	// ID is the stable policy_id shared by every version.
	ID string `json:"policy_id"`

	// Title is the human-readable name.
	Title string `json:"title"`

	// Version is a three-part dotted integer string.
	Version string `json:"version"`

	Domain Domain `json:"domain"`
	Scope  Scope  `json:"scope"`

	// Classification tags.
	Industry            string `json:"industry,omitempty"`
	ComplianceFramework string `json:"compliance_type,omitempty"`
	FunctionalArea      string `json:"functional_area,omitempty"`

	// Template linkage.
	IsTemplate bool   `json:"is_template,omitempty"`
	TemplateID string `json:"template_id,omitempty"`

	// EffectiveDate orders versions in the conflict detector.
	EffectiveDate time.Time `json:"effective_date"`

	Conditions   []Condition `json:"conditions"`
	Triggers     []Trigger   `json:"triggers"`
	Exceptions   []Exception `json:"exceptions"`
	Instructions []string    `json:"instructions"`

	// RawSource is the exact text the policy was translated from.
	RawSource string `json:"raw_source"`
	Rationale string `json:"rationale,omitempty"`
}

// Clone returns a deep copy of p.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Conditions = slices.Clone(p.Conditions)
	cp.Exceptions = slices.Clone(p.Exceptions)
	cp.Instructions = slices.Clone(p.Instructions)
	if p.Triggers != nil {
		cp.Triggers = make([]Trigger, len(p.Triggers))
		for i, t := range p.Triggers {
			t.Parameters = maps.Clone(t.Parameters)
			cp.Triggers[i] = t
		}
	}
	return &cp
}

// TriggersOfType returns the triggers of the given type in declaration order.
func (p *Policy) TriggersOfType(tt TriggerType) []Trigger {
	var out []Trigger
	for _, t := range p.Triggers {
		if t.Type == tt {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks the structural contract of a policy.
func (p *Policy) Validate() error {
	if p == nil {
		return &ContractError{Op: "validate", Message: "policy is nil"}
	}

	var problems []string
	if p.ID == "" {
		problems = append(problems, "policy_id is required")
	}
	if p.Version != "" && !ValidVersion(p.Version) {
		problems = append(problems, fmt.Sprintf("version %q is not a three-part dotted integer", p.Version))
	}
	if p.Domain != "" && !p.Domain.Valid() {
		problems = append(problems, fmt.Sprintf("unknown domain %q", p.Domain))
	}
	if p.Scope != "" && !p.Scope.Valid() {
		problems = append(problems, fmt.Sprintf("unknown scope %q", p.Scope))
	}
	for i, c := range p.Conditions {
		if c.Parameter == "" {
			problems = append(problems, fmt.Sprintf("conditions[%d]: parameter is required", i))
		}
		if !c.Operator.Valid() {
			problems = append(problems, fmt.Sprintf("conditions[%d]: unknown operator %q", i, c.Operator))
		}
	}
	for i, t := range p.Triggers {
		if !t.Type.Valid() {
			problems = append(problems, fmt.Sprintf("triggers[%d]: unknown trigger type %q", i, t.Type))
		}
		if t.ActionName == "" {
			problems = append(problems, fmt.Sprintf("triggers[%d]: action name is required", i))
		}
	}
	for i, e := range p.Exceptions {
		if !e.Override.Valid() {
			problems = append(problems, fmt.Sprintf("exceptions[%d]: unknown override action %q", i, e.Override))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{PolicyID: p.ID, Problems: problems}
	}
	return nil
}
