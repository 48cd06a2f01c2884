package guardrail

import (
	"strings"
	"time"

	"mercator-hq/covenant/pkg/policy"
	"mercator-hq/covenant/pkg/policy/engine"
)

// Action is the decision returned for a proposed agent action.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionCorrect  Action = "correct"
	ActionReroute  Action = "reroute"
	ActionEscalate Action = "escalate"
	ActionBlock    Action = "block"
)

// Response is the guardrail decision for one proposed action.
type Response struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`

	// SuggestedCorrection is set for correct decisions.
	SuggestedCorrection map[string]any `json:"suggested_correction,omitempty"`

	// TargetRoute is the workflow to reroute to.
	TargetRoute string `json:"target_route,omitempty"`

	// AppliedPolicies are the policy IDs that drove the decision.
	AppliedPolicies []string  `json:"applied_policies"`
	Timestamp       time.Time `json:"timestamp"`
}

// DefaultNearMissThreshold is the satisfied-condition fraction at which a
// partially matching policy counts as a near miss.
const DefaultNearMissThreshold = 0.75

// domainPrecedence orders domains when several policies trigger at once.
// Lower ranks win.
var domainPrecedence = map[policy.Domain]int{
	policy.DomainSecurity:    0,
	policy.DomainLegal:       1,
	policy.DomainFinance:     2,
	policy.DomainGovernance:  3,
	policy.DomainCooperation: 4,
}

func domainRank(d policy.Domain) int {
	if rank, ok := domainPrecedence[d]; ok {
		return rank
	}
	return 10
}

// critical reports whether violations in d are escalated rather than handled automatically.
func critical(d policy.Domain) bool {
	return d == policy.DomainSecurity || d == policy.DomainLegal
}

// isDenialAction reports whether a trigger action name refuses the action
// outright: "block", "deny", or anything prefixed "block_" or "deny_".
func isDenialAction(name string) bool {
	name = strings.ToLower(name)
	return name == "block" || name == "deny" ||
		strings.HasPrefix(name, "block_") || strings.HasPrefix(name, "deny_")
}

// denialActions returns the activated triggers of r that refuse the action.
func denialActions(r *engine.EnforcementResult) []string {
	var names []string
	for _, t := range r.TriggeredActions {
		if isDenialAction(t.ActionName) {
			names = append(names, t.ActionName)
		}
	}
	return names
}

// denies reports whether r refuses the action: the evaluator disallowed it
// or one of its activated triggers is a denial action.
func denies(r *engine.EnforcementResult) bool {
	return !r.IsAllowed || len(denialActions(r)) > 0
}

// DecisionRecorder receives every decision. The metrics collector implements it.
type DecisionRecorder interface {
	RecordDecision(action string, duration time.Duration)
}
