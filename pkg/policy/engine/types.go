package engine

import "mercator-hq/covenant/pkg/policy"

// Status is the activation state of a policy for one evaluation.
type Status string

const (
	// StatusActive means every condition held.
	StatusActive Status = "active"

	// StatusInactive means at least one condition failed or an ignore
	// exception short-circuited evaluation.
	StatusInactive Status = "inactive"
)

// ExceptionMatch records a non-ignore exception that matched the context.
type ExceptionMatch struct {
	Condition string                `json:"condition"`
	Override  policy.OverrideAction `json:"override_action"`

	// MatchedOn is the context fragment that satisfied the heuristic.
	MatchedOn string `json:"matched_on"`
}

// EnforcementResult is the outcome of evaluating one policy.
//
// Inactive does not mean denied, and active does not mean denied either:
// IsAllowed is true for every evaluated policy.
type EnforcementResult struct {
	PolicyID  string `json:"policy_id"`
	IsAllowed bool   `json:"is_allowed"`
	Status    Status `json:"status"`

	// TriggeredActions are the on_activation triggers of an active policy.
	TriggeredActions []policy.Trigger `json:"triggered_actions,omitempty"`

	// Instructions are the policy instructions, surfaced only when active.
	Instructions []string `json:"instructions,omitempty"`

	// ExceptionApplied is the ignore exception that short-circuited evaluation.
	ExceptionApplied string `json:"exception_applied,omitempty"`

	// LoggedExceptions are log_only and escalate exceptions that matched.
	LoggedExceptions []ExceptionMatch `json:"logged_exceptions,omitempty"`

	// SatisfiedConditions of TotalConditions held. Both are zero when an
	// ignore exception short-circuited evaluation.
	SatisfiedConditions int `json:"satisfied_conditions"`
	TotalConditions     int `json:"total_conditions"`
}

// Active reports whether the policy activated.
func (r *EnforcementResult) Active() bool {
	return r.Status == StatusActive
}

// Exempted reports whether an ignore exception short-circuited evaluation.
func (r *EnforcementResult) Exempted() bool {
	return r.ExceptionApplied != ""
}

// SatisfiedRatio returns the fraction of conditions that held, or 0 for a
// policy without conditions.
func (r *EnforcementResult) SatisfiedRatio() float64 {
	if r.TotalConditions == 0 {
		return 0
	}
	return float64(r.SatisfiedConditions) / float64(r.TotalConditions)
}
