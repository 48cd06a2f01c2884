package engine

import (
	"log/slog"
	"sync"

	"mercator-hq/covenant/pkg/policy"
)

// Enforcer holds an ordered set of registered policies and evaluates them
// together. Registration upserts by policy ID and keeps first-seen order.
type Enforcer struct {
	evaluator *Evaluator

	// policiesMu protects policies
	policiesMu sync.RWMutex
	policies   []*policy.Policy
}

// NewEnforcer creates an enforcer with no registered policies.
func NewEnforcer(logger *slog.Logger) *Enforcer {
	return &Enforcer{evaluator: NewEvaluator(logger)}
}

// Register adds p, replacing any registered policy with the same ID in place.
func (e *Enforcer) Register(p *policy.Policy) error {
	if p == nil || p.ID == "" {
		return &policy.ContractError{Op: "register", Message: "policy with a policy_id is required"}
	}

	e.policiesMu.Lock()
	defer e.policiesMu.Unlock()

	for i, existing := range e.policies {
		if existing.ID == p.ID {
			e.policies[i] = p
			return nil
		}
	}
	e.policies = append(e.policies, p)
	return nil
}

// Policies returns a snapshot of the registered policies.
func (e *Enforcer) Policies() []*policy.Policy {
	e.policiesMu.RLock()
	defer e.policiesMu.RUnlock()

	out := make([]*policy.Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// EvaluateBatch evaluates every registered policy in registration order.
func (e *Enforcer) EvaluateBatch(state, evalCtx map[string]any) []*EnforcementResult {
	return EvaluateAll(e.evaluator, e.Policies(), state, evalCtx)
}

// EvaluateAll evaluates policies in order with ev. Registered policies
// always carry an ID, so contract errors are logged and the policy skipped.
func EvaluateAll(ev *Evaluator, policies []*policy.Policy, state, evalCtx map[string]any) []*EnforcementResult {
	results := make([]*EnforcementResult, 0, len(policies))
	for _, p := range policies {
		r, err := ev.Evaluate(p, state, evalCtx)
		if err != nil {
			ev.logger.Error("policy skipped", "error", err)
			continue
		}
		results = append(results, r)
	}
	return results
}
