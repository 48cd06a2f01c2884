package engine

import (
	"fmt"
	"log/slog"
	"slices"

	"mercator-hq/covenant/pkg/policy"
)

// Evaluator evaluates a single policy against agent state. It holds no
// policy state and is safe for concurrent use.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates an evaluator. A nil logger uses slog.Default().
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger.With("component", "policy.evaluator")}
}

// Evaluate applies p to state. evalCtx feeds exception matching only.
//
// Errors are returned only for contract violations (nil policy, empty
// policy ID). Missing parameters, type mismatches and bad patterns make the
// affected condition false.
func (e *Evaluator) Evaluate(p *policy.Policy, state, evalCtx map[string]any) (*EnforcementResult, error) {
	if p == nil {
		return nil, &policy.ContractError{Op: "evaluate", Message: "policy is nil"}
	}
	if p.ID == "" {
		return nil, &policy.ContractError{Op: "evaluate", Message: "policy_id is required"}
	}

	result := &EnforcementResult{
		PolicyID:  p.ID,
		IsAllowed: true,
		Status:    StatusInactive,
	}

	if len(p.Exceptions) > 0 && len(evalCtx) > 0 {
		projection := contextProjection(evalCtx)
		for _, exc := range p.Exceptions {
			matchedOn, ok := matchException(exc.Condition, projection)
			if !ok {
				continue
			}

			if exc.Override == policy.OverrideIgnore {
				e.logger.Debug("policy exempted by exception",
					"policy_id", p.ID,
					"exception", exc.Condition,
					"matched_on", matchedOn,
				)
				result.ExceptionApplied = exc.Condition
				return result, nil
			}

			e.logger.Info("policy exception matched",
				"policy_id", p.ID,
				"exception", exc.Condition,
				"override", exc.Override,
				"matched_on", matchedOn,
			)
			result.LoggedExceptions = append(result.LoggedExceptions, ExceptionMatch{
				Condition: exc.Condition,
				Override:  exc.Override,
				MatchedOn: matchedOn,
			})
		}
	}

	result.TotalConditions = len(p.Conditions)
	for _, c := range p.Conditions {
		if e.evaluateCondition(p.ID, c, state) {
			result.SatisfiedConditions++
		}
	}

	if result.SatisfiedConditions < result.TotalConditions {
		return result, nil
	}

	result.Status = StatusActive
	result.Instructions = slices.Clone(p.Instructions)
	result.TriggeredActions = p.TriggersOfType(policy.TriggerOnActivation)

	return result, nil
}

func (e *Evaluator) evaluateCondition(policyID string, c policy.Condition, state map[string]any) bool {
	matched, err := checkCondition(c, state)
	if err != nil {
		e.logger.Debug("condition evaluated false",
			"policy_id", policyID,
			"parameter", c.Parameter,
			"operator", c.Operator,
			"reason", err,
		)
		return false
	}
	return matched
}

// checkCondition evaluates c against state. The error explains a false
// result caused by missing or incomparable data.
func checkCondition(c policy.Condition, state map[string]any) (bool, error) {
	actual, ok := lookupParameter(state, c.Parameter)
	if !ok {
		return false, fmt.Errorf("parameter %q missing from state", c.Parameter)
	}
	return evaluateOperator(c.Operator, actual, c.Value)
}

// EvaluateCondition reports whether a single condition holds for state.
func EvaluateCondition(c policy.Condition, state map[string]any) bool {
	matched, err := checkCondition(c, state)
	return err == nil && matched
}
