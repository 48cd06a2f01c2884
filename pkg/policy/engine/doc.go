// Package engine evaluates governance policies against live agent state.
//
// Evaluation is pure: the same policy, state and context always produce the
// same EnforcementResult. The flow for one policy is:
//
//  1. Exceptions, in declaration order, are matched against the evaluation
//     context. The first ignore exception returns an allowed, inactive result
//     without looking at conditions. log_only and escalate matches are
//     recorded and evaluation continues.
//  2. Every condition is evaluated against state. The policy is active when
//     all of them hold; an empty condition list is vacuously active.
//  3. An active policy surfaces its instructions and on_activation triggers.
//
// Results describe activation, not authorization: IsAllowed stays true for
// active and inactive policies alike. Turning activation into allow or deny
// is the guardrail's job.
//
// Data-quality problems never raise. A missing parameter, an ordering
// comparison between a number and a string, or an invalid regular expression
// all make the condition false.
//
// # Basic Usage
//
//	ev := engine.NewEvaluator(logger)
//	result, err := ev.Evaluate(p, map[string]any{"amount": 1500}, map[string]any{"agent_id": "a1"})
//	if err != nil {
//	    return err // nil policy or missing policy_id
//	}
//	if result.Active() {
//	    // apply result.Instructions
//	}
package engine
