package conflict

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"mercator-hq/covenant/pkg/policy"
)

// interval is a numeric range with optional open ends.
type interval struct {
	low, high                   float64
	lowInclusive, highInclusive bool
}

// bounds maps a condition to the values it admits. Operators without an
// ordering meaning admit everything.
func bounds(op policy.Operator, v float64) interval {
	switch op {
	case policy.OpGreater:
		return interval{low: v, high: math.Inf(1), highInclusive: true}
	case policy.OpGreaterEqual:
		return interval{low: v, lowInclusive: true, high: math.Inf(1), highInclusive: true}
	case policy.OpLess:
		return interval{low: math.Inf(-1), lowInclusive: true, high: v}
	case policy.OpLessEqual:
		return interval{low: math.Inf(-1), lowInclusive: true, high: v, highInclusive: true}
	case policy.OpEqual:
		return interval{low: v, lowInclusive: true, high: v, highInclusive: true}
	}
	return interval{low: math.Inf(-1), lowInclusive: true, high: math.Inf(1), highInclusive: true}
}

// intersects reports whether a and b share at least one value.
func intersects(a, b interval) bool {
	low, lowInclusive := a.low, a.lowInclusive
	if b.low > low || (b.low == low && !b.lowInclusive) {
		low, lowInclusive = b.low, b.lowInclusive
	}
	high, highInclusive := a.high, a.highInclusive
	if b.high < high || (b.high == high && !b.highInclusive) {
		high, highInclusive = b.high, b.highInclusive
	}
	if low < high {
		return true
	}
	if low > high {
		return false
	}
	return lowInclusive && highInclusive
}

// numeric accepts Go numbers and numeric strings. Policies translated from
// text often carry thresholds as strings.
func numeric(v any) (float64, bool) {
	if n, ok := policy.AsNumber(v); ok {
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func numericIntersection(left, right policy.Condition) (intersect, comparable bool) {
	l, ok := numeric(left.Value)
	if !ok {
		return false, false
	}
	r, ok := numeric(right.Value)
	if !ok {
		return false, false
	}
	return intersects(bounds(left.Operator, l), bounds(right.Operator, r)), true
}

// sameValue compares condition values, numerically when both are numeric.
func sameValue(a, b any) bool {
	if x, ok := numeric(a); ok {
		if y, ok := numeric(b); ok {
			return x == y
		}
	}
	return policy.ValuesEqual(a, b)
}

// conditionsContradict reports whether no value can satisfy both conditions.
// Both conditions must be on the same parameter.
func conditionsContradict(left, right policy.Condition) (bool, string) {
	switch {
	case left.Operator == policy.OpEqual && right.Operator == policy.OpEqual:
		if !sameValue(left.Value, right.Value) {
			return true, "same parameter requires two different exact values"
		}
	case left.Operator == policy.OpEqual && right.Operator == policy.OpNotEqual,
		left.Operator == policy.OpNotEqual && right.Operator == policy.OpEqual:
		if sameValue(left.Value, right.Value) {
			return true, "exact match conflicts with explicit inequality"
		}
	}

	if intersect, ok := numericIntersection(left, right); ok && !intersect {
		return true, "numeric ranges do not intersect"
	}
	return false, ""
}

// conditionsOverlap reports whether some value satisfies both conditions.
func conditionsOverlap(left, right policy.Condition) bool {
	switch {
	case left.Operator == policy.OpEqual && right.Operator == policy.OpEqual:
		return sameValue(left.Value, right.Value)
	case left.Operator == policy.OpNotEqual && right.Operator == policy.OpNotEqual:
		return true
	case left.Operator == policy.OpContains && right.Operator == policy.OpContains,
		left.Operator == policy.OpMatches && right.Operator == policy.OpMatches:
		return policy.FormatValue(left.Value) == policy.FormatValue(right.Value)
	}
	if intersect, ok := numericIntersection(left, right); ok {
		return intersect
	}
	return policy.FormatValue(left.Value) == policy.FormatValue(right.Value)
}

func evidence(parameter string, left, right policy.Condition) map[string]string {
	return map[string]string{
		"parameter":      parameter,
		"left_operator":  string(left.Operator),
		"left_value":     policy.FormatValue(left.Value),
		"right_operator": string(right.Operator),
		"right_value":    policy.FormatValue(right.Value),
	}
}

// contradict returns evidence for the first condition pair that cannot hold together.
func contradict(left, right *policy.Policy) (map[string]string, bool) {
	for _, lc := range left.Conditions {
		for _, rc := range right.Conditions {
			if lc.Parameter != rc.Parameter {
				continue
			}
			if ok, reason := conditionsContradict(lc, rc); ok {
				ev := evidence(lc.Parameter, lc, rc)
				ev["reason"] = reason
				return ev, true
			}
		}
	}
	return nil, false
}

// overlap returns evidence for the first condition pair that can hold
// together when the policies respond differently.
func overlap(left, right *policy.Policy) (map[string]string, bool) {
	if len(left.Conditions) == 0 || len(right.Conditions) == 0 {
		return nil, false
	}
	if sameResponse(left, right) {
		return nil, false
	}
	for _, lc := range left.Conditions {
		for _, rc := range right.Conditions {
			if lc.Parameter == rc.Parameter && conditionsOverlap(lc, rc) {
				return evidence(lc.Parameter, lc, rc), true
			}
		}
	}
	return nil, false
}

func sameResponse(left, right *policy.Policy) bool {
	if len(left.Instructions) != len(right.Instructions) || len(left.Triggers) != len(right.Triggers) {
		return false
	}
	for i := range left.Instructions {
		if left.Instructions[i] != right.Instructions[i] {
			return false
		}
	}
	for i := range left.Triggers {
		lt, rt := left.Triggers[i], right.Triggers[i]
		if lt.Type != rt.Type || lt.ActionName != rt.ActionName {
			return false
		}
		if len(lt.Parameters) != len(rt.Parameters) {
			return false
		}
		if len(lt.Parameters) > 0 && !reflect.DeepEqual(lt.Parameters, rt.Parameters) {
			return false
		}
	}
	return true
}

func classify(left, right *policy.Policy) Severity {
	has := func(d policy.Domain) bool { return left.Domain == d || right.Domain == d }
	switch {
	case has(policy.DomainSecurity):
		return SeveritySafetyCritical
	case has(policy.DomainLegal), left.ComplianceFramework != "", right.ComplianceFramework != "":
		return SeverityLegalCompliance
	case has(policy.DomainFinance):
		return SeverityHigh
	}
	return SeverityMedium
}

func suggestions(left, right *policy.Policy, t Type, sev Severity, workflowID string) []string {
	var out []string
	if sev == SeveritySafetyCritical || sev == SeverityLegalCompliance {
		prioritized := right.ID
		if left.Domain == policy.DomainSecurity || left.Domain == policy.DomainLegal {
			prioritized = left.ID
		}
		out = append(out, fmt.Sprintf("Temporarily prioritize %s and require manual compliance review.", prioritized))
	}
	if t == TypeContradictory {
		out = append(out,
			"Define explicit precedence and add scoped exceptions to remove impossible condition intersections.",
			"Split rule applicability by workflow, team, or domain to avoid concurrent activation.",
		)
	} else {
		out = append(out,
			"Refine one rule with narrower thresholds so both policies do not trigger on the same action.",
			"Consolidate shared controls into a single policy and keep one source of truth for enforcement.",
		)
	}
	if workflowID != "" {
		out = append(out, fmt.Sprintf("Pin policy subscriptions for workflow %q to only the intended policy subset.", workflowID))
	}
	return out
}
