package engine

import (
	"maps"
	"slices"
	"strings"

	"mercator-hq/covenant/pkg/policy"
)

// contextProjection lower-cases context keys and rendered values for
// exception matching. Values that render empty are dropped since an empty
// string occurs in every condition.
func contextProjection(evalCtx map[string]any) map[string]string {
	out := make(map[string]string, len(evalCtx))
	for k, v := range evalCtx {
		rendered := strings.ToLower(policy.FormatValue(v))
		if rendered == "" {
			continue
		}
		out[strings.ToLower(k)] = rendered
	}
	return out
}

// matchException applies the exception text heuristic. It returns the
// fragment that matched: "key=value" for keyed forms, or the bare value.
//
// The heuristic is deliberately loose. A condition such as
// "agent_id == admin" matches any context whose agent_id is admin, but it
// also matches any context value "admin" under another key.
func matchException(condition string, projection map[string]string) (string, bool) {
	text := strings.ToLower(condition)
	if text == "" {
		return "", false
	}

	keys := slices.Sorted(maps.Keys(projection))
	for _, k := range keys {
		v := projection[k]
		for _, form := range []string{k + " == " + v, k + "==" + v, k + "=" + v, k + " = " + v} {
			if strings.Contains(text, form) {
				return k + "=" + v, true
			}
		}
	}
	for _, k := range keys {
		if v := projection[k]; strings.Contains(text, v) {
			return v, true
		}
	}
	return "", false
}
