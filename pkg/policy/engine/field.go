package engine

import "strings"

// lookupParameter resolves a condition parameter against agent state.
// An exact top-level key wins; otherwise a dotted path walks nested maps,
// so "budget.remaining" reads state["budget"]["remaining"].
func lookupParameter(state map[string]any, parameter string) (any, bool) {
	if state == nil {
		return nil, false
	}
	if v, ok := state[parameter]; ok {
		return v, true
	}
	if !strings.Contains(parameter, ".") {
		return nil, false
	}

	var current any = state
	for _, part := range strings.Split(parameter, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
