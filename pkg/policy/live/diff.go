package live

import (
	"sort"
	"strings"
)

// maxDiffTokens caps each side of a diff summary.
const maxDiffTokens = 6

// diffSummary reports whitespace tokens added and removed between two raw
// texts, e.g. "added=[1500] removed=[1000]". Returns "" when the token sets
// are equal.
func diffSummary(previous, current string) string {
	before := tokenSet(previous)
	after := tokenSet(current)

	added := setDifference(after, before)
	removed := setDifference(before, after)
	if len(added) == 0 && len(removed) == 0 {
		return ""
	}

	return "added=[" + strings.Join(capTokens(added), " ") + "] removed=[" + strings.Join(capTokens(removed), " ") + "]"
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.Fields(text)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func setDifference(a, b map[string]struct{}) []string {
	var out []string
	for tok := range a {
		if _, ok := b[tok]; !ok {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

func capTokens(tokens []string) []string {
	if len(tokens) > maxDiffTokens {
		return tokens[:maxDiffTokens]
	}
	return tokens
}
