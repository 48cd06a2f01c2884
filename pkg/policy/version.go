package policy

import (
	"strconv"
	"strings"
)

// DefaultVersion is assigned to the first version of a policy.
const DefaultVersion = "1.0.0"

// fallbackPatch is returned by IncrementPatch for versions it cannot parse.
const fallbackPatch = "1.0.1"

func parseVersion(v string) ([3]int, bool) {
	var out [3]int
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return out, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return out, false
		}
		out[i] = n
	}
	return out, true
}

// ValidVersion reports whether v is a three-part dotted integer string.
func ValidVersion(v string) bool {
	_, ok := parseVersion(v)
	return ok
}

// IncrementPatch bumps the patch component of v. A version that is not a
// three-part dotted integer is replaced by "1.0.1".
func IncrementPatch(v string) string {
	parts, ok := parseVersion(v)
	if !ok {
		return fallbackPatch
	}
	return strconv.Itoa(parts[0]) + "." + strconv.Itoa(parts[1]) + "." + strconv.Itoa(parts[2]+1)
}

// CompareVersions returns -1, 0 or 1 comparing a and b component-wise.
// Unparseable versions sort before parseable ones and compare equal to each other.
func CompareVersions(a, b string) int {
	pa, okA := parseVersion(a)
	pb, okB := parseVersion(b)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	for i := range pa {
		if pa[i] < pb[i] {
			return -1
		}
		if pa[i] > pb[i] {
			return 1
		}
	}
	return 0
}
