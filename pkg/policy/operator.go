package policy

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Operator is one of the fixed comparison operators a condition may use.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpContains     Operator = "contains"
	OpMatches      Operator = "matches"
)

var operatorAliases = map[string]Operator{
	"==":            OpEqual,
	"=":             OpEqual,
	"eq":            OpEqual,
	"!=":            OpNotEqual,
	"≠":             OpNotEqual,
	"ne":            OpNotEqual,
	">":             OpGreater,
	"gt":            OpGreater,
	"<":             OpLess,
	"lt":            OpLess,
	">=":            OpGreaterEqual,
	"≥":             OpGreaterEqual,
	"ge":            OpGreaterEqual,
	"gte":           OpGreaterEqual,
	"<=":            OpLessEqual,
	"≤":             OpLessEqual,
	"le":            OpLessEqual,
	"lte":           OpLessEqual,
	"contains":      OpContains,
	"matches":       OpMatches,
	"matches_regex": OpMatches,
	"regex":         OpMatches,
}

// ParseOperator normalizes an operator spelling to its canonical form.
func ParseOperator(s string) (Operator, error) {
	if op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return op, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Valid reports whether op is a canonical operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpContains, OpMatches:
		return true
	}
	return false
}

// Ordering reports whether op is one of the numeric ordering operators.
func (op Operator) Ordering() bool {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// UnmarshalText accepts any alias understood by ParseOperator.
func (op *Operator) UnmarshalText(text []byte) error {
	parsed, err := ParseOperator(string(text))
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

// AsNumber converts a Go numeric value to float64. Strings and booleans are
// not numbers.
func AsNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

// ValuesEqual compares two scalar values. Numbers compare by magnitude,
// everything else by deep equality.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, aok := AsNumber(a)
	bn, bok := AsNumber(b)
	if aok && bok {
		return an == bn
	}
	return reflect.DeepEqual(a, b)
}

// FormatValue renders a condition value the way it appears in conflict
// evidence and exception matching.
func FormatValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if n, ok := AsNumber(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
