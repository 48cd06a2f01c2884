package engine

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"mercator-hq/covenant/pkg/policy"
)

// evaluateOperator compares an actual state value against a condition's expected value.
// An error means the comparison is not meaningful for these types; callers treat it as false.
func evaluateOperator(op policy.Operator, actual, expected any) (bool, error) {
	switch op {
	case policy.OpEqual:
		return policy.ValuesEqual(actual, expected), nil

	case policy.OpNotEqual:
		return !policy.ValuesEqual(actual, expected), nil

	case policy.OpGreater:
		cmp, err := compareOrdered(actual, expected)
		return err == nil && cmp > 0, err

	case policy.OpLess:
		cmp, err := compareOrdered(actual, expected)
		return err == nil && cmp < 0, err

	case policy.OpGreaterEqual:
		cmp, err := compareOrdered(actual, expected)
		return err == nil && cmp >= 0, err

	case policy.OpLessEqual:
		cmp, err := compareOrdered(actual, expected)
		return err == nil && cmp <= 0, err

	case policy.OpContains:
		return evaluateContains(actual, expected)

	case policy.OpMatches:
		return evaluateMatches(actual, expected)

	default:
		return false, fmt.Errorf("unknown operator: %q", op)
	}
}

// compareOrdered compares two numbers, or two strings lexicographically.
func compareOrdered(actual, expected any) (int, error) {
	actualNum, actualOK := policy.AsNumber(actual)
	expectedNum, expectedOK := policy.AsNumber(expected)
	if actualOK && expectedOK {
		switch {
		case actualNum < expectedNum:
			return -1, nil
		case actualNum > expectedNum:
			return 1, nil
		default:
			return 0, nil
		}
	}

	actualStr, actualIsStr := actual.(string)
	expectedStr, expectedIsStr := expected.(string)
	if actualIsStr && expectedIsStr {
		return strings.Compare(actualStr, expectedStr), nil
	}

	return 0, fmt.Errorf("cannot order %T against %T", actual, expected)
}

// evaluateContains checks substring, element or key membership depending on the actual type.
func evaluateContains(actual, expected any) (bool, error) {
	if actualStr, ok := actual.(string); ok {
		expectedStr, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("contains on a string requires a string operand, got %T", expected)
		}
		return strings.Contains(actualStr, expectedStr), nil
	}

	val := reflect.ValueOf(actual)
	switch val.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < val.Len(); i++ {
			if policy.ValuesEqual(val.Index(i).Interface(), expected) {
				return true, nil
			}
		}
		return false, nil

	case reflect.Map:
		key := reflect.ValueOf(expected)
		if !key.IsValid() || !key.Type().AssignableTo(val.Type().Key()) {
			return false, fmt.Errorf("contains on %T requires a %s key, got %T", actual, val.Type().Key(), expected)
		}
		return val.MapIndex(key).IsValid(), nil

	default:
		return false, fmt.Errorf("contains requires a string, slice or map, got %T", actual)
	}
}

// evaluateMatches reports whether the expected regex pattern occurs anywhere in actual.
func evaluateMatches(actual, expected any) (bool, error) {
	if actual == nil {
		return false, fmt.Errorf("matches on nil value")
	}

	re, err := compilePattern(policy.FormatValue(expected))
	if err != nil {
		return false, err
	}

	return re.MatchString(policy.FormatValue(actual)), nil
}

// patterns caches compiled matches patterns, including the ones that failed.
var patterns sync.Map // string -> compiledPattern

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// compilePattern compiles pattern once per process.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if v, ok := patterns.Load(pattern); ok {
		c := v.(compiledPattern)
		return c.re, c.err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		err = fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}
	v, _ := patterns.LoadOrStore(pattern, compiledPattern{re: re, err: err})
	c := v.(compiledPattern)
	return c.re, c.err
}
