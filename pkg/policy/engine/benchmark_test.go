package engine

import (
	"log/slog"
	"testing"

	"mercator-hq/covenant/pkg/policy"
)

// BenchmarkEvaluate benchmarks a policy with numeric and string conditions
func BenchmarkEvaluate(b *testing.B) {
	ev := NewEvaluator(slog.Default())
	p := budgetPolicy()
	state := map[string]any{"amount": 1500, "currency": "USD"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ev.Evaluate(p, state, nil)
	}
}

// BenchmarkExceptionMatching benchmarks the exception text heuristic
func BenchmarkExceptionMatching(b *testing.B) {
	projection := contextProjection(map[string]any{"agent_id": "admin", "team": "payments", "region": "eu"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = matchException("agent_id == admin or team == ops", projection)
	}
}

// BenchmarkPatternMatching benchmarks regex matching
func BenchmarkPatternMatching(b *testing.B) {
	pattern := `\d{3}-\d{2}-\d{4}`
	content := "SSN: 123-45-6789"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = evaluateOperator(policy.OpMatches, content, pattern)
	}
}
