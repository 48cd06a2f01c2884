package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DecisionMetrics tracks guardrail decisions.
//
// Metrics:
//   - covenant_guardrail_decisions_total: decisions by action
//   - covenant_guardrail_decision_duration_seconds: MonitorAction latency
type DecisionMetrics struct {
	decisions *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewDecisionMetrics creates and registers guardrail metrics.
func NewDecisionMetrics(namespace string, registry prometheus.Registerer) *DecisionMetrics {
	m := &DecisionMetrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guardrail",
				Name:      "decisions_total",
				Help:      "Total number of guardrail decisions by action",
			},
			[]string{"action"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "guardrail",
				Name:      "decision_duration_seconds",
				Help:      "Duration of guardrail decisions in seconds",
				// Decisions evaluate in-memory policies: 1µs to 16ms.
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15),
			},
			[]string{"action"},
		),
	}
	registry.MustRegister(m.decisions, m.duration)
	return m
}

// Record records one decision.
func (m *DecisionMetrics) Record(action string, duration time.Duration) {
	m.decisions.WithLabelValues(action).Inc()
	m.duration.WithLabelValues(action).Observe(duration.Seconds())
}
