package metrics

import "github.com/prometheus/client_golang/prometheus"

// UpdateMetrics tracks the live update engine.
//
// Metrics:
//   - covenant_live_policy_changes_total: applied changes by outcome
//   - covenant_live_broadcast_workflows: workflows reached per new version
//   - covenant_live_sync_duration_seconds: time to drain every source once
type UpdateMetrics struct {
	changes            *prometheus.CounterVec
	broadcastWorkflows prometheus.Histogram
	syncDuration       prometheus.Histogram
}

// NewUpdateMetrics creates and registers live update metrics.
func NewUpdateMetrics(namespace string, registry prometheus.Registerer) *UpdateMetrics {
	m := &UpdateMetrics{
		changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "live",
				Name:      "policy_changes_total",
				Help:      "Total number of policy changes processed by outcome",
			},
			[]string{"outcome"},
		),
		broadcastWorkflows: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "live",
				Name:      "broadcast_workflows",
				Help:      "Number of workflows that received each new policy version",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		syncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "live",
				Name:      "sync_duration_seconds",
				Help:      "Duration of one pass over every change source in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	registry.MustRegister(m.changes, m.broadcastWorkflows, m.syncDuration)
	return m
}
