package metrics

import "github.com/prometheus/client_golang/prometheus"

// ScanMetrics tracks the conflict detector.
//
// Metrics:
//   - covenant_conflict_scans_total: completed scans
//   - covenant_conflict_scan_duration_seconds: scan latency
//   - covenant_conflict_detected_total: conflicts by severity and type
//   - covenant_conflict_audit_log_entries: in-memory audit log length
type ScanMetrics struct {
	scans     prometheus.Counter
	duration  prometheus.Histogram
	conflicts *prometheus.CounterVec
	auditSize prometheus.Gauge
}

// NewScanMetrics creates and registers conflict detector metrics.
func NewScanMetrics(namespace string, registry prometheus.Registerer) *ScanMetrics {
	m := &ScanMetrics{
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conflict",
			Name:      "scans_total",
			Help:      "Total number of conflict scans",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conflict",
			Name:      "scan_duration_seconds",
			Help:      "Duration of conflict scans in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "conflict",
				Name:      "detected_total",
				Help:      "Total number of detected conflicts by severity and type",
			},
			[]string{"severity", "type"},
		),
		auditSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conflict",
			Name:      "audit_log_entries",
			Help:      "Number of conflicts held in the in-memory audit log",
		}),
	}
	registry.MustRegister(m.scans, m.duration, m.conflicts, m.auditSize)
	return m
}
