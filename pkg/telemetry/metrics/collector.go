package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/covenant/pkg/config"
)

// Collector owns every Covenant metric and the registry they live in.
//
// It implements guardrail.DecisionRecorder, live.UpdateRecorder and
// conflict.ScanRecorder, so one collector is handed to all three engines.
// A disabled collector accepts every call and records nothing.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	decisions *DecisionMetrics
	updates   *UpdateMetrics
	scans     *ScanMetrics
}

// NewCollector creates a collector registered on registry. A nil registry
// gets a fresh private one with the Go and process collectors attached.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}

	return &Collector{
		enabled:   cfg.IsEnabled(),
		registry:  registry,
		decisions: NewDecisionMetrics(cfg.Namespace, registry),
		updates:   NewUpdateMetrics(cfg.Namespace, registry),
		scans:     NewScanMetrics(cfg.Namespace, registry),
	}
}

// Registry returns the registry the collector registered on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool { return c.enabled }

// RecordDecision records one guardrail decision.
func (c *Collector) RecordDecision(action string, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.decisions.Record(action, duration)
}

// RecordChange counts one applied change by outcome.
func (c *Collector) RecordChange(outcome string) {
	if !c.enabled {
		return
	}
	c.updates.changes.WithLabelValues(outcome).Inc()
}

// RecordBroadcast records how many workflows received a new version.
func (c *Collector) RecordBroadcast(workflows int) {
	if !c.enabled {
		return
	}
	c.updates.broadcastWorkflows.Observe(float64(workflows))
}

// RecordSync records one pass over every change source.
func (c *Collector) RecordSync(duration time.Duration) {
	if !c.enabled {
		return
	}
	c.updates.syncDuration.Observe(duration.Seconds())
}

// RecordScan records one conflict scan.
func (c *Collector) RecordScan(duration time.Duration) {
	if !c.enabled {
		return
	}
	c.scans.scans.Inc()
	c.scans.duration.Observe(duration.Seconds())
}

// RecordConflict counts one detected conflict.
func (c *Collector) RecordConflict(severity, conflictType string) {
	if !c.enabled {
		return
	}
	c.scans.conflicts.WithLabelValues(severity, conflictType).Inc()
}

// RecordAuditSize sets the in-memory audit log length.
func (c *Collector) RecordAuditSize(entries int) {
	if !c.enabled {
		return
	}
	c.scans.auditSize.Set(float64(entries))
}
