// Package metrics exposes Covenant's Prometheus metrics.
//
// A single Collector backs the guardrail, live update and conflict detector
// recorders. Metrics are registered on a private registry under the
// configured namespace (default "covenant") and served by Handler.
package metrics
