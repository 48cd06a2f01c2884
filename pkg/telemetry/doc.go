// Package telemetry groups the observability packages used by Covenant.
//
//   - logging: slog construction with credential redaction and context fields
//   - metrics: Prometheus collectors for guardrail decisions, live updates
//     and conflict scans
//   - tracing: OpenTelemetry provider with OTLP export
//   - health: liveness and readiness checks
//
// The covenant run command builds all four from config.TelemetryConfig and
// serves metrics and health checks on one listener:
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stderr)
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	tp, err := tracing.New(ctx, cfg.Telemetry.Tracing, version)
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
package telemetry
