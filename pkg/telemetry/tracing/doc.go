// Package tracing sets up OpenTelemetry for Covenant.
//
// Components accept a trace.Tracer through SetTracer and default to a noop
// tracer. The process builds one Provider from configuration and hands its
// Tracer to the live update engine and the conflict detector:
//
//	tp, err := tracing.New(ctx, cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tp.Shutdown(context.Background())
//	liveEngine.SetTracer(tp.Tracer())
//
// Spans are exported over OTLP gRPC. Sampling is parent-based with an
// always, never or trace ID ratio root strategy.
package tracing
