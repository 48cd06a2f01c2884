package tracing

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/covenant/pkg/config"
	"mercator-hq/covenant/pkg/conflict"
	"mercator-hq/covenant/pkg/policy"
)

func TestNew_Disabled(t *testing.T) {
	tp, err := New(context.Background(), config.TracingConfig{}, "test")
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	if tp.Enabled() {
		t.Error("Enabled() = true, want false")
	}

	_, span := tp.Tracer().Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled provider produced a valid span context")
	}
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v, want nil", err)
	}
}

func TestNew_EnabledWithoutCollector(t *testing.T) {
	cfg := config.Default().Telemetry.Tracing
	cfg.Enabled = true
	cfg.Endpoint = "127.0.0.1:1"

	tp, err := New(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("New() error = %v, want nil without a reachable collector", err)
	}
	if !tp.Enabled() {
		t.Error("Enabled() = false, want true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = tp.Shutdown(ctx)
}

func TestNew_InvalidSampler(t *testing.T) {
	cfg := config.TracingConfig{Enabled: true, Sampler: "sometimes"}
	if _, err := NewWithExporter(cfg, tracetest.NewInMemoryExporter(), "test"); err == nil {
		t.Error("NewWithExporter() error = nil, want error for unknown sampler")
	}
}

type listerFunc func() []*policy.Policy

func (f listerFunc) ListPolicies(context.Context, policy.Filter) ([]*policy.Policy, error) {
	return f(), nil
}

func TestProvider_ExportsDetectorSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewWithExporter(config.TracingConfig{Enabled: true, Sampler: SamplerAlways}, exporter, "1.2.3")
	if err != nil {
		t.Fatalf("NewWithExporter() error = %v, want nil", err)
	}
	defer tp.Shutdown(context.Background())

	detector, err := conflict.New(&conflict.Config{}, listerFunc(func() []*policy.Policy { return nil }), nil)
	if err != nil {
		t.Fatalf("conflict.New() error = %v, want nil", err)
	}
	detector.SetTracer(tp.Tracer())

	if _, err := detector.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce() error = %v, want nil", err)
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v, want nil", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "conflict.scan_once" {
		t.Fatalf("spans = %v, want one conflict.scan_once", spans)
	}
	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != config.DefaultTracingService {
		t.Errorf("service.name = %q, want %q", service, config.DefaultTracingService)
	}
}
