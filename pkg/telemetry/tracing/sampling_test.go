package tracing

import (
	"strings"
	"testing"
)

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		ratio    float64
		wantDesc string
		wantErr  bool
	}{
		{name: "always", strategy: SamplerAlways, wantDesc: "AlwaysOnSampler"},
		{name: "never", strategy: SamplerNever, wantDesc: "AlwaysOffSampler"},
		{name: "ratio", strategy: SamplerRatio, ratio: 0.5, wantDesc: "TraceIDRatioBased{0.5}"},
		{name: "empty is ratio", strategy: "", ratio: 0.25, wantDesc: "TraceIDRatioBased{0.25}"},
		{name: "negative ratio", strategy: SamplerRatio, ratio: -0.1, wantErr: true},
		{name: "ratio above one", strategy: SamplerRatio, ratio: 1.5, wantErr: true},
		{name: "unknown", strategy: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sampler, err := createSampler(tt.strategy, tt.ratio)
			if (err != nil) != tt.wantErr {
				t.Fatalf("createSampler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			desc := sampler.Description()
			if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, tt.wantDesc) {
				t.Errorf("Description() = %q, want parent-based %s", desc, tt.wantDesc)
			}
		})
	}
}
