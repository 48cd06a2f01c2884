package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "covenant.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
live:
  poll_interval: 2s
  sources:
    file:
      enabled: true
      dir: ./examples/policies
    git:
      enabled: true
      url: https://example.com/policies.git
      path: policies/
      auth:
        type: token
        token: secret
  workflows:
    - id: billing
      policies: [spend-limit]
    - id: support
conflict:
  schedule: "*/5 * * * *"
  audit:
    sqlite:
      enabled: true
repository:
  backend: memory
guardrail:
  near_miss_threshold: 0.5
  tuning_context:
    region: eu
telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v, want nil", err)
	}

	if cfg.Live.PollInterval != 2*time.Second {
		t.Errorf("live.poll_interval = %v, want 2s", cfg.Live.PollInterval)
	}
	if !cfg.Live.Sources.File.Enabled || cfg.Live.Sources.File.Dir != "./examples/policies" {
		t.Errorf("file source = %+v", cfg.Live.Sources.File)
	}
	if cfg.Live.Sources.Git.Branch != DefaultGitBranch {
		t.Errorf("git branch = %q, want default %q", cfg.Live.Sources.Git.Branch, DefaultGitBranch)
	}
	if len(cfg.Live.Workflows) != 2 || cfg.Live.Workflows[0].Policies[0] != "spend-limit" {
		t.Errorf("workflows = %+v", cfg.Live.Workflows)
	}
	if cfg.Conflict.Schedule != "*/5 * * * *" || !cfg.Conflict.Audit.SQLite.Enabled {
		t.Errorf("conflict = %+v", cfg.Conflict)
	}
	if cfg.Guardrail.NearMissThreshold != 0.5 || cfg.Guardrail.TuningContext["region"] != "eu" {
		t.Errorf("guardrail = %+v", cfg.Guardrail)
	}
	if cfg.Telemetry.Logging.Format != "text" {
		t.Errorf("logging format = %q, want text", cfg.Telemetry.Logging.Format)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed yaml", content: "live: [unclosed"},
		{name: "invalid backend", content: "repository:\n  backend: postgres\n"},
		{name: "invalid cron", content: "conflict:\n  schedule: every minute\n"},
		{name: "git without url", content: "live:\n  sources:\n    git:\n      enabled: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.content)); err == nil {
				t.Error("LoadConfig() error = nil, want error")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig(missing) error = %v, want os.ErrNotExist", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
live:
  poll_interval: 2s
repository:
  backend: sqlite
`)

	t.Setenv("COVENANT_LIVE_POLL_INTERVAL", "750ms")
	t.Setenv("COVENANT_LIVE_ARCHIVE", "false")
	t.Setenv("COVENANT_LIVE_SOURCES_REDIS_ENABLED", "true")
	t.Setenv("COVENANT_LIVE_SOURCES_REDIS_DB", "3")
	t.Setenv("COVENANT_REPOSITORY_BACKEND", "memory")
	t.Setenv("COVENANT_GUARDRAIL_NEAR_MISS_THRESHOLD", "0.9")
	t.Setenv("COVENANT_TELEMETRY_LOGGING_LEVEL", "warn")
	t.Setenv("COVENANT_CONFLICT_SCAN_INTERVAL", "not-a-duration")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v, want nil", err)
	}

	if cfg.Live.PollInterval != 750*time.Millisecond {
		t.Errorf("live.poll_interval = %v, want 750ms from env", cfg.Live.PollInterval)
	}
	if cfg.Live.ArchiveEnabled() {
		t.Error("live.archive = true, want false from env")
	}
	if !cfg.Live.Sources.Redis.Enabled || cfg.Live.Sources.Redis.DB != 3 {
		t.Errorf("redis source = %+v, want enabled db 3", cfg.Live.Sources.Redis)
	}
	if cfg.Repository.Backend != "memory" {
		t.Errorf("repository.backend = %q, want memory from env", cfg.Repository.Backend)
	}
	if cfg.Guardrail.NearMissThreshold != 0.9 {
		t.Errorf("near_miss_threshold = %v, want 0.9", cfg.Guardrail.NearMissThreshold)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("logging level = %q, want warn", cfg.Telemetry.Logging.Level)
	}
	if cfg.Conflict.ScanInterval != DefaultScanInterval {
		t.Errorf("unparseable env value changed scan_interval to %v", cfg.Conflict.ScanInterval)
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("COVENANT_REPOSITORY_BACKEND", "memory")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides(\"\") error = %v, want nil", err)
	}
	if cfg.Repository.Backend != "memory" {
		t.Errorf("repository.backend = %q, want memory", cfg.Repository.Backend)
	}
	if cfg.Live.PollInterval != DefaultPollInterval {
		t.Errorf("live.poll_interval = %v, want default", cfg.Live.PollInterval)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidAfterOverride(t *testing.T) {
	t.Setenv("COVENANT_TELEMETRY_LOGGING_LEVEL", "verbose")

	_, err := LoadConfigWithEnvOverrides("")
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v, want ValidationError", err)
	}
	if verr.Errors[0].Field != "telemetry.logging.level" {
		t.Errorf("field = %q, want telemetry.logging.level", verr.Errors[0].Field)
	}
}
