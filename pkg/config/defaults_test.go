package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Live.PollInterval != DefaultPollInterval {
		t.Errorf("live.poll_interval = %v, want %v", cfg.Live.PollInterval, DefaultPollInterval)
	}
	if !cfg.Live.ArchiveEnabled() {
		t.Error("live.archive = false, want true by default")
	}
	if diff := cmp.Diff(DefaultFileExtensions, cfg.Live.Sources.File.Extensions); diff != "" {
		t.Errorf("file extensions mismatch (-want +got):\n%s", diff)
	}
	if cfg.Live.Sources.Git.Auth.Type != DefaultGitAuthType {
		t.Errorf("git auth type = %q, want %q", cfg.Live.Sources.Git.Auth.Type, DefaultGitAuthType)
	}
	if cfg.Live.Sources.Redis.Key != DefaultRedisKey {
		t.Errorf("redis key = %q, want %q", cfg.Live.Sources.Redis.Key, DefaultRedisKey)
	}
	if cfg.Conflict.ScanInterval != DefaultScanInterval {
		t.Errorf("conflict.scan_interval = %v, want %v", cfg.Conflict.ScanInterval, DefaultScanInterval)
	}
	if !cfg.Conflict.DetectorEnabled() || !cfg.Conflict.Audit.File.IsEnabled() {
		t.Error("detector and file audit sink should be enabled by default")
	}
	if cfg.Conflict.Audit.SQLite.Enabled {
		t.Error("sqlite audit sink should be disabled by default")
	}
	if cfg.Conflict.Audit.SQLite.WALMode == nil || !*cfg.Conflict.Audit.SQLite.WALMode {
		t.Error("sqlite audit WAL mode should default to true")
	}
	if cfg.Repository.Backend != DefaultRepositoryBackend {
		t.Errorf("repository.backend = %q, want %q", cfg.Repository.Backend, DefaultRepositoryBackend)
	}
	if cfg.Guardrail.NearMissThreshold != DefaultNearMissThreshold {
		t.Errorf("guardrail.near_miss_threshold = %v, want %v", cfg.Guardrail.NearMissThreshold, DefaultNearMissThreshold)
	}
	if cfg.Secrets.EnvPrefix != DefaultSecretEnvPrefix || cfg.Secrets.Dir != "" {
		t.Errorf("secrets = %+v, want env prefix %q and no dir", cfg.Secrets, DefaultSecretEnvPrefix)
	}
	if !cfg.Telemetry.Metrics.IsEnabled() || cfg.Telemetry.Tracing.Enabled {
		t.Error("metrics should default on and tracing off")
	}
	if !cfg.Telemetry.Tracing.IsInsecure() {
		t.Error("tracing should default to an insecure collector connection")
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(defaults) error = %v, want nil", err)
	}
}

func TestApplyDefaults_KeepsSetValues(t *testing.T) {
	archive := false
	cfg := &Config{
		Live: LiveConfig{
			Archive: &archive,
			Sources: SourcesConfig{File: FileSourceConfig{Extensions: []string{".policy"}}},
		},
		Repository: RepositoryConfig{Backend: "memory"},
	}
	ApplyDefaults(cfg)

	if cfg.Live.ArchiveEnabled() {
		t.Error("explicit archive: false was overwritten")
	}
	if diff := cmp.Diff([]string{".policy"}, cfg.Live.Sources.File.Extensions); diff != "" {
		t.Errorf("extensions mismatch (-want +got):\n%s", diff)
	}
	if cfg.Repository.Backend != "memory" {
		t.Errorf("repository.backend = %q, want memory", cfg.Repository.Backend)
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	once := Default()
	twice := Default()
	ApplyDefaults(twice)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("ApplyDefaults() not idempotent (-once +twice):\n%s", diff)
	}
}
