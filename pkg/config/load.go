package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COVENANT_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention COVENANT_SECTION_FIELD (e.g., COVENANT_LIVE_POLL_INTERVAL).
// Environment variables always take precedence over file-based configuration.
// An empty path starts from the defaults.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Live overrides
	envDuration("LIVE_POLL_INTERVAL", &cfg.Live.PollInterval)
	envDuration("LIVE_STOP_TIMEOUT", &cfg.Live.StopTimeout)
	envBoolPtr("LIVE_ARCHIVE", &cfg.Live.Archive)

	file := &cfg.Live.Sources.File
	envBool("LIVE_SOURCES_FILE_ENABLED", &file.Enabled)
	envString("LIVE_SOURCES_FILE_DIR", &file.Dir)
	envDuration("LIVE_SOURCES_FILE_DEBOUNCE", &file.Debounce)

	git := &cfg.Live.Sources.Git
	envBool("LIVE_SOURCES_GIT_ENABLED", &git.Enabled)
	envString("LIVE_SOURCES_GIT_URL", &git.URL)
	envString("LIVE_SOURCES_GIT_BRANCH", &git.Branch)
	envString("LIVE_SOURCES_GIT_PATH", &git.Path)
	envString("LIVE_SOURCES_GIT_LOCAL_PATH", &git.LocalPath)
	envString("LIVE_SOURCES_GIT_AUTH_TYPE", &git.Auth.Type)
	envString("LIVE_SOURCES_GIT_AUTH_TOKEN", &git.Auth.Token)
	envString("LIVE_SOURCES_GIT_AUTH_SSH_KEY_PATH", &git.Auth.SSHKeyPath)

	redis := &cfg.Live.Sources.Redis
	envBool("LIVE_SOURCES_REDIS_ENABLED", &redis.Enabled)
	envString("LIVE_SOURCES_REDIS_ADDR", &redis.Addr)
	envString("LIVE_SOURCES_REDIS_PASSWORD", &redis.Password)
	envInt("LIVE_SOURCES_REDIS_DB", &redis.DB)
	envString("LIVE_SOURCES_REDIS_KEY", &redis.Key)

	// Conflict overrides
	envBoolPtr("CONFLICT_ENABLED", &cfg.Conflict.Enabled)
	envDuration("CONFLICT_SCAN_INTERVAL", &cfg.Conflict.ScanInterval)
	envString("CONFLICT_SCHEDULE", &cfg.Conflict.Schedule)
	envString("CONFLICT_AUDIT_FILE_PATH", &cfg.Conflict.Audit.File.Path)
	envBool("CONFLICT_AUDIT_SQLITE_ENABLED", &cfg.Conflict.Audit.SQLite.Enabled)
	envString("CONFLICT_AUDIT_SQLITE_PATH", &cfg.Conflict.Audit.SQLite.Path)

	// Repository overrides
	envString("REPOSITORY_BACKEND", &cfg.Repository.Backend)
	envString("REPOSITORY_SQLITE_PATH", &cfg.Repository.SQLite.Path)

	// Guardrail overrides
	envFloat("GUARDRAIL_NEAR_MISS_THRESHOLD", &cfg.Guardrail.NearMissThreshold)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBoolPtr("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_LISTEN_ADDRESS", &cfg.Telemetry.Metrics.ListenAddress)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	envString("SECRETS_DIR", &cfg.Secrets.Dir)
}

// Unparseable values are ignored and the current value is kept.

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envBoolPtr(name string, dst **bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = &b
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}
