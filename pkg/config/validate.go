package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "live.poll_interval").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateLive(&cfg.Live)...)
	errs = append(errs, validateConflict(&cfg.Conflict)...)
	errs = append(errs, validateRepository(&cfg.Repository)...)

	if cfg.Guardrail.NearMissThreshold <= 0 || cfg.Guardrail.NearMissThreshold > 1 {
		errs = append(errs, FieldError{
			Field:   "guardrail.near_miss_threshold",
			Message: "near miss threshold must be in (0, 1]",
		})
	}

	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateLive(cfg *LiveConfig) []FieldError {
	var errs []FieldError

	errs = appendPositive(errs, "live.poll_interval", cfg.PollInterval)
	errs = appendPositive(errs, "live.stop_timeout", cfg.StopTimeout)

	file := cfg.Sources.File
	if file.Enabled && file.Dir == "" {
		errs = append(errs, FieldError{
			Field:   "live.sources.file.dir",
			Message: "directory is required when the file source is enabled",
		})
	}
	if file.Debounce < 0 {
		errs = append(errs, FieldError{
			Field:   "live.sources.file.debounce",
			Message: "debounce must be non-negative",
		})
	}
	for i, ext := range file.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("live.sources.file.extensions[%d]", i),
				Message: fmt.Sprintf("extension %q must start with a dot", ext),
			})
		}
	}

	git := cfg.Sources.Git
	if git.Enabled {
		if git.URL == "" {
			errs = append(errs, FieldError{
				Field:   "live.sources.git.url",
				Message: "repository URL is required when the git source is enabled",
			})
		}
		if git.LocalPath == "" {
			errs = append(errs, FieldError{
				Field:   "live.sources.git.local_path",
				Message: "local path is required when the git source is enabled",
			})
		}
	}
	if git.Depth < 0 {
		errs = append(errs, FieldError{
			Field:   "live.sources.git.depth",
			Message: "depth must be non-negative",
		})
	}
	switch git.Auth.Type {
	case "none":
	case "token":
		if git.Enabled && git.Auth.Token == "" {
			errs = append(errs, FieldError{
				Field:   "live.sources.git.auth.token",
				Message: "token is required when auth type is 'token'",
			})
		}
	case "ssh":
		if git.Enabled && git.Auth.SSHKeyPath == "" {
			errs = append(errs, FieldError{
				Field:   "live.sources.git.auth.ssh_key_path",
				Message: "ssh key path is required when auth type is 'ssh'",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "live.sources.git.auth.type",
			Message: fmt.Sprintf("invalid auth type %q: must be 'none', 'token', or 'ssh'", git.Auth.Type),
		})
	}

	redis := cfg.Sources.Redis
	if redis.Enabled && redis.Addr == "" {
		errs = append(errs, FieldError{
			Field:   "live.sources.redis.addr",
			Message: "address is required when the redis source is enabled",
		})
	}
	if redis.BatchSize < 0 {
		errs = append(errs, FieldError{
			Field:   "live.sources.redis.batch_size",
			Message: "batch size must be non-negative",
		})
	}

	seen := make(map[string]bool)
	for i, w := range cfg.Workflows {
		field := fmt.Sprintf("live.workflows[%d].id", i)
		if w.ID == "" {
			errs = append(errs, FieldError{Field: field, Message: "workflow id is required"})
			continue
		}
		if seen[w.ID] {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("duplicate workflow id %q", w.ID)})
		}
		seen[w.ID] = true
	}

	return errs
}

func validateConflict(cfg *ConflictConfig) []FieldError {
	var errs []FieldError

	errs = appendPositive(errs, "conflict.scan_interval", cfg.ScanInterval)
	errs = appendPositive(errs, "conflict.stop_timeout", cfg.StopTimeout)

	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "conflict.schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err),
			})
		}
	}

	if cfg.Audit.File.IsEnabled() && cfg.Audit.File.Path == "" {
		errs = append(errs, FieldError{
			Field:   "conflict.audit.file.path",
			Message: "path is required when the file audit sink is enabled",
		})
	}
	if cfg.Audit.SQLite.Enabled {
		if cfg.Audit.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "conflict.audit.sqlite.path",
				Message: "path is required when the sqlite audit sink is enabled",
			})
		}
		if cfg.Audit.SQLite.MaxOpenConns < 1 {
			errs = append(errs, FieldError{
				Field:   "conflict.audit.sqlite.max_open_conns",
				Message: "max open connections must be at least 1",
			})
		}
	}

	return errs
}

func validateRepository(cfg *RepositoryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "repository.sqlite.path",
				Message: "path is required when backend is 'sqlite'",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "repository.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.IsEnabled() {
		if cfg.Metrics.ListenAddress == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.listen_address",
				Message: "listen address is required when metrics are enabled",
			})
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "metrics path must start with '/'",
			})
		}
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
		errs = append(errs, FieldError{Field: "telemetry.health.liveness_path", Message: "path must start with '/'"})
	}
	if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
		errs = append(errs, FieldError{Field: "telemetry.health.readiness_path", Message: "path must start with '/'"})
	}

	return errs
}

func appendPositive(errs []FieldError, field string, d time.Duration) []FieldError {
	if d <= 0 {
		errs = append(errs, FieldError{Field: field, Message: "must be positive"})
	}
	return errs
}
