package config

import "time"

// Default values for configuration fields.
const (
	// Live defaults
	DefaultPollInterval    = 5 * time.Second
	DefaultLiveStopTimeout = 3 * time.Second
	DefaultFileSourceDir   = "./policies"
	DefaultFileDebounce    = 100 * time.Millisecond
	DefaultGitBranch       = "main"
	DefaultGitLocalPath    = "data/policy-repo"
	DefaultGitTimeout      = 30 * time.Second
	DefaultGitAuthType     = "none"
	DefaultRedisAddr       = "localhost:6379"
	DefaultRedisKey        = "covenant:policy_changes"
	DefaultRedisBatchSize  = 100

	// Conflict defaults
	DefaultScanInterval        = 10 * time.Second
	DefaultConflictStopTimeout = 3 * time.Second
	DefaultAuditFilePath       = "data/conflicts.jsonl"
	DefaultAuditSQLitePath     = "data/conflicts.db"
	DefaultAuditMaxOpenConns   = 4
	DefaultAuditBusyTimeout    = 5 * time.Second

	// Repository defaults
	DefaultRepositoryBackend     = "sqlite"
	DefaultRepositorySQLitePath  = "data/policies.db"
	DefaultRepositoryBusyTimeout = 5 * time.Second

	// Guardrail defaults
	DefaultNearMissThreshold = 0.75

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsAddress     = "127.0.0.1:9090"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "covenant"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingService     = "covenant"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultCheckTimeout       = 5 * time.Second

	// Secrets defaults
	DefaultSecretEnvPrefix = "COVENANT_SECRET_"
)

// DefaultFileExtensions are the policy document extensions watched by default.
var DefaultFileExtensions = []string{".yaml", ".yml", ".json"}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyLiveDefaults(&cfg.Live)
	applyConflictDefaults(&cfg.Conflict)

	// Repository defaults
	if cfg.Repository.Backend == "" {
		cfg.Repository.Backend = DefaultRepositoryBackend
	}
	if cfg.Repository.SQLite.Path == "" {
		cfg.Repository.SQLite.Path = DefaultRepositorySQLitePath
	}
	if cfg.Repository.SQLite.BusyTimeout == 0 {
		cfg.Repository.SQLite.BusyTimeout = DefaultRepositoryBusyTimeout
	}

	// Guardrail defaults
	if cfg.Guardrail.NearMissThreshold == 0 {
		cfg.Guardrail.NearMissThreshold = DefaultNearMissThreshold
	}

	applyTelemetryDefaults(&cfg.Telemetry)

	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretEnvPrefix
	}
}

func applyLiveDefaults(cfg *LiveConfig) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = DefaultLiveStopTimeout
	}

	file := &cfg.Sources.File
	if file.Dir == "" {
		file.Dir = DefaultFileSourceDir
	}
	if len(file.Extensions) == 0 {
		file.Extensions = append([]string(nil), DefaultFileExtensions...)
	}
	if file.Debounce == 0 {
		file.Debounce = DefaultFileDebounce
	}

	git := &cfg.Sources.Git
	if git.Branch == "" {
		git.Branch = DefaultGitBranch
	}
	if git.LocalPath == "" {
		git.LocalPath = DefaultGitLocalPath
	}
	if git.Timeout == 0 {
		git.Timeout = DefaultGitTimeout
	}
	if git.Auth.Type == "" {
		git.Auth.Type = DefaultGitAuthType
	}

	redis := &cfg.Sources.Redis
	if redis.Addr == "" {
		redis.Addr = DefaultRedisAddr
	}
	if redis.Key == "" {
		redis.Key = DefaultRedisKey
	}
	if redis.BatchSize == 0 {
		redis.BatchSize = DefaultRedisBatchSize
	}
}

func applyConflictDefaults(cfg *ConflictConfig) {
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = DefaultConflictStopTimeout
	}
	if cfg.Audit.File.Path == "" {
		cfg.Audit.File.Path = DefaultAuditFilePath
	}

	sqlite := &cfg.Audit.SQLite
	if sqlite.Path == "" {
		sqlite.Path = DefaultAuditSQLitePath
	}
	if sqlite.MaxOpenConns == 0 {
		sqlite.MaxOpenConns = DefaultAuditMaxOpenConns
	}
	if sqlite.WALMode == nil {
		wal := true
		sqlite.WALMode = &wal
	}
	if sqlite.BusyTimeout == 0 {
		sqlite.BusyTimeout = DefaultAuditBusyTimeout
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}

	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = DefaultMetricsAddress
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingService
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}

	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultCheckTimeout
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
