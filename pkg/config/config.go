package config

import "time"

// Config is the root configuration structure for Covenant.
type Config struct {
	// Live configures the live update engine and its change sources.
	Live LiveConfig `yaml:"live"`

	// Conflict configures the background conflict detector and its audit sinks.
	Conflict ConflictConfig `yaml:"conflict"`

	// Repository selects where policy versions are stored.
	Repository RepositoryConfig `yaml:"repository"`

	// Guardrail contains decision layer tuning.
	Guardrail GuardrailConfig `yaml:"guardrail"`

	// Telemetry contains logging, metrics, tracing and health settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Secrets controls how ${secret:name} references are resolved.
	Secrets SecretsConfig `yaml:"secrets"`
}

// SecretsConfig configures secret reference resolution for credentials such
// as live.sources.redis.password and live.sources.git.auth.token.
type SecretsConfig struct {
	// EnvPrefix is prepended to the upper-cased secret name to form the
	// environment variable that holds it.
	// Default: "COVENANT_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir holds one file per secret, as mounted by Kubernetes or Docker.
	// Files are tried before the environment. Empty disables file secrets.
	Dir string `yaml:"dir"`
}

// LiveConfig contains configuration for the live update engine.
type LiveConfig struct {
	// PollInterval is how often change sources are drained.
	// Default: 5s
	PollInterval time.Duration `yaml:"poll_interval"`

	// StopTimeout bounds how long shutdown waits for the sync loop.
	// Default: 3s
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// Archive stores every new policy version in the repository.
	// Default: true
	Archive *bool `yaml:"archive"`

	// Sources lists the change sources to poll.
	Sources SourcesConfig `yaml:"sources"`

	// Workflows are registered with the engine at startup. A workflow with no
	// policies subscribes to all of them.
	Workflows []WorkflowConfig `yaml:"workflows"`
}

// ArchiveEnabled reports whether new versions are archived.
func (c LiveConfig) ArchiveEnabled() bool {
	return c.Archive == nil || *c.Archive
}

// WorkflowConfig declares one workflow subscription.
type WorkflowConfig struct {
	ID       string   `yaml:"id"`
	Policies []string `yaml:"policies"`
}

// SourcesConfig groups the supported change sources.
type SourcesConfig struct {
	File  FileSourceConfig  `yaml:"file"`
	Git   GitSourceConfig   `yaml:"git"`
	Redis RedisSourceConfig `yaml:"redis"`
}

// FileSourceConfig configures the directory watcher.
type FileSourceConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir is the directory holding policy documents.
	// Default: "./policies"
	Dir string `yaml:"dir"`

	// Extensions lists the file extensions treated as policies.
	// Default: [".yaml", ".yml", ".json"]
	Extensions []string `yaml:"extensions"`

	// Debounce is how long a file must stay quiet before it is re-read.
	// Default: 100ms
	Debounce time.Duration `yaml:"debounce"`
}

// GitSourceConfig configures the Git repository source.
type GitSourceConfig struct {
	Enabled bool `yaml:"enabled"`

	// URL is the repository to clone.
	URL string `yaml:"url"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path limits policies to a subdirectory of the repository.
	Path string `yaml:"path"`

	// LocalPath is where the clone lives.
	// Default: "data/policy-repo"
	LocalPath string `yaml:"local_path"`

	// Depth is the clone depth. Zero clones full history.
	Depth int `yaml:"depth"`

	// Timeout bounds each clone or pull.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	Auth GitAuthConfig `yaml:"auth"`
}

// GitAuthConfig contains Git authentication settings.
type GitAuthConfig struct {
	// Type is "none", "token" or "ssh".
	// Default: "none"
	Type string `yaml:"type"`

	// Token is a personal access token. Usually set through the environment.
	Token string `yaml:"token"`

	SSHKeyPath       string `yaml:"ssh_key_path"`
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// RedisSourceConfig configures the Redis list source.
type RedisSourceConfig struct {
	Enabled bool `yaml:"enabled"`

	// Addr is the Redis server address.
	// Default: "localhost:6379"
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Key is the list changes are popped from.
	// Default: "covenant:policy_changes"
	Key string `yaml:"key"`

	// BatchSize caps how many changes one fetch pops.
	// Default: 100
	BatchSize int `yaml:"batch_size"`
}

// ConflictConfig contains configuration for the conflict detector.
type ConflictConfig struct {
	// Enabled controls whether the detector runs under "covenant run".
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// ScanInterval is the fixed scan cadence. Ignored when Schedule is set.
	// Default: 10s
	ScanInterval time.Duration `yaml:"scan_interval"`

	// Schedule is an optional cron expression that replaces ScanInterval.
	// Example: "*/5 * * * *"
	Schedule string `yaml:"schedule"`

	// StopTimeout bounds how long shutdown waits for a running scan.
	// Default: 3s
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// Audit configures where detected conflicts are written.
	Audit AuditConfig `yaml:"audit"`
}

// DetectorEnabled reports whether the detector runs.
func (c ConflictConfig) DetectorEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// AuditConfig contains the conflict audit sinks.
type AuditConfig struct {
	File   AuditFileConfig   `yaml:"file"`
	SQLite AuditSQLiteConfig `yaml:"sqlite"`
}

// AuditFileConfig configures the JSON Lines audit log.
type AuditFileConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`

	// Path is the audit log file.
	// Default: "data/conflicts.jsonl"
	Path string `yaml:"path"`
}

// IsEnabled reports whether the file sink is enabled.
func (c AuditFileConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// AuditSQLiteConfig configures the queryable SQLite audit store.
type AuditSQLiteConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the database file.
	// Default: "data/conflicts.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the connection pool size.
	// Default: 4
	MaxOpenConns int `yaml:"max_open_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode *bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RepositoryConfig selects the policy repository backend.
type RepositoryConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	SQLite RepositorySQLiteConfig `yaml:"sqlite"`
}

// RepositorySQLiteConfig configures the SQLite repository.
type RepositorySQLiteConfig struct {
	// Path is the database file.
	// Default: "data/policies.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// GuardrailConfig contains guardrail decision tuning.
type GuardrailConfig struct {
	// NearMissThreshold is the satisfied-condition fraction that flags a
	// partially matching policy.
	// Default: 0.75
	NearMissThreshold float64 `yaml:"near_miss_threshold"`

	// TuningContext is merged into every evaluation context.
	TuningContext map[string]any `yaml:"tuning_context"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// ListenAddress is where the telemetry HTTP server listens.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "covenant"
	Namespace string `yaml:"namespace"`
}

// IsEnabled reports whether metrics are enabled.
func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample.
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "covenant"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the collector connection.
	// Default: true
	Insecure *bool `yaml:"insecure"`

	// Timeout is the export timeout.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// IsInsecure reports whether the collector connection skips TLS.
func (c TracingConfig) IsInsecure() bool {
	return c.Insecure == nil || *c.Insecure
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the liveness check path.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the readiness check path.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout bounds each readiness check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
