// Package config provides configuration management for Covenant.
//
// Configuration is loaded from a YAML file, completed with defaults,
// overridden from the environment and validated:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("covenant.yaml")
//
// An empty path starts from Default().
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention COVENANT_SECTION_FIELD:
//
//   - COVENANT_LIVE_POLL_INTERVAL overrides live.poll_interval
//   - COVENANT_LIVE_SOURCES_GIT_AUTH_TOKEN overrides live.sources.git.auth.token
//   - COVENANT_REPOSITORY_BACKEND overrides repository.backend
//   - COVENANT_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Values that fail to parse are ignored.
//
// # Validation
//
// Validate collects every problem before returning, so one run reports all of
// them:
//
//	configuration validation failed with 2 errors:
//	  - live.sources.git.url: repository URL is required when the git source is enabled
//	  - conflict.schedule: invalid cron expression "sometimes": ...
//
// # Example Configuration
//
//	live:
//	  poll_interval: 5s
//	  sources:
//	    file:
//	      enabled: true
//	      dir: ./policies
//	  workflows:
//	    - id: billing
//	      policies: [spend-limit, vendor-allowlist]
//
//	conflict:
//	  scan_interval: 10s
//	  audit:
//	    file:
//	      path: data/conflicts.jsonl
//
//	repository:
//	  backend: sqlite
//	  sqlite:
//	    path: data/policies.db
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
package config
