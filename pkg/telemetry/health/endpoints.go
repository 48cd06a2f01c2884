package health

import (
	"encoding/json"
	"net/http"
	"runtime"

	"mercator-hq/covenant/pkg/config"
)

// VersionInfo is the body of the version endpoint.
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

// LivenessHandler serves the liveness check. It always answers 200.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowed(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, c.Liveness())
	}
}

// ReadinessHandler serves the readiness check. It answers 503 while any
// check fails.
//
// Example response:
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "live": {"status": "ok", "duration_ms": 0.002},
//	        "conflict": {"status": "unhealthy", "message": "conflict detector is not running", "duration_ms": 0.001}
//	    },
//	    "timestamp": "2026-03-02T10:30:00Z"
//	}
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowed(w, r) {
			return
		}
		report := c.Readiness(r.Context())
		code := http.StatusOK
		if !report.Ready() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, report)
	}
}

// VersionHandler serves build information.
func VersionHandler(version string) http.HandlerFunc {
	info := VersionInfo{Version: version, GoVersion: runtime.Version()}
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowed(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, info)
	}
}

// Mount registers the health checks on mux at the configured paths, plus /version.
//
//	mux := http.NewServeMux()
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.Register("live", health.RunningCheck("live update engine", liveEngine))
//	health.Mount(mux, checker, cfg.Telemetry.Health, version)
func Mount(mux *http.ServeMux, c *Checker, cfg config.HealthConfig, version string) {
	liveness := cfg.LivenessPath
	if liveness == "" {
		liveness = config.DefaultLivenessPath
	}
	readiness := cfg.ReadinessPath
	if readiness == "" {
		readiness = config.DefaultReadinessPath
	}
	mux.Handle(liveness, c.LivenessHandler())
	mux.Handle(readiness, c.ReadinessHandler())
	mux.Handle("/version", VersionHandler(version))
}

func allowed(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(body)
	}
}
