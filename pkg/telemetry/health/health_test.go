package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/covenant/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{name: "default timeout", timeout: 0, want: DefaultCheckTimeout},
		{name: "negative timeout", timeout: -time.Second, want: DefaultCheckTimeout},
		{name: "custom timeout", timeout: 10 * time.Second, want: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.timeout)
			if c.timeout != tt.want {
				t.Errorf("timeout = %v, want %v", c.timeout, tt.want)
			}
			if len(c.Names()) != 0 {
				t.Errorf("Names() = %v, want empty", c.Names())
			}
		})
	}
}

func TestRegister(t *testing.T) {
	c := New(time.Second)
	c.Register("repository", func(context.Context) error { return nil })
	c.Register("live", func(context.Context) error { return nil })
	c.Register("live", func(context.Context) error { return errors.New("replaced") })

	if diff := cmp.Diff([]string{"live", "repository"}, c.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	report := c.Readiness(context.Background())
	if report.Checks["live"].Message != "replaced" {
		t.Errorf("live check = %+v, want the replacement", report.Checks["live"])
	}

	c.Unregister("live")
	if diff := cmp.Diff([]string{"repository"}, c.Names()); diff != "" {
		t.Errorf("Names() after Unregister mismatch (-want +got):\n%s", diff)
	}
}

func TestLiveness(t *testing.T) {
	c := New(time.Second)
	c.Register("failing", func(context.Context) error { return errors.New("down") })

	report := c.Liveness()
	if report.Status != StatusOK || len(report.Checks) != 0 {
		t.Errorf("Liveness() = %+v, want ok without checks", report)
	}
}

func TestReadiness(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("repository closed") }

	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
		wantFailed []string
	}{
		{name: "no checks", wantStatus: StatusReady},
		{
			name:       "all healthy",
			checks:     map[string]CheckFunc{"live": healthy, "conflict": healthy},
			wantStatus: StatusReady,
		},
		{
			name:       "one failing",
			checks:     map[string]CheckFunc{"live": healthy, "repository": failing},
			wantStatus: StatusDegraded,
			wantFailed: []string{"repository"},
		},
		{
			name: "panicking check",
			checks: map[string]CheckFunc{"conflict": func(context.Context) error {
				panic("nil detector")
			}},
			wantStatus: StatusDegraded,
			wantFailed: []string{"conflict"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			for name, check := range tt.checks {
				c.Register(name, check)
			}

			report := c.Readiness(context.Background())
			if report.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", report.Status, tt.wantStatus)
			}
			if len(report.Checks) != len(tt.checks) {
				t.Errorf("len(Checks) = %d, want %d", len(report.Checks), len(tt.checks))
			}
			for _, name := range tt.wantFailed {
				res := report.Checks[name]
				if res.Status != StatusUnhealthy || res.Message == "" {
					t.Errorf("Checks[%q] = %+v, want unhealthy with a message", name, res)
				}
			}
		})
	}
}

func TestReadiness_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	c.Register("slow", func(context.Context) error {
		<-release
		return nil
	})

	start := time.Now()
	report := c.Readiness(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Readiness() took %v, want it bounded by the check timeout", elapsed)
	}
	if got := report.Checks["slow"]; got.Message != ErrCheckTimeout.Error() {
		t.Errorf("Checks[slow] = %+v, want %q", got, ErrCheckTimeout)
	}
}

func TestReadiness_CancelledContext(t *testing.T) {
	c := New(time.Second)
	c.Register("ctx", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if report := c.Readiness(ctx); report.Ready() {
		t.Errorf("Readiness() = %+v, want degraded for a cancelled context", report)
	}
}

type fakeRunner struct{ running bool }

func (f *fakeRunner) IsRunning() bool { return f.running }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestComponentChecks(t *testing.T) {
	r := &fakeRunner{}
	check := RunningCheck("live update engine", r)
	if err := check(context.Background()); err == nil || err.Error() != "live update engine is not running" {
		t.Errorf("RunningCheck() error = %v, want not running", err)
	}
	r.running = true
	if err := check(context.Background()); err != nil {
		t.Errorf("RunningCheck() error = %v, want nil", err)
	}

	want := errors.New("database is locked")
	if err := PingCheck(fakePinger{err: want})(context.Background()); !errors.Is(err, want) {
		t.Errorf("PingCheck() error = %v, want %v", err, want)
	}
}

func TestHandlers(t *testing.T) {
	runner := &fakeRunner{}
	c := New(time.Second)
	c.Register("conflict", RunningCheck("conflict detector", runner))

	mux := http.NewServeMux()
	Mount(mux, c, config.HealthConfig{}, "1.4.0")

	tests := []struct {
		name     string
		method   string
		path     string
		running  bool
		wantCode int
		wantBody bool
	}{
		{name: "liveness", method: http.MethodGet, path: "/health", wantCode: http.StatusOK, wantBody: true},
		{name: "liveness head", method: http.MethodHead, path: "/health", wantCode: http.StatusOK},
		{name: "liveness post", method: http.MethodPost, path: "/health", wantCode: http.StatusMethodNotAllowed},
		{name: "not ready", method: http.MethodGet, path: "/ready", wantCode: http.StatusServiceUnavailable, wantBody: true},
		{name: "ready", method: http.MethodGet, path: "/ready", running: true, wantCode: http.StatusOK, wantBody: true},
		{name: "version", method: http.MethodGet, path: "/version", wantCode: http.StatusOK, wantBody: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner.running = tt.running
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != (rec.Body.Len() > 0) {
				t.Errorf("body = %q, want body %v", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestReadinessHandler_Body(t *testing.T) {
	c := New(time.Second)
	c.Register("repository", PingCheck(fakePinger{err: errors.New("repository closed")}))

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("Decode() error = %v, want nil", err)
	}
	if report.Status != StatusDegraded {
		t.Errorf("Status = %q, want %q", report.Status, StatusDegraded)
	}
	if got := report.Checks["repository"].Message; got != "repository closed" {
		t.Errorf("message = %q, want %q", got, "repository closed")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler("2.0.1")(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("Decode() error = %v, want nil", err)
	}
	if info.Version != "2.0.1" || info.GoVersion == "" {
		t.Errorf("VersionInfo = %+v, want version 2.0.1 with a go version", info)
	}
}
