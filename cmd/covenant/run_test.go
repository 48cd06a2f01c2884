package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/covenant/pkg/config"
	"mercator-hq/covenant/pkg/policy"
	"mercator-hq/covenant/pkg/repository"
)

// syncBuffer is a bytes.Buffer safe for the daemon and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var listeningRE = regexp.MustCompile(`listening on (\S+)`)

func TestRunDaemon(t *testing.T) {
	dir := t.TempDir()
	policies := filepath.Join(dir, "policies")
	if err := os.MkdirAll(policies, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v, want nil", err)
	}
	if err := os.WriteFile(filepath.Join(policies, "high.yaml"), []byte(highSpend), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v, want nil", err)
	}

	cfgPath := filepath.Join(dir, "covenant.yaml")
	cfgText := fmt.Sprintf(`
live:
  poll_interval: 100ms
  sources:
    file:
      enabled: true
      dir: %[1]s/policies
  workflows:
    - id: payments
repository:
  sqlite:
    path: %[1]s/policies.db
conflict:
  scan_interval: 250ms
  audit:
    file:
      path: %[1]s/conflicts.jsonl
telemetry:
  metrics:
    listen_address: 127.0.0.1:0
`, filepath.ToSlash(dir))
	if err := os.WriteFile(cfgPath, []byte(cfgText), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v, want nil", err)
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	done := make(chan error, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() {
		done <- runDaemon(ctx, cfg, logger, make(chan os.Signal), out)
	}()

	var addr string
	waitUntil(t, done, func() bool {
		if m := listeningRE.FindStringSubmatch(out.String()); m != nil {
			addr = m[1]
			return true
		}
		return false
	})

	waitUntil(t, done, func() bool {
		status, _ := get(t, "http://"+addr+"/ready")
		return status == http.StatusOK
	})
	waitUntil(t, done, func() bool {
		_, body := get(t, "http://"+addr+"/metrics")
		return strings.Contains(body, `covenant_live_policy_changes_total{outcome="changed"} 1`)
	})

	status, body := get(t, "http://"+addr+"/version")
	if status != http.StatusOK || !strings.Contains(body, Version) {
		t.Errorf("GET /version = %d %q, want 200 with the version", status, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runDaemon() error = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runDaemon() did not return after cancellation")
	}

	repo, err := repository.NewSQLite(repository.SQLiteConfig{Path: filepath.Join(dir, "policies.db")})
	if err != nil {
		t.Fatalf("NewSQLite() error = %v, want nil", err)
	}
	defer repo.Close()
	p, err := repo.GetPolicy(context.Background(), "high", "")
	if err != nil {
		t.Fatalf("GetPolicy() error = %v, want the archived version", err)
	}
	if p.Version != policy.DefaultVersion {
		t.Errorf("archived Version = %q, want %q", p.Version, policy.DefaultVersion)
	}
}

func TestRunDaemon_ListenError(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Repository.Backend = "memory"
	cfg.Conflict.Audit.File.Path = filepath.Join(dir, "conflicts.jsonl")
	cfg.Telemetry.Metrics.ListenAddress = "127.0.0.1:-1"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := runDaemon(context.Background(), cfg, logger, nil, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "failed to listen") {
		t.Errorf("runDaemon() error = %v, want a listen failure", err)
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

// waitUntil polls cond until it holds, failing early if the daemon exits.
func waitUntil(t *testing.T, done <-chan error, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-done:
			t.Fatalf("runDaemon() returned early: %v", err)
		default:
		}
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// fakeRegistrar records workflow registrations.
type fakeRegistrar struct {
	registered map[string][]string
}

func (r *fakeRegistrar) RegisterWorkflow(workflowID string, consumer policy.Consumer, policyIDs ...string) error {
	if r.registered == nil {
		r.registered = make(map[string][]string)
	}
	r.registered[workflowID] = policyIDs
	return nil
}

func (r *fakeRegistrar) UnregisterWorkflow(workflowID string) bool {
	_, ok := r.registered[workflowID]
	delete(r.registered, workflowID)
	return ok
}

func TestWorkflowSet_Apply(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	set := newWorkflowSet(nil, logger)
	reg := &fakeRegistrar{}
	gcfg := config.GuardrailConfig{NearMissThreshold: 0.75}

	err := set.apply(reg, []config.WorkflowConfig{
		{ID: "payments", Policies: []string{"high"}},
		{ID: "support"},
	}, gcfg)
	if err != nil {
		t.Fatalf("apply() error = %v, want nil", err)
	}
	first := set.guardrails["payments"]

	gcfg.TuningContext = map[string]any{"region": "eu"}
	err = set.apply(reg, []config.WorkflowConfig{
		{ID: "payments", Policies: []string{"high", "low"}},
	}, gcfg)
	if err != nil {
		t.Fatalf("apply() error = %v, want nil", err)
	}

	want := map[string][]string{"payments": {"high", "low"}}
	if diff := cmp.Diff(want, reg.registered); diff != "" {
		t.Errorf("registrations mismatch (-want +got):\n%s", diff)
	}
	if set.guardrails["payments"] != first {
		t.Error("reapplying an existing workflow replaced its guardrail")
	}
	if _, ok := set.guardrails["support"]; ok {
		t.Error("removed workflow still has a guardrail")
	}
}
