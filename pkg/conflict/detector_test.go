package conflict

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"mercator-hq/covenant/pkg/policy"
)

// staticLister serves a fixed policy set.
type staticLister struct {
	mu       sync.Mutex
	policies []*policy.Policy
	err      error
}

func (l *staticLister) ListPolicies(context.Context, policy.Filter) ([]*policy.Policy, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.policies, l.err
}

type staticProvider map[string][]*policy.Policy

func (p staticProvider) SnapshotWorkflowPolicies() map[string][]*policy.Policy { return p }

type memorySink struct {
	mu        sync.Mutex
	batches   [][]*Conflict
	err       error
	cancelled int
}

func (s *memorySink) Append(ctx context.Context, conflicts []*Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		s.cancelled++
		return ctx.Err()
	}
	s.batches = append(s.batches, conflicts)
	return s.err
}

// slowLister signals each listing and then holds it for delay.
type slowLister struct {
	staticLister
	started chan struct{}
	delay   time.Duration
}

func (l *slowLister) ListPolicies(ctx context.Context, filter policy.Filter) ([]*policy.Policy, error) {
	select {
	case l.started <- struct{}{}:
	default:
	}
	time.Sleep(l.delay)
	return l.staticLister.ListPolicies(ctx, filter)
}

type countingRecorder struct {
	mu        sync.Mutex
	scans     int
	conflicts map[string]int
	auditSize int
}

func (r *countingRecorder) RecordScan(time.Duration) {
	r.mu.Lock()
	r.scans++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordConflict(severity, _ string) {
	r.mu.Lock()
	if r.conflicts == nil {
		r.conflicts = make(map[string]int)
	}
	r.conflicts[severity]++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordAuditSize(n int) {
	r.mu.Lock()
	r.auditSize = n
	r.mu.Unlock()
}

func amountPolicy(id string, domain policy.Domain, op policy.Operator, v any) *policy.Policy {
	return &policy.Policy{
		ID:         id,
		Version:    "1.0.0",
		Domain:     domain,
		Conditions: []policy.Condition{{Parameter: "amount", Operator: op, Value: v}},
	}
}

func newDetector(t *testing.T, lister policy.Lister) *Detector {
	t.Helper()
	d, err := New(&Config{ScanInterval: MinScanInterval}, lister, nil)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	return d
}

func TestScanOnce_DisjointRanges(t *testing.T) {
	lister := &staticLister{policies: []*policy.Policy{
		amountPolicy("high-spend", policy.DomainOperations, policy.OpGreater, 500),
		amountPolicy("low-spend", policy.DomainGovernance, policy.OpLess, 200),
	}}
	d := newDetector(t, lister)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	found, err := d.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce() error = %v, want nil", err)
	}

	want := []*Conflict{{
		ID:          "repository:high-spend:low-spend:contradictory_rule",
		DetectedAt:  fixed,
		Severity:    SeverityMedium,
		Type:        TypeContradictory,
		PolicyIDs:   [2]string{"high-spend", "low-spend"},
		Description: "high-spend and low-spend have contradictory rule on enforcement conditions",
		ResolutionSuggestions: []string{
			"Define explicit precedence and add scoped exceptions to remove impossible condition intersections.",
			"Split rule applicability by workflow, team, or domain to avoid concurrent activation.",
		},
		Evidence: map[string]string{
			"parameter":      "amount",
			"left_operator":  ">",
			"left_value":     "500",
			"right_operator": "<",
			"right_value":    "200",
			"reason":         "numeric ranges do not intersect",
		},
	}}
	if diff := cmp.Diff(want, found); diff != "" {
		t.Errorf("ScanOnce() mismatch (-want +got):\n%s", diff)
	}
}

func TestScanOnce_Symmetric(t *testing.T) {
	a := amountPolicy("a", policy.DomainFinance, policy.OpGreaterEqual, 1000)
	b := amountPolicy("b", policy.DomainFinance, policy.OpEqual, 10)

	forward, err := newDetector(t, &staticLister{policies: []*policy.Policy{a, b}}).ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce() error = %v, want nil", err)
	}
	backward, err := newDetector(t, &staticLister{policies: []*policy.Policy{b, a}}).ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce() error = %v, want nil", err)
	}
	if len(forward) != 1 || len(backward) != 1 {
		t.Fatalf("ScanOnce() found %d and %d, want 1 each", len(forward), len(backward))
	}
	if forward[0].Type != TypeContradictory || forward[0].Severity != SeverityHigh {
		t.Errorf("ScanOnce() = %s/%s, want a high contradiction", forward[0].Type, forward[0].Severity)
	}
	if forward[0].ID != "repository:a:b:contradictory_rule" {
		t.Errorf("ScanOnce() id = %q, want repository:a:b:contradictory_rule", forward[0].ID)
	}
	ignoreTime := cmpopts.IgnoreFields(Conflict{}, "DetectedAt")
	if diff := cmp.Diff(forward[0], backward[0], ignoreTime); diff != "" {
		t.Errorf("ScanOnce() depends on listing order (-forward +backward):\n%s", diff)
	}
}

func TestScanOnce_Overlap(t *testing.T) {
	review := amountPolicy("review", policy.DomainFinance, policy.OpGreater, 100)
	review.Instructions = []string{"request review"}
	block := amountPolicy("block", policy.DomainFinance, policy.OpGreater, 1000)
	block.Triggers = []policy.Trigger{{Type: policy.TriggerOnActivation, ActionName: "block"}}
	twin := amountPolicy("twin", policy.DomainFinance, policy.OpGreater, 100)
	twin.Instructions = []string{"request review"}
	unrelated := &policy.Policy{ID: "unrelated", Conditions: []policy.Condition{{Parameter: "region", Operator: policy.OpEqual, Value: "eu"}}}
	empty := &policy.Policy{ID: "empty", Instructions: []string{"always"}}

	d := newDetector(t, &staticLister{policies: []*policy.Policy{review, block, twin, unrelated, empty}})
	found, err := d.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce() error = %v, want nil", err)
	}

	var ids []string
	for _, c := range found {
		if c.Type != TypeOverlapping {
			t.Errorf("conflict %s type = %s, want overlapping", c.ID, c.Type)
		}
		ids = append(ids, c.ID)
	}
	want := []string{
		"repository:block:review:overlapping_enforcement",
		"repository:block:twin:overlapping_enforcement",
	}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("ScanOnce() ids mismatch (-want +got):\n%s", diff)
	}
}

func TestScanOnce_SeverityOrderAndWorkflows(t *testing.T) {
	lister := &staticLister{policies: []*policy.Policy{
		amountPolicy("ops-a", policy.DomainOperations, policy.OpGreater, 10),
		amountPolicy("ops-b", policy.DomainOperations, policy.OpLess, 5),
	}}
	provider := staticProvider{
		"payments": {
			amountPolicy("sec-a", policy.DomainSecurity, policy.OpEqual, 1),
			amountPolicy("sec-b", policy.DomainGovernance, policy.OpEqual, 2),
		},
		"empty": nil,
	}

	d := newDetector(t, lister)
	d.SetWorkflowProvider(provider)
	found, err := d.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce() error = %v, want nil", err)
	}
	if len(found) != 2 {
		t.Fatalf("ScanOnce() found %d, want 2", len(found))
	}
	if found[0].Severity != SeveritySafetyCritical || found[0].WorkflowID != "payments" {
		t.Errorf("found[0] = %s in %q, want safety_critical in payments first", found[0].Severity, found[0].WorkflowID)
	}
	if found[0].ID != "payments:sec-a:sec-b:contradictory_rule" {
		t.Errorf("found[0].ID = %q, want the workflow-scoped id", found[0].ID)
	}
	if found[1].Severity != SeverityMedium || found[1].WorkflowID != "" {
		t.Errorf("found[1] = %s in %q, want medium in the repository", found[1].Severity, found[1].WorkflowID)
	}
	last := found[0].ResolutionSuggestions[len(found[0].ResolutionSuggestions)-1]
	if last != `Pin policy subscriptions for workflow "payments" to only the intended policy subset.` {
		t.Errorf("last suggestion = %q, want the workflow pin", last)
	}
}

func TestScanOnce_LatestVersionOnly(t *testing.T) {
	old := amountPolicy("limit", policy.DomainOperations, policy.OpLess, 5)
	current := amountPolicy("limit", policy.DomainOperations, policy.OpLess, 50)
	current.Version = "1.0.1"
	other := amountPolicy("floor", policy.DomainOperations, policy.OpGreater, 10)
	other.Instructions = []string{"x"}

	d := newDetector(t, &staticLister{policies: []*policy.Policy{old, other, current}})
	found, err := d.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce() error = %v, want nil", err)
	}
	if len(found) != 1 || found[0].Type != TypeOverlapping {
		t.Fatalf("ScanOnce() = %d conflicts, want one overlap against limit 1.0.1", len(found))
	}
}

func TestScanOnce_AuditLogAndSinks(t *testing.T) {
	lister := &staticLister{policies: []*policy.Policy{
		amountPolicy("a", policy.DomainOperations, policy.OpGreater, 10),
		amountPolicy("b", policy.DomainOperations, policy.OpLess, 5),
	}}
	d := newDetector(t, lister)
	good := &memorySink{}
	broken := &memorySink{err: errors.New("disk full")}
	rec := &countingRecorder{}
	d.AddSink(good)
	d.AddSink(broken)
	d.AddSink(nil)
	d.SetRecorder(rec)

	for i := 0; i < 3; i++ {
		found, err := d.ScanOnce(context.Background())
		if len(found) != 1 {
			t.Fatalf("ScanOnce() found %d, want 1", len(found))
		}
		if err == nil {
			t.Errorf("ScanOnce() error = nil, want the sink failure")
		}
	}

	if got := len(d.AuditLog(0)); got != 3 {
		t.Errorf("AuditLog(0) = %d entries, want 3", got)
	}
	if got := len(d.AuditLog(2)); got != 2 {
		t.Errorf("AuditLog(2) = %d entries, want 2", got)
	}
	if len(good.batches) != 3 || len(broken.batches) != 3 {
		t.Errorf("sink batches = %d, %d, want 3 each", len(good.batches), len(broken.batches))
	}
	if rec.scans != 3 || rec.conflicts["medium"] != 3 || rec.auditSize != 3 {
		t.Errorf("recorder = %d scans, %v, size %d, want 3, medium:3, 3", rec.scans, rec.conflicts, rec.auditSize)
	}

	// Callers cannot rewrite history through the returned slice.
	log := d.AuditLog(0)
	log[0] = nil
	if d.AuditLog(0)[0] == nil {
		t.Error("AuditLog() exposed internal storage")
	}
}

func TestScanOnce_ListerError(t *testing.T) {
	d := newDetector(t, &staticLister{err: errors.New("database locked")})
	if _, err := d.ScanOnce(context.Background()); err == nil {
		t.Error("ScanOnce() error = nil, want lister failure")
	}
	if len(d.AuditLog(0)) != 0 {
		t.Error("AuditLog() not empty after failed scan")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(nil, nil, nil); err == nil {
		t.Error("New(nil lister) error = nil, want error")
	}
	d, err := New(&Config{ScanInterval: time.Millisecond}, &staticLister{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	if d.ScanInterval() != MinScanInterval {
		t.Errorf("ScanInterval() = %v, want %v", d.ScanInterval(), MinScanInterval)
	}
}

func TestStartStop(t *testing.T) {
	lister := &staticLister{policies: []*policy.Policy{
		amountPolicy("a", policy.DomainOperations, policy.OpGreater, 10),
		amountPolicy("b", policy.DomainOperations, policy.OpLess, 5),
	}}
	d := newDetector(t, lister)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	if err := d.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(d.AuditLog(0)) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(d.AuditLog(0)) < 2 {
		t.Error("scan loop did not run repeatedly")
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v, want nil", err)
	}
	if err := d.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop() error = %v, want ErrNotRunning", err)
	}
	if d.IsRunning() {
		t.Error("IsRunning() = true after Stop, want false")
	}
}

func TestStop_FinishesCurrentScan(t *testing.T) {
	lister := &slowLister{
		staticLister: staticLister{policies: []*policy.Policy{
			amountPolicy("a", policy.DomainOperations, policy.OpGreater, 10),
			amountPolicy("b", policy.DomainOperations, policy.OpLess, 5),
		}},
		started: make(chan struct{}, 1),
		delay:   50 * time.Millisecond,
	}
	d, err := New(&Config{ScanInterval: time.Minute, StopTimeout: 5 * time.Second}, lister, nil)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	sink := &memorySink{}
	d.AddSink(sink)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	select {
	case <-lister.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scan never started")
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v, want nil", err)
	}

	if n := len(d.AuditLog(0)); n != 1 {
		t.Errorf("AuditLog() = %d entries, want the in-flight scan recorded", n)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.batches) != 1 || sink.cancelled != 0 {
		t.Errorf("sink got %d batches and %d cancelled appends, want 1 and 0", len(sink.batches), sink.cancelled)
	}
}

func TestScanOnce_SinksIgnoreCancellation(t *testing.T) {
	d := newDetector(t, &staticLister{policies: []*policy.Policy{
		amountPolicy("a", policy.DomainOperations, policy.OpGreater, 10),
		amountPolicy("b", policy.DomainOperations, policy.OpLess, 5),
	}})
	sink := &memorySink{}
	d.AddSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.ScanOnce(ctx); err != nil {
		t.Fatalf("ScanOnce() error = %v, want nil", err)
	}
	if len(d.AuditLog(0)) != 1 || len(sink.batches) != 1 {
		t.Errorf("audit log %d and sink batches %d, want both 1", len(d.AuditLog(0)), len(sink.batches))
	}
}
