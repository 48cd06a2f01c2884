package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/covenant/pkg/policy"
)

// titleTranslator turns raw text into a policy titled with that text.
// Text "fail" is rejected.
var titleTranslator = policy.TranslatorFunc(func(_ context.Context, raw string, metadata map[string]any) (*policy.Policy, error) {
	if raw == "fail" {
		return nil, errors.New("cannot parse")
	}
	domain := policy.DomainGovernance
	if d, ok := metadata["domain"].(string); ok {
		domain = policy.Domain(d)
	}
	return &policy.Policy{
		ID:      "ignored-by-engine",
		Version: "9.9.9",
		Title:   raw,
		Domain:  domain,
	}, nil
})

// recordingConsumer records every policy it receives.
type recordingConsumer struct {
	mu       sync.Mutex
	received []*policy.Policy
}

func (c *recordingConsumer) ApplyPolicyUpdate(p *policy.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, p)
}

func (c *recordingConsumer) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.received))
	for i, p := range c.received {
		out[i] = p.ID + "@" + p.Version
	}
	return out
}

type panickingConsumer struct{}

func (panickingConsumer) ApplyPolicyUpdate(*policy.Policy) { panic("consumer bug") }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(&Config{PollInterval: 10 * time.Millisecond}, titleTranslator, nil)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	return e
}

func mustApply(t *testing.T, e *Engine, change policy.PolicyChange) *policy.UpdateResult {
	t.Helper()
	result, err := e.ApplyChange(context.Background(), change)
	if err != nil {
		t.Fatalf("ApplyChange(%s) error = %v, want nil", change.PolicyID, err)
	}
	return result
}

func TestNew(t *testing.T) {
	if _, err := New(nil, nil, nil); err == nil {
		t.Error("New() without translator error = nil, want error")
	}

	e, err := New(&Config{PollInterval: time.Millisecond}, titleTranslator, nil)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	if e.PollInterval() != MinPollInterval {
		t.Errorf("PollInterval() = %v, want clamp to %v", e.PollInterval(), MinPollInterval)
	}
}

func TestApplyChange_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	consumer := &recordingConsumer{}
	if err := e.RegisterWorkflow("w", consumer); err != nil {
		t.Fatalf("RegisterWorkflow() error = %v, want nil", err)
	}

	change := policy.PolicyChange{PolicyID: "p1", RawText: "amount > 1000", Source: "test"}
	first := mustApply(t, e, change)
	second := mustApply(t, e, change)

	if !first.Changed || second.Changed {
		t.Fatalf("Changed = %v then %v, want true then false", first.Changed, second.Changed)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Errorf("Fingerprint changed between identical applies")
	}
	if second.Version != policy.DefaultVersion {
		t.Errorf("Version = %q after no-op, want %q", second.Version, policy.DefaultVersion)
	}
	if len(second.AffectedWorkflows) != 0 {
		t.Errorf("AffectedWorkflows = %v for no-op, want empty", second.AffectedWorkflows)
	}
	if diff := cmp.Diff([]string{"p1@1.0.0"}, consumer.ids()); diff != "" {
		t.Errorf("consumer deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyChange_MonotonicVersions(t *testing.T) {
	e := newTestEngine(t)

	var versions []string
	for _, raw := range []string{"v one", "v two", "v three"} {
		versions = append(versions, mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: raw}).Version)
	}

	if diff := cmp.Diff([]string{"1.0.0", "1.0.1", "1.0.2"}, versions); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}

	p, ok := e.GetPolicy("p")
	if !ok {
		t.Fatal("GetPolicy() ok = false, want true")
	}
	if p.ID != "p" || p.RawSource != "v three" || p.Title != "v three" {
		t.Errorf("GetPolicy() = {ID:%s RawSource:%q Title:%q}, want overridden identity", p.ID, p.RawSource, p.Title)
	}
	if p.EffectiveDate.IsZero() {
		t.Error("EffectiveDate is zero, want commit time")
	}
}

func TestApplyChange_VersionHint(t *testing.T) {
	e := newTestEngine(t)
	mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "a"})

	result := mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "b", VersionHint: "2.0.0"})
	if result.Version != "2.0.0" {
		t.Errorf("Version = %q, want hint 2.0.0", result.Version)
	}
	result = mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "c"})
	if result.Version != "2.0.1" {
		t.Errorf("Version = %q, want 2.0.1", result.Version)
	}
}

func TestApplyChange_MalformedPreviousVersion(t *testing.T) {
	e := newTestEngine(t)
	mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "a", VersionHint: "draft"})

	result := mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "b"})
	if result.Version != "1.0.1" {
		t.Errorf("Version = %q, want 1.0.1 after malformed version", result.Version)
	}
}

func TestApplyChange_Errors(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.ApplyChange(context.Background(), policy.PolicyChange{RawText: "x"})
	var cerr *policy.ContractError
	if !errors.As(err, &cerr) {
		t.Errorf("ApplyChange() without policy_id error = %v, want *policy.ContractError", err)
	}

	mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "good"})
	_, err = e.ApplyChange(context.Background(), policy.PolicyChange{PolicyID: "p", RawText: "fail", Source: "git"})
	var terr *policy.TranslationError
	if !errors.As(err, &terr) {
		t.Fatalf("ApplyChange() error = %v, want *policy.TranslationError", err)
	}
	if terr.PolicyID != "p" || terr.Source != "git" {
		t.Errorf("TranslationError = %+v, want policy p from git", terr)
	}

	p, _ := e.GetPolicy("p")
	if p.RawSource != "good" || p.Version != "1.0.0" {
		t.Errorf("current policy = %q@%s, want previous version kept", p.RawSource, p.Version)
	}

	_, err = e.ApplyChange(context.Background(), policy.PolicyChange{
		PolicyID: "q",
		RawText:  "bad domain",
		Metadata: map[string]any{"domain": "astrology"},
	})
	if !errors.As(err, &terr) {
		t.Errorf("ApplyChange() with invalid translation error = %v, want *policy.TranslationError", err)
	}
	if _, ok := e.GetPolicy("q"); ok {
		t.Error("invalid translation was published")
	}
}

func TestApplyChange_DiffSummary(t *testing.T) {
	e := newTestEngine(t)

	first := mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "block amount > 1000"})
	if first.DiffSummary != "" {
		t.Errorf("DiffSummary = %q for first version, want empty", first.DiffSummary)
	}

	second := mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "block amount > 1500"})
	if second.DiffSummary != "added=[1500] removed=[1000]" {
		t.Errorf("DiffSummary = %q, want %q", second.DiffSummary, "added=[1500] removed=[1000]")
	}

	reordered := mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "amount > 1500 block"})
	if !reordered.Changed || reordered.DiffSummary != "" {
		t.Errorf("reordered tokens: Changed = %v, DiffSummary = %q, want changed with empty summary", reordered.Changed, reordered.DiffSummary)
	}
}

func TestRegisterWorkflow_Subscriptions(t *testing.T) {
	e := newTestEngine(t)
	subset := &recordingConsumer{}
	all := &recordingConsumer{}

	if err := e.RegisterWorkflow("W", subset, "P1"); err != nil {
		t.Fatalf("RegisterWorkflow() error = %v, want nil", err)
	}
	if err := e.RegisterWorkflow("all", all); err != nil {
		t.Fatalf("RegisterWorkflow() error = %v, want nil", err)
	}

	r1 := mustApply(t, e, policy.PolicyChange{PolicyID: "P1", RawText: "one"})
	r2 := mustApply(t, e, policy.PolicyChange{PolicyID: "P2", RawText: "two"})

	if diff := cmp.Diff([]string{"W", "all"}, r1.AffectedWorkflows); diff != "" {
		t.Errorf("P1 AffectedWorkflows mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"all"}, r2.AffectedWorkflows); diff != "" {
		t.Errorf("P2 AffectedWorkflows mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"P1@1.0.0"}, subset.ids()); diff != "" {
		t.Errorf("subset deliveries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"P1@1.0.0", "P2@1.0.0"}, all.ids()); diff != "" {
		t.Errorf("all deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterWorkflow_PushesKnownPolicies(t *testing.T) {
	e := newTestEngine(t)
	mustApply(t, e, policy.PolicyChange{PolicyID: "a", RawText: "a"})
	mustApply(t, e, policy.PolicyChange{PolicyID: "b", RawText: "b"})
	mustApply(t, e, policy.PolicyChange{PolicyID: "a", RawText: "a2"})

	late := &recordingConsumer{}
	if err := e.RegisterWorkflow("late", late, "a"); err != nil {
		t.Fatalf("RegisterWorkflow() error = %v, want nil", err)
	}
	if diff := cmp.Diff([]string{"a@1.0.1"}, late.ids()); diff != "" {
		t.Errorf("initial push mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterWorkflow_Validation(t *testing.T) {
	e := newTestEngine(t)
	if err := e.RegisterWorkflow("", &recordingConsumer{}); err == nil {
		t.Error("RegisterWorkflow() with empty id error = nil, want error")
	}
	if err := e.RegisterWorkflow("w", nil); err == nil {
		t.Error("RegisterWorkflow() with nil consumer error = nil, want error")
	}
}

func TestUnregisterWorkflow(t *testing.T) {
	e := newTestEngine(t)
	c := &recordingConsumer{}
	_ = e.RegisterWorkflow("w", c)

	if !e.UnregisterWorkflow("w") {
		t.Fatal("UnregisterWorkflow() = false, want true")
	}
	if e.UnregisterWorkflow("w") {
		t.Error("UnregisterWorkflow() twice = true, want false")
	}

	result := mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "x"})
	if len(result.AffectedWorkflows) != 0 || len(c.ids()) != 0 {
		t.Errorf("unregistered workflow still received updates")
	}
}

func TestBroadcast_PanickingConsumerIsolated(t *testing.T) {
	e := newTestEngine(t)
	good := &recordingConsumer{}
	_ = e.RegisterWorkflow("a-bad", panickingConsumer{})
	_ = e.RegisterWorkflow("b-good", good)

	result := mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "x"})
	if diff := cmp.Diff([]string{"a-bad", "b-good"}, result.AffectedWorkflows); diff != "" {
		t.Errorf("AffectedWorkflows mismatch (-want +got):\n%s", diff)
	}
	if len(good.ids()) != 1 {
		t.Errorf("good consumer deliveries = %d, want 1", len(good.ids()))
	}
}

type listingConsumer struct {
	recordingConsumer
	active []*policy.Policy
}

func (c *listingConsumer) ListActivePolicies() []*policy.Policy { return c.active }

func TestSnapshotWorkflowPolicies(t *testing.T) {
	e := newTestEngine(t)
	pinned := &policy.Policy{ID: "pinned", Version: "3.0.0"}
	lister := &listingConsumer{active: []*policy.Policy{pinned}}
	plain := &recordingConsumer{}

	_ = e.RegisterWorkflow("lister", lister)
	_ = e.RegisterWorkflow("plain", plain, "b")
	mustApply(t, e, policy.PolicyChange{PolicyID: "a", RawText: "a"})
	mustApply(t, e, policy.PolicyChange{PolicyID: "b", RawText: "b"})

	snap := e.SnapshotWorkflowPolicies()
	if got := snap["lister"]; len(got) != 1 || got[0] != pinned {
		t.Errorf("snapshot[lister] = %v, want consumer-reported policies", got)
	}
	if got := snap["plain"]; len(got) != 1 || got[0].ID != "b" {
		t.Errorf("snapshot[plain] = %v, want subscribed policy b", got)
	}
}

type fakeArchiver struct {
	mu    sync.Mutex
	saved []string
	err   error
	// cancelled counts saves that arrived with a done context.
	cancelled int
}

func (a *fakeArchiver) SavePolicy(ctx context.Context, p *policy.Policy) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ctx.Err() != nil {
		a.cancelled++
	}
	a.saved = append(a.saved, p.ID+"@"+p.Version)
	return "rec", a.err
}

func TestApplyChange_Archives(t *testing.T) {
	e := newTestEngine(t)
	arch := &fakeArchiver{}
	e.SetArchiver(arch)

	mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "a"})
	mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "a"})
	mustApply(t, e, policy.PolicyChange{PolicyID: "p", RawText: "b"})

	if diff := cmp.Diff([]string{"p@1.0.0", "p@1.0.1"}, arch.saved); diff != "" {
		t.Errorf("archived versions mismatch (-want +got):\n%s", diff)
	}

	arch.err = errors.New("disk full")
	if _, err := e.ApplyChange(context.Background(), policy.PolicyChange{PolicyID: "p", RawText: "c"}); err != nil {
		t.Errorf("ApplyChange() error = %v, want archive failures to be logged only", err)
	}
}

// monotonicConsumer fails the test if a policy's version ever goes backwards.
type monotonicConsumer struct {
	t    *testing.T
	mu   sync.Mutex
	last map[string]string
}

func (c *monotonicConsumer) ApplyPolicyUpdate(p *policy.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[p.ID]; ok && policy.CompareVersions(p.Version, prev) <= 0 {
		c.t.Errorf("policy %s delivered %s after %s", p.ID, p.Version, prev)
	}
	c.last[p.ID] = p.Version
}

func TestApplyChange_ConcurrentSamePolicyOrdered(t *testing.T) {
	e := newTestEngine(t)
	consumer := &monotonicConsumer{t: t, last: make(map[string]string)}
	_ = e.RegisterWorkflow("w", consumer)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for _, id := range []string{"shared", fmt.Sprintf("own-%d", i)} {
				if _, err := e.ApplyChange(context.Background(), policy.PolicyChange{
					PolicyID: id,
					RawText:  fmt.Sprintf("text %d", i),
				}); err != nil {
					t.Errorf("ApplyChange() error = %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	p, _ := e.GetPolicy("shared")
	if p.Version != fmt.Sprintf("1.0.%d", writers-1) {
		t.Errorf("shared Version = %s, want 1.0.%d", p.Version, writers-1)
	}
	if n := len(e.ListPolicies()); n != writers+1 {
		t.Errorf("ListPolicies() len = %d, want %d", n, writers+1)
	}
}

func TestCurrent(t *testing.T) {
	e := newTestEngine(t)
	mustApply(t, e, policy.PolicyChange{PolicyID: "a", RawText: "a", Metadata: map[string]any{"domain": "finance"}})
	mustApply(t, e, policy.PolicyChange{PolicyID: "b", RawText: "b"})
	mustApply(t, e, policy.PolicyChange{PolicyID: "a", RawText: "a2", Metadata: map[string]any{"domain": "finance"}})

	all, err := e.Current().ListPolicies(context.Background(), policy.Filter{})
	if err != nil {
		t.Fatalf("ListPolicies() error = %v, want nil", err)
	}
	if len(all) != 2 || all[0].ID != "a" || all[0].Version != "1.0.1" {
		t.Errorf("ListPolicies() = %d policies, want a@1.0.1 and b", len(all))
	}

	finance, err := e.Current().ListPolicies(context.Background(), policy.Filter{Domain: policy.DomainFinance})
	if err != nil {
		t.Fatalf("ListPolicies(finance) error = %v, want nil", err)
	}
	if len(finance) != 1 || finance[0].ID != "a" {
		t.Errorf("ListPolicies(finance) = %d policies, want only a", len(finance))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Current().ListPolicies(ctx, policy.Filter{}); !errors.Is(err, context.Canceled) {
		t.Errorf("ListPolicies() error = %v, want context.Canceled", err)
	}
}
