package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/covenant/pkg/policy"
)

const (
	// MinScanInterval is the shortest scan loop interval accepted.
	MinScanInterval = 250 * time.Millisecond

	// DefaultScanInterval is used when Config.ScanInterval is zero.
	DefaultScanInterval = 10 * time.Second

	// DefaultStopTimeout bounds how long Stop waits for the loop to exit.
	DefaultStopTimeout = 3 * time.Second

	repositoryScope = "repository"
)

var (
	// ErrAlreadyRunning is returned by Start when the scan loop is running.
	ErrAlreadyRunning = errors.New("scan loop already running")

	// ErrNotRunning is returned by Stop when the scan loop is not running.
	ErrNotRunning = errors.New("scan loop not running")

	// ErrStopTimeout is returned by Stop when the loop did not exit in time.
	ErrStopTimeout = errors.New("scan loop did not stop in time")
)

// Config contains conflict detector configuration.
type Config struct {
	// ScanInterval is how often the scan loop runs. Values below
	// MinScanInterval are raised to it. Default: 10s.
	ScanInterval time.Duration

	// StopTimeout bounds how long Stop waits for the loop. Default: 3s.
	StopTimeout time.Duration
}

// Detector scans policy populations for contradictory and overlapping
// rules and keeps an append-only audit log of what it found.
type Detector struct {
	lister       policy.Lister
	provider     WorkflowProvider
	sinks        []Sink
	recorder     ScanRecorder
	tracer       trace.Tracer
	logger       *slog.Logger
	now          func() time.Time
	scanInterval time.Duration
	stopTimeout  time.Duration

	auditMu sync.RWMutex
	audit   []*Conflict

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a detector reading the latest policies from lister.
func New(cfg *Config, lister policy.Lister, logger *slog.Logger) (*Detector, error) {
	if lister == nil {
		return nil, fmt.Errorf("policy lister cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.ScanInterval
	if interval == 0 {
		interval = DefaultScanInterval
	}
	if interval < MinScanInterval {
		interval = MinScanInterval
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	return &Detector{
		lister:       lister,
		tracer:       noop.NewTracerProvider().Tracer("covenant/conflict"),
		logger:       logger.With("component", "conflict.detector"),
		now:          time.Now,
		scanInterval: interval,
		stopTimeout:  stopTimeout,
	}, nil
}

// SetWorkflowProvider adds per-workflow scans. Must be called before use.
func (d *Detector) SetWorkflowProvider(p WorkflowProvider) { d.provider = p }

// AddSink mirrors every finding to s. Must be called before use.
func (d *Detector) AddSink(s Sink) {
	if s != nil {
		d.sinks = append(d.sinks, s)
	}
}

// SetRecorder installs a scan recorder. Must be called before use.
func (d *Detector) SetRecorder(r ScanRecorder) { d.recorder = r }

// SetTracer installs the tracer used for scan spans. Must be called before use.
func (d *Detector) SetTracer(t trace.Tracer) {
	if t != nil {
		d.tracer = t
	}
}

// ScanInterval returns the effective loop interval.
func (d *Detector) ScanInterval() time.Duration { return d.scanInterval }

// ScanOnce scans the repository view and every workflow view once. The
// result is sorted by severity, then detection time, and appended to the
// audit log. Sink failures are returned but do not discard the findings.
func (d *Detector) ScanOnce(ctx context.Context) ([]*Conflict, error) {
	start := d.now()
	ctx, span := d.tracer.Start(ctx, "conflict.scan_once")
	defer span.End()

	policies, err := d.lister.ListPolicies(ctx, policy.Filter{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list policies failed")
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}

	found := d.scanCollection(latestByID(policies), "")

	if d.provider != nil {
		snapshot := d.provider.SnapshotWorkflowPolicies()
		ids := make([]string, 0, len(snapshot))
		for id := range snapshot {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			found = append(found, d.scanCollection(latestByID(snapshot[id]), id)...)
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		ri, rj := found[i].Severity.Rank(), found[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return found[i].DetectedAt.Before(found[j].DetectedAt)
	})

	sinkErr := d.appendAudit(ctx, found)

	span.SetAttributes(
		attribute.Int("policies", len(policies)),
		attribute.Int("conflicts", len(found)),
	)
	if sinkErr != nil {
		span.RecordError(sinkErr)
	}
	if d.recorder != nil {
		d.recorder.RecordScan(d.now().Sub(start))
	}
	return found, sinkErr
}

// scanCollection checks every unordered pair once, contradiction first.
func (d *Detector) scanCollection(policies []*policy.Policy, workflowID string) []*Conflict {
	var found []*Conflict
	for i := 0; i < len(policies); i++ {
		for j := i + 1; j < len(policies); j++ {
			// Pairs are ordered by ID so the listing order never changes a conflict.
			left, right := policies[i], policies[j]
			if right.ID < left.ID {
				left, right = right, left
			}
			if ev, ok := contradict(left, right); ok {
				found = append(found, d.build(left, right, TypeContradictory, workflowID, ev))
				continue
			}
			if ev, ok := overlap(left, right); ok {
				found = append(found, d.build(left, right, TypeOverlapping, workflowID, ev))
			}
		}
	}
	return found
}

func (d *Detector) build(left, right *policy.Policy, t Type, workflowID string, ev map[string]string) *Conflict {
	sev := classify(left, right)
	scope := workflowID
	if scope == "" {
		scope = repositoryScope
	}
	return &Conflict{
		ID:         fmt.Sprintf("%s:%s:%s:%s", scope, left.ID, right.ID, t),
		DetectedAt: d.now().UTC(),
		Severity:   sev,
		Type:       t,
		PolicyIDs:  [2]string{left.ID, right.ID},
		Description: fmt.Sprintf("%s and %s have %s on enforcement conditions",
			left.ID, right.ID, strings.ReplaceAll(string(t), "_", " ")),
		WorkflowID:            workflowID,
		ResolutionSuggestions: suggestions(left, right, t, sev, workflowID),
		Evidence:              ev,
	}
}

func (d *Detector) appendAudit(ctx context.Context, found []*Conflict) error {
	if len(found) == 0 {
		return nil
	}

	d.auditMu.Lock()
	d.audit = append(d.audit, found...)
	size := len(d.audit)
	d.auditMu.Unlock()

	for _, c := range found {
		d.logger.Warn("policy conflict detected",
			"conflict_id", c.ID,
			"severity", c.Severity,
			"type", c.Type,
			"workflow_id", c.WorkflowID,
			"policies", c.PolicyIDs[0]+","+c.PolicyIDs[1],
		)
		if d.recorder != nil {
			d.recorder.RecordConflict(string(c.Severity), string(c.Type))
		}
	}
	if d.recorder != nil {
		d.recorder.RecordAuditSize(size)
	}

	// Entries already in the in-memory log always reach the sinks.
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, s := range d.sinks {
		if err := s.Append(ctx, found); err != nil {
			d.logger.Error("audit sink failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AuditLog returns the most recent limit entries, oldest first. A limit of
// zero or less returns everything.
func (d *Detector) AuditLog(limit int) []*Conflict {
	d.auditMu.RLock()
	defer d.auditMu.RUnlock()

	entries := d.audit
	if limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	out := make([]*Conflict, len(entries))
	copy(out, entries)
	return out
}

// latestByID keeps one policy per ID in first-seen order: the one with the
// latest effective date, then the highest version. Later entries win ties.
func latestByID(policies []*policy.Policy) []*policy.Policy {
	index := make(map[string]int, len(policies))
	var out []*policy.Policy
	for _, p := range policies {
		if p == nil {
			continue
		}
		i, ok := index[p.ID]
		if !ok {
			index[p.ID] = len(out)
			out = append(out, p)
			continue
		}
		cur := out[i]
		if p.EffectiveDate.After(cur.EffectiveDate) ||
			(p.EffectiveDate.Equal(cur.EffectiveDate) && policy.CompareVersions(p.Version, cur.Version) >= 0) {
			out[i] = p
		}
	}
	return out
}
