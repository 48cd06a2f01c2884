package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/covenant/pkg/policy"
)

const (
	// MinPollInterval is the shortest sync loop interval accepted.
	MinPollInterval = 100 * time.Millisecond

	// DefaultPollInterval is used when Config.PollInterval is zero.
	DefaultPollInterval = 5 * time.Second

	// DefaultStopTimeout bounds how long Stop waits for the loop to exit.
	DefaultStopTimeout = 3 * time.Second
)

// Change outcomes reported to the UpdateRecorder.
const (
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

var (
	// ErrAlreadyRunning is returned by Start when the sync loop is running.
	ErrAlreadyRunning = errors.New("sync loop already running")

	// ErrNotRunning is returned by Stop when the sync loop is not running.
	ErrNotRunning = errors.New("sync loop not running")

	// ErrStopTimeout is returned by Stop when the loop did not exit in time.
	ErrStopTimeout = errors.New("sync loop did not stop in time")
)

// Archiver stores every new policy version. policy.Repository satisfies it.
type Archiver interface {
	SavePolicy(ctx context.Context, p *policy.Policy) (string, error)
}

// UpdateRecorder receives update engine telemetry. The metrics collector implements it.
type UpdateRecorder interface {
	RecordChange(outcome string)
	RecordBroadcast(workflows int)
	RecordSync(duration time.Duration)
}

// Config contains live update engine configuration.
type Config struct {
	// PollInterval is how often the sync loop drains change sources.
	// Values below MinPollInterval are raised to it. Default: 5s.
	PollInterval time.Duration

	// StopTimeout bounds how long Stop waits for the loop. Default: 3s.
	StopTimeout time.Duration
}

// policyState is the current version of one policy.
type policyState struct {
	fingerprint string
	policy      *policy.Policy
	source      string
	updatedAt   time.Time
}

// subscription is a registered workflow. A nil policyIDs set subscribes to everything.
type subscription struct {
	consumer  policy.Consumer
	policyIDs map[string]struct{}
}

func (s *subscription) wants(policyID string) bool {
	if s.policyIDs == nil {
		return true
	}
	_, ok := s.policyIDs[policyID]
	return ok
}

// Engine accepts raw policy changes, translates them, versions them and
// pushes the result to every subscribed workflow without a restart.
//
// Changes to one policy are applied and delivered in commit order.
// Changes to different policies proceed independently.
type Engine struct {
	translator   policy.Translator
	archiver     Archiver
	recorder     UpdateRecorder
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	pollInterval time.Duration
	stopTimeout  time.Duration

	// keyMu protects keyLocks, one mutex per policy_id.
	keyMu    sync.Mutex
	keyLocks map[string]*sync.Mutex

	// stateMu protects states and order.
	stateMu sync.RWMutex
	states  map[string]*policyState
	order   []string

	// workflowMu protects workflows and is held while a registration
	// pushes its initial snapshot.
	workflowMu sync.Mutex
	workflows  map[string]*subscription

	sourcesMu sync.Mutex
	sources   []policy.ChangeSource

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a live update engine around translator.
func New(cfg *Config, translator policy.Translator, logger *slog.Logger) (*Engine, error) {
	if translator == nil {
		return nil, fmt.Errorf("translator cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	return &Engine{
		translator:   translator,
		logger:       logger.With("component", "policy.live"),
		tracer:       noop.NewTracerProvider().Tracer("covenant/live"),
		now:          time.Now,
		pollInterval: interval,
		stopTimeout:  stopTimeout,
		keyLocks:     make(map[string]*sync.Mutex),
		states:       make(map[string]*policyState),
		workflows:    make(map[string]*subscription),
	}, nil
}

// SetArchiver stores every new version in a. Must be called before use.
func (e *Engine) SetArchiver(a Archiver) { e.archiver = a }

// SetRecorder installs an update recorder. Must be called before use.
func (e *Engine) SetRecorder(r UpdateRecorder) { e.recorder = r }

// SetTracer installs an OpenTelemetry tracer. Must be called before use.
func (e *Engine) SetTracer(t trace.Tracer) {
	if t != nil {
		e.tracer = t
	}
}

// PollInterval returns the effective sync loop interval.
func (e *Engine) PollInterval() time.Duration { return e.pollInterval }

func (e *Engine) lockFor(policyID string) *sync.Mutex {
	e.keyMu.Lock()
	defer e.keyMu.Unlock()
	l, ok := e.keyLocks[policyID]
	if !ok {
		l = &sync.Mutex{}
		e.keyLocks[policyID] = l
	}
	return l
}

// ApplyChange translates and publishes change unless its raw text matches
// the current version's fingerprint.
//
// Returns a *policy.ContractError for an empty policy_id and a
// *policy.TranslationError when the translator fails. In both cases the
// previous version stays current.
func (e *Engine) ApplyChange(ctx context.Context, change policy.PolicyChange) (*policy.UpdateResult, error) {
	if change.PolicyID == "" {
		return nil, &policy.ContractError{Op: "apply change", Message: "policy_id is required"}
	}

	ctx, span := e.tracer.Start(ctx, "live.apply_change", trace.WithAttributes(
		attribute.String("policy.id", change.PolicyID),
		attribute.String("change.source", change.Source),
	))
	defer span.End()

	lock := e.lockFor(change.PolicyID)
	lock.Lock()
	defer lock.Unlock()

	fingerprint := change.Fingerprint()
	now := e.now()

	e.stateMu.RLock()
	current := e.states[change.PolicyID]
	e.stateMu.RUnlock()

	if current != nil && current.fingerprint == fingerprint {
		e.record(OutcomeUnchanged)
		span.SetAttributes(attribute.Bool("policy.changed", false))
		return &policy.UpdateResult{
			PolicyID:          change.PolicyID,
			Changed:           false,
			Fingerprint:       fingerprint,
			Source:            change.Source,
			Version:           current.policy.Version,
			UpdatedAt:         now,
			AffectedWorkflows: []string{},
		}, nil
	}

	next, err := e.translate(ctx, change)
	if err != nil {
		e.record(OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "translation failed")
		return nil, err
	}

	switch {
	case change.VersionHint != "":
		next.Version = change.VersionHint
	case current != nil:
		next.Version = policy.IncrementPatch(current.policy.Version)
	default:
		next.Version = policy.DefaultVersion
	}
	if next.EffectiveDate.IsZero() {
		next.EffectiveDate = now
	}

	e.stateMu.Lock()
	if _, known := e.states[change.PolicyID]; !known {
		e.order = append(e.order, change.PolicyID)
	}
	e.states[change.PolicyID] = &policyState{
		fingerprint: fingerprint,
		policy:      next,
		source:      change.Source,
		updatedAt:   now,
	}
	e.stateMu.Unlock()

	affected := e.broadcast(next)

	var diff string
	if current != nil {
		diff = diffSummary(current.policy.RawSource, change.RawText)
	}

	e.archive(ctx, next)
	e.record(OutcomeChanged)
	span.SetAttributes(
		attribute.Bool("policy.changed", true),
		attribute.String("policy.version", next.Version),
		attribute.Int("workflows.affected", len(affected)),
	)

	e.logger.Info("policy updated",
		"policy_id", next.ID,
		"version", next.Version,
		"source", change.Source,
		"affected_workflows", len(affected),
	)

	return &policy.UpdateResult{
		PolicyID:          next.ID,
		Changed:           true,
		Fingerprint:       fingerprint,
		Source:            change.Source,
		Version:           next.Version,
		UpdatedAt:         now,
		AffectedWorkflows: affected,
		DiffSummary:       diff,
	}, nil
}

// translate runs the translator and returns a private copy with the
// identity fields overridden. Version is left for the caller.
func (e *Engine) translate(ctx context.Context, change policy.PolicyChange) (*policy.Policy, error) {
	translated, err := e.translator.Translate(ctx, change.RawText, change.Metadata)
	if err != nil {
		return nil, &policy.TranslationError{PolicyID: change.PolicyID, Source: change.Source, Cause: err}
	}
	if translated == nil {
		return nil, &policy.TranslationError{
			PolicyID: change.PolicyID,
			Source:   change.Source,
			Cause:    errors.New("translator returned no policy"),
		}
	}

	next := translated.Clone()
	next.ID = change.PolicyID
	next.RawSource = change.RawText
	next.Version = ""
	if err := next.Validate(); err != nil {
		return nil, &policy.TranslationError{PolicyID: change.PolicyID, Source: change.Source, Cause: err}
	}
	return next, nil
}

// broadcast delivers p to every matching workflow outside the state mutex
// and returns the sorted workflow IDs.
func (e *Engine) broadcast(p *policy.Policy) []string {
	type target struct {
		id       string
		consumer policy.Consumer
	}

	e.workflowMu.Lock()
	targets := make([]target, 0, len(e.workflows))
	for id, sub := range e.workflows {
		if sub.wants(p.ID) {
			targets = append(targets, target{id: id, consumer: sub.consumer})
		}
	}
	e.workflowMu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.id
		e.deliver(t.id, t.consumer, p)
	}

	if e.recorder != nil {
		e.recorder.RecordBroadcast(len(ids))
	}
	return ids
}

// deliver hands p to one consumer. A panicking consumer is logged and
// does not affect other workflows.
func (e *Engine) deliver(workflowID string, consumer policy.Consumer, p *policy.Policy) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("workflow consumer panicked",
				"workflow_id", workflowID,
				"policy_id", p.ID,
				"panic", r,
			)
		}
	}()
	consumer.ApplyPolicyUpdate(p)
}

func (e *Engine) archive(ctx context.Context, p *policy.Policy) {
	if e.archiver == nil {
		return
	}
	if _, err := e.archiver.SavePolicy(ctx, p); err != nil {
		e.logger.Error("failed to archive policy version",
			"policy_id", p.ID,
			"version", p.Version,
			"error", err,
		)
	}
}

func (e *Engine) record(outcome string) {
	if e.recorder != nil {
		e.recorder.RecordChange(outcome)
	}
}

// GetPolicy returns the current version of policyID.
func (e *Engine) GetPolicy(policyID string) (*policy.Policy, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	s, ok := e.states[policyID]
	if !ok {
		return nil, false
	}
	return s.policy, true
}

// ListPolicies returns the current version of every known policy in
// first-seen order.
func (e *Engine) ListPolicies() []*policy.Policy {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	out := make([]*policy.Policy, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.states[id].policy)
	}
	return out
}

// Current exposes the current versions as a policy.Lister, so the conflict
// detector can scan what the engine holds when no repository is archiving.
func (e *Engine) Current() policy.Lister { return currentLister{e} }

type currentLister struct{ e *Engine }

func (l currentLister) ListPolicies(ctx context.Context, filter policy.Filter) ([]*policy.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := l.e.ListPolicies()
	out := all[:0:0]
	for _, p := range all {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}
