package guardrail

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"mercator-hq/covenant/pkg/policy"
	"mercator-hq/covenant/pkg/policy/engine"
)

// Config contains guardrail tuning.
type Config struct {
	// NearMissThreshold is the satisfied-condition fraction that makes a
	// partially matching policy a near miss. Default: 0.75.
	NearMissThreshold float64

	// TuningContext is merged into every evaluation context. The agent ID
	// passed to MonitorAction overrides an "agent_id" entry here.
	TuningContext map[string]any
}

// DefaultConfig returns the default guardrail configuration.
func DefaultConfig() *Config {
	return &Config{NearMissThreshold: DefaultNearMissThreshold}
}

// Validate validates the guardrail configuration.
func (c *Config) Validate() error {
	if c.NearMissThreshold <= 0 || c.NearMissThreshold > 1 {
		return fmt.Errorf("near miss threshold must be in (0, 1], got %v", c.NearMissThreshold)
	}
	return nil
}

// Engine turns per-policy enforcement results into a single decision per
// proposed action. It is a policy.Consumer, so the live update engine can
// hot-swap its policies while MonitorAction runs.
type Engine struct {
	evaluator *engine.Evaluator
	logger    *slog.Logger
	threshold float64
	recorder  DecisionRecorder
	now       func() time.Time

	// mu protects policies, routing and tuning. Readers copy out a snapshot
	// and evaluate without holding it.
	mu       sync.RWMutex
	policies []*policy.Policy
	routing  map[string]string
	tuning   map[string]any
}

// New creates a guardrail engine with no policies.
func New(cfg *Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid guardrail config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		evaluator: engine.NewEvaluator(logger),
		logger:    logger.With("component", "guardrail"),
		threshold: cfg.NearMissThreshold,
		now:       time.Now,
		routing:   make(map[string]string),
		tuning:    maps.Clone(cfg.TuningContext),
	}, nil
}

// SetRecorder installs a decision recorder. Must be called before the
// engine is shared between goroutines.
func (e *Engine) SetRecorder(r DecisionRecorder) {
	e.recorder = r
}

// SetTuningContext replaces the context merged into every evaluation.
func (e *Engine) SetTuningContext(tuning map[string]any) {
	e.mu.Lock()
	e.tuning = maps.Clone(tuning)
	e.mu.Unlock()
}

// ApplyPolicyUpdate upserts p by policy ID, re-derives its routing hint and
// warns about other policies with an identical condition list.
func (e *Engine) ApplyPolicyUpdate(p *policy.Policy) {
	if p == nil || p.ID == "" {
		e.logger.Error("ignoring policy update without a policy_id")
		return
	}

	e.mu.Lock()
	replaced := false
	for i, existing := range e.policies {
		if existing.ID == p.ID {
			e.policies[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		e.policies = append(e.policies, p)
	}

	if target := routingHint(p); target != "" {
		e.routing[p.ID] = target
	} else {
		delete(e.routing, p.ID)
	}

	duplicates := identicalConditions(p, e.policies)
	e.mu.Unlock()

	e.logger.Info("policy applied",
		"policy_id", p.ID,
		"version", p.Version,
		"replaced", replaced,
	)
	for _, other := range duplicates {
		e.logger.Warn("policies share identical conditions",
			"policy_id", p.ID,
			"other_policy_id", other,
		)
	}
}

// ListActivePolicies returns the policies currently enforced, in insertion order.
func (e *Engine) ListActivePolicies() []*policy.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.policies)
}

// RoutingTable returns a copy of the policy_id to target workflow table.
func (e *Engine) RoutingTable() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.routing)
}

// Evaluate runs every enforced policy against state and returns the raw results.
func (e *Engine) Evaluate(state, evalCtx map[string]any) []*engine.EnforcementResult {
	policies := e.ListActivePolicies()
	return engine.EvaluateAll(e.evaluator, policies, state, evalCtx)
}

// MonitorAction decides what to do with a proposed action by agentID.
// It performs no I/O and never fails: an empty policy set allows everything.
func (e *Engine) MonitorAction(agentID string, action map[string]any) *Response {
	start := e.now()

	e.mu.RLock()
	policies := slices.Clone(e.policies)
	routing := maps.Clone(e.routing)
	evalCtx := maps.Clone(e.tuning)
	e.mu.RUnlock()

	if evalCtx == nil {
		evalCtx = make(map[string]any, 1)
	}
	evalCtx["agent_id"] = agentID

	results := engine.EvaluateAll(e.evaluator, policies, action, evalCtx)
	resp := e.decide(policies, results, routing)
	resp.Timestamp = start

	if e.recorder != nil {
		e.recorder.RecordDecision(string(resp.Action), e.now().Sub(start))
	}
	e.logger.Debug("action monitored",
		"agent_id", agentID,
		"action", resp.Action,
		"applied_policies", resp.AppliedPolicies,
	)
	return resp
}

// decide applies the fixed decision order to evaluation results.
func (e *Engine) decide(policies []*policy.Policy, results []*engine.EnforcementResult, routing map[string]string) *Response {
	byID := make(map[string]*policy.Policy, len(policies))
	for _, p := range policies {
		byID[p.ID] = p
	}

	var triggered []*engine.EnforcementResult
	var nearMisses []string
	for _, r := range results {
		if r.Active() || denies(r) {
			triggered = append(triggered, r)
			continue
		}
		if r.SatisfiedConditions > 0 && r.SatisfiedConditions < r.TotalConditions && r.SatisfiedRatio() >= e.threshold {
			nearMisses = append(nearMisses, r.PolicyID)
		}
	}

	if len(triggered) == 0 {
		if len(nearMisses) > 0 {
			return &Response{
				Action:              ActionCorrect,
				Reason:              fmt.Sprintf("Action is close to violating %s", strings.Join(nearMisses, ", ")),
				SuggestedCorrection: map[string]any{"near_miss_policies": nearMisses},
				AppliedPolicies:     nearMisses,
			}
		}
		return &Response{
			Action:          ActionAllow,
			Reason:          "No policy violations detected",
			AppliedPolicies: []string{},
		}
	}

	// Only policies that instruct or refuse compete for precedence.
	var restrictive []*engine.EnforcementResult
	for _, r := range triggered {
		if len(r.Instructions) > 0 || denies(r) {
			restrictive = append(restrictive, r)
		}
	}

	if len(restrictive) > 1 {
		ranked := slices.Clone(restrictive)
		sort.SliceStable(ranked, func(i, j int) bool {
			return domainRank(byID[ranked[i].PolicyID].Domain) < domainRank(byID[ranked[j].PolicyID].Domain)
		})
		winner := byID[ranked[0].PolicyID]

		ids := make([]string, len(restrictive))
		for i, r := range restrictive {
			ids[i] = r.PolicyID
		}
		sort.Strings(ids)

		return &Response{
			Action: ActionEscalate,
			Reason: fmt.Sprintf("Conflicting policies %s triggered; %s policy %s takes precedence",
				strings.Join(ids, ", "), domainLabel(winner.Domain), winner.ID),
			AppliedPolicies: ids,
		}
	}

	result := triggered[0]
	p := byID[result.PolicyID]
	applied := []string{p.ID}

	if critical(p.Domain) {
		return &Response{
			Action:          ActionEscalate,
			Reason:          fmt.Sprintf("Critical policy violation in domain %s (%s)", p.Domain, p.ID),
			AppliedPolicies: applied,
		}
	}

	if target := routing[p.ID]; target != "" {
		return &Response{
			Action:          ActionReroute,
			Reason:          fmt.Sprintf("Policy %s reroutes the action to %s", p.ID, target),
			TargetRoute:     target,
			AppliedPolicies: applied,
		}
	}

	if t, ok := correctionTrigger(p); ok {
		return &Response{
			Action:              ActionCorrect,
			Reason:              fmt.Sprintf("Policy %s suggests a correction", p.ID),
			SuggestedCorrection: correctionPayload(t),
			AppliedPolicies:     applied,
		}
	}

	if denies(result) {
		reason := fmt.Sprintf("Policy %s blocks the action", p.ID)
		if names := denialActions(result); len(names) > 0 {
			reason += " via " + strings.Join(names, ", ")
		}
		return &Response{
			Action:          ActionBlock,
			Reason:          reason,
			AppliedPolicies: applied,
		}
	}

	return &Response{
		Action:              ActionCorrect,
		Reason:              fmt.Sprintf("Policy %s requires compliance review", p.ID),
		SuggestedCorrection: map[string]any{"review_required": true},
		AppliedPolicies:     applied,
	}
}

func domainLabel(d policy.Domain) string {
	if d == "" {
		return "unclassified"
	}
	return string(d)
}

// routingHint returns the target workflow of the first on_violation reroute
// trigger, or "".
func routingHint(p *policy.Policy) string {
	for _, t := range p.TriggersOfType(policy.TriggerOnViolation) {
		if !strings.Contains(strings.ToLower(t.ActionName), "reroute") {
			continue
		}
		if target := t.StringParam("target_workflow"); target != "" {
			return target
		}
	}
	return ""
}

func correctionTrigger(p *policy.Policy) (policy.Trigger, bool) {
	for _, t := range p.Triggers {
		if t.ActionName == "suggest_correction" {
			return t, true
		}
	}
	return policy.Trigger{}, false
}

func correctionPayload(t policy.Trigger) map[string]any {
	switch c := t.Parameters["correction"].(type) {
	case map[string]any:
		return maps.Clone(c)
	case nil:
		if len(t.Parameters) == 0 {
			return map[string]any{"review_required": true}
		}
		return maps.Clone(t.Parameters)
	default:
		return map[string]any{"correction": c}
	}
}

// identicalConditions returns the IDs of other policies whose non-empty
// condition list equals p's.
func identicalConditions(p *policy.Policy, all []*policy.Policy) []string {
	if len(p.Conditions) == 0 {
		return nil
	}
	var ids []string
	for _, other := range all {
		if other.ID == p.ID {
			continue
		}
		if slices.EqualFunc(p.Conditions, other.Conditions, policy.Condition.Equal) {
			ids = append(ids, other.ID)
		}
	}
	return ids
}
