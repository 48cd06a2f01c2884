package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/covenant/pkg/policy"
)

type memoryRecord struct {
	id        string
	policy    *policy.Policy
	createdAt time.Time
}

// Memory is an in-process Repository. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records []memoryRecord
	byID    map[string][]int
	closed  bool
	now     func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		byID: make(map[string][]int),
		now:  time.Now,
	}
}

// SavePolicy stores a copy of p as a new version.
func (m *Memory) SavePolicy(ctx context.Context, p *policy.Policy) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cp, err := prepare("save policy", p)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	return m.insertLocked(cp), nil
}

func (m *Memory) insertLocked(p *policy.Policy) string {
	id := uuid.NewString()
	m.records = append(m.records, memoryRecord{id: id, policy: p, createdAt: m.now().UTC()})
	m.byID[p.ID] = append(m.byID[p.ID], len(m.records)-1)
	return id
}

// GetPolicy returns a copy of the requested version.
func (m *Memory) GetPolicy(ctx context.Context, policyID, version string) (*policy.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.findLocked(policyID, version)
	if !ok {
		return nil, notFound(policyID, version)
	}
	return p.Clone(), nil
}

func (m *Memory) findLocked(policyID, version string) (*policy.Policy, bool) {
	idx := m.byID[policyID]
	for i := len(idx) - 1; i >= 0; i-- {
		p := m.records[idx[i]].policy
		if version == "" || p.Version == version {
			return p, true
		}
	}
	return nil, false
}

// ListPolicies returns every stored version matching filter in save order.
func (m *Memory) ListPolicies(ctx context.Context, filter policy.Filter) ([]*policy.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*policy.Policy, 0, len(m.records))
	for _, r := range m.records {
		if filter.Matches(r.policy) {
			out = append(out, r.policy.Clone())
		}
	}
	return out, nil
}

// CloneTemplate copies the latest version of templateID into newPolicyID.
func (m *Memory) CloneTemplate(ctx context.Context, templateID, newPolicyID string, overrides policy.TemplateOverrides) (*policy.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkCloneArgs(templateID, newPolicyID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	tmpl, ok := m.findLocked(templateID, "")
	if !ok {
		return nil, fmt.Errorf("%w: %s", policy.ErrTemplateNotFound, templateID)
	}
	cp := cloneFrom(tmpl, newPolicyID, overrides)
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	m.insertLocked(cp)
	return cp.Clone(), nil
}

// VersionHistory returns the versions of policyID oldest first.
func (m *Memory) VersionHistory(ctx context.Context, policyID string) ([]policy.VersionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.byID[policyID]
	out := make([]policy.VersionEntry, 0, len(idx))
	for _, i := range idx {
		r := m.records[i]
		out = append(out, policy.VersionEntry{
			RecordID:  r.id,
			PolicyID:  r.policy.ID,
			Version:   r.policy.Version,
			CreatedAt: r.createdAt,
		})
	}
	return out, nil
}

// Ping reports ErrClosed once the repository is closed.
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the repository closed. Reads keep working.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// String returns the backend name.
func (m *Memory) String() string { return "memory" }
