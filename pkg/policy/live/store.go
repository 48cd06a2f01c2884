package live

import (
	"sync"
	"sync/atomic"

	"mercator-hq/covenant/pkg/policy"
)

// workflowSnapshot is an immutable view of a WorkflowStore.
type workflowSnapshot struct {
	byID  map[string]*policy.Policy
	order []string
}

// WorkflowStore is a ready-made consumer for workflows that only need the
// current policy set. Updates swap in a new immutable snapshot, so readers
// never block and never observe a half-applied update.
type WorkflowStore struct {
	writeMu sync.Mutex
	current atomic.Pointer[workflowSnapshot]
}

// NewWorkflowStore creates an empty store.
func NewWorkflowStore() *WorkflowStore {
	s := &WorkflowStore{}
	s.current.Store(&workflowSnapshot{byID: map[string]*policy.Policy{}})
	return s
}

// ApplyPolicyUpdate implements policy.Consumer.
func (s *WorkflowStore) ApplyPolicyUpdate(p *policy.Policy) {
	if p == nil || p.ID == "" {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := s.current.Load()
	next := &workflowSnapshot{
		byID:  make(map[string]*policy.Policy, len(old.byID)+1),
		order: old.order,
	}
	for id, existing := range old.byID {
		next.byID[id] = existing
	}
	if _, ok := next.byID[p.ID]; !ok {
		next.order = append(append([]string(nil), old.order...), p.ID)
	}
	next.byID[p.ID] = p
	s.current.Store(next)
}

// Get returns the current version of policyID.
func (s *WorkflowStore) Get(policyID string) (*policy.Policy, bool) {
	p, ok := s.current.Load().byID[policyID]
	return p, ok
}

// ListActivePolicies implements policy.ActivePolicyLister.
func (s *WorkflowStore) ListActivePolicies() []*policy.Policy {
	snap := s.current.Load()
	out := make([]*policy.Policy, 0, len(snap.order))
	for _, id := range snap.order {
		out = append(out, snap.byID[id])
	}
	return out
}

// Len returns the number of policies held.
func (s *WorkflowStore) Len() int {
	return len(s.current.Load().byID)
}
