package source

import (
	"context"
	"sync"

	"mercator-hq/covenant/pkg/policy"
)

// MemorySource is an in-process change queue. It is safe for concurrent use.
type MemorySource struct {
	mu      sync.Mutex
	name    string
	pending []policy.PolicyChange
}

// NewMemorySource creates an empty queue named "memory".
func NewMemorySource() *MemorySource {
	return &MemorySource{name: "memory"}
}

// NewNamedMemorySource creates an empty queue reported under name.
func NewNamedMemorySource(name string) *MemorySource {
	if name == "" {
		name = "memory"
	}
	return &MemorySource{name: name}
}

// Push queues changes for the next FetchChanges call. Changes without a
// Source are labelled with the queue name.
func (s *MemorySource) Push(changes ...policy.PolicyChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changes {
		if c.Source == "" {
			c.Source = s.name
		}
		s.pending = append(s.pending, c)
	}
}

// Len returns the number of queued changes.
func (s *MemorySource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// FetchChanges drains the queue.
func (s *MemorySource) FetchChanges(ctx context.Context) ([]policy.PolicyChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out, nil
}

func (s *MemorySource) String() string { return s.name }
