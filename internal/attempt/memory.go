package attempt

import (
	"context"
	"sync"

	"atm-terminal/backend/internal/domain"
)

// MemoryStore keeps attempt state for the lifetime of the process. A restart
// clears every lockout.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]domain.AttemptState
}

// NewMemoryStore returns an empty in-memory attempt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]domain.AttemptState)}
}

// Get returns the state for username.
func (s *MemoryStore) Get(ctx context.Context, username string) (domain.AttemptState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[username], nil
}

// Fail increments the failure count for username.
func (s *MemoryStore) Fail(ctx context.Context, username string, max int) (domain.AttemptState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.m[username]
	if st.Locked {
		return st, nil
	}
	st.Failures++
	if st.Failures >= max {
		st.Locked = true
	}
	s.m[username] = st
	return st, nil
}

// Clear drops the state for username.
func (s *MemoryStore) Clear(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, username)
	return nil
}
