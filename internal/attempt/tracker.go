// Package attempt tracks failed logins per username and locks a username once
// the failure count reaches the configured maximum.
package attempt

import (
	"context"
	"strings"

	"atm-terminal/backend/internal/domain"
)

// DefaultMaxAttempts is the number of consecutive failures that locks a username.
const DefaultMaxAttempts = 3

// Store persists AttemptState per username.
type Store interface {
	// Get returns the state for username; a missing entry is the clean state.
	Get(ctx context.Context, username string) (domain.AttemptState, error)
	// Fail atomically increments the failure count and sets Locked once it reaches max.
	Fail(ctx context.Context, username string, max int) (domain.AttemptState, error)
	// Clear removes any state for username.
	Clear(ctx context.Context, username string) error
}

// Tracker owns the clean -> counting(n) -> locked state machine.
type Tracker struct {
	store Store
	max   int
}

// NewTracker returns a Tracker over store. max <= 0 means DefaultMaxAttempts.
// A nil store gets a fresh MemoryStore.
func NewTracker(store Store, max int) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return &Tracker{store: store, max: max}
}

// Max returns the configured failure limit.
func (t *Tracker) Max() int { return t.max }

// Check returns domain.ErrLockedOut if username is locked. Callers must not
// consult the hasher when Check fails.
func (t *Tracker) Check(ctx context.Context, username string) (domain.AttemptState, error) {
	st, err := t.store.Get(ctx, key(username))
	if err != nil {
		return st, err
	}
	if st.Locked {
		return st, domain.ErrLockedOut
	}
	return st, nil
}

// RecordFailure counts one failed attempt and returns the new state.
func (t *Tracker) RecordFailure(ctx context.Context, username string) (domain.AttemptState, error) {
	return t.store.Fail(ctx, key(username), t.max)
}

// RecordSuccess resets username to the clean state.
func (t *Tracker) RecordSuccess(ctx context.Context, username string) error {
	return t.store.Clear(ctx, key(username))
}

// Reset clears a lockout. Only operator tooling calls it; login never does.
func (t *Tracker) Reset(ctx context.Context, username string) error {
	return t.store.Clear(ctx, key(username))
}

// Remaining returns how many attempts are left before st locks.
func (t *Tracker) Remaining(st domain.AttemptState) int {
	if st.Locked {
		return 0
	}
	if n := t.max - st.Failures; n > 0 {
		return n
	}
	return 0
}

func key(username string) string {
	return strings.TrimSpace(username)
}
