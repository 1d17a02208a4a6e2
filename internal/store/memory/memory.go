// Package memory is an in-process Store used by tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"atm-terminal/backend/internal/domain"
	"atm-terminal/backend/internal/store"
)

// Store keeps everything in maps guarded by one mutex, which makes each
// method trivially atomic.
type Store struct {
	mu           sync.Mutex
	byID         map[string]*domain.Account
	byUsername   map[string]string
	transactions []*domain.Transaction
	events       []*domain.Event

	// FailNext, when set, is returned by the next mutating call before any
	// change is made. Tests use it to simulate storage faults.
	FailNext error
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:       make(map[string]*domain.Account),
		byUsername: make(map[string]string),
	}
}

func (s *Store) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *Store) CreateAccount(ctx context.Context, a *domain.Account, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.byUsername[a.Username]; ok {
		return domain.ErrDuplicateUsername
	}
	cp := *a
	s.byID[a.ID] = &cp
	s.byUsername[a.Username] = a.ID
	if ev != nil {
		s.events = append(s.events, copyEvent(ev))
	}
	return nil
}

func (s *Store) AccountByID(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *Store) AccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, nil
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *Store) UpdateCredential(ctx context.Context, accountID string, cred domain.Credential, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	a, ok := s.byID[accountID]
	if !ok {
		return domain.ErrUnknownUser
	}
	a.Credential = cred
	a.UpdatedAt = time.Now().UTC()
	if ev != nil {
		s.events = append(s.events, copyEvent(ev))
	}
	return nil
}

func (s *Store) ApplyTransaction(ctx context.Context, tx *domain.Transaction, ev *domain.Event) (domain.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return 0, err
	}
	a, ok := s.byID[tx.AccountID]
	if !ok {
		return 0, domain.ErrUnknownUser
	}
	next, err := store.ApplyDelta(a.Balance, tx.Kind, tx.Amount)
	if err != nil {
		return a.Balance, err
	}
	a.Balance = next
	a.UpdatedAt = tx.Timestamp
	cp := *tx
	s.transactions = append(s.transactions, &cp)
	if ev != nil {
		s.events = append(s.events, copyEvent(ev))
	}
	return next, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Transaction, 0)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if t := s.transactions[i]; t.AccountID == accountID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.events = append(s.events, copyEvent(ev))
	return nil
}

func (s *Store) ListEvents(ctx context.Context, accountID string) ([]*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Event, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if e := s.events[i]; e.AccountID == accountID {
			out = append(out, copyEvent(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// AllEvents returns every event, newest first.
func (s *Store) AllEvents() []*domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Event, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		out = append(out, copyEvent(s.events[i]))
	}
	return out
}

func copyEvent(ev *domain.Event) *domain.Event {
	cp := *ev
	return &cp
}
