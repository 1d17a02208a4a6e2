// Package store defines the persistence contract of the ledger. Every method
// that changes an account also appends its audit event in the same unit of
// work, so a committed change always has its log entry and vice versa.
package store

import (
	"context"

	"atm-terminal/backend/internal/domain"
)

// Store persists accounts, the append-only transaction log and the event log.
type Store interface {
	// CreateAccount inserts a new account and its registration event.
	// Returns domain.ErrDuplicateUsername if the username is taken.
	CreateAccount(ctx context.Context, a *domain.Account, ev *domain.Event) error
	// AccountByID returns the account for id, or nil if not found.
	AccountByID(ctx context.Context, id string) (*domain.Account, error)
	// AccountByUsername returns the account with username, or nil if not found.
	AccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	// UpdateCredential overwrites the stored credential and appends ev. The balance is untouched.
	UpdateCredential(ctx context.Context, accountID string, cred domain.Credential, ev *domain.Event) error
	// ApplyTransaction checks funds, updates the balance, appends tx and ev as
	// one atomic unit and returns the new balance. A withdrawal larger than the
	// balance fails with domain.ErrInsufficientFunds and changes nothing.
	ApplyTransaction(ctx context.Context, tx *domain.Transaction, ev *domain.Event) (domain.Amount, error)
	// ListTransactions returns the account's transactions, newest first.
	ListTransactions(ctx context.Context, accountID string) ([]*domain.Transaction, error)
	// AppendEvent appends one audit event.
	AppendEvent(ctx context.Context, ev *domain.Event) error
	// ListEvents returns the events for accountID, newest first. An empty
	// accountID lists events with no account.
	ListEvents(ctx context.Context, accountID string) ([]*domain.Event, error)
}

// ApplyDelta returns the balance after applying kind/amount to balance, or
// domain.ErrInsufficientFunds if a withdrawal would overdraw.
func ApplyDelta(balance domain.Amount, kind domain.TransactionKind, amount domain.Amount) (domain.Amount, error) {
	switch kind {
	case domain.KindDeposit:
		return balance + amount, nil
	case domain.KindWithdraw:
		if amount > balance {
			return balance, domain.ErrInsufficientFunds
		}
		return balance - amount, nil
	}
	return balance, domain.ErrInvalidAmount
}
