package domain

import (
	"fmt"
	"time"
)

// TransactionKind is the direction of a balance mutation.
type TransactionKind string

const (
	KindWithdraw TransactionKind = "withdraw"
	KindDeposit  TransactionKind = "deposit"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	return k == KindWithdraw || k == KindDeposit
}

// Transaction is an immutable ledger line.
type Transaction struct {
	ID        string
	AccountID string
	Timestamp time.Time // UTC
	Kind      TransactionKind
	Amount    Amount // > 0
}

// Description is the human-readable line used for history and CSV export.
func (t *Transaction) Description() string {
	switch t.Kind {
	case KindDeposit:
		return fmt.Sprintf("Deposit %s", t.Amount.Display())
	case KindWithdraw:
		return fmt.Sprintf("Withdraw %s", t.Amount.Display())
	}
	return fmt.Sprintf("%s %s", t.Kind, t.Amount.Display())
}

// Event is an immutable audit log entry. AccountID is empty when the event
// has no resolvable account (e.g. a failed login for an unknown username).
type Event struct {
	ID        string
	AccountID string
	Timestamp time.Time // UTC
	Message   string
}

// AttemptState is the per-username login failure state.
type AttemptState struct {
	Failures int
	Locked   bool
}

// RecoveryChallenge is the single outstanding PIN recovery code. Only the
// digest of the code is retained.
type RecoveryChallenge struct {
	AccountID string
	Username  string
	CodeHash  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
