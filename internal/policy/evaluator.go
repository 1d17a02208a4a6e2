// Package policy decides whether a deposit or withdrawal amount is allowed,
// using an OPA Rego policy compiled once at startup.
package policy

import (
	"context"

	"atm-terminal/backend/internal/domain"
)

// Limits are the configured per-transaction caps. Zero means no cap.
type Limits struct {
	MaxWithdrawal domain.Amount
	MaxDeposit    domain.Amount
}

// Request is the input to a limit decision.
type Request struct {
	Kind    domain.TransactionKind
	Amount  domain.Amount
	Balance domain.Amount
}

// Decision is the outcome of a limit check. Reasons lists the rules that denied.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Evaluator checks transactions against the limit policy.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (Decision, error)
}

// AllowAll is an Evaluator that never denies.
type AllowAll struct{}

func (AllowAll) Evaluate(context.Context, Request) (Decision, error) {
	return Decision{Allowed: true}, nil
}
