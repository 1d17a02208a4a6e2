// Package recovery issues and checks the one-time code that lets a user reset
// a forgotten PIN. At most one challenge is outstanding; any verify consumes it.
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"atm-terminal/backend/internal/domain"
)

// DefaultTTL bounds how long an issued code stays valid.
const DefaultTTL = 5 * time.Minute

// Audit messages written by the flow.
const (
	MsgIssued       = "Verification code issued for PIN recovery"
	MsgUnknownUser  = "PIN recovery requested for unknown username"
	MsgWrongCode    = "Failed PIN reset due to incorrect verification code"
	MsgCodeAccepted = "Verification code accepted"
	MsgCodeExpired  = "Verification code expired before use"
)

// Ledger is what the flow needs from the ledger service.
type Ledger interface {
	AccountIDByUsername(ctx context.Context, username string) (string, error)
	AppendEvent(ctx context.Context, accountID, message string) error
}

// Flow owns the single outstanding RecoveryChallenge.
type Flow struct {
	ledger  Ledger
	deliver Deliverer
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	current *domain.RecoveryChallenge
}

// NewFlow returns a Flow. ttl <= 0 means DefaultTTL; a nil deliverer discards codes.
func NewFlow(ledger Ledger, deliver Deliverer, ttl time.Duration, logger *slog.Logger) *Flow {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Flow{ledger: ledger, deliver: deliver, ttl: ttl, now: time.Now, logger: logger}
}

// IssueChallenge creates a code for username, replacing any earlier challenge,
// hands it to the Deliverer and returns it.
func (f *Flow) IssueChallenge(ctx context.Context, username string) (string, error) {
	accountID, err := f.ledger.AccountIDByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if accountID == "" {
		if err := f.ledger.AppendEvent(ctx, "", MsgUnknownUser); err != nil {
			return "", err
		}
		return "", domain.ErrUnknownUser
	}
	code, err := GenerateCode()
	if err != nil {
		return "", domain.Storage("generate recovery code", err)
	}
	now := f.now().UTC()
	ch := &domain.RecoveryChallenge{
		AccountID: accountID,
		Username:  username,
		CodeHash:  HashCode(code),
		IssuedAt:  now,
		ExpiresAt: now.Add(f.ttl),
	}
	if err := f.ledger.AppendEvent(ctx, accountID, MsgIssued); err != nil {
		return "", err
	}
	if f.deliver != nil {
		if err := f.deliver.Deliver(ctx, username, code); err != nil {
			return "", domain.Storage("deliver recovery code", err)
		}
	}
	f.mu.Lock()
	f.current = ch
	f.mu.Unlock()
	f.logger.Info("recovery code issued", "account_id", accountID, "expires_at", ch.ExpiresAt)
	return code, nil
}

// VerifyChallenge consumes the outstanding challenge and returns its account id
// when code matches. A second call always fails with domain.ErrNoActiveChallenge.
func (f *Flow) VerifyChallenge(ctx context.Context, code string) (string, error) {
	f.mu.Lock()
	ch := f.current
	f.current = nil
	f.mu.Unlock()

	if ch == nil {
		return "", domain.ErrNoActiveChallenge
	}
	if !f.now().UTC().Before(ch.ExpiresAt) {
		if err := f.ledger.AppendEvent(ctx, ch.AccountID, MsgCodeExpired); err != nil {
			return "", err
		}
		return "", domain.ErrNoActiveChallenge
	}
	if !CodeEqual(code, ch.CodeHash) {
		if err := f.ledger.AppendEvent(ctx, ch.AccountID, MsgWrongCode); err != nil {
			return "", err
		}
		return "", domain.ErrInvalidCode
	}
	if err := f.ledger.AppendEvent(ctx, ch.AccountID, MsgCodeAccepted); err != nil {
		return "", err
	}
	return ch.AccountID, nil
}

// Pending reports whether an unexpired challenge is outstanding.
func (f *Flow) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != nil && f.now().UTC().Before(f.current.ExpiresAt)
}

// Cancel discards any outstanding challenge.
func (f *Flow) Cancel() {
	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()
}
