// Package session drives one terminal session: login state, the inactivity
// timer, and the user-facing operations layered over the ledger and the
// recovery flow.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"atm-terminal/backend/internal/domain"
	"atm-terminal/backend/internal/export"
	"atm-terminal/backend/internal/ledger"
	"atm-terminal/backend/internal/recovery"
)

// DefaultInactivity is the idle period after which an authenticated session ends.
const DefaultInactivity = 2 * time.Minute

// Audit messages written by the controller.
const (
	MsgLoggedOut      = "User logged out"
	MsgExpired        = "Session expired due to inactivity"
	MsgBalanceChecked = "Checked account balance"
	MsgPinChanged     = "PIN changed successfully by user"
	MsgPinChangeWrong = "Failed PIN change attempt due to incorrect current PIN"
	MsgPinReset       = "PIN reset successfully via forgot password"
	MsgExited         = "User exited ATM application"
)

// State is a snapshot of the session.
type State struct {
	Authenticated bool
	AccountID     string
	Username      string
	LastActivity  time.Time
}

// Preview describes a transaction before the user confirms it.
type Preview struct {
	Kind      domain.TransactionKind
	Amount    domain.Amount
	Balance   domain.Amount
	Resulting domain.Amount
}

// Config holds the controller's collaborators. Ledger and Recovery are required.
type Config struct {
	Ledger   *ledger.Service
	Recovery *recovery.Flow
	Clock    Clock
	Timeout  time.Duration
	Logger   *slog.Logger

	// DisplayCodes returns issued recovery codes from BeginRecovery so a
	// local terminal can show them. Production deployments leave it off.
	DisplayCodes bool
	// OnExpire, when set, is called after an inactivity expiry has been recorded.
	OnExpire func()
}

// Controller is the single-session state machine. It is safe for concurrent
// use; the inactivity timer fires on its own goroutine.
type Controller struct {
	ledger       *ledger.Service
	recovery     *recovery.Flow
	clock        Clock
	timeout      time.Duration
	logger       *slog.Logger
	tracer       trace.Tracer
	displayCodes bool
	onExpire     func()

	mu           sync.Mutex
	accountID    string
	username     string
	lastActivity time.Time
	timer        Timer
	gen          uint64
	resetGrant   string
}

// New returns an anonymous Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Ledger == nil || cfg.Recovery == nil {
		return nil, errors.New("session: ledger and recovery flow are required")
	}
	c := &Controller{
		ledger:       cfg.Ledger,
		recovery:     cfg.Recovery,
		clock:        cfg.Clock,
		timeout:      cfg.Timeout,
		logger:       cfg.Logger,
		tracer:       otel.Tracer("atm-terminal/backend/internal/session"),
		displayCodes: cfg.DisplayCodes,
		onExpire:     cfg.OnExpire,
	}
	if c.clock == nil {
		c.clock = SystemClock()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultInactivity
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Authenticated: c.accountID != "",
		AccountID:     c.accountID,
		Username:      c.username,
		LastActivity:  c.lastActivity,
	}
}

// Touch records user activity and re-arms the inactivity timer when authenticated.
func (c *Controller) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
}

func (c *Controller) touchLocked() {
	c.lastActivity = c.clock.Now()
	if c.accountID == "" {
		return
	}
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
	}
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.timeout, func() { c.expire(gen) })
}

func (c *Controller) disarmLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.accountID == "" {
		c.mu.Unlock()
		return
	}
	accountID := c.accountID
	c.clearLocked()
	hook := c.onExpire
	c.mu.Unlock()

	if err := c.ledger.AppendEvent(context.Background(), accountID, MsgExpired); err != nil {
		c.logger.Error("failed to record session expiry", "account_id", accountID, "err", err)
	}
	c.logger.Info("session expired", "account_id", accountID)
	if hook != nil {
		hook()
	}
}

// clearLocked ends the session without writing an event.
func (c *Controller) clearLocked() {
	c.disarmLocked()
	c.accountID = ""
	c.username = ""
}

// authenticated returns the current account id after recording activity.
func (c *Controller) authenticated() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accountID == "" {
		return "", domain.ErrNotAuthenticated
	}
	c.touchLocked()
	return c.accountID, nil
}

// Register creates an account. The session state is unchanged.
func (c *Controller) Register(ctx context.Context, username, pin string) (string, error) {
	c.Touch()
	return c.ledger.Register(ctx, username, pin)
}

// Login authenticates username and starts a session. An existing session is
// logged out first. A failed or locked-out login leaves the session anonymous.
func (c *Controller) Login(ctx context.Context, username, pin string) error {
	ctx, span := c.tracer.Start(ctx, "session.Login")
	defer span.End()

	if err := c.Logout(ctx); err != nil && !errors.Is(err, domain.ErrNotAuthenticated) {
		return err
	}
	c.Touch()
	accountID, err := c.ledger.Authenticate(ctx, username, pin)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.accountID = accountID
	c.username = strings.TrimSpace(username)
	c.resetGrant = ""
	c.touchLocked()
	c.mu.Unlock()
	c.logger.Info("session started", "account_id", accountID)
	return nil
}

// Logout ends the session and records it.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	accountID := c.accountID
	if accountID == "" {
		c.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	c.clearLocked()
	c.mu.Unlock()
	return c.ledger.AppendEvent(ctx, accountID, MsgLoggedOut)
}

// Balance returns the balance and records the view.
func (c *Controller) Balance(ctx context.Context) (domain.Amount, error) {
	accountID, err := c.authenticated()
	if err != nil {
		return 0, err
	}
	bal, err := c.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if err := c.ledger.AppendEvent(ctx, accountID, MsgBalanceChecked); err != nil {
		return 0, err
	}
	return bal, nil
}

// Preview parses amountText and reports what kind would do to the balance
// without changing anything.
func (c *Controller) Preview(ctx context.Context, kind domain.TransactionKind, amountText string) (*Preview, error) {
	accountID, err := c.authenticated()
	if err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, domain.ErrInvalidAmount
	}
	amount, err := domain.ParseAmount(amountText)
	if err != nil {
		return nil, err
	}
	bal, err := c.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	p := &Preview{Kind: kind, Amount: amount, Balance: bal}
	if kind == domain.KindWithdraw {
		if amount > bal {
			return p, domain.ErrInsufficientFunds
		}
		p.Resulting = bal - amount
	} else {
		p.Resulting = bal + amount
	}
	return p, nil
}

// Transact applies a deposit or withdrawal. Nothing is applied unless
// confirmed is true.
func (c *Controller) Transact(ctx context.Context, kind domain.TransactionKind, amountText string, confirmed bool) (domain.Amount, error) {
	ctx, span := c.tracer.Start(ctx, "session.Transact")
	defer span.End()

	accountID, err := c.authenticated()
	if err != nil {
		return 0, err
	}
	amount, err := domain.ParseAmount(amountText)
	if err != nil {
		return 0, err
	}
	if !confirmed {
		return 0, domain.ErrNotConfirmed
	}
	return c.ledger.ApplyTransaction(ctx, accountID, kind, amount)
}

// Transactions returns the session account's transactions, newest first.
func (c *Controller) Transactions(ctx context.Context) ([]*domain.Transaction, error) {
	accountID, err := c.authenticated()
	if err != nil {
		return nil, err
	}
	return c.ledger.ListTransactions(ctx, accountID)
}

// Events returns the session account's audit events, newest first.
func (c *Controller) Events(ctx context.Context) ([]*domain.Event, error) {
	accountID, err := c.authenticated()
	if err != nil {
		return nil, err
	}
	return c.ledger.ListEvents(ctx, accountID)
}

// ChangePIN replaces the PIN after checking the current one. A wrong current
// PIN is recorded but does not count toward lockout.
func (c *Controller) ChangePIN(ctx context.Context, current, newPin, confirm string) error {
	accountID, err := c.authenticated()
	if err != nil {
		return err
	}
	if err := domain.ValidatePIN(newPin); err != nil {
		return err
	}
	if confirm != newPin {
		return domain.ErrPinMismatch
	}
	ok, err := c.ledger.VerifyPIN(ctx, accountID, current)
	if err != nil {
		return err
	}
	if !ok {
		if err := c.ledger.AppendEvent(ctx, accountID, MsgPinChangeWrong); err != nil {
			return err
		}
		return domain.ErrWrongPin
	}
	return c.ledger.SetCredential(ctx, accountID, newPin, MsgPinChanged)
}

// BeginRecovery issues a recovery code for username. The code is returned
// only when the controller displays codes; otherwise it is "".
func (c *Controller) BeginRecovery(ctx context.Context, username string) (string, error) {
	c.mu.Lock()
	c.resetGrant = ""
	c.touchLocked()
	c.mu.Unlock()

	code, err := c.recovery.IssueChallenge(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", err
	}
	if !c.displayCodes {
		return "", nil
	}
	return code, nil
}

// VerifyRecovery checks code and, on success, grants one PIN reset.
func (c *Controller) VerifyRecovery(ctx context.Context, code string) error {
	c.Touch()
	accountID, err := c.recovery.VerifyChallenge(ctx, strings.TrimSpace(code))
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.resetGrant = accountID
	c.mu.Unlock()
	return nil
}

// CompleteRecovery sets the new PIN for the account granted by
// VerifyRecovery. The grant survives input errors and is spent on success.
func (c *Controller) CompleteRecovery(ctx context.Context, newPin, confirm string) error {
	c.mu.Lock()
	accountID := c.resetGrant
	c.touchLocked()
	c.mu.Unlock()
	if accountID == "" {
		return domain.ErrNoActiveChallenge
	}
	if err := domain.ValidatePIN(newPin); err != nil {
		return err
	}
	if confirm != newPin {
		return domain.ErrPinMismatch
	}
	if err := c.ledger.SetCredential(ctx, accountID, newPin, MsgPinReset); err != nil {
		return err
	}
	c.mu.Lock()
	if c.resetGrant == accountID {
		c.resetGrant = ""
	}
	c.mu.Unlock()
	return nil
}

// ExportTransactionsCSV writes the session account's transactions to w.
func (c *Controller) ExportTransactionsCSV(ctx context.Context, w io.Writer) error {
	txs, err := c.Transactions(ctx)
	if err != nil {
		return err
	}
	return export.WriteTransactions(w, txs)
}

// ExportEventsCSV writes the session account's audit events to w.
func (c *Controller) ExportEventsCSV(ctx context.Context, w io.Writer) error {
	evs, err := c.Events(ctx)
	if err != nil {
		return err
	}
	return export.WriteEvents(w, evs)
}

// Close ends the session, recording the exit if a user was logged in, and
// disarms the timer. The controller stays usable.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	accountID := c.accountID
	c.clearLocked()
	c.resetGrant = ""
	c.mu.Unlock()
	c.recovery.Cancel()
	if accountID == "" {
		return nil
	}
	return c.ledger.AppendEvent(ctx, accountID, MsgExited)
}
