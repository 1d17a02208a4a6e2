// Package ledger implements account registration, PIN authentication and the
// balance-mutating operations on top of a store.Store. Every mutation commits
// together with its audit event; events are then mirrored to telemetry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"atm-terminal/backend/internal/attempt"
	"atm-terminal/backend/internal/domain"
	"atm-terminal/backend/internal/policy"
	"atm-terminal/backend/internal/security"
	"atm-terminal/backend/internal/store"
	"atm-terminal/backend/internal/telemetry"
)

const instrumentationName = "atm-terminal/backend/internal/ledger"

// Audit messages written by the ledger.
const (
	MsgRegistered     = "New account registered"
	MsgLoginSucceeded = "User logged in successfully"
	MsgLoginLocked    = "Account locked due to too many failed login attempts"
	MsgLockedRejected = "Login attempt rejected during lockout"
	msgLoginFailedFmt = "Failed login attempt. Attempts left: %d"
	msgWithdrewFmt    = "Withdrew %s successfully"
	msgDepositedFmt   = "Deposited %s successfully"
)

// Hasher derives and verifies PIN credentials; *security.Hasher implements it.
type Hasher interface {
	Derive(pin string, salt []byte) (domain.Credential, error)
	Verify(cred domain.Credential, candidate string) (bool, error)
	VerifyDummy(candidate string) bool
	NeedsRehash(cred domain.Credential) bool
}

var _ Hasher = (*security.Hasher)(nil)

// Service is the ledger. It is safe for concurrent use.
type Service struct {
	store   store.Store
	hasher  Hasher
	tracker *attempt.Tracker
	policy  policy.Evaluator
	emitter telemetry.EventEmitter
	logger  *slog.Logger
	clock   *monotonic

	tracer       trace.Tracer
	authFailures metric.Int64Counter
	transactions metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy sets the transaction limit evaluator. The default allows everything.
func WithPolicy(p policy.Evaluator) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithEmitter mirrors committed events to e.
func WithEmitter(e telemetry.EventEmitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNow replaces the wall clock used for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock.now = now
		}
	}
}

// NewService returns a Service. A nil tracker gets an in-memory tracker with the default limit.
func NewService(st store.Store, hasher Hasher, tracker *attempt.Tracker, opts ...Option) *Service {
	if tracker == nil {
		tracker = attempt.NewTracker(nil, 0)
	}
	s := &Service{
		store:   st,
		hasher:  hasher,
		tracker: tracker,
		policy:  policy.AllowAll{},
		logger:  slog.New(slog.DiscardHandler),
		clock:   &monotonic{now: time.Now},
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}
	meter := otel.Meter(instrumentationName)
	s.authFailures, _ = meter.Int64Counter("atm.auth.failures",
		metric.WithDescription("Rejected login attempts, including lockout rejections"))
	s.transactions, _ = meter.Int64Counter("atm.ledger.transactions",
		metric.WithDescription("Committed deposits and withdrawals"))
	return s
}

// Tracker exposes the attempt tracker for operator tooling.
func (s *Service) Tracker() *attempt.Tracker { return s.tracker }

// Register creates an account with a zero balance and returns its id.
func (s *Service) Register(ctx context.Context, username, pin string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Register")
	defer span.End()

	username = strings.TrimSpace(username)
	if err := domain.ValidateUsername(username); err != nil {
		return "", err
	}
	if err := domain.ValidatePIN(pin); err != nil {
		return "", err
	}
	existing, err := s.store.AccountByUsername(ctx, username)
	if err != nil {
		return "", s.fail(span, domain.Storage("lookup account", err))
	}
	if existing != nil {
		return "", domain.ErrDuplicateUsername
	}
	cred, err := s.hasher.Derive(pin, nil)
	if err != nil {
		return "", s.fail(span, domain.Storage("derive credential", err))
	}
	now := s.clock.next()
	acct := &domain.Account{
		ID:         uuid.New().String(),
		Username:   username,
		Credential: cred,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	ev := s.event(acct.ID, MsgRegistered, now)
	if err := s.store.CreateAccount(ctx, acct, ev); err != nil {
		return "", s.fail(span, domain.Storage("create account", err))
	}
	s.mirror(ev)
	s.logger.Info("account registered", "account_id", acct.ID)
	return acct.ID, nil
}

// Authenticate checks username and pin and returns the account id.
//
// A locked username fails with domain.ErrLockedOut before any hashing. An
// unknown username and a wrong PIN both fail with *domain.AuthFailure, count
// against the tracker the same way, and cost one PBKDF2 derivation.
func (s *Service) Authenticate(ctx context.Context, username, pin string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Authenticate")
	defer span.End()

	username = strings.TrimSpace(username)
	if _, err := s.tracker.Check(ctx, username); err != nil {
		if !errors.Is(err, domain.ErrLockedOut) {
			return "", s.fail(span, domain.Storage("check attempts", err))
		}
		return "", s.rejectLocked(ctx, span, username)
	}
	if err := domain.ValidatePIN(pin); err != nil {
		return "", err
	}

	acct, err := s.store.AccountByUsername(ctx, username)
	if err != nil {
		return "", s.fail(span, domain.Storage("lookup account", err))
	}
	var (
		accountID string
		cause     error
	)
	if acct == nil {
		s.hasher.VerifyDummy(pin)
		cause = domain.ErrUnknownUser
	} else {
		accountID = acct.ID
		ok, err := s.hasher.Verify(acct.Credential, pin)
		if err != nil {
			s.logger.Error("stored credential failed integrity check", "account_id", acct.ID, "err", err)
			return "", s.fail(span, domain.Storage("verify credential", err))
		}
		if ok {
			if err := s.tracker.RecordSuccess(ctx, username); err != nil {
				return "", s.fail(span, domain.Storage("reset attempts", err))
			}
			if err := s.appendEvent(ctx, acct.ID, MsgLoginSucceeded); err != nil {
				return "", s.fail(span, err)
			}
			if s.hasher.NeedsRehash(acct.Credential) {
				s.rehash(ctx, acct.ID, pin)
			}
			span.SetAttributes(attribute.String("account_id", acct.ID))
			return acct.ID, nil
		}
		cause = domain.ErrWrongPin
	}

	st, err := s.tracker.RecordFailure(ctx, username)
	if err != nil {
		return "", s.fail(span, domain.Storage("record attempt", err))
	}
	remaining := s.tracker.Remaining(st)
	msg := fmt.Sprintf(msgLoginFailedFmt, remaining)
	if st.Locked {
		msg = MsgLoginLocked
		s.logger.Warn("username locked after failed logins", "failures", st.Failures)
	}
	if err := s.appendEvent(ctx, accountID, msg); err != nil {
		return "", s.fail(span, err)
	}
	s.authFailures.Add(ctx, 1, metric.WithAttributes(attribute.Bool("locked", st.Locked)))
	return "", &domain.AuthFailure{Cause: cause, Remaining: remaining}
}

// rehash re-derives a verified PIN with the current iteration count. A failure
// leaves the old credential in place, which still verifies.
func (s *Service) rehash(ctx context.Context, accountID, pin string) {
	cred, err := s.hasher.Derive(pin, nil)
	if err == nil {
		err = s.store.UpdateCredential(ctx, accountID, cred, nil)
	}
	if err != nil {
		s.logger.Warn("credential rehash failed", "account_id", accountID, "err", err)
	}
}

func (s *Service) rejectLocked(ctx context.Context, span trace.Span, username string) error {
	var accountID string
	if acct, err := s.store.AccountByUsername(ctx, username); err != nil {
		return s.fail(span, domain.Storage("lookup account", err))
	} else if acct != nil {
		accountID = acct.ID
	}
	if err := s.appendEvent(ctx, accountID, MsgLockedRejected); err != nil {
		return s.fail(span, err)
	}
	s.authFailures.Add(ctx, 1, metric.WithAttributes(attribute.Bool("locked", true)))
	return domain.ErrLockedOut
}

// Account returns the account for id or domain.ErrUnknownUser.
func (s *Service) Account(ctx context.Context, accountID string) (*domain.Account, error) {
	acct, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return nil, domain.Storage("load account", err)
	}
	if acct == nil {
		return nil, domain.ErrUnknownUser
	}
	return acct, nil
}

// AccountIDByUsername resolves username, returning "" and no error when it is unknown.
func (s *Service) AccountIDByUsername(ctx context.Context, username string) (string, error) {
	acct, err := s.store.AccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", domain.Storage("lookup account", err)
	}
	if acct == nil {
		return "", nil
	}
	return acct.ID, nil
}

// GetBalance returns the current balance.
func (s *Service) GetBalance(ctx context.Context, accountID string) (domain.Amount, error) {
	acct, err := s.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// ApplyTransaction deposits or withdraws amount and returns the new balance.
// The balance change, the transaction record and its audit event commit together.
func (s *Service) ApplyTransaction(ctx context.Context, accountID string, kind domain.TransactionKind, amount domain.Amount) (domain.Amount, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.ApplyTransaction",
		trace.WithAttributes(attribute.String("kind", string(kind))))
	defer span.End()

	if !kind.Valid() || amount <= 0 || amount > domain.MaxAmount {
		return 0, domain.ErrInvalidAmount
	}
	acct, err := s.Account(ctx, accountID)
	if err != nil {
		return 0, s.fail(span, err)
	}
	if kind == domain.KindWithdraw && amount > acct.Balance {
		return acct.Balance, domain.ErrInsufficientFunds
	}
	decision, err := s.policy.Evaluate(ctx, policy.Request{Kind: kind, Amount: amount, Balance: acct.Balance})
	if err != nil {
		return 0, s.fail(span, domain.Storage("evaluate limit policy", err))
	}
	if !decision.Allowed {
		s.logger.Info("transaction denied by policy", "account_id", accountID, "kind", kind, "reasons", decision.Reasons)
		return acct.Balance, domain.ErrLimitExceeded
	}

	now := s.clock.next()
	tx := &domain.Transaction{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Timestamp: now,
		Kind:      kind,
		Amount:    amount,
	}
	format := msgDepositedFmt
	if kind == domain.KindWithdraw {
		format = msgWithdrewFmt
	}
	ev := s.event(accountID, fmt.Sprintf(format, amount.Display()), now)
	balance, err := s.store.ApplyTransaction(ctx, tx, ev)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return acct.Balance, err
		}
		return 0, s.fail(span, domain.Storage("apply transaction", err))
	}
	s.mirror(ev)
	s.transactions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	return balance, nil
}

// SetCredential replaces the PIN of accountID and records message as the audit event.
func (s *Service) SetCredential(ctx context.Context, accountID, newPin, message string) error {
	ctx, span := s.tracer.Start(ctx, "ledger.SetCredential")
	defer span.End()

	if err := domain.ValidatePIN(newPin); err != nil {
		return err
	}
	cred, err := s.hasher.Derive(newPin, nil)
	if err != nil {
		return s.fail(span, domain.Storage("derive credential", err))
	}
	ev := s.event(accountID, message, s.clock.next())
	if err := s.store.UpdateCredential(ctx, accountID, cred, ev); err != nil {
		return s.fail(span, domain.Storage("update credential", err))
	}
	s.mirror(ev)
	return nil
}

// VerifyPIN reports whether pin matches the stored credential without touching
// the attempt tracker.
func (s *Service) VerifyPIN(ctx context.Context, accountID, pin string) (bool, error) {
	acct, err := s.Account(ctx, accountID)
	if err != nil {
		return false, err
	}
	if domain.ValidatePIN(pin) != nil {
		s.hasher.VerifyDummy(pin)
		return false, nil
	}
	ok, err := s.hasher.Verify(acct.Credential, pin)
	if err != nil {
		return false, domain.Storage("verify credential", err)
	}
	return ok, nil
}

// ListTransactions returns the account's transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	txs, err := s.store.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, domain.Storage("list transactions", err)
	}
	return txs, nil
}

// ListEvents returns the account's audit events, newest first.
func (s *Service) ListEvents(ctx context.Context, accountID string) ([]*domain.Event, error) {
	evs, err := s.store.ListEvents(ctx, accountID)
	if err != nil {
		return nil, domain.Storage("list events", err)
	}
	return evs, nil
}

// AppendEvent durably records message for accountID ("" for none). A failure
// is a StorageError and fails the caller's operation.
func (s *Service) AppendEvent(ctx context.Context, accountID, message string) error {
	return s.appendEvent(ctx, accountID, message)
}

func (s *Service) appendEvent(ctx context.Context, accountID, message string) error {
	ev := s.event(accountID, message, s.clock.next())
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return domain.Storage("append event", err)
	}
	s.mirror(ev)
	return nil
}

func (s *Service) event(accountID, message string, at time.Time) *domain.Event {
	return &domain.Event{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Timestamp: at,
		Message:   message,
	}
}

func (s *Service) mirror(ev *domain.Event) {
	telemetry.EmitAsync(s.emitter, s.logger, ev)
}

func (s *Service) fail(span trace.Span, err error) error {
	if errors.Is(err, domain.ErrStorageFailure) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failure")
		s.logger.Error("ledger storage failure", "err", err)
	}
	return err
}

// monotonic hands out strictly increasing UTC timestamps so records written
// within one clock tick still order correctly.
type monotonic struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func (m *monotonic) next() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now().UTC().Round(0)
	if !t.After(m.last) {
		t = m.last.Add(time.Nanosecond)
	}
	m.last = t
	return t
}
