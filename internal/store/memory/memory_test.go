package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"atm-terminal/backend/internal/domain"
)

func TestStore_AccountLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := &domain.Account{ID: "a1", Username: "alice"}
	if err := s.CreateAccount(ctx, a, &domain.Event{ID: "e1", AccountID: "a1", Message: "created"}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := s.CreateAccount(ctx, &domain.Account{ID: "a2", Username: "alice"}, nil); !errors.Is(err, domain.ErrDuplicateUsername) {
		t.Fatalf("duplicate: err = %v", err)
	}
	got, err := s.AccountByUsername(ctx, "alice")
	if err != nil || got == nil || got.ID != "a1" {
		t.Fatalf("AccountByUsername = %+v, %v", got, err)
	}
	got.Balance = 999
	again, _ := s.AccountByID(ctx, "a1")
	if again.Balance != 0 {
		t.Error("returned account aliases internal state")
	}
	if missing, err := s.AccountByID(ctx, "nope"); missing != nil || err != nil {
		t.Errorf("missing account = %+v, %v", missing, err)
	}
	if err := s.UpdateCredential(ctx, "nope", domain.Credential{}, nil); !errors.Is(err, domain.ErrUnknownUser) {
		t.Errorf("UpdateCredential unknown: err = %v", err)
	}
}

func TestStore_ApplyTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.CreateAccount(ctx, &domain.Account{ID: "a1", Username: "alice"}, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	bal, err := s.ApplyTransaction(ctx, &domain.Transaction{ID: "t1", AccountID: "a1", Timestamp: base, Kind: domain.KindDeposit, Amount: 10000}, nil)
	if err != nil || bal != 10000 {
		t.Fatalf("deposit = %v, %v", bal, err)
	}
	if _, err := s.ApplyTransaction(ctx, &domain.Transaction{ID: "t2", AccountID: "a1", Timestamp: base.Add(time.Second), Kind: domain.KindWithdraw, Amount: 20000}, nil); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("overdraw: err = %v", err)
	}
	bal, err = s.ApplyTransaction(ctx, &domain.Transaction{ID: "t3", AccountID: "a1", Timestamp: base.Add(2 * time.Second), Kind: domain.KindWithdraw, Amount: 4000}, nil)
	if err != nil || bal != 6000 {
		t.Fatalf("withdraw = %v, %v", bal, err)
	}
	txs, _ := s.ListTransactions(ctx, "a1")
	if len(txs) != 2 || txs[0].ID != "t3" || txs[1].ID != "t1" {
		t.Fatalf("transactions = %+v", txs)
	}
}

func TestStore_FailNext(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("disk full")
	s.FailNext = boom
	if err := s.AppendEvent(ctx, &domain.Event{ID: "e1", Message: "x"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(s.AllEvents()) != 0 {
		t.Fatal("failed append was recorded")
	}
	if err := s.AppendEvent(ctx, &domain.Event{ID: "e2", Message: "y"}); err != nil {
		t.Fatalf("FailNext not cleared: %v", err)
	}
	evs, _ := s.ListEvents(ctx, "")
	if len(evs) != 1 || evs[0].ID != "e2" {
		t.Fatalf("unattributed events = %+v", evs)
	}
}
