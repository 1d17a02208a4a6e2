package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"atm-terminal/backend/internal/app"
	"atm-terminal/backend/internal/config"
)

func TestUnlockUser_MemoryStoreRefused(t *testing.T) {
	ctx := context.Background()
	a, err := app.New(ctx, &config.Config{
		Env:              "development",
		StoreDriver:      config.StoreMemory,
		AttemptStore:     config.AttemptMemory,
		PBKDF2Iterations: 100_000,
		MaxLoginAttempts: 3,
	}, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Close(ctx)

	var out bytes.Buffer
	err = unlockUser(ctx, a, "alice", &out)
	if err == nil {
		t.Fatal("unlock with the memory attempt store should fail")
	}
	if !strings.Contains(err.Error(), "ATTEMPT_STORE=memory") {
		t.Errorf("err = %q, should name the attempt store", err)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
}
