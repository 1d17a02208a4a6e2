// seed creates the default terminal account for local testing.
// Idempotent: does nothing if the default username already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"atm-terminal/backend/internal/app"
	"atm-terminal/backend/internal/config"
	"atm-terminal/backend/internal/domain"
	"atm-terminal/backend/internal/logging"
)

const (
	defaultUsername = "default"
	defaultPin      = "1234"
	defaultBalance  = domain.Amount(100_000)
	seedMessage     = "New user created with default PIN and balance"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.StoreDriver == config.StoreMemory {
		log.Fatal("STORE_DRIVER=memory cannot be seeded; use sqlite or postgres")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("app: %v", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn("shutdown", "err", err)
		}
	}()

	existing, err := a.Ledger.AccountIDByUsername(ctx, defaultUsername)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != "" {
		log.Printf("Seed already applied (%s exists). Skipping.", defaultUsername)
		return
	}

	id, err := a.Ledger.Register(ctx, defaultUsername, defaultPin)
	if err != nil {
		log.Fatalf("register default account: %v", err)
	}
	if _, err := a.Ledger.ApplyTransaction(ctx, id, domain.KindDeposit, defaultBalance); err != nil {
		log.Fatalf("opening deposit: %v", err)
	}
	if err := a.Ledger.AppendEvent(ctx, id, seedMessage); err != nil {
		log.Fatalf("seed event: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Default login: %s / %s (balance %s)\n", defaultUsername, defaultPin, defaultBalance.Display())
}
