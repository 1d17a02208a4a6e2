// migrate applies or rolls back the embedded ledger schema on the configured
// SQL store. Run via go run ./cmd/migrate.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"atm-terminal/backend/internal/config"
	"atm-terminal/backend/internal/db/migrate"
	"atm-terminal/backend/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Apply all migrations up, or roll all of them down")
	steps := flag.Int("steps", 0, "Move this many migrations instead (negative rolls back); overrides -direction")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err := run(cfg, *direction, *steps, logger); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

func run(cfg *config.Config, direction string, steps int, logger *slog.Logger) error {
	if cfg.StoreDriver == config.StoreMemory {
		return errors.New("STORE_DRIVER=memory has no schema; use sqlite or postgres")
	}
	dsn := cfg.StoreDSN()
	if steps != 0 {
		if err := migrate.Steps(cfg.StoreDriver, dsn, steps); err != nil {
			return fmt.Errorf("%d steps: %w", steps, err)
		}
		logger.Info("schema migrated", "driver", cfg.StoreDriver, "steps", steps)
		return nil
	}
	if err := migrate.Run(cfg.StoreDriver, dsn, direction); err != nil {
		return err
	}
	logger.Info("schema migrated", "driver", cfg.StoreDriver, "direction", direction)
	return nil
}
