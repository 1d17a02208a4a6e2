// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"atm-terminal/backend/internal/db"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// Run applies migrations in the given direction for driver using dsn.
// direction must be "up" or "down". Returns nil on success; ErrNoChange when already
// at latest (up) or no migrations to downgrade (down); other errors for DB or I/O failures.
func Run(driver, dsn, direction string) error {
	if dsn == "" {
		return errors.New("migrate: empty DSN; set DATABASE_URL or SQLITE_PATH")
	}
	if err := checkDirection(direction); err != nil {
		return err
	}
	url, err := migrationURL(driver, dsn)
	if err != nil {
		return err
	}
	sourceDriver, err := iofs.New(db.MigrationFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, url)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	return step(m, direction)
}

// Steps moves n migrations forward (n > 0) or back (n < 0) for driver using dsn.
func Steps(driver, dsn string, n int) error {
	if dsn == "" {
		return errors.New("migrate: empty DSN; set DATABASE_URL or SQLITE_PATH")
	}
	if n == 0 {
		return errors.New("migrate: steps must be non-zero")
	}
	url, err := migrationURL(driver, dsn)
	if err != nil {
		return err
	}
	sourceDriver, err := iofs.New(db.MigrationFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, url)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	return m.Steps(n)
}

// Up applies all pending migrations on an already open connection and leaves
// it open. The migrate instance is not closed: its database driver would close conn.
func Up(conn *sql.DB, driver string) error {
	if conn == nil {
		return errors.New("migrate: nil database")
	}
	sourceDriver, err := iofs.New(db.MigrationFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	var dbDriver database.Driver
	switch driver {
	case db.DriverSQLite:
		dbDriver, err = sqlite.WithInstance(conn, &sqlite.Config{})
	case db.DriverPostgres:
		dbDriver, err = pgxmigrate.WithInstance(conn, &pgxmigrate.Config{})
	default:
		_ = sourceDriver.Close()
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}
	if err != nil {
		_ = sourceDriver.Close()
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := step(m, "up"); err != nil && !errors.Is(err, ErrNoChange) {
		return err
	}
	return nil
}

func step(m *migrate.Migrate, direction string) error {
	switch direction {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	}
	return nil
}

func checkDirection(direction string) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	return nil
}

// migrationURL turns a store DSN into the URL golang-migrate expects.
func migrationURL(driver, dsn string) (string, error) {
	switch driver {
	case db.DriverSQLite:
		if dsn == ":memory:" {
			return "", errors.New("migrate: in-memory sqlite must be migrated with Up on the open connection")
		}
		return "sqlite://" + strings.TrimPrefix(dsn, "sqlite://"), nil
	case db.DriverPostgres:
		for _, p := range []string{"postgres://", "postgresql://", "pgx5://"} {
			if strings.HasPrefix(dsn, p) {
				return "pgx5://" + strings.TrimPrefix(dsn, p), nil
			}
		}
		return "", fmt.Errorf("migrate: postgres DSN must be a URL, got %q", redact(dsn))
	}
	return "", fmt.Errorf("migrate: unsupported driver %q", driver)
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		return "***" + dsn[i:]
	}
	return dsn
}
