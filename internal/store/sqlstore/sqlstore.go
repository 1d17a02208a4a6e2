// Package sqlstore implements store.Store on database/sql for SQLite
// (modernc.org/sqlite) and Postgres (pgx stdlib). Queries are written with
// '?' placeholders and rebound for Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"atm-terminal/backend/internal/db"
	"atm-terminal/backend/internal/domain"
	"atm-terminal/backend/internal/store"
)

// Store is the SQL-backed ledger store.
type Store struct {
	db     *sql.DB
	driver string
}

var _ store.Store = (*Store)(nil)

// New returns a Store over conn. driver is db.DriverSQLite or db.DriverPostgres;
// the schema must already be migrated.
func New(conn *sql.DB, driver string) (*Store, error) {
	if driver != db.DriverSQLite && driver != db.DriverPostgres {
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	return &Store{db: conn, driver: driver}, nil
}

// q rebinds '?' placeholders to $n for Postgres.
func (s *Store) q(query string) string {
	if s.driver != db.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, a *domain.Account, ev *domain.Event) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
INSERT INTO users (id, username, pin_salt, pin_hash, pin_iterations, balance, created_at_ns, updated_at_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			a.ID, a.Username, a.Credential.Salt, a.Credential.Hash, a.Credential.Iterations, int64(a.Balance),
			a.CreatedAt.UTC().UnixNano(), a.UpdatedAt.UTC().UnixNano(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateUsername
			}
			return fmt.Errorf("insert user: %w", err)
		}
		if ev != nil {
			return s.insertEvent(ctx, tx, ev)
		}
		return nil
	})
}

const accountColumns = `id, username, pin_salt, pin_hash, pin_iterations, balance, created_at_ns, updated_at_ns`

func (s *Store) AccountByID(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+accountColumns+` FROM users WHERE id = ?`), id)
	return scanAccount(row)
}

func (s *Store) AccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+accountColumns+` FROM users WHERE username = ?`), username)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var (
		a                  domain.Account
		balance            int64
		createdNs, updated int64
	)
	err := row.Scan(&a.ID, &a.Username, &a.Credential.Salt, &a.Credential.Hash, &a.Credential.Iterations, &balance, &createdNs, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	a.Balance = domain.Amount(balance)
	a.CreatedAt = time.Unix(0, createdNs).UTC()
	a.UpdatedAt = time.Unix(0, updated).UTC()
	return &a, nil
}

func (s *Store) UpdateCredential(ctx context.Context, accountID string, cred domain.Credential, ev *domain.Event) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE users SET pin_salt = ?, pin_hash = ?, pin_iterations = ?, updated_at_ns = ? WHERE id = ?`),
			cred.Salt, cred.Hash, cred.Iterations, time.Now().UTC().UnixNano(), accountID)
		if err != nil {
			return fmt.Errorf("update credential: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update credential: %w", err)
		} else if n == 0 {
			return domain.ErrUnknownUser
		}
		if ev != nil {
			return s.insertEvent(ctx, tx, ev)
		}
		return nil
	})
}

func (s *Store) ApplyTransaction(ctx context.Context, t *domain.Transaction, ev *domain.Event) (domain.Amount, error) {
	var balance int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		at := t.Timestamp.UTC().UnixNano()
		var (
			res sql.Result
			err error
		)
		switch t.Kind {
		case domain.KindDeposit:
			res, err = tx.ExecContext(ctx, s.q(`UPDATE users SET balance = balance + ?, updated_at_ns = ? WHERE id = ?`),
				int64(t.Amount), at, t.AccountID)
		case domain.KindWithdraw:
			// The balance guard makes the check and the debit one statement.
			res, err = tx.ExecContext(ctx, s.q(`UPDATE users SET balance = balance - ?, updated_at_ns = ? WHERE id = ? AND balance >= ?`),
				int64(t.Amount), at, t.AccountID, int64(t.Amount))
		default:
			return domain.ErrInvalidAmount
		}
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM users WHERE id = ?`), t.AccountID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrUnknownUser
			}
			if err != nil {
				return fmt.Errorf("lookup user: %w", err)
			}
			return domain.ErrInsufficientFunds
		}
		if _, err := tx.ExecContext(ctx, s.q(`
INSERT INTO transactions (id, user_id, occurred_at_ns, kind, amount) VALUES (?, ?, ?, ?, ?)`),
			t.ID, t.AccountID, at, string(t.Kind), int64(t.Amount)); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		if ev != nil {
			if err := s.insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		if err := tx.QueryRowContext(ctx, s.q(`SELECT balance FROM users WHERE id = ?`), t.AccountID).Scan(&balance); err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return domain.Amount(balance), nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT id, user_id, occurred_at_ns, kind, amount FROM transactions
WHERE user_id = ? ORDER BY occurred_at_ns DESC, id DESC`), accountID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	out := make([]*domain.Transaction, 0)
	for rows.Next() {
		var (
			t      domain.Transaction
			ns     int64
			kind   string
			amount int64
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &ns, &kind, &amount); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Timestamp = time.Unix(0, ns).UTC()
		t.Kind = domain.TransactionKind(kind)
		t.Amount = domain.Amount(amount)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev *domain.Event) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.insertEvent(ctx, tx, ev)
	})
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, ev *domain.Event) error {
	var userID any
	if ev.AccountID != "" {
		userID = ev.AccountID
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO logs (id, user_id, occurred_at_ns, event) VALUES (?, ?, ?, ?)`),
		ev.ID, userID, ev.Timestamp.UTC().UnixNano(), ev.Message); err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, accountID string) ([]*domain.Event, error) {
	query := `SELECT id, user_id, occurred_at_ns, event FROM logs WHERE user_id = ? ORDER BY occurred_at_ns DESC, id DESC`
	args := []any{accountID}
	if accountID == "" {
		query = `SELECT id, user_id, occurred_at_ns, event FROM logs WHERE user_id IS NULL ORDER BY occurred_at_ns DESC, id DESC`
		args = nil
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()
	out := make([]*domain.Event, 0)
	for rows.Next() {
		var (
			ev     domain.Event
			userID sql.NullString
			ns     int64
		)
		if err := rows.Scan(&ev.ID, &userID, &ns, &ev.Message); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		ev.AccountID = userID.String
		ev.Timestamp = time.Unix(0, ns).UTC()
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}
