// Package sqlite implements ledger.Store on an embedded SQLite database.
// It backs local development and single-node deployments; Postgres is the
// production store.
//
// Writers are serialized by opening every transaction with BEGIN IMMEDIATE,
// which takes the database write lock up front. That gives LockAccount the
// same guarantee SELECT ... FOR UPDATE gives on Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"lexledger/internal/ledger"
	"lexledger/internal/types"
)

const busyTimeoutMS = 10000

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	plan TEXT NOT NULL DEFAULT 'free',
	monthly_allowance_remaining INTEGER NOT NULL DEFAULT 0 CHECK(monthly_allowance_remaining >= 0),
	extra_credits INTEGER NOT NULL DEFAULT 0 CHECK(extra_credits >= 0),
	credits_reset_at INTEGER NOT NULL,
	has_content_module INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_reset ON accounts(credits_reset_at);

CREATE TABLE IF NOT EXISTS credit_ledger (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	action_type TEXT NOT NULL,
	credits_delta INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credit_ledger_account ON credit_ledger(account_id, id DESC);

CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	key_hash TEXT NOT NULL,
	key_prefix TEXT NOT NULL,
	last_used_at INTEGER,
	revoked_at INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix);

CREATE TABLE IF NOT EXISTS stripe_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	received_at INTEGER NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BeginTx starts an IMMEDIATE transaction.
func (s *Store) BeginTx(ctx context.Context) (ledger.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// GetAccount reads an account without locking it.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, selectAccount, accountID))
}

// ListEntries returns ledger entries newest first.
func (s *Store) ListEntries(ctx context.Context, accountID string, since time.Time, beforeID int64, limit int) ([]types.LedgerEntry, error) {
	var sinceNanos int64
	if !since.IsZero() {
		sinceNanos = since.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, action_type, credits_delta, description, created_at
FROM credit_ledger
WHERE account_id = ?
  AND created_at >= ?
  AND (? = 0 OR id < ?)
ORDER BY id DESC
LIMIT ?`, accountID, sinceNanos, beforeID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.LedgerEntry
	for rows.Next() {
		var (
			e       types.LedgerEntry
			action  string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &action, &e.CreditsDelta, &e.Description, &created); err != nil {
			return nil, err
		}
		e.ActionType = types.EntryType(action)
		e.CreatedAt = fromNanos(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListDueAccounts returns up to limit account IDs whose reset boundary is at
// or before now, ordered by ID and strictly after afterID.
func (s *Store) ListDueAccounts(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id FROM accounts
WHERE credits_reset_at <= ? AND id > ?
ORDER BY id
LIMIT ?`, now.UnixNano(), afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type sqliteTx struct {
	tx *sql.Tx
}

// LockAccount reads the account. The IMMEDIATE transaction already holds
// the write lock.
func (t *sqliteTx) LockAccount(ctx context.Context, accountID string) (*types.Account, error) {
	return scanAccount(t.tx.QueryRowContext(ctx, selectAccount, accountID))
}

func (t *sqliteTx) InsertAccount(ctx context.Context, acct *types.Account) error {
	var exists bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = ?)`, acct.ID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictAccountExists, "account already exists", nil,
			map[string]any{"account_id": acct.ID})
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO accounts(id, plan, monthly_allowance_remaining, extra_credits, credits_reset_at, has_content_module, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		acct.ID,
		string(acct.Plan),
		acct.MonthlyAllowanceRemaining,
		acct.ExtraCredits,
		acct.CreditsResetAt.UnixNano(),
		acct.HasContentModule,
		acct.CreatedAt.UnixNano(),
		acct.UpdatedAt.UnixNano(),
	)
	return err
}

func (t *sqliteTx) UpdateAccount(ctx context.Context, acct *types.Account) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE accounts
SET plan = ?, monthly_allowance_remaining = ?, extra_credits = ?, credits_reset_at = ?, has_content_module = ?, updated_at = ?
WHERE id = ?`,
		string(acct.Plan),
		acct.MonthlyAllowanceRemaining,
		acct.ExtraCredits,
		acct.CreditsResetAt.UnixNano(),
		acct.HasContentModule,
		acct.UpdatedAt.UnixNano(),
		acct.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return nil
}

func (t *sqliteTx) AppendEntry(ctx context.Context, e *types.LedgerEntry) error {
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO credit_ledger(account_id, action_type, credits_delta, description, created_at)
VALUES(?, ?, ?, ?, ?)`,
		e.AccountID,
		string(e.ActionType),
		e.CreditsDelta,
		e.Description,
		e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (t *sqliteTx) Commit(_ context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

const selectAccount = `
SELECT id, plan, monthly_allowance_remaining, extra_credits, credits_reset_at, has_content_module, created_at, updated_at
FROM accounts
WHERE id = ?`

func scanAccount(row *sql.Row) (*types.Account, error) {
	var (
		a                         types.Account
		plan                      string
		resetAt, created, updated int64
	)
	err := row.Scan(&a.ID, &plan, &a.MonthlyAllowanceRemaining, &a.ExtraCredits, &resetAt, &a.HasContentModule, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	if err != nil {
		return nil, err
	}
	a.Plan = types.PlanTier(plan)
	a.CreditsResetAt = fromNanos(resetAt)
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	return &a, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
