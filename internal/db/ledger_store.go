package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"lexledger/internal/ledger"
	"lexledger/internal/types"
)

// txConn is the subset of pgx.Tx the ledger transaction uses.
type txConn interface {
	DBTX
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// LedgerStore implements ledger.Store over the accounts and credit_ledger
// tables. Row locking uses SELECT ... FOR UPDATE, so concurrent writers on
// the same account serialize inside Postgres rather than in process memory.
type LedgerStore struct {
	db    DBTX
	begin func(ctx context.Context) (txConn, error)
}

// NewLedgerStore creates a LedgerStore backed by the given pool.
func NewLedgerStore(pool Pool) *LedgerStore {
	return &LedgerStore{
		db: pool,
		begin: func(ctx context.Context) (txConn, error) {
			return pool.Begin(ctx)
		},
	}
}

const accountColumns = `id, plan, monthly_allowance_remaining, extra_credits,
	credits_reset_at, has_content_module, created_at, updated_at`

// BeginTx starts a ledger transaction.
func (s *LedgerStore) BeginTx(ctx context.Context) (ledger.Tx, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	return &ledgerTx{tx: tx}, nil
}

// GetAccount reads an account without locking it.
func (s *LedgerStore) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		accountID,
	)
	return scanAccountRow(row)
}

// ListEntries returns ledger entries for an account newest first.
// A zero since disables the time window; beforeID > 0 continues a page.
//
// SQL: SELECT ... FROM credit_ledger
//
//	WHERE account_id = $1 AND created_at >= $2 AND ($3 = 0 OR id < $3)
//	ORDER BY id DESC LIMIT $4
func (s *LedgerStore) ListEntries(ctx context.Context, accountID string, since time.Time, beforeID int64, limit int) ([]types.LedgerEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, account_id, action_type, credits_delta, description, created_at
		 FROM credit_ledger
		 WHERE account_id = $1
		   AND created_at >= $2
		   AND ($3::bigint = 0 OR id < $3)
		 ORDER BY id DESC
		 LIMIT $4`,
		accountID,
		since,
		beforeID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query ledger entries", err)
	}
	defer rows.Close()

	var entries []types.LedgerEntry
	for rows.Next() {
		var (
			e      types.LedgerEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &action, &e.CreditsDelta, &e.Description, &e.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan ledger entry", err)
		}
		e.ActionType = types.EntryType(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating ledger entries", err)
	}
	return entries, nil
}

// ListDueAccounts returns up to limit account IDs whose credits_reset_at is
// at or before now, ordered by ID and strictly after afterID. Keyset paging
// keeps the scan finite even when some accounts fail to reset.
func (s *LedgerStore) ListDueAccounts(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM accounts
		 WHERE credits_reset_at <= $1 AND id > $2
		 ORDER BY id
		 LIMIT $3`,
		now,
		afterID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due accounts", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan account id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating due accounts", err)
	}
	return ids, nil
}

// ledgerTx implements ledger.Tx on a pgx transaction.
type ledgerTx struct {
	tx txConn
}

// LockAccount reads the account row with FOR UPDATE. The lock is held until
// Commit or Rollback.
func (t *ledgerTx) LockAccount(ctx context.Context, accountID string) (*types.Account, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	)
	return scanAccountRow(row)
}

func (t *ledgerTx) InsertAccount(ctx context.Context, acct *types.Account) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (id, plan, monthly_allowance_remaining, extra_credits,
		 credits_reset_at, has_content_module, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($8, NOW()))`,
		acct.ID,
		string(acct.Plan),
		acct.MonthlyAllowanceRemaining,
		acct.ExtraCredits,
		acct.CreditsResetAt,
		acct.HasContentModule,
		nilIfZeroTime(acct.CreatedAt),
		nilIfZeroTime(acct.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppErrorWithDetails(types.ErrCodeConflictAccountExists, "account already exists", nil,
				map[string]any{"account_id": acct.ID})
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create account", err)
	}
	return nil
}

func (t *ledgerTx) UpdateAccount(ctx context.Context, acct *types.Account) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts
		 SET plan = $2,
		     monthly_allowance_remaining = $3,
		     extra_credits = $4,
		     credits_reset_at = $5,
		     has_content_module = $6,
		     updated_at = COALESCE($7, NOW())
		 WHERE id = $1`,
		acct.ID,
		string(acct.Plan),
		acct.MonthlyAllowanceRemaining,
		acct.ExtraCredits,
		acct.CreditsResetAt,
		acct.HasContentModule,
		nilIfZeroTime(acct.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update account", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return nil
}

func (t *ledgerTx) AppendEntry(ctx context.Context, e *types.LedgerEntry) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO credit_ledger (account_id, action_type, credits_delta, description, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		 RETURNING id`,
		e.AccountID,
		string(e.ActionType),
		e.CreditsDelta,
		e.Description,
		nilIfZeroTime(e.CreatedAt),
	).Scan(&e.ID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append ledger entry", err)
	}
	return nil
}

func (t *ledgerTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// Rollback is a no-op after Commit.
func (t *ledgerTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// scanAccountRow scans an account from a single pgx.Row. Column order must
// match accountColumns.
func scanAccountRow(row pgx.Row) (*types.Account, error) {
	var (
		a    types.Account
		plan string
	)
	err := row.Scan(
		&a.ID,
		&plan,
		&a.MonthlyAllowanceRemaining,
		&a.ExtraCredits,
		&a.CreditsResetAt,
		&a.HasContentModule,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read account", err)
	}
	a.Plan = types.PlanTier(plan)
	return &a, nil
}
