package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lexledger/internal/types"
)

func newTestLedgerStore(db *mockDBTX, tx *mockTx) *LedgerStore {
	return &LedgerStore{
		db: db,
		begin: func(_ context.Context) (txConn, error) {
			if tx == nil {
				return nil, errors.New("pool exhausted")
			}
			return tx, nil
		},
	}
}

func accountScanFn(acct types.Account) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = acct.ID
		*dest[1].(*string) = string(acct.Plan)
		*dest[2].(*int) = acct.MonthlyAllowanceRemaining
		*dest[3].(*int) = acct.ExtraCredits
		*dest[4].(*time.Time) = acct.CreditsResetAt
		*dest[5].(*bool) = acct.HasContentModule
		*dest[6].(*time.Time) = acct.CreatedAt
		*dest[7].(*time.Time) = acct.UpdatedAt
		return nil
	}
}

// ============================================================
// GetAccount / LockAccount
// ============================================================

func TestLedgerStore_GetAccount_Success(t *testing.T) {
	db := new(mockDBTX)
	store := newTestLedgerStore(db, nil)
	ctx := context.Background()

	resetAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	want := types.Account{ID: "acct_1", Plan: types.PlanPro, MonthlyAllowanceRemaining: 100, ExtraCredits: 7, CreditsResetAt: resetAt}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"acct_1"}).
		Return(&mockRow{scanFn: accountScanFn(want)})

	got, err := store.GetAccount(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestLedgerStore_GetAccount_NotFound(t *testing.T) {
	db := new(mockDBTX)
	store := newTestLedgerStore(db, nil)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := store.GetAccount(ctx, "missing")
	assert.True(t, errors.Is(err, types.ErrAccountNotFound))
}

func TestLedgerStore_LockAccount_UsesForUpdate(t *testing.T) {
	tx := new(mockTx)
	store := newTestLedgerStore(new(mockDBTX), tx)
	ctx := context.Background()

	tx.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "FOR UPDATE")
	}), []any{"acct_1"}).
		Return(&mockRow{scanFn: accountScanFn(types.Account{ID: "acct_1", Plan: types.PlanFree})})

	ltx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	acct, err := ltx.LockAccount(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanFree, acct.Plan)
	tx.AssertExpectations(t)
}

func TestLedgerStore_BeginTx_Error(t *testing.T) {
	store := newTestLedgerStore(new(mockDBTX), nil)

	_, err := store.BeginTx(context.Background())
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

// ============================================================
// Writes
// ============================================================

func TestLedgerTx_InsertAccount_Conflict(t *testing.T) {
	tx := new(mockTx)
	ltx := &ledgerTx{tx: tx}
	ctx := context.Background()

	tx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})

	err := ltx.InsertAccount(ctx, &types.Account{ID: "acct_1", Plan: types.PlanFree})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictAccountExists, appErr.Code)
}

func TestLedgerTx_UpdateAccount_NotFound(t *testing.T) {
	tx := new(mockTx)
	ltx := &ledgerTx{tx: tx}
	ctx := context.Background()

	tx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := ltx.UpdateAccount(ctx, &types.Account{ID: "gone"})
	assert.True(t, errors.Is(err, types.ErrAccountNotFound))
}

func TestLedgerTx_UpdateAccount_PassesBuckets(t *testing.T) {
	tx := new(mockTx)
	ltx := &ledgerTx{tx: tx}
	ctx := context.Background()

	resetAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	acct := &types.Account{ID: "acct_1", Plan: types.PlanBasic, MonthlyAllowanceRemaining: 12, ExtraCredits: 3, CreditsResetAt: resetAt}

	tx.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return args[0] == "acct_1" && args[1] == "basic" && args[2] == 12 && args[3] == 3 && args[4] == resetAt
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, ltx.UpdateAccount(ctx, acct))
	tx.AssertExpectations(t)
}

func TestLedgerTx_AppendEntry_SetsID(t *testing.T) {
	tx := new(mockTx)
	ltx := &ledgerTx{tx: tx}
	ctx := context.Background()

	tx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 42
			return nil
		}})

	entry := &types.LedgerEntry{AccountID: "acct_1", ActionType: types.EntryPurchase, CreditsDelta: 500}
	require.NoError(t, ltx.AppendEntry(ctx, entry))
	assert.Equal(t, int64(42), entry.ID)
}

func TestLedgerTx_RollbackAfterCommitIsNoop(t *testing.T) {
	tx := new(mockTx)
	ltx := &ledgerTx{tx: tx}
	ctx := context.Background()

	require.NoError(t, ltx.Commit(ctx))
	assert.NoError(t, ltx.Rollback(ctx))
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestLedgerTx_CommitError(t *testing.T) {
	tx := &mockTx{commitErr: errors.New("serialization failure")}
	ltx := &ledgerTx{tx: tx}

	err := ltx.Commit(context.Background())
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

// ============================================================
// Reads
// ============================================================

func TestLedgerStore_ListEntries(t *testing.T) {
	db := new(mockDBTX)
	store := newTestLedgerStore(db, nil)
	ctx := context.Background()

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		{int64(9), "acct_1", "legal_review", -2, "legal_review", now},
		{int64(7), "acct_1", "purchase", 200, "pack-200", now.Add(-time.Hour)},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	entries, err := store.ListEntries(ctx, "acct_1", time.Time{}, 0, 50)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.EntryType("legal_review"), entries[0].ActionType)
	assert.Equal(t, 200, entries[1].CreditsDelta)
	assert.True(t, rows.closed)
}

func TestLedgerStore_ListEntries_QueryError(t *testing.T) {
	db := new(mockDBTX)
	store := newTestLedgerStore(db, nil)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := store.ListEntries(ctx, "acct_1", time.Time{}, 0, 50)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestLedgerStore_ListDueAccounts(t *testing.T) {
	db := new(mockDBTX)
	store := newTestLedgerStore(db, nil)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	db.On("Query", ctx, mock.AnythingOfType("string"), []any{now, "acct_1", 100}).
		Return(newMockRows([][]any{{"acct_2"}, {"acct_5"}}), nil)

	ids, err := store.ListDueAccounts(ctx, now, "acct_1", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct_2", "acct_5"}, ids)
}
