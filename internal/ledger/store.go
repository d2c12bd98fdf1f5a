package ledger

import (
	"context"
	"time"

	"lexledger/internal/types"
)

// Store is the durable home of accounts and ledger entries. The Ledger is
// the only component allowed to mutate what it holds.
//
// Every mutating Ledger operation follows the same transactional flow:
//  1. BeginTx starts a transaction.
//  2. LockAccount reads the account row and holds an exclusive row lock
//     until Commit or Rollback, serializing writers on the same account.
//  3. UpdateAccount and AppendEntry persist the new state.
//  4. Commit makes both visible atomically.
type Store interface {
	// BeginTx starts a new transaction. The returned Tx must be committed or
	// rolled back by the caller.
	BeginTx(ctx context.Context) (Tx, error)

	// GetAccount reads an account without locking it.
	GetAccount(ctx context.Context, accountID string) (*types.Account, error)

	// ListEntries returns entries for accountID created at or after since,
	// newest first. beforeID > 0 restricts the page to entries with a
	// smaller ID (keyset pagination).
	ListEntries(ctx context.Context, accountID string, since time.Time, beforeID int64, limit int) ([]types.LedgerEntry, error)
}

// Tx is the set of operations available inside a ledger transaction.
type Tx interface {
	// LockAccount reads the account and acquires its row lock.
	// Returns a not_found_account AppError when the account does not exist.
	LockAccount(ctx context.Context, accountID string) (*types.Account, error)

	// InsertAccount creates a new account row. Returns a
	// conflict_account_exists AppError when the ID is taken.
	InsertAccount(ctx context.Context, acct *types.Account) error

	// UpdateAccount writes plan, both balance buckets, the reset timestamp
	// and the content module flag.
	UpdateAccount(ctx context.Context, acct *types.Account) error

	// AppendEntry inserts an audit row and sets entry.ID.
	AppendEntry(ctx context.Context, entry *types.LedgerEntry) error

	Commit(ctx context.Context) error

	// Rollback aborts the transaction. Safe to call after Commit (no-op).
	Rollback(ctx context.Context) error
}

// Metrics receives counters for ledger activity. Implementations must not
// block for long; they run on the request path after commit.
type Metrics interface {
	RecordDebit(ctx context.Context, kind types.ActionKind, credits int)
	RecordDebitDenied(ctx context.Context, kind types.ActionKind)
	RecordPurchase(ctx context.Context, credits int)
	RecordReset(ctx context.Context, plan types.PlanTier)
}

// BalanceObserver is notified after a debit commits. previousTotal is the
// total balance before the debit.
type BalanceObserver interface {
	BalanceChanged(ctx context.Context, acct types.Account, previousTotal int) error
}

type noopMetrics struct{}

func (noopMetrics) RecordDebit(context.Context, types.ActionKind, int)  {}
func (noopMetrics) RecordDebitDenied(context.Context, types.ActionKind) {}
func (noopMetrics) RecordPurchase(context.Context, int)                 {}
func (noopMetrics) RecordReset(context.Context, types.PlanTier)         {}
