// Package ledger implements the credit ledger: the only component that
// mutates account balances. Each account holds a recurring allowance that
// refills on a per-plan interval and non-expiring extra credits bought in
// packs. Every mutation runs as one transaction against the account row and
// appends an audit entry in the same transaction.
//
// The ledger never retries. Callers decide whether a failed write can be
// retried, because only they know if the metered work already happened.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lexledger/internal/billing"
	"lexledger/internal/types"
)

const (
	day = 24 * time.Hour

	// DefaultHistoryLimit and MaxHistoryLimit bound History page sizes.
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// DebitResult is returned by a successful Debit.
type DebitResult struct {
	RemainingBalance int `json:"remaining_balance"`
	AllowanceDebited int `json:"allowance_debited"`
	ExtraDebited     int `json:"extra_debited"`
	Cost             int `json:"cost"`
}

// CreditResult is returned by a successful Credit.
type CreditResult struct {
	NewBalance   int `json:"new_balance"`
	ExtraCredits int `json:"extra_credits"`
}

// ResetResult is returned by Reset. Performed is false when the account's
// reset boundary has not been reached yet.
type ResetResult struct {
	Performed   bool      `json:"performed"`
	Allowance   int       `json:"allowance"`
	NextResetAt time.Time `json:"next_reset_at"`
}

// PlanChangeResult is returned by ApplyPlanChange.
type PlanChangeResult struct {
	PreviousPlan types.PlanTier `json:"previous_plan"`
	Plan         types.PlanTier `json:"plan"`
	Allowance    int            `json:"allowance"`
	NextResetAt  time.Time      `json:"next_reset_at"`
}

// BalanceView is the client-facing snapshot of an account's credits.
type BalanceView struct {
	AccountID                 string             `json:"account_id"`
	Plan                      types.PlanTier     `json:"plan"`
	MonthlyAllowanceRemaining int                `json:"monthly_allowance_remaining"`
	AllowanceAmount           int                `json:"allowance_amount"`
	ExtraCredits              int                `json:"extra_credits"`
	TotalBalance              int                `json:"total_balance"`
	CreditsResetAt            time.Time          `json:"credits_reset_at"`
	DaysUntilReset            int                `json:"days_until_reset"`
	Level                     types.BalanceLevel `json:"level"`
	HasContentModule          bool               `json:"has_content_module"`
}

// HistoryPage is one page of ledger entries, newest first.
type HistoryPage struct {
	Entries    []types.LedgerEntry `json:"entries"`
	NextCursor int64               `json:"next_cursor,omitempty"`
}

// Service is the credit ledger.
type Service struct {
	store    Store
	plans    billing.PlanCatalog
	clock    types.Clock
	metrics  Metrics
	observer BalanceObserver
	logger   *slog.Logger
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c types.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithMetrics installs a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithBalanceObserver installs a post-debit observer.
func WithBalanceObserver(o BalanceObserver) Option {
	return func(s *Service) { s.observer = o }
}

// NewService creates a ledger over store using plans for allowance and
// interval lookups.
func NewService(store Store, plans billing.PlanCatalog, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:   store,
		plans:   plans,
		clock:   types.RealClock{},
		metrics: noopMetrics{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Plans exposes the catalog the ledger was built with.
func (s *Service) Plans() billing.PlanCatalog {
	return s.plans
}

// Account reads an account without locking it.
func (s *Service) Account(ctx context.Context, accountID string) (*types.Account, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, persistenceError("failed to read account", err)
	}
	return acct, nil
}

// OpenAccount creates an account on the free plan with a full free
// allowance and the first reset one interval from now.
func (s *Service) OpenAccount(ctx context.Context, accountID string) (*types.Account, error) {
	if accountID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "account id is required", nil)
	}
	now := s.clock.Now()
	free := s.plans.Lookup(types.PlanFree)

	acct := &types.Account{
		ID:                        accountID,
		Plan:                      types.PlanFree,
		MonthlyAllowanceRemaining: free.AllowanceAmount,
		CreditsResetAt:            now.Add(free.ResetInterval),
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}

	err := s.inTx(ctx, func(tx Tx) error {
		if err := tx.InsertAccount(ctx, acct); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, &types.LedgerEntry{
			AccountID:    accountID,
			ActionType:   types.EntrySignup,
			CreditsDelta: free.AllowanceAmount,
			Description:  "welcome allowance",
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account opened",
		"account_id", accountID,
		"plan", string(acct.Plan),
		"allowance", acct.MonthlyAllowanceRemaining,
	)
	return acct, nil
}

// CheckAffordability reports whether the account's total balance covers
// kind. It has no side effects and is advisory only; Debit re-checks.
func (s *Service) CheckAffordability(ctx context.Context, accountID string, kind types.ActionKind) (bool, error) {
	cost, err := billing.CostOf(kind)
	if err != nil {
		return false, err
	}
	acct, err := s.Account(ctx, accountID)
	if err != nil {
		return false, err
	}
	return acct.TotalBalance() >= cost, nil
}

// Debit charges the cost of kind. It must be called at most once per
// successful external action, after that action succeeded. The allowance
// is drained before extra credits. On InsufficientCredits nothing changes.
func (s *Service) Debit(ctx context.Context, accountID string, kind types.ActionKind, description string) (DebitResult, error) {
	cost, err := billing.CostOf(kind)
	if err != nil {
		return DebitResult{}, err
	}
	if description == "" {
		description = string(kind)
	}

	var (
		res    DebitResult
		before int
		after  types.Account
	)
	err = s.withAccount(ctx, accountID, func(tx Tx, acct *types.Account, now time.Time) error {
		before = acct.TotalBalance()
		if before < cost {
			return types.NewInsufficientCreditsError(cost, before)
		}

		fromAllowance := min(cost, acct.MonthlyAllowanceRemaining)
		fromExtra := cost - fromAllowance
		acct.MonthlyAllowanceRemaining -= fromAllowance
		acct.ExtraCredits -= fromExtra
		acct.UpdatedAt = now

		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, &types.LedgerEntry{
			AccountID:    accountID,
			ActionType:   types.EntryTypeForAction(kind),
			CreditsDelta: -cost,
			Description:  description,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		res = DebitResult{
			RemainingBalance: acct.TotalBalance(),
			AllowanceDebited: fromAllowance,
			ExtraDebited:     fromExtra,
			Cost:             cost,
		}
		after = *acct
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrInsufficientCredits) {
			s.metrics.RecordDebitDenied(ctx, kind)
			s.logger.InfoContext(ctx, "debit denied: insufficient credits",
				"account_id", accountID,
				"action", string(kind),
				"required", cost,
				"available", before,
			)
		}
		return DebitResult{}, err
	}

	s.metrics.RecordDebit(ctx, kind, cost)
	s.logger.InfoContext(ctx, "credits debited",
		"account_id", accountID,
		"action", string(kind),
		"credits", cost,
		"remaining", res.RemainingBalance,
	)

	if s.observer != nil {
		if err := s.observer.BalanceChanged(ctx, after, before); err != nil {
			s.logger.WarnContext(ctx, "balance observer failed",
				"account_id", accountID,
				"error", err,
			)
		}
	}
	return res, nil
}

// Credit adds purchased credits to the extra bucket. The recurring
// allowance is never credited.
func (s *Service) Credit(ctx context.Context, accountID string, amount int, reason string) (CreditResult, error) {
	if amount <= 0 {
		return CreditResult{}, types.NewAppErrorWithDetails(
			types.ErrCodeInternalInvalidAmount,
			"credit amount must be positive",
			nil,
			map[string]any{"amount": amount},
		)
	}
	if reason == "" {
		reason = fmt.Sprintf("%d credits purchased", amount)
	}

	var res CreditResult
	err := s.withAccount(ctx, accountID, func(tx Tx, acct *types.Account, now time.Time) error {
		acct.ExtraCredits += amount
		acct.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, &types.LedgerEntry{
			AccountID:    accountID,
			ActionType:   types.EntryPurchase,
			CreditsDelta: amount,
			Description:  reason,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		res = CreditResult{NewBalance: acct.TotalBalance(), ExtraCredits: acct.ExtraCredits}
		return nil
	})
	if err != nil {
		return CreditResult{}, err
	}

	s.metrics.RecordPurchase(ctx, amount)
	s.logger.InfoContext(ctx, "credits added",
		"account_id", accountID,
		"credits", amount,
		"new_balance", res.NewBalance,
	)
	return res, nil
}

// Reset refills the allowance when the account's reset boundary has
// passed. The next boundary is chained from the previous one, not from now,
// so a late scheduler does not drift the cycle. Calling Reset again inside
// the same interval is a no-op. Extra credits are untouched.
func (s *Service) Reset(ctx context.Context, accountID string) (ResetResult, error) {
	var (
		res  ResetResult
		tier types.PlanTier
	)
	err := s.withAccount(ctx, accountID, func(tx Tx, acct *types.Account, now time.Time) error {
		tier = acct.Plan
		if now.Before(acct.CreditsResetAt) {
			res = ResetResult{Performed: false, NextResetAt: acct.CreditsResetAt}
			return nil
		}

		plan := s.plans.Lookup(acct.Plan)
		acct.MonthlyAllowanceRemaining = plan.AllowanceAmount
		acct.CreditsResetAt = nextBoundary(acct.CreditsResetAt, now, plan.ResetInterval)
		acct.UpdatedAt = now

		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, &types.LedgerEntry{
			AccountID:    accountID,
			ActionType:   types.EntryReset,
			CreditsDelta: plan.AllowanceAmount,
			Description:  fmt.Sprintf("%s allowance renewed", plan.DisplayName),
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		res = ResetResult{
			Performed:   true,
			Allowance:   plan.AllowanceAmount,
			NextResetAt: acct.CreditsResetAt,
		}
		return nil
	})
	if err != nil {
		return ResetResult{}, err
	}

	if res.Performed {
		s.metrics.RecordReset(ctx, tier)
		s.logger.InfoContext(ctx, "allowance reset",
			"account_id", accountID,
			"plan", string(tier),
			"allowance", res.Allowance,
			"next_reset_at", res.NextResetAt,
		)
	}
	return res, nil
}

// ApplyPlanChange moves the account to newPlan, grants the new plan's full
// allowance immediately (no pro-rating) and restarts the reset cycle from
// now. Extra credits are untouched.
func (s *Service) ApplyPlanChange(ctx context.Context, accountID string, newPlan types.PlanTier) (PlanChangeResult, error) {
	if !newPlan.Valid() {
		return PlanChangeResult{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			"unknown plan",
			nil,
			map[string]any{"plan": string(newPlan)},
		)
	}
	plan := s.plans.Lookup(newPlan)

	var res PlanChangeResult
	err := s.withAccount(ctx, accountID, func(tx Tx, acct *types.Account, now time.Time) error {
		previous := acct.Plan
		delta := plan.AllowanceAmount - acct.MonthlyAllowanceRemaining

		acct.Plan = newPlan
		acct.MonthlyAllowanceRemaining = plan.AllowanceAmount
		acct.CreditsResetAt = now.Add(plan.ResetInterval)
		acct.UpdatedAt = now

		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, &types.LedgerEntry{
			AccountID:    accountID,
			ActionType:   types.EntryPlanChange,
			CreditsDelta: delta,
			Description:  fmt.Sprintf("plan changed from %s to %s", previous, newPlan),
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		res = PlanChangeResult{
			PreviousPlan: previous,
			Plan:         newPlan,
			Allowance:    plan.AllowanceAmount,
			NextResetAt:  acct.CreditsResetAt,
		}
		return nil
	})
	if err != nil {
		return PlanChangeResult{}, err
	}

	s.logger.InfoContext(ctx, "plan changed",
		"account_id", accountID,
		"previous_plan", string(res.PreviousPlan),
		"plan", string(res.Plan),
	)
	return res, nil
}

// UnlockContentModule enables the content add-on. Unlocking twice is a
// no-op.
func (s *Service) UnlockContentModule(ctx context.Context, accountID string) error {
	return s.withAccount(ctx, accountID, func(tx Tx, acct *types.Account, now time.Time) error {
		if acct.HasContentModule {
			return nil
		}
		acct.HasContentModule = true
		acct.UpdatedAt = now
		return tx.UpdateAccount(ctx, acct)
	})
}

// Balance returns the client-facing balance snapshot.
func (s *Service) Balance(ctx context.Context, accountID string) (BalanceView, error) {
	acct, err := s.Account(ctx, accountID)
	if err != nil {
		return BalanceView{}, err
	}
	now := s.clock.Now()
	plan := s.plans.Lookup(acct.Plan)

	return BalanceView{
		AccountID:                 acct.ID,
		Plan:                      acct.Plan,
		MonthlyAllowanceRemaining: acct.MonthlyAllowanceRemaining,
		AllowanceAmount:           plan.AllowanceAmount,
		ExtraCredits:              acct.ExtraCredits,
		TotalBalance:              acct.TotalBalance(),
		CreditsResetAt:            acct.CreditsResetAt,
		DaysUntilReset:            daysUntil(now, acct.CreditsResetAt),
		Level:                     types.LevelForBalance(acct.TotalBalance()),
		HasContentModule:          acct.HasContentModule,
	}, nil
}

// History returns ledger entries newest first, limited to the window the
// account's plan allows.
func (s *Service) History(ctx context.Context, accountID string, limit int, cursor int64) (HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	acct, err := s.Account(ctx, accountID)
	if err != nil {
		return HistoryPage{}, err
	}

	var since time.Time
	if days := s.plans.Lookup(acct.Plan).HistoryDays; days > 0 {
		since = s.clock.Now().Add(-time.Duration(days) * day)
	}

	entries, err := s.store.ListEntries(ctx, accountID, since, cursor, limit)
	if err != nil {
		return HistoryPage{}, persistenceError("failed to list ledger entries", err)
	}

	page := HistoryPage{Entries: entries}
	if page.Entries == nil {
		page.Entries = []types.LedgerEntry{}
	}
	if len(entries) == limit {
		page.NextCursor = entries[len(entries)-1].ID
	}
	return page, nil
}

// withAccount runs fn inside a transaction holding the account's row lock.
// fn's error aborts the transaction; a nil error commits it.
func (s *Service) withAccount(ctx context.Context, accountID string, fn func(tx Tx, acct *types.Account, now time.Time) error) error {
	return s.inTx(ctx, func(tx Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		return fn(tx, acct, s.clock.Now())
	})
}

func (s *Service) inTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return persistenceError("failed to begin ledger transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return persistenceError("ledger write failed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return persistenceError("failed to commit ledger transaction", err)
	}
	return nil
}

// persistenceError passes AppErrors through and wraps anything else as a
// ledger persistence failure.
func persistenceError(msg string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeInternalDB, msg, err)
}

// nextBoundary advances prev by whole intervals until it is strictly after
// now.
func nextBoundary(prev, now time.Time, interval time.Duration) time.Time {
	if prev.IsZero() {
		return now.Add(interval)
	}
	elapsed := now.Sub(prev)
	if elapsed < 0 {
		return prev
	}
	steps := elapsed/interval + 1
	return prev.Add(steps * interval)
}

// daysUntil rounds up to whole days and never goes below zero.
func daysUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + day - 1) / day)
}
