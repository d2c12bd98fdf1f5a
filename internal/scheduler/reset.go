package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lexledger/internal/ledger"
)

const (
	// DefaultBatchLimit is the page size for due-account listing.
	DefaultBatchLimit = 50

	// DefaultConcurrency bounds parallel resets within a page. Each reset
	// holds a row lock and a pool connection for its transaction.
	DefaultConcurrency = 4
)

// DueAccountLister pages through accounts whose reset boundary has passed.
// Results are ordered by ID and strictly after afterID.
type DueAccountLister interface {
	ListDueAccounts(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error)
}

// Resetter is the ledger operation the scheduler drives.
type Resetter interface {
	Reset(ctx context.Context, accountID string) (ledger.ResetResult, error)
}

// ResetSummary reports one scheduler run.
type ResetSummary struct {
	Scanned int `json:"scanned"`
	Reset   int `json:"accounts_reset"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ResetScheduler refills allowances for every account whose reset boundary
// has passed. Each account is reset in its own ledger transaction; a failed
// account is logged and counted and is retried on the next run because its
// boundary is still in the past.
type ResetScheduler struct {
	lister      DueAccountLister
	ledger      Resetter
	batchLimit  int
	concurrency int
	logger      *slog.Logger
}

// NewResetScheduler creates a ResetScheduler with default batch size and
// concurrency.
func NewResetScheduler(lister DueAccountLister, l Resetter, logger *slog.Logger) *ResetScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetScheduler{
		lister:      lister,
		ledger:      l,
		batchLimit:  DefaultBatchLimit,
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
}

// RunDueResets processes all accounts due at now. It returns an error only
// when listing fails; per-account failures are reflected in the summary.
func (s *ResetScheduler) RunDueResets(ctx context.Context, now time.Time) (ResetSummary, error) {
	var (
		summary ResetSummary
		mu      sync.Mutex
		afterID string
	)

	for {
		ids, err := s.lister.ListDueAccounts(ctx, now, afterID, s.batchLimit)
		if err != nil {
			return summary, fmt.Errorf("listing due accounts: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		s.logger.InfoContext(ctx, "processing due accounts batch",
			"batch_size", len(ids),
			"total_so_far", summary.Scanned,
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, id := range ids {
			g.Go(func() error {
				res, err := s.ledger.Reset(gctx, id)

				mu.Lock()
				defer mu.Unlock()
				summary.Scanned++
				switch {
				case err != nil:
					summary.Failed++
					s.logger.ErrorContext(ctx, "failed to reset account allowance",
						"account_id", id,
						"error", err,
					)
				case res.Performed:
					summary.Reset++
				default:
					// Another run reset it between listing and locking.
					summary.Skipped++
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return summary, err
		}

		afterID = ids[len(ids)-1]
		if len(ids) < s.batchLimit {
			break
		}
	}

	s.logger.InfoContext(ctx, "allowance reset run complete",
		"scanned", summary.Scanned,
		"reset", summary.Reset,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}
