// Package main is the entrypoint for the Resetter Lambda function.
//
// A schedule rule sends a MaintenancePayload every hour. The handler takes a
// distributed job lock for the hour, records the run in job_history and
// refills the allowance of every account whose reset boundary has passed.
//
// Outside Lambda the binary performs a single run and exits, which is how
// local SQLite ledgers are reset.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"lexledger/internal/billing"
	"lexledger/internal/config"
	"lexledger/internal/db"
	"lexledger/internal/ledger"
	"lexledger/internal/ledger/sqlite"
	"lexledger/internal/scheduler"
)

// lockTTL covers the Lambda timeout with margin.
const lockTTL = 15 * time.Minute

// ResetRunner is the scheduler operation the handler drives.
type ResetRunner interface {
	RunDueResets(ctx context.Context, now time.Time) (scheduler.ResetSummary, error)
}

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Handler holds the dependencies for the resetter.
//
// JobLock and JobHistory are nil for SQLite ledgers, which have a single
// writer and no job tables.
type Handler struct {
	Resets     ResetRunner
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Logger     *slog.Logger
}

// Handle runs one scheduled task:
//  1. Determine the reference time.
//  2. Acquire the lock "task:YYYY-MM-DDTHH".
//  3. Record job start.
//  4. Dispatch.
//  5. Record completion with status and item count.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "resetter invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	if h.JobLock != nil {
		lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
		acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
		if err != nil {
			logger.ErrorContext(ctx, "failed to acquire job lock",
				"lock_id", lockID,
				"error", err,
			)
			return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "job lock not acquired, another worker is processing",
				"lock_id", lockID,
			)
			return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
		}
	}

	var jobID int64
	if h.JobHistory != nil {
		id, err := h.JobHistory.Start(ctx, taskStr)
		if err != nil {
			// History is operational visibility only; the run proceeds.
			logger.ErrorContext(ctx, "failed to start job history",
				"task", taskStr,
				"error", err,
			)
		} else {
			jobID = id
		}
	}

	summary, execErr := h.dispatch(ctx, payload.Task, now)

	status := "success"
	switch {
	case execErr != nil:
		status = "failed"
	case summary.Failed > 0:
		status = "partial"
	}

	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, summary.Reset, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"task", taskStr,
				"error", finishErr,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", execErr,
			"reset_before_error", summary.Reset,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d accounts reset, %d failed", taskStr, summary.Reset, summary.Failed)
	logger.InfoContext(ctx, result,
		"task", taskStr,
		"scanned", summary.Scanned,
		"reset", summary.Reset,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (scheduler.ResetSummary, error) {
	switch task {
	case scheduler.TaskResetCredits:
		return h.Resets.RunDueResets(ctx, now)
	default:
		return scheduler.ResetSummary{}, fmt.Errorf("unknown task type: %q", task)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Resetter initializing (cold start)")

	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
		logger.Error("Failed to resolve SSM secrets", "error", err)
		os.Exit(1)
	}

	handler, cleanup, err := newHandler(context.Background(), logger)
	if err != nil {
		logger.Error("Failed to initialize resetter", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	logger.Info("Resetter initialized", "worker_id", handler.WorkerID)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		lambda.Start(handler.Handle)
		return
	}

	result, err := handler.Handle(context.Background(), scheduler.MaintenancePayload{Task: scheduler.TaskResetCredits})
	if err != nil {
		logger.Error("reset run failed", "error", err)
		cleanup()
		os.Exit(1)
	}
	fmt.Println(result)
}

// newHandler opens the ledger named by LEDGER_DRIVER and wires the
// scheduler. The returned cleanup closes the store.
func newHandler(ctx context.Context, logger *slog.Logger) (*Handler, func(), error) {
	catalog := billing.NewStaticPlanCatalog()
	h := &Handler{
		WorkerID: uuid.New().String(),
		Logger:   logger,
	}

	if os.Getenv("LEDGER_DRIVER") == "sqlite" {
		path := os.Getenv("SQLITE_PATH")
		if path == "" {
			path = "lexledger.db"
		}
		store, err := sqlite.New(path)
		if err != nil {
			return nil, nil, err
		}
		svc := ledger.NewService(store, catalog, logger)
		h.Resets = scheduler.NewResetScheduler(store, svc, logger)
		return h, func() { _ = store.Close() }, nil
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("creating pool: %w", err)
	}

	store := db.NewLedgerStore(pool)
	svc := ledger.NewService(store, catalog, logger)
	h.Resets = scheduler.NewResetScheduler(store, svc, logger)
	h.JobLock = db.NewJobLockRepository(pool)
	h.JobHistory = db.NewJobHistoryRepository(pool)
	return h, pool.Close, nil
}
