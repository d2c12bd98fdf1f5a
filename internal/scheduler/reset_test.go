package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lexledger/internal/billing"
	"lexledger/internal/ledger"
	"lexledger/internal/ledger/sqlite"
	"lexledger/internal/types"
)

// ============================================================
// Mock Implementations
// ============================================================

// mockLister serves a fixed, sorted ID list with keyset paging.
type mockLister struct {
	mu      sync.Mutex
	ids     []string
	calls   []string
	listErr error
}

func (m *mockLister) ListDueAccounts(_ context.Context, _ time.Time, afterID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, afterID)
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []string
	for _, id := range m.ids {
		if id > afterID {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type mockResetter struct {
	mu        sync.Mutex
	failIDs   map[string]bool
	skipIDs   map[string]bool
	processed []string
}

func (m *mockResetter) Reset(_ context.Context, id string) (ledger.ResetResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, id)
	if m.failIDs[id] {
		return ledger.ResetResult{}, errors.New("deadlock detected")
	}
	if m.skipIDs[id] {
		return ledger.ResetResult{Performed: false}, nil
	}
	return ledger.ResetResult{Performed: true}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func accountIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("acct_%03d", i)
	}
	return ids
}

// ============================================================
// Tests
// ============================================================

func TestRunDueResets_PagesThroughAllAccounts(t *testing.T) {
	lister := &mockLister{ids: accountIDs(7)}
	resetter := &mockResetter{}
	s := NewResetScheduler(lister, resetter, testLogger())
	s.batchLimit = 3

	summary, err := s.RunDueResets(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("RunDueResets: %v", err)
	}
	if summary.Scanned != 7 || summary.Reset != 7 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	// Pages: "", acct_002, acct_005 (short page ends the loop).
	if len(lister.calls) != 3 {
		t.Fatalf("expected 3 list calls, got %v", lister.calls)
	}
	if lister.calls[1] != "acct_002" || lister.calls[2] != "acct_005" {
		t.Errorf("unexpected cursors %v", lister.calls)
	}
}

func TestRunDueResets_FailuresDoNotAbortOrLoop(t *testing.T) {
	lister := &mockLister{ids: accountIDs(4)}
	resetter := &mockResetter{
		failIDs: map[string]bool{"acct_001": true},
		skipIDs: map[string]bool{"acct_003": true},
	}
	s := NewResetScheduler(lister, resetter, testLogger())
	s.batchLimit = 2

	summary, err := s.RunDueResets(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("RunDueResets: %v", err)
	}
	want := ResetSummary{Scanned: 4, Reset: 2, Skipped: 1, Failed: 1}
	if summary != want {
		t.Fatalf("expected %+v, got %+v", want, summary)
	}
	if len(resetter.processed) != 4 {
		t.Errorf("each account must be attempted exactly once, got %v", resetter.processed)
	}
}

func TestRunDueResets_ListError(t *testing.T) {
	lister := &mockLister{listErr: errors.New("connection refused")}
	s := NewResetScheduler(lister, &mockResetter{}, testLogger())

	_, err := s.RunDueResets(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunDueResets_NothingDue(t *testing.T) {
	s := NewResetScheduler(&mockLister{}, &mockResetter{}, testLogger())

	summary, err := s.RunDueResets(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("RunDueResets: %v", err)
	}
	if summary != (ResetSummary{}) {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

func TestRunDueResets_AgainstSQLite(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := &types.FixedClock{T: start}
	svc := ledger.NewService(store, billing.NewStaticPlanCatalog(), testLogger(), ledger.WithClock(clock))
	ctx := context.Background()

	if _, err := svc.OpenAccount(ctx, "free-user"); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if _, err := svc.OpenAccount(ctx, "pro-user"); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if _, err := svc.ApplyPlanChange(ctx, "pro-user", types.PlanPro); err != nil {
		t.Fatalf("ApplyPlanChange: %v", err)
	}
	for range 5 {
		if _, err := svc.Debit(ctx, "free-user", types.ActionGenerateSimple, ""); err != nil {
			t.Fatalf("Debit: %v", err)
		}
	}

	// One hour past the free account's boundary.
	clock.T = start.Add(25 * time.Hour)
	s := NewResetScheduler(store, svc, testLogger())

	summary, err := s.RunDueResets(ctx, clock.T)
	if err != nil {
		t.Fatalf("RunDueResets: %v", err)
	}
	if summary.Reset != 1 || summary.Scanned != 1 {
		t.Fatalf("expected only the free account to reset, got %+v", summary)
	}

	acct, err := store.GetAccount(ctx, "free-user")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.MonthlyAllowanceRemaining != 5 {
		t.Errorf("expected allowance 5, got %d", acct.MonthlyAllowanceRemaining)
	}
	if want := start.Add(48 * time.Hour); !acct.CreditsResetAt.Equal(want) {
		t.Errorf("expected boundary %v (prior + 1 day), got %v", want, acct.CreditsResetAt)
	}

	// A second run in the same interval finds nothing due.
	again, err := s.RunDueResets(ctx, clock.T)
	if err != nil {
		t.Fatalf("second RunDueResets: %v", err)
	}
	if again.Scanned != 0 {
		t.Errorf("expected no due accounts, got %+v", again)
	}
}
