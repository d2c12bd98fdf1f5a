package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"lexledger/internal/scheduler"
	"lexledger/internal/types"
)

type fakeRunner struct {
	summary scheduler.ResetSummary
	err     error
	at      []time.Time
}

func (f *fakeRunner) RunDueResets(_ context.Context, now time.Time) (scheduler.ResetSummary, error) {
	f.at = append(f.at, now)
	return f.summary, f.err
}

func TestReset_Run(t *testing.T) {
	runner := &fakeRunner{summary: scheduler.ResetSummary{Scanned: 5, Reset: 4, Failed: 1}}
	h := NewResetHandler(runner, &types.FixedClock{T: testNow}, discardLogger())

	rec := serve(h, newRequest(http.MethodPost, "/internal/credits/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp ResetRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.AccountsReset != 4 || resp.Failed != 1 || !resp.Timestamp.Equal(testNow) {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Message != "4 accounts reset, 1 failed" {
		t.Errorf("message = %q", resp.Message)
	}
	if len(runner.at) != 1 || !runner.at[0].Equal(testNow) {
		t.Errorf("runner called at %v", runner.at)
	}
}

func TestReset_ListingFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("listing due accounts: connection refused")}
	h := NewResetHandler(runner, &types.FixedClock{T: testNow}, discardLogger())

	rec := serve(h, newRequest(http.MethodPost, "/internal/credits/reset", nil))
	expectError(t, rec, http.StatusInternalServerError, types.ErrCodeInternalDB)
}
