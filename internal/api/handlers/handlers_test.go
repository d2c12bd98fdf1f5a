package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"lexledger/internal/core"
	"lexledger/internal/ledger"
	"lexledger/internal/types"
)

// ---------------------------------------------------------------------------
// Shared fakes
// ---------------------------------------------------------------------------

type creditCall struct {
	AccountID string
	Amount    int
	Reason    string
}

type planCall struct {
	AccountID string
	Plan      types.PlanTier
}

// fakeLedger records calls to every ledger operation the handlers use.
type fakeLedger struct {
	balance    ledger.BalanceView
	history    ledger.HistoryPage
	debit      ledger.DebitResult
	reset      ledger.ResetResult
	err        error
	openErr    error
	historyArg [2]int64

	opened   []string
	debits   []types.ActionKind
	credits  []creditCall
	plans    []planCall
	unlocked []string
	resets   []string
}

func (f *fakeLedger) Balance(_ context.Context, accountID string) (ledger.BalanceView, error) {
	v := f.balance
	v.AccountID = accountID
	return v, f.err
}

func (f *fakeLedger) History(_ context.Context, _ string, limit int, cursor int64) (ledger.HistoryPage, error) {
	f.historyArg = [2]int64{int64(limit), cursor}
	return f.history, f.err
}

func (f *fakeLedger) OpenAccount(_ context.Context, accountID string) (*types.Account, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened = append(f.opened, accountID)
	return &types.Account{ID: accountID, Plan: types.PlanFree, MonthlyAllowanceRemaining: 50}, nil
}

func (f *fakeLedger) Debit(_ context.Context, _ string, kind types.ActionKind, _ string) (ledger.DebitResult, error) {
	f.debits = append(f.debits, kind)
	return f.debit, f.err
}

func (f *fakeLedger) Credit(_ context.Context, accountID string, amount int, reason string) (ledger.CreditResult, error) {
	if f.err != nil {
		return ledger.CreditResult{}, f.err
	}
	f.credits = append(f.credits, creditCall{accountID, amount, reason})
	return ledger.CreditResult{NewBalance: amount, ExtraCredits: amount}, nil
}

func (f *fakeLedger) ApplyPlanChange(_ context.Context, accountID string, plan types.PlanTier) (ledger.PlanChangeResult, error) {
	if f.err != nil {
		return ledger.PlanChangeResult{}, f.err
	}
	f.plans = append(f.plans, planCall{accountID, plan})
	return ledger.PlanChangeResult{PreviousPlan: types.PlanFree, Plan: plan, Allowance: 500}, nil
}

func (f *fakeLedger) UnlockContentModule(_ context.Context, accountID string) error {
	if f.err != nil {
		return f.err
	}
	f.unlocked = append(f.unlocked, accountID)
	return nil
}

func (f *fakeLedger) Reset(_ context.Context, accountID string) (ledger.ResetResult, error) {
	f.resets = append(f.resets, accountID)
	return f.reset, f.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testValidator() *core.Validator {
	return core.NewValidator(discardLogger())
}

type registrar interface {
	RegisterRoutes(r chi.Router)
}

// serve routes req through a chi router so URL params resolve.
func serve(h registrar, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func newRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func asAccount(req *http.Request, accountID string) *http.Request {
	actor := types.Actor{ID: "key_1", Type: types.ActorTypeUser, AccountID: accountID, KeyID: "key_1"}
	return req.WithContext(types.WithActor(req.Context(), actor))
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Meta  *types.ResponseMeta `json:"meta"`
	Error *core.ErrorDetail   `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code types.ErrorCode) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, status, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != string(code) {
		t.Fatalf("error = %+v, want code %s", env.Error, code)
	}
}

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestCallerAccountID_RequiresUserActor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := callerAccountID(req); err == nil {
		t.Fatal("expected error without actor")
	}

	sys := req.WithContext(types.WithActor(req.Context(), types.Actor{ID: "service", Type: types.ActorTypeSystem}))
	if _, err := callerAccountID(sys); err == nil {
		t.Fatal("system actor has no account")
	}

	id, err := callerAccountID(asAccount(req, "acct_1"))
	if err != nil || id != "acct_1" {
		t.Fatalf("callerAccountID = %q, %v", id, err)
	}
}
