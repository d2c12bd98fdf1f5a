package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"lexledger/internal/billing"
	"lexledger/internal/config"
	"lexledger/internal/gate"
	"lexledger/internal/ledger"
	"lexledger/internal/types"
)

type fakeGate struct {
	decision gate.Decision
	err      error
	calls    []types.ActionKind
}

func (f *fakeGate) Authorize(_ context.Context, _ string, kind types.ActionKind) (gate.Decision, error) {
	f.calls = append(f.calls, kind)
	d := f.decision
	d.Action = kind
	return d, f.err
}

type fakeCheckout struct {
	requests []types.CheckoutRequest
	err      error
}

func (f *fakeCheckout) CreateCheckoutSession(_ context.Context, req types.CheckoutRequest) (types.CheckoutSession, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return types.CheckoutSession{}, f.err
	}
	return types.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

type creditsFixture struct {
	ledger   *fakeLedger
	gate     *fakeGate
	checkout *fakeCheckout
	handler  *CreditsHandler
}

func newCreditsFixture() *creditsFixture {
	f := &creditsFixture{
		ledger:   &fakeLedger{},
		gate:     &fakeGate{decision: gate.Decision{Outcome: gate.Authorized, Required: 1, Available: 5}},
		checkout: &fakeCheckout{},
	}
	cfg := &config.Config{}
	cfg.Server.AppURL = "https://app.example.com/"
	cfg.Billing.Currency = "brl"
	f.handler = NewCreditsHandler(f.ledger, f.gate, f.checkout, billing.NewStaticPlanCatalog(), cfg, testValidator(), discardLogger())
	return f
}

func TestCredits_GetBalance(t *testing.T) {
	f := newCreditsFixture()
	f.ledger.balance = ledger.BalanceView{Plan: types.PlanBasic, TotalBalance: 42, Level: types.BalanceOK}

	rec := serve(f.handler, asAccount(newRequest(http.MethodGet, "/credits/balance", nil), "acct_1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var view ledger.BalanceView
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &view); err != nil {
		t.Fatal(err)
	}
	if view.AccountID != "acct_1" || view.TotalBalance != 42 {
		t.Errorf("view = %+v", view)
	}
}

func TestCredits_GetBalanceNotFound(t *testing.T) {
	f := newCreditsFixture()
	f.ledger.err = types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)

	rec := serve(f.handler, asAccount(newRequest(http.MethodGet, "/credits/balance", nil), "acct_missing"))
	expectError(t, rec, http.StatusNotFound, types.ErrCodeNotFoundAccount)
}

func TestCredits_GetHistoryPaginates(t *testing.T) {
	f := newCreditsFixture()
	f.ledger.history = ledger.HistoryPage{
		Entries:    []types.LedgerEntry{{ID: 9, ActionType: types.EntryTypeForAction(types.ActionGenerateSimple), CreditsDelta: -2}},
		NextCursor: 9,
	}

	rec := serve(f.handler, asAccount(newRequest(http.MethodGet, "/credits/history?limit=1&cursor=12", nil), "acct_1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if f.ledger.historyArg != [2]int64{1, 12} {
		t.Errorf("history called with %v", f.ledger.historyArg)
	}
	env := decodeEnvelope(t, rec)
	if env.Meta == nil || env.Meta.Pagination == nil || !env.Meta.Pagination.HasMore || env.Meta.Pagination.NextCursor != "9" {
		t.Errorf("meta = %+v", env.Meta)
	}
}

func TestCredits_GetHistoryRejectsBadLimit(t *testing.T) {
	f := newCreditsFixture()
	rec := serve(f.handler, asAccount(newRequest(http.MethodGet, "/credits/history?limit=abc", nil), "acct_1"))
	expectError(t, rec, http.StatusBadRequest, types.ErrCodeValidationInvalidInput)
}

func TestCredits_Authorize(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		decision    gate.Decision
		wantStatus  int
		wantCode    types.ErrorCode
		wantAllowed bool
	}{
		{name: "allowed", query: "?action=generate_simple", decision: gate.Decision{Outcome: gate.Authorized}, wantStatus: http.StatusOK, wantAllowed: true},
		{name: "denied is still 200", query: "?action=pdf_analysis", decision: gate.Decision{Outcome: gate.DeniedFeatureLocked, Feature: types.FeaturePDFAnalysis}, wantStatus: http.StatusOK},
		{name: "missing action", query: "", wantStatus: http.StatusBadRequest, wantCode: types.ErrCodeValidationMissingField},
		{name: "unknown action", query: "?action=translate", wantStatus: http.StatusBadRequest, wantCode: types.ErrCodeValidationInvalidAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCreditsFixture()
			f.gate.decision = tt.decision

			rec := serve(f.handler, asAccount(newRequest(http.MethodGet, "/credits/authorize"+tt.query, nil), "acct_1"))
			if tt.wantCode != "" {
				expectError(t, rec, tt.wantStatus, tt.wantCode)
				if len(f.gate.calls) != 0 {
					t.Error("gate must not be consulted for bad input")
				}
				return
			}
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			var resp AuthorizeResponse
			if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Allowed != tt.wantAllowed || resp.Outcome != tt.decision.Outcome {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestCredits_CheckoutCreditPack(t *testing.T) {
	f := newCreditsFixture()

	rec := serve(f.handler, asAccount(newRequest(http.MethodPost, "/credits/checkout",
		map[string]string{"kind": "credit_pack", "pack_id": "pack-500"}), "acct_1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.checkout.requests) != 1 {
		t.Fatalf("checkout calls = %d", len(f.checkout.requests))
	}
	got := f.checkout.requests[0]
	if got.AccountID != "acct_1" || got.Kind != types.CheckoutCreditPack {
		t.Errorf("request = %+v", got)
	}
	if got.Item.AmountCent != 5900 || got.Item.Recurring {
		t.Errorf("item = %+v", got.Item)
	}
	if got.Metadata[types.MetaPackID] != "pack-500" || got.Metadata[types.MetaCredits] != "500" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if got.URLs.Success != "https://app.example.com/creditos?checkout=success" {
		t.Errorf("success url = %q", got.URLs.Success)
	}
	if len(f.ledger.credits) != 0 {
		t.Error("checkout must not touch the ledger")
	}
}

func TestCredits_CheckoutPlanAcceptsAlias(t *testing.T) {
	f := newCreditsFixture()

	rec := serve(f.handler, asAccount(newRequest(http.MethodPost, "/credits/checkout",
		map[string]string{"kind": "plan", "plan": "basico"}), "acct_1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := f.checkout.requests[0]
	if got.Metadata[types.MetaPlan] != "basic" || !got.Item.Recurring || got.Item.AmountCent != 3990 {
		t.Errorf("request = %+v", got)
	}
}

func TestCredits_CheckoutRejections(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		setup      func(*creditsFixture)
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"unknown kind", map[string]string{"kind": "gift"}, nil, http.StatusBadRequest, types.ErrCodeValidationInvalidInput},
		{"pack without id", map[string]string{"kind": "credit_pack"}, nil, http.StatusBadRequest, types.ErrCodeValidationInvalidInput},
		{"unknown pack", map[string]string{"kind": "credit_pack", "pack_id": "pack-9"}, nil, http.StatusBadRequest, types.ErrCodeValidationInvalidPack},
		{"free plan", map[string]string{"kind": "plan", "plan": "free"}, nil, http.StatusBadRequest, types.ErrCodeValidationInvalidPlan},
		{"unknown plan", map[string]string{"kind": "plan", "plan": "gold"}, nil, http.StatusBadRequest, types.ErrCodeValidationInvalidPlan},
		{"module already unlocked", map[string]string{"kind": "content_module"},
			func(f *creditsFixture) { f.ledger.balance.HasContentModule = true },
			http.StatusBadRequest, types.ErrCodeValidationInvalidInput},
		{"stripe failure", map[string]string{"kind": "content_module"},
			func(f *creditsFixture) {
				f.checkout.err = types.NewAppError(types.ErrCodeUpstreamStripe, "stripe unavailable", errors.New("502"))
			},
			http.StatusBadGateway, types.ErrCodeUpstreamStripe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCreditsFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			rec := serve(f.handler, asAccount(newRequest(http.MethodPost, "/credits/checkout", tt.body), "acct_1"))
			expectError(t, rec, tt.wantStatus, tt.wantCode)
		})
	}
}
