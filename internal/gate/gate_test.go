package gate

import (
	"context"
	"errors"
	"testing"

	"lexledger/internal/billing"
	"lexledger/internal/types"
)

type mockAccountReader struct {
	accounts map[string]*types.Account
	calls    int
}

func (m *mockAccountReader) Account(_ context.Context, id string) (*types.Account, error) {
	m.calls++
	acct, ok := m.accounts[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return acct, nil
}

func newTestGate(accts ...*types.Account) (*Gate, *mockAccountReader) {
	reader := &mockAccountReader{accounts: make(map[string]*types.Account)}
	for _, a := range accts {
		reader.accounts[a.ID] = a
	}
	return New(reader, billing.NewStaticPlanCatalog(), nil), reader
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name        string
		acct        *types.Account
		kind        types.ActionKind
		wantOutcome Outcome
		wantFeature types.FeatureFlag
	}{
		{
			name:        "free plan cannot analyze pdfs even with balance",
			acct:        &types.Account{ID: "a", Plan: types.PlanFree, MonthlyAllowanceRemaining: 5},
			kind:        types.ActionPDFAnalysis,
			wantOutcome: DeniedFeatureLocked,
			wantFeature: types.FeaturePDFAnalysis,
		},
		{
			name:        "free plan generates with allowance",
			acct:        &types.Account{ID: "a", Plan: types.PlanFree, MonthlyAllowanceRemaining: 5},
			kind:        types.ActionGenerateSimple,
			wantOutcome: Authorized,
		},
		{
			name:        "pro plan with no credits",
			acct:        &types.Account{ID: "a", Plan: types.PlanPro},
			kind:        types.ActionPDFAnalysis,
			wantOutcome: DeniedInsufficientCredits,
		},
		{
			name:        "extra credits count toward balance",
			acct:        &types.Account{ID: "a", Plan: types.PlanBasic, MonthlyAllowanceRemaining: 1, ExtraCredits: 4},
			kind:        types.ActionLongPetition,
			wantOutcome: Authorized,
		},
		{
			name:        "content generation requires the module on any plan",
			acct:        &types.Account{ID: "a", Plan: types.PlanBusiness, MonthlyAllowanceRemaining: 3000},
			kind:        types.ActionGenerateContent,
			wantOutcome: DeniedFeatureLocked,
			wantFeature: types.FeatureContentModule,
		},
		{
			name:        "content module unlocked on free plan",
			acct:        &types.Account{ID: "a", Plan: types.PlanFree, MonthlyAllowanceRemaining: 5, HasContentModule: true},
			kind:        types.ActionGenerateContent,
			wantOutcome: Authorized,
		},
		{
			name:        "feature check comes before balance check",
			acct:        &types.Account{ID: "a", Plan: types.PlanFree},
			kind:        types.ActionPDFAnalysis,
			wantOutcome: DeniedFeatureLocked,
			wantFeature: types.FeaturePDFAnalysis,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGate(tt.acct)
			d, err := g.Authorize(context.Background(), tt.acct.ID, tt.kind)
			if err != nil {
				t.Fatalf("Authorize: %v", err)
			}
			if d.Outcome != tt.wantOutcome {
				t.Fatalf("expected %s, got %s", tt.wantOutcome, d.Outcome)
			}
			if d.Feature != tt.wantFeature {
				t.Errorf("expected feature %q, got %q", tt.wantFeature, d.Feature)
			}
			if d.Allowed() != (tt.wantOutcome == Authorized) {
				t.Errorf("Allowed() inconsistent with outcome")
			}
		})
	}
}

func TestDecisionErr(t *testing.T) {
	g, _ := newTestGate(&types.Account{ID: "a", Plan: types.PlanPro, ExtraCredits: 2})

	d, err := g.Authorize(context.Background(), "a", types.ActionLongPetition)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	denial := d.Err()
	if !errors.Is(denial, types.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", denial)
	}
	var appErr *types.AppError
	if !errors.As(denial, &appErr) {
		t.Fatal("expected AppError")
	}
	if appErr.Details["required"] != 5 || appErr.Details["available"] != 2 {
		t.Errorf("unexpected details %v", appErr.Details)
	}
	if appErr.HTTPStatus() != 402 {
		t.Errorf("expected 402, got %d", appErr.HTTPStatus())
	}

	locked := Decision{Outcome: DeniedFeatureLocked, Feature: types.FeaturePDFAnalysis, Plan: types.PlanFree}
	if !errors.Is(locked.Err(), types.ErrFeatureLocked) {
		t.Errorf("expected feature locked, got %v", locked.Err())
	}

	if (Decision{Outcome: Authorized}).Err() != nil {
		t.Error("authorized decision must not produce an error")
	}
}

func TestAuthorize_UnknownActionSkipsAccountRead(t *testing.T) {
	g, reader := newTestGate(&types.Account{ID: "a", Plan: types.PlanPro})

	_, err := g.Authorize(context.Background(), "a", types.ActionKind("bogus"))
	if !errors.Is(err, types.ErrUnknownAction) {
		t.Fatalf("expected unknown action, got %v", err)
	}
	if reader.calls != 0 {
		t.Errorf("expected no account reads, got %d", reader.calls)
	}
}

func TestAuthorize_AccountNotFound(t *testing.T) {
	g, _ := newTestGate()
	_, err := g.Authorize(context.Background(), "ghost", types.ActionGenerateSimple)
	if !errors.Is(err, types.ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
