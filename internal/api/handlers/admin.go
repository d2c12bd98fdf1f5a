package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"lexledger/internal/billing"
	"lexledger/internal/core"
	"lexledger/internal/ledger"
	"lexledger/internal/types"
)

// AccountAdmin is the write side of the ledger reserved for trusted
// backends.
type AccountAdmin interface {
	OpenAccount(ctx context.Context, accountID string) (*types.Account, error)
	Debit(ctx context.Context, accountID string, kind types.ActionKind, description string) (ledger.DebitResult, error)
	Credit(ctx context.Context, accountID string, amount int, reason string) (ledger.CreditResult, error)
	ApplyPlanChange(ctx context.Context, accountID string, newPlan types.PlanTier) (ledger.PlanChangeResult, error)
	Reset(ctx context.Context, accountID string) (ledger.ResetResult, error)
}

// KeyIssuer mints account API keys.
type KeyIssuer interface {
	Issue(ctx context.Context, accountID string) (string, *types.APIKey, error)
}

// OpenAccountRequest is the body of POST /v1/admin/accounts. An empty
// AccountID gets a generated one; a non-free Plan is applied right after
// the account is opened.
type OpenAccountRequest struct {
	AccountID string `json:"account_id,omitempty" validate:"omitempty,max=64"`
	Plan      string `json:"plan,omitempty" validate:"omitempty,plan_tier"`
}

// OpenAccountResponse carries the only copy of the plaintext API key.
type OpenAccountResponse struct {
	Account *types.Account `json:"account"`
	APIKey  string         `json:"api_key"`
	KeyID   string         `json:"key_id"`
}

// AdminDebitRequest is the body of POST /v1/admin/accounts/{id}/debit.
type AdminDebitRequest struct {
	Action      string `json:"action" validate:"required"`
	Description string `json:"description,omitempty" validate:"max=200"`
}

// AdminCreditRequest is the body of POST /v1/admin/accounts/{id}/credit.
type AdminCreditRequest struct {
	Amount int    `json:"amount" validate:"required,min=1"`
	Reason string `json:"reason" validate:"required,max=200"`
}

// PlanChangeRequest is the body of POST /v1/admin/accounts/{id}/plan.
type PlanChangeRequest struct {
	Plan string `json:"plan" validate:"required,plan_tier"`
}

// AdminHandler exposes ledger mutations to the service-role caller.
type AdminHandler struct {
	ledger    AccountAdmin
	keys      KeyIssuer
	validator *core.Validator
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(l AccountAdmin, keys KeyIssuer, v *core.Validator, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{ledger: l, keys: keys, validator: v, logger: logger}
}

// RegisterRoutes mounts /admin/accounts. The caller applies RequireSystem.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin/accounts", func(r chi.Router) {
		r.Post("/", h.OpenAccount)
		r.Post("/{id}/debit", h.Debit)
		r.Post("/{id}/credit", h.Credit)
		r.Post("/{id}/plan", h.ChangePlan)
		r.Post("/{id}/reset", h.Reset)
	})
}

// OpenAccount handles POST /v1/admin/accounts.
func (h *AdminHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := decodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.AccountID == "" {
		req.AccountID = uuid.NewString()
	}

	acct, err := h.ledger.OpenAccount(r.Context(), req.AccountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if tier, _ := core.NormalizePlanTier(req.Plan); req.Plan != "" && tier != types.PlanFree {
		res, err := h.ledger.ApplyPlanChange(r.Context(), acct.ID, tier)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		acct.Plan = res.Plan
		acct.MonthlyAllowanceRemaining = res.Allowance
		acct.CreditsResetAt = res.NextResetAt
	}

	plaintext, key, err := h.keys.Issue(r.Context(), acct.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "account opened but key issuance failed",
			"account_id", acct.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.Data(w, r, http.StatusCreated, OpenAccountResponse{
		Account: acct,
		APIKey:  plaintext,
		KeyID:   key.ID,
	})
}

// Debit handles POST /v1/admin/accounts/{id}/debit.
func (h *AdminHandler) Debit(w http.ResponseWriter, r *http.Request) {
	var req AdminDebitRequest
	if err := decodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	kind, err := billing.ParseActionKind(req.Action)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.ledger.Debit(r.Context(), chi.URLParam(r, "id"), kind, req.Description)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, res)
}

// Credit handles POST /v1/admin/accounts/{id}/credit.
func (h *AdminHandler) Credit(w http.ResponseWriter, r *http.Request) {
	var req AdminCreditRequest
	if err := decodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.ledger.Credit(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Reason)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, res)
}

// ChangePlan handles POST /v1/admin/accounts/{id}/plan.
func (h *AdminHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanChangeRequest
	if err := decodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	tier, _ := core.NormalizePlanTier(req.Plan)

	res, err := h.ledger.ApplyPlanChange(r.Context(), chi.URLParam(r, "id"), tier)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, res)
}

// Reset handles POST /v1/admin/accounts/{id}/reset. A reset before the
// boundary is a 200 with performed=false.
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.Reset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, res)
}
