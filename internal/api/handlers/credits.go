package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lexledger/internal/billing"
	"lexledger/internal/config"
	"lexledger/internal/core"
	"lexledger/internal/external"
	"lexledger/internal/gate"
	"lexledger/internal/ledger"
	"lexledger/internal/types"
)

// BalanceReader is the read side of the ledger exposed to account holders.
type BalanceReader interface {
	Balance(ctx context.Context, accountID string) (ledger.BalanceView, error)
	History(ctx context.Context, accountID string, limit int, cursor int64) (ledger.HistoryPage, error)
}

// UsageAuthorizer is the usage gate.
type UsageAuthorizer interface {
	Authorize(ctx context.Context, accountID string, kind types.ActionKind) (gate.Decision, error)
}

// CheckoutRequest is the body of POST /v1/credits/checkout. PackID is
// required for credit packs and Plan for plan upgrades.
type CheckoutRequest struct {
	Kind   types.CheckoutKind `json:"kind" validate:"required,oneof=credit_pack plan content_module"`
	PackID string             `json:"pack_id,omitempty" validate:"required_if=Kind credit_pack"`
	Plan   string             `json:"plan,omitempty" validate:"required_if=Kind plan"`
}

// AuthorizeResponse is the result of GET /v1/credits/authorize.
type AuthorizeResponse struct {
	Allowed bool `json:"allowed"`
	gate.Decision
}

// CreditsHandler serves an account holder's balance, history, advisory
// authorization and Stripe checkout.
type CreditsHandler struct {
	ledger    BalanceReader
	gate      UsageAuthorizer
	checkout  external.CheckoutService
	catalog   billing.PlanCatalog
	validator *core.Validator
	currency  string
	appURL    string
	logger    *slog.Logger
}

// NewCreditsHandler creates a CreditsHandler. Checkout redirects land on
// cfg.Server.AppURL.
func NewCreditsHandler(
	l BalanceReader,
	g UsageAuthorizer,
	checkout external.CheckoutService,
	catalog billing.PlanCatalog,
	cfg *config.Config,
	v *core.Validator,
	logger *slog.Logger,
) *CreditsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &CreditsHandler{
		ledger:    l,
		gate:      g,
		checkout:  checkout,
		catalog:   catalog,
		validator: v,
		currency:  "brl",
		logger:    logger,
	}
	if cfg != nil {
		h.appURL = strings.TrimRight(cfg.Server.AppURL, "/")
		if cfg.Billing.Currency != "" {
			h.currency = cfg.Billing.Currency
		}
	}
	return h
}

// RegisterRoutes mounts the /credits endpoints. The caller applies
// RequireAccount.
func (h *CreditsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/credits/balance", h.GetBalance)
	r.Get("/credits/history", h.GetHistory)
	r.Get("/credits/authorize", h.Authorize)
	r.Post("/credits/checkout", h.CreateCheckout)
}

// GetBalance handles GET /v1/credits/balance.
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := callerAccountID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	view, err := h.ledger.Balance(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, view)
}

// GetHistory handles GET /v1/credits/history?limit=&cursor=.
func (h *CreditsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID, err := callerAccountID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	cursor, err := queryInt(r, "cursor")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	page, err := h.ledger.History(r.Context(), accountID, int(limit), cursor)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	info := &types.PageInfo{HasMore: page.NextCursor != 0}
	if info.HasMore {
		info.NextCursor = strconv.FormatInt(page.NextCursor, 10)
	}
	resp := core.APIResponse{Data: page.Entries, Meta: &types.ResponseMeta{Pagination: info}}
	core.JSON(w, r, http.StatusOK, resp)
}

// Authorize handles GET /v1/credits/authorize?action=. The check is
// advisory: a denial is a 200 with allowed=false, and the debit re-checks.
func (h *CreditsHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	accountID, err := callerAccountID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	raw := r.URL.Query().Get("action")
	if raw == "" {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"action is required", nil, map[string]any{"fields": map[string]any{"action": "required"}}))
		return
	}
	kind, err := billing.ParseActionKind(raw)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	decision, err := h.gate.Authorize(r.Context(), accountID, kind)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, AuthorizeResponse{Allowed: decision.Allowed(), Decision: decision})
}

// CreateCheckout handles POST /v1/credits/checkout. The ledger is only
// touched later, by the Stripe webhook.
func (h *CreditsHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	accountID, err := callerAccountID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	var req CheckoutRequest
	if err := decodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	checkout, err := h.buildCheckout(r.Context(), accountID, req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.checkout.CreateCheckoutSession(r.Context(), checkout)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create checkout session",
			"account_id", accountID,
			"kind", string(req.Kind),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"account_id", accountID,
		"kind", string(req.Kind),
		"session_id", session.ID,
	)
	core.Data(w, r, http.StatusCreated, session)
}

func (h *CreditsHandler) buildCheckout(ctx context.Context, accountID string, req CheckoutRequest) (types.CheckoutRequest, error) {
	out := types.CheckoutRequest{
		AccountID: accountID,
		Kind:      req.Kind,
		URLs: types.RedirectURLs{
			Success: h.appURL + "/creditos?checkout=success",
			Cancel:  h.appURL + "/creditos?checkout=cancel",
		},
	}

	switch req.Kind {
	case types.CheckoutCreditPack:
		pack, err := billing.LookupPack(req.PackID)
		if err != nil {
			return out, err
		}
		out.Item = types.CheckoutItem{
			Name:       fmt.Sprintf("%d créditos", pack.Credits),
			AmountCent: pack.PriceCents,
			Currency:   pack.Currency,
		}
		out.Metadata = map[string]string{
			types.MetaPackID:  pack.ID,
			types.MetaCredits: strconv.Itoa(pack.Credits),
		}

	case types.CheckoutPlan:
		tier, ok := core.NormalizePlanTier(req.Plan)
		if !ok {
			return out, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPlan,
				"unknown plan", nil, map[string]any{"plan": req.Plan})
		}
		def := h.catalog.Lookup(tier)
		if def.MonthlyPriceCents == 0 {
			return out, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPlan,
				"plan is not purchasable", nil, map[string]any{"plan": string(tier)})
		}
		out.Item = types.CheckoutItem{
			Name:       "Plano " + def.DisplayName,
			AmountCent: def.MonthlyPriceCents,
			Currency:   h.currency,
			Recurring:  true,
		}
		out.Metadata = map[string]string{types.MetaPlan: string(tier)}

	case types.CheckoutContentModule:
		view, err := h.ledger.Balance(ctx, accountID)
		if err != nil {
			return out, err
		}
		if view.HasContentModule {
			return out, types.NewAppError(types.ErrCodeValidationInvalidInput, "content module already unlocked", nil)
		}
		out.Item = types.CheckoutItem{
			Name:       "Módulo de conteúdo",
			AmountCent: billing.ContentModulePriceCents,
			Currency:   h.currency,
		}
	}
	return out, nil
}
