package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lexledger/internal/billing"
	"lexledger/internal/core"
)

// PlansResponse is the public price list.
type PlansResponse struct {
	Plans                   []billing.PlanDefinition `json:"plans"`
	Costs                   []billing.ActionPrice    `json:"costs"`
	CreditPacks             []billing.CreditPack     `json:"credit_packs"`
	ContentModulePriceCents int                      `json:"content_module_price_cents"`
}

// PlansHandler serves the static commercial tables.
type PlansHandler struct {
	catalog billing.PlanCatalog
}

// NewPlansHandler creates a PlansHandler.
func NewPlansHandler(catalog billing.PlanCatalog) *PlansHandler {
	return &PlansHandler{catalog: catalog}
}

// RegisterRoutes mounts GET /plans. The path is public.
func (h *PlansHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.List)
}

// List handles GET /v1/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	core.Data(w, r, http.StatusOK, PlansResponse{
		Plans:                   h.catalog.All(),
		Costs:                   billing.CostTable(),
		CreditPacks:             billing.CreditPacks(),
		ContentModulePriceCents: billing.ContentModulePriceCents,
	})
}
