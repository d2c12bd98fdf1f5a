package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lexledger/internal/assistant"
	"lexledger/internal/billing"
	"lexledger/internal/core"
	"lexledger/internal/types"
)

// ActionPerformer runs a billable AI action.
type ActionPerformer interface {
	Perform(ctx context.Context, accountID string, kind types.ActionKind, in assistant.ActionInput) (assistant.ActionOutput, error)
}

// ActionsHandler exposes the action proxy. It is the only path through
// which end users spend credits.
type ActionsHandler struct {
	assistant ActionPerformer
	validator *core.Validator
	logger    *slog.Logger
}

// NewActionsHandler creates an ActionsHandler.
func NewActionsHandler(a ActionPerformer, v *core.Validator, logger *slog.Logger) *ActionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionsHandler{assistant: a, validator: v, logger: logger}
}

// RegisterRoutes mounts POST /actions/{kind}. The caller applies
// RequireAccount.
func (h *ActionsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/actions/{kind}", h.Perform)
}

// Perform handles POST /v1/actions/{kind}.
func (h *ActionsHandler) Perform(w http.ResponseWriter, r *http.Request) {
	accountID, err := callerAccountID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	kind, err := billing.ParseActionKind(chi.URLParam(r, "kind"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var in assistant.ActionInput
	if err := decodeAndValidate(w, r, h.validator, &in); err != nil {
		core.Error(w, r, err)
		return
	}

	out, err := h.assistant.Perform(r.Context(), accountID, kind, in)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := core.APIResponse{Data: out}
	if !out.Debited {
		resp.Meta = &types.ResponseMeta{Warnings: []string{"credits could not be charged for this action"}}
	}
	core.JSON(w, r, http.StatusOK, resp)
}
