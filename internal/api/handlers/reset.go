package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lexledger/internal/core"
	"lexledger/internal/scheduler"
	"lexledger/internal/types"
)

// ResetRunner is the reset scheduler.
type ResetRunner interface {
	RunDueResets(ctx context.Context, now time.Time) (scheduler.ResetSummary, error)
}

// ResetRunResponse is the body returned to the external scheduler.
type ResetRunResponse struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	AccountsReset int       `json:"accounts_reset"`
	Failed        int       `json:"failed"`
	Timestamp     time.Time `json:"timestamp"`
}

// ResetHandler lets an external cron trigger the allowance reset run.
type ResetHandler struct {
	runner ResetRunner
	clock  types.Clock
	logger *slog.Logger
}

// NewResetHandler creates a ResetHandler.
func NewResetHandler(runner ResetRunner, clock types.Clock, logger *slog.Logger) *ResetHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &ResetHandler{runner: runner, clock: clock, logger: logger}
}

// RegisterRoutes mounts POST /internal/credits/reset. The caller admits
// cron and system actors only.
func (h *ResetHandler) RegisterRoutes(r chi.Router) {
	r.Post("/internal/credits/reset", h.Run)
}

// Run handles POST /v1/internal/credits/reset. Per-account failures still
// answer 200; only a failed listing is an error.
func (h *ResetHandler) Run(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now()
	summary, err := h.runner.RunDueResets(r.Context(), now)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "reset run aborted",
			"accounts_reset", summary.Reset,
			"error", err,
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalDB, "reset run failed", err))
		return
	}

	core.JSON(w, r, http.StatusOK, ResetRunResponse{
		Success:       true,
		Message:       fmt.Sprintf("%d accounts reset, %d failed", summary.Reset, summary.Failed),
		AccountsReset: summary.Reset,
		Failed:        summary.Failed,
		Timestamp:     now,
	})
}
