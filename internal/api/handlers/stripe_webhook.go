package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v82"

	"lexledger/internal/billing"
	"lexledger/internal/core"
	"lexledger/internal/external"
	"lexledger/internal/ledger"
	"lexledger/internal/types"
)

// maxWebhookBodySize caps Stripe payloads.
const maxWebhookBodySize = 64 * 1024

// PaymentApplier is the ledger side of a completed payment.
type PaymentApplier interface {
	Credit(ctx context.Context, accountID string, amount int, reason string) (ledger.CreditResult, error)
	ApplyPlanChange(ctx context.Context, accountID string, newPlan types.PlanTier) (ledger.PlanChangeResult, error)
	UnlockContentModule(ctx context.Context, accountID string) error
}

// EventClaimer deduplicates webhook deliveries.
type EventClaimer interface {
	Claim(ctx context.Context, eventID, eventType string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// StripeWebhookHandler applies completed Stripe payments to the ledger. It
// sits outside bearer auth; the Stripe-Signature header authenticates it.
//
// After a valid signature the handler answers 200, except when applying the
// event fails inside our own storage. Then the claim is released and a 500
// asks Stripe to redeliver, so a paid pack is never silently lost.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	ledger   PaymentApplier
	events   EventClaimer
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	l PaymentApplier,
	events EventClaimer,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		ledger:   l,
		events:   events,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts POST /webhooks/stripe.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes one Stripe delivery.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidInput, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing Stripe-Signature header", nil))
		return
	}
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "webhook signature verification failed", err))
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" || event.Data == nil {
		h.logger.ErrorContext(ctx, "failed to parse webhook event", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidInput, "invalid webhook event JSON", err))
		return
	}
	eventType := string(event.Type)

	claimed, err := h.events.Claim(ctx, event.ID, eventType)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to claim webhook event", "event_id", event.ID, "error", err)
		core.Error(w, r, err)
		return
	}
	if !claimed {
		h.logger.InfoContext(ctx, "duplicate webhook delivery ignored",
			"event_id", event.ID,
			"event_type", eventType,
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.logger.InfoContext(ctx, "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", eventType,
	)

	if err := h.routeEvent(ctx, eventType, event.Data.Raw); err != nil {
		if retryable(err) {
			if relErr := h.events.Release(ctx, event.ID); relErr != nil {
				h.logger.ErrorContext(ctx, "failed to release webhook event", "event_id", event.ID, "error", relErr)
			}
			h.logger.ErrorContext(ctx, "webhook event failed, awaiting redelivery",
				"event_id", event.ID,
				"event_type", eventType,
				"error", err,
			)
			core.Error(w, r, err)
			return
		}
		h.logger.ErrorContext(ctx, "webhook event rejected",
			"event_id", event.ID,
			"event_type", eventType,
			"error", err,
		)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, eventType string, raw json.RawMessage) error {
	switch eventType {
	case external.EventStripeCheckoutCompleted, external.EventStripeCheckoutAsyncSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return fmt.Errorf("decoding checkout session: %w", err)
		}
		return h.handleCheckoutCompleted(ctx, &session)

	case external.EventStripeSubDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("decoding subscription: %w", err)
		}
		return h.handleSubscriptionDeleted(ctx, &sub)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type", "event_type", eventType)
		return nil
	}
}

// handleCheckoutCompleted maps the session's kind metadata to a ledger
// operation. Sessions still awaiting an asynchronous payment (boleto) are
// skipped; async_payment_succeeded arrives later for them.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		h.logger.InfoContext(ctx, "checkout completed without payment yet", "session_id", session.ID)
		return nil
	}

	accountID := session.Metadata[types.MetaAccountID]
	if accountID == "" {
		accountID = session.ClientReferenceID
	}
	if accountID == "" {
		return fmt.Errorf("checkout session %s has no account id", session.ID)
	}

	switch kind := types.CheckoutKind(session.Metadata[types.MetaKind]); kind {
	case types.CheckoutCreditPack:
		pack, err := billing.LookupPack(session.Metadata[types.MetaPackID])
		if err != nil {
			return err
		}
		res, err := h.ledger.Credit(ctx, accountID, pack.Credits, "credit pack "+pack.ID)
		if err != nil {
			return err
		}
		h.logger.InfoContext(ctx, "credit pack applied",
			"account_id", accountID,
			"pack_id", pack.ID,
			"credits", pack.Credits,
			"new_balance", res.NewBalance,
		)
		return nil

	case types.CheckoutPlan:
		tier, err := billing.ParsePlanTier(session.Metadata[types.MetaPlan])
		if err != nil {
			return err
		}
		res, err := h.ledger.ApplyPlanChange(ctx, accountID, tier)
		if err != nil {
			return err
		}
		h.logger.InfoContext(ctx, "plan change applied",
			"account_id", accountID,
			"previous_plan", string(res.PreviousPlan),
			"plan", string(res.Plan),
		)
		return nil

	case types.CheckoutContentModule:
		if err := h.ledger.UnlockContentModule(ctx, accountID); err != nil {
			return err
		}
		h.logger.InfoContext(ctx, "content module unlocked", "account_id", accountID)
		return nil

	default:
		return fmt.Errorf("checkout session %s has unknown kind %q", session.ID, kind)
	}
}

// handleSubscriptionDeleted reverts a cancelled subscriber to free.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	accountID := sub.Metadata[types.MetaAccountID]
	if accountID == "" {
		return fmt.Errorf("subscription %s has no account id", sub.ID)
	}
	res, err := h.ledger.ApplyPlanChange(ctx, accountID, types.PlanFree)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "subscription ended, account moved to free",
		"account_id", accountID,
		"previous_plan", string(res.PreviousPlan),
	)
	return nil
}

// retryable reports whether err came from our own storage rather than from
// the event's content.
func retryable(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return strings.HasPrefix(string(appErr.Code), "internal_")
}
