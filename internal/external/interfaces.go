package external

import (
	"context"

	"lexledger/internal/types"
)

// CheckoutService creates hosted payment pages with the payment provider.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (types.CheckoutSession, error)
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature header
	// and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event types handled by the webhook.
const (
	EventStripeCheckoutCompleted      = "checkout.session.completed"
	EventStripeCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventStripeSubDeleted             = "customer.subscription.deleted"
)

// Completer produces one chat completion from a system and user prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// CompletionRequest is a single-turn prompt. MaxTokens <= 0 uses the
// client's configured limit.
type CompletionRequest struct {
	System    string
	User      string
	MaxTokens int
}

// Completion is the first choice returned by the model.
type Completion struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}
