package external

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"lexledger/internal/types"
)

// Stubs let the API boot locally without Stripe or AI credentials. They log
// every call and return predictable values.

// StubCheckoutService returns a fake hosted checkout URL.
type StubCheckoutService struct {
	logger *slog.Logger
}

func NewStubCheckoutService(logger *slog.Logger) *StubCheckoutService {
	return &StubCheckoutService{logger: logger}
}

func (s *StubCheckoutService) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (types.CheckoutSession, error) {
	id := "cs_stub_" + uuid.NewString()
	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called",
		"account_id", req.AccountID,
		"kind", string(req.Kind),
		"amount_cents", req.Item.AmountCent,
	)
	return types.CheckoutSession{ID: id, URL: "https://checkout.stub.local/" + id}, nil
}

// StubWebhookVerifier accepts every payload.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Warn("stub: webhook signature not verified", "payload_bytes", len(payload))
	return nil
}

// StubCompleter echoes a canned answer that names the prompt it received.
type StubCompleter struct {
	logger *slog.Logger
}

func NewStubCompleter(logger *slog.Logger) *StubCompleter {
	return &StubCompleter{logger: logger}
}

func (s *StubCompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	s.logger.InfoContext(ctx, "stub: Complete called", "prompt_chars", len(req.User))
	return Completion{
		Content: fmt.Sprintf("[stub completion for a %d character prompt]", len(req.User)),
		Model:   "stub",
	}, nil
}
