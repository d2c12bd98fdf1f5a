package external

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"lexledger/internal/config"
)

// ClientRegistry is the single place the rest of the application gets its
// third-party clients from.
type ClientRegistry struct {
	Checkout       CheckoutService
	StripeVerifier WebhookVerifier
	AI             Completer
}

// NewClientRegistry builds real clients from cfg. In the local environment a
// client whose credential is missing is replaced by its stub; anywhere else a
// missing credential is an error.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := &ClientRegistry{}
	var errs []error

	if cfg.Billing.StripeSecretKey.IsSet() {
		reg.Checkout = NewStripeClient(&http.Client{Timeout: 20 * time.Second}, StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger.With("client", "stripe"),
		})
	} else if cfg.IsLocal() {
		reg.Checkout = NewStubCheckoutService(logger.With("mode", "stub"))
	} else {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required outside local"))
	}

	if cfg.Billing.StripeWebhookSecret.IsSet() {
		reg.StripeVerifier = &StripeVerifier{}
	} else if cfg.IsLocal() {
		reg.StripeVerifier = NewStubWebhookVerifier(logger.With("mode", "stub"))
	} else {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required outside local"))
	}

	if cfg.AI.APIKey.IsSet() {
		reg.AI = NewAIClient(&http.Client{Timeout: cfg.AI.Timeout}, AIClientConfig{
			BaseURL:   cfg.AI.GatewayURL,
			APIKey:    cfg.AI.APIKey.Unmask(),
			Model:     cfg.AI.Model,
			MaxTokens: cfg.AI.MaxTokens,
			Logger:    logger.With("client", "ai"),
		})
	} else if cfg.IsLocal() {
		reg.AI = NewStubCompleter(logger.With("mode", "stub"))
	} else {
		errs = append(errs, errors.New("AI_API_KEY is required outside local"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return reg, nil
}
