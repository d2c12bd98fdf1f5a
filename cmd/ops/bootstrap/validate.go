package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sashabaranov/go-openai"
)

// ValidationResult is the outcome of checking one operator input.
type ValidationResult struct {
	Valid   bool
	Message string
}

// HTTPClient is satisfied by *http.Client and by test doubles.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DatabaseConnector opens and immediately closes a connection to dsn.
type DatabaseConnector interface {
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector dials with pgx.
type PgxConnector struct{}

func (c *PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

// Validator probes the values the operator pastes in before they are stored.
type Validator struct {
	httpClient HTTPClient
	dbConn     DatabaseConnector
	stripeBase string
	aiBaseURL  string
}

// NewValidator uses a real HTTP client, pgx and the public API endpoints.
func NewValidator() *Validator {
	return NewValidatorWithDeps(&http.Client{Timeout: 10 * time.Second}, &PgxConnector{})
}

// NewValidatorWithDeps injects the network dependencies.
func NewValidatorWithDeps(httpClient HTTPClient, dbConn DatabaseConnector) *Validator {
	return &Validator{
		httpClient: httpClient,
		dbConn:     dbConn,
		stripeBase: "https://api.stripe.com",
		aiBaseURL:  openai.DefaultConfig("").BaseURL,
	}
}

const validateTimeout = 15 * time.Second

// ValidateDatabaseURL checks the scheme and then connects once with pgx.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ValidationResult{Message: "database URL must not be empty"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("invalid URL format: %v", err)}
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return ValidationResult{Message: fmt.Sprintf("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme)}
	}
	if parsed.Hostname() == "" {
		return ValidationResult{Message: "database URL has no host"}
	}

	connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.dbConn.Connect(connCtx, rawURL); err != nil {
		return ValidationResult{Message: fmt.Sprintf("connection failed: %v", err)}
	}

	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("database connection verified (host=%s)", parsed.Hostname()),
	}
}

var stripeKeyRegex = regexp.MustCompile(`^sk_(test|live)_[0-9a-zA-Z]{24,}$`)

// ValidateStripeKey checks the key format and probes GET /v1/account, the
// lightest call that proves the key works.
func (v *Validator) ValidateStripeKey(ctx context.Context, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if !stripeKeyRegex.MatchString(key) {
		return ValidationResult{Message: "Stripe secret key must match format sk_(test|live)_[alphanumeric 24+ chars]"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, v.stripeBase+"/v1/account", nil)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "LexLedger-Bootstrap/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("Stripe API probe failed: %v", err)}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusUnauthorized {
		return ValidationResult{Message: "Stripe API returned 401 Unauthorized: key is invalid or revoked"}
	}
	if resp.StatusCode != http.StatusOK {
		return ValidationResult{Message: fmt.Sprintf("Stripe API returned HTTP %d: %s", resp.StatusCode, truncateBody(body, 200))}
	}

	var account struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &account)

	mode := "test"
	if strings.HasPrefix(key, "sk_live_") {
		mode = "live"
	}
	msg := fmt.Sprintf("Stripe key verified [%s mode]", mode)
	if account.ID != "" {
		msg += fmt.Sprintf(" (account: %s)", account.ID)
	}
	return ValidationResult{Valid: true, Message: msg}
}

// ValidateAIKey lists models on the gateway with the key.
func (v *Validator) ValidateAIKey(ctx context.Context, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if len(key) < 20 {
		return ValidationResult{Message: "AI API key looks too short"}
	}

	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = v.aiBaseURL
	cfg.HTTPClient = v.httpClient
	client := openai.NewClientWithConfig(cfg)

	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	models, err := client.ListModels(probeCtx)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("AI gateway probe failed: %v", err)}
	}
	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("AI key verified (%d models visible)", len(models.Models)),
	}
}

// ValidateRegex is for values that cannot be probed without side effects.
func (v *Validator) ValidateRegex(_ context.Context, input, pattern, fieldName string) ValidationResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return ValidationResult{Message: fmt.Sprintf("%s must not be empty", fieldName)}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("invalid regex pattern %q: %v", pattern, err)}
	}
	if !re.MatchString(input) {
		return ValidationResult{Message: fmt.Sprintf("%s does not match expected format (pattern: %s)", fieldName, pattern)}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("%s format validated", fieldName)}
}

func truncateBody(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
