package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"lexledger/internal/types"
)

// AIClientConfig holds the configuration for creating an AIClient.
type AIClientConfig struct {
	// BaseURL of an OpenAI-compatible API, including the /v1 suffix.
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Logger    *slog.Logger
}

// AIClient implements Completer with go-openai. The SDK's transport is a
// BaseClient, so completions share the breaker and retry policy of every
// other outbound call.
type AIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewAIClient creates an AIClient. The httpClient timeout bounds a single
// attempt; generation of long petitions can take close to a minute.
func NewAIClient(httpClient *http.Client, cfg AIClientConfig) *AIClient {
	base := NewBaseClient(
		httpClient,
		"ai-gateway",
		RetryPolicy{
			MaxRetries: 1,
			MinWait:    time.Second,
			MaxWait:    5 * time.Second,
		},
		userAgent,
	)
	return NewAIClientWithBase(base, cfg)
}

// NewAIClientWithBase creates an AIClient over a pre-configured BaseClient.
func NewAIClientWithBase(base *BaseClient, cfg AIClientConfig) *AIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	oc.HTTPClient = base

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AIClient{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

// Complete sends one chat completion request and returns the first choice.
func (c *AIClient) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		mapped := mapAIError(err)
		c.logger.WarnContext(ctx, "ai completion failed",
			"model", c.model,
			"code", string(mapped.Code),
			"error", err,
		)
		return Completion{}, mapped
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Completion{}, types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			"ai provider returned an empty completion",
			nil,
		)
	}

	c.logger.InfoContext(ctx, "ai completion",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// mapAIError translates SDK and transport failures into the AI error codes:
// 429 -> upstream_ai_rate_limited, 402 -> upstream_ai_quota_exhausted,
// anything else -> upstream_unavailable.
func mapAIError(err error) *types.AppError {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var appErr *types.AppError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	case errors.As(err, &appErr):
		// BaseClient already gave up after retrying a 429.
		if appErr.Code == types.ErrCodeUpstreamRateLimited {
			status = http.StatusTooManyRequests
		}
	}

	switch status {
	case http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamAIRateLimited,
			"AI service is rate limited, try again shortly",
			err,
		)
	case http.StatusPaymentRequired:
		return types.NewAppError(
			types.ErrCodeUpstreamAIQuotaExhausted,
			"AI service quota exhausted",
			err,
		)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "AI service timed out", err)
	}
	msg := "AI service unavailable"
	if status != 0 {
		msg = fmt.Sprintf("AI service returned %d", status)
	}
	return types.NewAppError(types.ErrCodeUpstreamUnavailable, msg, err)
}
