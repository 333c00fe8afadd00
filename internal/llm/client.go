// Package llm wraps an OpenAI-compatible chat-completion API for the
// pipeline's JSON-mode calls. Every call is attempted exactly once with a
// bounded timeout; callers apply their own documented fallback on failure.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
)

var (
	// ErrUnavailable covers timeouts, transport errors, and non-2xx API
	// responses.
	ErrUnavailable = errors.New("llm: provider unavailable")
	// ErrMalformedResponse covers responses that are not the JSON object
	// the caller asked for.
	ErrMalformedResponse = errors.New("llm: malformed response")
)

// Client issues a JSON-mode chat completion and returns the raw JSON body of
// the assistant message.
type Client interface {
	CompleteJSON(ctx context.Context, component, systemPrompt, userMessage string) (json.RawMessage, error)
}

type OpenAIClient struct {
	client  *openai.Client
	model   string
	temp    float32
	timeout time.Duration
	logger  *zap.Logger
}

func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		temp:    cfg.Temperature,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}
}

func (c *OpenAIClient) CompleteJSON(ctx context.Context, component, systemPrompt, userMessage string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temp,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		observability.LLMCallsTotal.WithLabelValues(component, "error").Inc()
		c.logger.Warn("llm call failed",
			zap.String("component", component),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, apiErrorDetail(err))
	}

	if len(resp.Choices) == 0 {
		observability.LLMCallsTotal.WithLabelValues(component, "empty").Inc()
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	content := []byte(resp.Choices[0].Message.Content)
	if !json.Valid(content) {
		observability.LLMCallsTotal.WithLabelValues(component, "malformed").Inc()
		return nil, fmt.Errorf("%w: content is not valid JSON", ErrMalformedResponse)
	}

	observability.LLMCallsTotal.WithLabelValues(component, "success").Inc()
	c.logger.Debug("llm call completed",
		zap.String("component", component),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return json.RawMessage(content), nil
}

func apiErrorDetail(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("api error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("request error %d", reqErr.HTTPStatusCode)
	}
	return err.Error()
}
