// Package embedding turns free text into dense vectors via an
// OpenAI-compatible embeddings endpoint. Stateless: no in-process cache,
// every request re-embeds from scratch.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
)

var ErrProviderUnavailable = errors.New("embedding: provider unavailable")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
}

func NewOpenAIEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		timeout:    cfg.RequestTimeout,
		logger:     logger,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		observability.EmbeddingRequestDuration.WithLabelValues("error").Observe(duration.Seconds())
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, err)
	}
	if len(resp.Data) == 0 {
		observability.EmbeddingRequestDuration.WithLabelValues("error").Observe(duration.Seconds())
		return nil, fmt.Errorf("%w: empty response", ErrProviderUnavailable)
	}

	observability.EmbeddingRequestDuration.WithLabelValues("success").Observe(duration.Seconds())
	e.logger.Debug("text embedded",
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(resp.Data[0].Embedding)),
	)

	return resp.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("embedding health check: %w", err)
	}
	return nil
}
