package index

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docqa/backend/pkg/logger"
)

const embeddingBatchSize = 100

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	dim     atomic.Int64
}

type OpenAIEmbedderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger.Info("Embedding client initialized",
		zap.String("model", cfg.Model),
		zap.String("base_url", clientCfg.BaseURL),
	)

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

func (e *OpenAIEmbedder) Name() string { return "openai/" + e.model }

func (e *OpenAIEmbedder) Dimension() int { return int(e.dim.Load()) }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	embeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[i:end],
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(resp.Data) != end-i {
			return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), end-i)
		}

		for _, data := range resp.Data {
			embeddings = append(embeddings, data.Embedding)
		}
	}

	if len(embeddings) > 0 {
		e.dim.CompareAndSwap(0, int64(len(embeddings[0])))
	}
	return embeddings, nil
}
