package index

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/utils"
)

// EmbeddingCache stores vectors by content key.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32) error
}

// CachedEmbedder serves repeated texts from a cache and only sends misses to
// the wrapped embedder. Cache failures fall through to the embedder.
type CachedEmbedder struct {
	inner Embedder
	cache EmbeddingCache
}

func NewCachedEmbedder(inner Embedder, cache EmbeddingCache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (e *CachedEmbedder) Name() string   { return e.inner.Name() }
func (e *CachedEmbedder) Dimension() int { return e.inner.Dimension() }

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		keys[i] = utils.CacheKey(e.inner.Name(), text)
		vec, ok, err := e.cache.GetEmbedding(ctx, keys[i])
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(missTexts))
	}
	for j, vec := range vectors {
		i := missIdx[j]
		out[i] = vec
		if err := e.cache.SetEmbedding(ctx, keys[i], vec); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}
	return out, nil
}
