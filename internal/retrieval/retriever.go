package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/index"
	"github.com/docqa/backend/internal/models"
	"github.com/docqa/backend/pkg/logger"
)

// Searcher is the read side of an index.
type Searcher interface {
	Query(ctx context.Context, text string, k int) ([]index.Hit, error)
}

type Retriever struct {
	searcher Searcher
	minScore float64
}

type Option func(*Retriever)

// WithMinScore drops hits scoring below min. Zero keeps every hit.
func WithMinScore(min float64) Option {
	return func(r *Retriever) {
		r.minScore = min
	}
}

func NewRetriever(searcher Searcher, opts ...Option) *Retriever {
	r := &Retriever{searcher: searcher}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieval is the outcome of one search. Candidates counts the hits the
// index returned before the MinScore cutoff; zero means the index was empty.
type Retrieval struct {
	Results    []models.RetrievalResult
	Candidates int
}

// Search returns up to topK chunks ordered by non-increasing score.
func (r *Retriever) Search(ctx context.Context, question string, topK int) ([]models.RetrievalResult, error) {
	ret, err := r.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	return ret.Results, nil
}

// Retrieve is Search that also reports how many candidates the index snapshot
// held for the query.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) (Retrieval, error) {
	if topK <= 0 {
		return Retrieval{}, fmt.Errorf("%w: top_k=%d", models.ErrInvalidTopK, topK)
	}

	hits, err := r.searcher.Query(ctx, question, topK)
	if err != nil {
		return Retrieval{}, err
	}

	results := make([]models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		if r.minScore > 0 && h.Score < r.minScore {
			continue
		}
		results = append(results, models.RetrievalResult{
			ChunkID:    h.Chunk.ID,
			DocumentID: h.Chunk.DocumentID,
			Filename:   h.Chunk.Filename,
			ChunkIndex: h.Chunk.Index,
			Text:       h.Chunk.Text,
			Score:      h.Score,
		})
	}

	// Indexes already return ranked hits; the stable sort keeps that tie order
	// for any Searcher that does not.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	logger.Debug("Chunks retrieved",
		zap.Int("top_k", topK),
		zap.Int("hits", len(hits)),
		zap.Int("kept", len(results)),
	)
	return Retrieval{Results: results, Candidates: len(hits)}, nil
}
