package index

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

const DefaultHashingDimension = 256

// HashingEmbedder projects token counts into a fixed number of buckets with
// signed feature hashing. It is local and deterministic, and its dimension
// does not depend on the corpus.
type HashingEmbedder struct {
	dim int
}

func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	return &HashingEmbedder{dim: dim}
}

func (e *HashingEmbedder) Name() string   { return fmt.Sprintf("hashing-%d", e.dim) }
func (e *HashingEmbedder) Dimension() int { return e.dim }

func (e *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *HashingEmbedder) embedOne(text string) []float32 {
	vec := make([]float64, e.dim)
	for _, tok := range Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		sign := 1.0
		if sum>>63 == 1 {
			sign = -1.0
		}
		vec[sum%uint64(e.dim)] += sign
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dim)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
