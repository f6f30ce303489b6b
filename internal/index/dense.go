package index

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/models"
	"github.com/docqa/backend/pkg/logger"
)

// Embedder turns texts into fixed-dimension vectors.
type Embedder interface {
	Name() string
	// Dimension is 0 until the embedder knows its output size.
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type denseSnapshot struct {
	dim     int
	chunks  []models.Chunk
	vectors [][]float32
}

// DenseIndex stores one embedding per chunk. Inserts only append, so vectors
// already indexed are never recomputed.
type DenseIndex struct {
	embedder Embedder

	mu      sync.Mutex
	nextSeq int64
	current atomic.Pointer[denseSnapshot]
}

func NewDenseIndex(embedder Embedder) *DenseIndex {
	idx := &DenseIndex{embedder: embedder}
	idx.current.Store(&denseSnapshot{})
	return idx
}

func (idx *DenseIndex) Name() string { return TypeDense + "/" + idx.embedder.Name() }

func (idx *DenseIndex) Size() int {
	return len(idx.current.Load().chunks)
}

func (idx *DenseIndex) Insert(ctx context.Context, chunks []models.Chunk) error {
	batch, err := idx.Prepare(ctx, chunks)
	if err != nil {
		return err
	}
	return idx.Commit(batch)
}

// Prepare embeds the chunks. Embedding can go over the network, so it runs
// without the index lock.
func (idx *DenseIndex) Prepare(ctx context.Context, chunks []models.Chunk) (*Batch, error) {
	if len(chunks) == 0 {
		return &Batch{owner: idx}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed chunks: %v", models.ErrIndex, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d, expected %d",
			models.ErrIndex, len(vectors), len(chunks))
	}
	return &Batch{owner: idx, chunks: chunks, vectors: vectors}, nil
}

// Commit appends a prepared batch. A vector whose dimension differs from the
// index fails the whole batch and leaves the index as it was.
func (idx *DenseIndex) Commit(batch *Batch) error {
	if err := checkBatch(idx, batch); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	old := idx.current.Load()
	dim := old.dim
	if dim == 0 {
		dim = idx.embedder.Dimension()
	}
	if dim == 0 {
		dim = len(batch.vectors[0])
	}
	for i, v := range batch.vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector dimension mismatch for chunk %s: got %d, expected %d",
				models.ErrIndex, batch.chunks[i].ID, len(v), dim)
		}
	}

	next := &denseSnapshot{
		dim:     dim,
		chunks:  make([]models.Chunk, len(old.chunks), len(old.chunks)+batch.Len()),
		vectors: make([][]float32, len(old.vectors), len(old.vectors)+batch.Len()),
	}
	copy(next.chunks, old.chunks)
	copy(next.vectors, old.vectors)

	seq := idx.nextSeq
	for i, c := range batch.chunks {
		c.Seq = seq
		seq++
		next.chunks = append(next.chunks, c)
		next.vectors = append(next.vectors, batch.vectors[i])
	}

	idx.current.Store(next)
	idx.nextSeq = seq

	logger.Debug("Dense index extended",
		zap.String("embedder", idx.embedder.Name()),
		zap.Int("chunks", len(next.chunks)),
		zap.Int("dimension", dim),
	)
	return nil
}

func (idx *DenseIndex) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	if err := checkK(k); err != nil {
		return nil, err
	}
	snap := idx.current.Load()
	if len(snap.chunks) == 0 {
		return []Hit{}, nil
	}

	vectors, err := idx.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", models.ErrIndex, err)
	}
	if len(vectors) != 1 || len(vectors[0]) != snap.dim {
		return nil, fmt.Errorf("%w: query vector dimension mismatch", models.ErrIndex)
	}
	q := vectors[0]

	return topK(snap.chunks, k, func(i int) float64 {
		return CosineSimilarity(q, snap.vectors[i])
	}), nil
}

func (idx *DenseIndex) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.current.Store(&denseSnapshot{})
	idx.nextSeq = 0
}

// CosineSimilarity returns cos(a, b), or 0 when either vector has zero length.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
