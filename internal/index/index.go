// Package index holds the in-memory vector indexes used for chunk retrieval.
//
// Both implementations publish immutable snapshots through an atomic pointer:
// writers serialise on a mutex and build the next snapshot off to the side,
// readers load whichever snapshot is current and never block.
package index

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/docqa/backend/internal/models"
)

const (
	TypeTFIDF = "tfidf"
	TypeDense = "dense"
)

// Index maps chunks to vectors and answers top-k similarity queries.
type Index interface {
	Name() string
	// Prepare does the per-chunk work of an insert, such as embedding, without
	// touching the published state. Callers may hold no locks while it runs.
	Prepare(ctx context.Context, chunks []models.Chunk) (*Batch, error)
	// Commit publishes a prepared batch atomically: either all of its chunks
	// become visible or none.
	Commit(batch *Batch) error
	// Insert is Prepare followed by Commit.
	Insert(ctx context.Context, chunks []models.Chunk) error
	// Query returns at most k hits by descending score. Equal scores keep
	// insertion order. An empty index yields an empty slice.
	Query(ctx context.Context, text string, k int) ([]Hit, error)
	Size() int
	Reset()
}

// Batch is the output of Prepare. It belongs to the index that prepared it.
type Batch struct {
	owner   Index
	chunks  []models.Chunk
	counts  []map[string]int
	vectors [][]float32
}

func (b *Batch) Len() int { return len(b.chunks) }

func checkBatch(owner Index, b *Batch) error {
	if b == nil || b.owner != owner {
		return fmt.Errorf("%w: batch was not prepared by this index", models.ErrIndex)
	}
	return nil
}

type Hit struct {
	Chunk models.Chunk
	Score float64
}

func clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

// hitHeap is a min-heap whose root is the weakest hit kept so far: lowest
// score, and among equal scores the one inserted last.
type hitHeap []Hit

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Chunk.Seq > h[j].Chunk.Seq
}
func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x interface{}) {
	*h = append(*h, x.(Hit))
}

func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topK selects the k best hits from n candidates produced by score(i).
// Candidates must be offered in insertion order.
func topK(chunks []models.Chunk, k int, score func(i int) float64) []Hit {
	if k <= 0 || len(chunks) == 0 {
		return []Hit{}
	}
	if k > len(chunks) {
		k = len(chunks)
	}

	h := make(hitHeap, 0, k)
	for i := range chunks {
		hit := Hit{Chunk: chunks[i], Score: clamp(score(i))}
		if h.Len() < k {
			heap.Push(&h, hit)
			continue
		}
		// Later chunks never displace an equal score.
		if hit.Score > h[0].Score {
			heap.Pop(&h)
			heap.Push(&h, hit)
		}
	}

	results := make([]Hit, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(&h).(Hit)
	}
	return results
}

func checkK(k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k=%d", models.ErrInvalidTopK, k)
	}
	return nil
}
