package index

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/models"
	"github.com/docqa/backend/pkg/logger"
)

// sparseVector keeps its term indices sorted so dot products are summed in a
// fixed order and identical texts score identically.
type sparseVector struct {
	idx []int
	val []float64
}

// tfidfSnapshot is the complete fitted state. It is never mutated after it
// has been published.
type tfidfSnapshot struct {
	chunks  []models.Chunk
	counts  []map[string]int
	vocab   map[string]int
	terms   []string
	idf     []float64
	vectors []sparseVector
}

// TFIDFIndex is a sparse index whose vocabulary covers the whole corpus.
// Every insert re-fits the vocabulary and all vectors into a new snapshot.
type TFIDFIndex struct {
	mu      sync.Mutex
	nextSeq int64
	current atomic.Pointer[tfidfSnapshot]
}

func NewTFIDFIndex() *TFIDFIndex {
	idx := &TFIDFIndex{}
	idx.current.Store(&tfidfSnapshot{})
	return idx
}

func (idx *TFIDFIndex) Name() string { return TypeTFIDF }

func (idx *TFIDFIndex) Size() int {
	return len(idx.current.Load().chunks)
}

func (idx *TFIDFIndex) Insert(ctx context.Context, chunks []models.Chunk) error {
	batch, err := idx.Prepare(ctx, chunks)
	if err != nil {
		return err
	}
	return idx.Commit(batch)
}

// Prepare tokenizes the chunks. The vocabulary is refitted on Commit.
func (idx *TFIDFIndex) Prepare(ctx context.Context, chunks []models.Chunk) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := make([]map[string]int, len(chunks))
	for i, c := range chunks {
		counts[i] = termCounts(c.Text)
	}
	return &Batch{owner: idx, chunks: chunks, counts: counts}, nil
}

func (idx *TFIDFIndex) Commit(batch *Batch) error {
	if err := checkBatch(idx, batch); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	old := idx.current.Load()
	all := make([]models.Chunk, len(old.chunks), len(old.chunks)+batch.Len())
	copy(all, old.chunks)
	counts := make([]map[string]int, len(old.counts), len(old.counts)+batch.Len())
	copy(counts, old.counts)

	seq := idx.nextSeq
	for i, c := range batch.chunks {
		c.Seq = seq
		seq++
		all = append(all, c)
		counts = append(counts, batch.counts[i])
	}

	next := fitTFIDF(all, counts)
	idx.current.Store(next)
	idx.nextSeq = seq

	logger.Debug("TF-IDF index refitted",
		zap.Int("chunks", len(next.chunks)),
		zap.Int("vocabulary", len(next.vocab)),
	)
	return nil
}

func (idx *TFIDFIndex) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	if err := checkK(k); err != nil {
		return nil, err
	}
	snap := idx.current.Load()
	if len(snap.chunks) == 0 {
		return []Hit{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := snap.vectorize(termCounts(text))
	return topK(snap.chunks, k, func(i int) float64 {
		return dotSparse(q, snap.vectors[i])
	}), nil
}

func (idx *TFIDFIndex) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.current.Store(&tfidfSnapshot{})
	idx.nextSeq = 0
}

func fitTFIDF(chunks []models.Chunk, counts []map[string]int) *tfidfSnapshot {
	df := make(map[string]int)
	for _, c := range counts {
		for term := range c {
			df[term]++
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	snap := &tfidfSnapshot{
		chunks: chunks,
		counts: counts,
		vocab:  make(map[string]int, len(terms)),
		terms:  terms,
		idf:    make([]float64, len(terms)),
	}
	n := float64(len(chunks))
	for i, term := range terms {
		snap.vocab[term] = i
		// smoothed idf
		snap.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}

	snap.vectors = make([]sparseVector, len(counts))
	for i, c := range counts {
		snap.vectors[i] = snap.vectorize(c)
	}
	return snap
}

// vectorize builds an L2-normalised tf-idf vector. Terms outside the fitted
// vocabulary are ignored.
func (s *tfidfSnapshot) vectorize(counts map[string]int) sparseVector {
	var vec sparseVector
	total := 0
	for term, n := range counts {
		if i, ok := s.vocab[term]; ok {
			vec.idx = append(vec.idx, i)
			total += n
		}
	}
	if total == 0 {
		return vec
	}
	sort.Ints(vec.idx)

	vec.val = make([]float64, len(vec.idx))
	norm := 0.0
	for j, i := range vec.idx {
		w := float64(counts[s.terms[i]]) / float64(total) * s.idf[i]
		vec.val[j] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for j := range vec.val {
		vec.val[j] /= norm
	}
	return vec
}

func dotSparse(a, b sparseVector) float64 {
	sum := 0.0
	for i, j := 0, 0; i < len(a.idx) && j < len(b.idx); {
		switch {
		case a.idx[i] == b.idx[j]:
			sum += a.val[i] * b.val[j]
			i++
			j++
		case a.idx[i] < b.idx[j]:
			i++
		default:
			j++
		}
	}
	return sum
}
