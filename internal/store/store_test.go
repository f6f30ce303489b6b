package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/index"
	"github.com/docqa/backend/internal/models"
)

func doc(id string, n int) (models.Document, []models.Chunk) {
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		chunks[i] = models.Chunk{
			ID:         fmt.Sprintf("%s:%d", id, i),
			DocumentID: id,
			Filename:   id + ".txt",
			Index:      i,
			Text:       fmt.Sprintf("content of %s part %d", id, i),
		}
	}
	return models.Document{ID: id, Filename: id + ".txt", Type: "txt"}, chunks
}

func chunkIDTotal(docs []models.Document) int {
	n := 0
	for _, d := range docs {
		n += len(d.ChunkIDs)
	}
	return n
}

type failingIndex struct{ index.Index }

func (failingIndex) Prepare(context.Context, []models.Chunk) (*index.Batch, error) {
	return nil, models.ErrIndex
}

// blockingEmbedder holds Embed until release is closed.
type blockingEmbedder struct {
	index.Embedder
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (e *blockingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.once.Do(func() { close(e.started) })
	select {
	case <-e.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.Embedder.Embed(ctx, texts)
}

func TestStore_AddAndStats(t *testing.T) {
	s := New(index.NewTFIDFIndex())
	assert.Equal(t, Stats{}, s.Stats())

	d, chunks := doc("a", 3)
	stats, err := s.Add(context.Background(), d, chunks)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalChunks: 3, TotalDocuments: 1}, stats)

	d, chunks = doc("b", 2)
	stats, err = s.Add(context.Background(), d, chunks)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalChunks: 5, TotalDocuments: 2}, stats)

	docs := s.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, []string{"b:0", "b:1"}, docs[1].ChunkIDs)
	assert.Equal(t, s.Stats().TotalChunks, chunkIDTotal(docs))
	assert.Equal(t, "tfidf", s.IndexType())
}

func TestStore_DuplicateDocumentRejected(t *testing.T) {
	s := New(index.NewTFIDFIndex())
	d, chunks := doc("a", 1)
	_, err := s.Add(context.Background(), d, chunks)
	require.NoError(t, err)

	_, err = s.Add(context.Background(), d, chunks)
	assert.ErrorIs(t, err, models.ErrIndex)
	assert.Equal(t, 1, s.Stats().TotalChunks)
}

func TestStore_IndexFailureRegistersNothing(t *testing.T) {
	s := New(failingIndex{index.NewTFIDFIndex()})
	d, chunks := doc("a", 2)

	_, err := s.Add(context.Background(), d, chunks)
	assert.ErrorIs(t, err, models.ErrIndex)
	assert.Empty(t, s.Documents())
	assert.Equal(t, 0, s.Stats().TotalDocuments)
}

func TestStore_ClearRotatesGeneration(t *testing.T) {
	s := New(index.NewTFIDFIndex())
	before := s.Generation()

	d, chunks := doc("a", 2)
	_, err := s.Add(context.Background(), d, chunks)
	require.NoError(t, err)
	afterAdd := s.Generation()
	assert.NotEqual(t, before, afterAdd)

	s.Clear()
	assert.Equal(t, Stats{}, s.Stats())
	assert.Empty(t, s.Documents())
	assert.NotEqual(t, afterAdd, s.Generation())

	hits, err := s.Query(context.Background(), "content", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_EmbeddingDoesNotBlockReaders(t *testing.T) {
	emb := &blockingEmbedder{
		Embedder: index.NewHashingEmbedder(16),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	s := New(index.NewDenseIndex(emb))

	added := make(chan error, 1)
	go func() {
		d, chunks := doc("a", 2)
		_, err := s.Add(context.Background(), d, chunks)
		added <- err
	}()
	<-emb.started

	done := make(chan Stats, 1)
	go func() {
		s.Clear()
		done <- s.Stats()
	}()
	select {
	case stats := <-done:
		assert.Equal(t, Stats{}, stats)
	case <-time.After(time.Second):
		t.Fatal("Stats and Clear waited on an in-flight embed")
	}

	close(emb.release)
	require.NoError(t, <-added)
	assert.Equal(t, Stats{TotalChunks: 2, TotalDocuments: 1}, s.Stats())
	assert.Equal(t, s.Stats().TotalChunks, chunkIDTotal(s.Documents()))
}

func TestStore_ConcurrentAddKeepsInvariant(t *testing.T) {
	s := New(index.NewDenseIndex(index.NewHashingEmbedder(0)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, chunks := doc(fmt.Sprintf("d%d", i), i+1)
			_, err := s.Add(context.Background(), d, chunks)
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Query(context.Background(), "content part", 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 36, s.Stats().TotalChunks)
	assert.Equal(t, s.Stats().TotalChunks, chunkIDTotal(s.Documents()))
}
