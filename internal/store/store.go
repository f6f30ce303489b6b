// Package store owns the registry of uploaded documents together with the
// index that holds their chunks.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/index"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/models"
	"github.com/docqa/backend/pkg/logger"
)

type Stats struct {
	TotalChunks    int `json:"total_chunks"`
	TotalDocuments int `json:"total_documents"`
}

// Store serialises mutations on a writer lock. Queries go straight to the
// index, which serves them from immutable snapshots.
type Store struct {
	mu         sync.RWMutex
	idx        index.Index
	docs       map[string]models.Document
	order      []string
	generation string
}

func New(idx index.Index) *Store {
	return &Store{
		idx:        idx,
		docs:       make(map[string]models.Document),
		generation: uuid.New().String(),
	}
}

// Add indexes chunks and registers doc. If indexing fails nothing is
// registered. Chunks are prepared (embedded) before the writer lock is taken,
// so a slow embedder does not hold up Stats or Clear.
func (s *Store) Add(ctx context.Context, doc models.Document, chunks []models.Chunk) (Stats, error) {
	if s.registered(doc.ID) {
		return Stats{}, duplicateError(doc.ID)
	}

	batch, err := s.idx.Prepare(ctx, chunks)
	if err != nil {
		return Stats{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.ID]; exists {
		return Stats{}, duplicateError(doc.ID)
	}
	if err := s.idx.Commit(batch); err != nil {
		return Stats{}, err
	}

	doc.ChunkIDs = make([]string, len(chunks))
	for i, c := range chunks {
		doc.ChunkIDs[i] = c.ID
	}
	s.docs[doc.ID] = doc
	s.order = append(s.order, doc.ID)
	s.generation = uuid.New().String()

	stats := s.statsLocked()
	metrics.IndexedChunks.Set(float64(stats.TotalChunks))
	metrics.IndexedDocuments.Set(float64(stats.TotalDocuments))

	logger.Info("Document added to store",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.Int("chunks", len(chunks)),
		zap.Int("total_chunks", stats.TotalChunks),
	)
	return stats, nil
}

func (s *Store) registered(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[id]
	return ok
}

func duplicateError(id string) error {
	return fmt.Errorf("%w: document %s already registered", models.ErrIndex, id)
}

// Query searches the current index snapshot without taking the store lock.
func (s *Store) Query(ctx context.Context, text string, k int) ([]index.Hit, error) {
	return s.idx.Query(ctx, text, k)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() Stats {
	return Stats{
		TotalChunks:    s.idx.Size(),
		TotalDocuments: len(s.docs),
	}
}

// Documents returns registered documents in upload order.
func (s *Store) Documents() []models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.docs[id])
	}
	return out
}

// Clear empties the store once in-flight mutations finish and starts a new
// generation.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idx.Reset()
	s.docs = make(map[string]models.Document)
	s.order = nil
	s.generation = uuid.New().String()

	metrics.IndexedChunks.Set(0)
	metrics.IndexedDocuments.Set(0)
	logger.Info("Store cleared", zap.String("generation", s.generation))
}

// Generation changes whenever the indexed content does. Cached answers are
// keyed by it.
func (s *Store) Generation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *Store) IndexType() string {
	return s.idx.Name()
}
