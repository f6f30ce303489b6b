package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/chunker"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/models"
	"github.com/docqa/backend/internal/store"
	"github.com/docqa/backend/pkg/logger"
)

const DefaultMaxBytes = 5 << 20

type Processor struct {
	store     *store.Store
	chunker   *chunker.Chunker
	extractor *Extractor
	maxBytes  int64
}

type IngestResult struct {
	DocumentID         string `json:"document_id"`
	Filename           string `json:"filename"`
	DocumentType       string `json:"document_type"`
	ChunksCreated      int    `json:"chunks_created"`
	TotalChunksInStore int    `json:"total_chunks_in_store"`
}

func NewProcessor(st *store.Store, ch *chunker.Chunker, extractor *Extractor, maxBytes int64) *Processor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Processor{
		store:     st,
		chunker:   ch,
		extractor: extractor,
		maxBytes:  maxBytes,
	}
}

func (p *Processor) MaxBytes() int64 { return p.maxBytes }

// DocumentType maps a filename to a supported document type.
func DocumentType(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return TypePDF, nil
	case ".txt":
		return TypeTXT, nil
	default:
		return "", fmt.Errorf("%w: %q (only PDF and TXT are supported)", models.ErrUnsupportedType, filename)
	}
}

// Ingest validates, extracts, chunks and stores one uploaded file.
func (p *Processor) Ingest(ctx context.Context, content []byte, filename string) (*IngestResult, error) {
	startTime := time.Now()
	filename = filepath.Base(filename)

	docType, err := DocumentType(filename)
	if err != nil {
		metrics.DocumentsProcessed.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}
	if int64(len(content)) > p.maxBytes {
		metrics.DocumentsProcessed.WithLabelValues(docType, "rejected").Inc()
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", models.ErrTooLarge, len(content), p.maxBytes)
	}

	result, err := p.ingest(ctx, content, filename, docType)
	if err != nil {
		metrics.DocumentsProcessed.WithLabelValues(docType, "failed").Inc()
		logger.Warn("Document ingestion failed",
			zap.String("filename", filename),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.DocumentsProcessed.WithLabelValues(docType, "success").Inc()
	logger.Info("Document processed successfully",
		zap.String("doc_id", result.DocumentID),
		zap.String("filename", filename),
		zap.Int("chunks", result.ChunksCreated),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return result, nil
}

func (p *Processor) ingest(ctx context.Context, content []byte, filename, docType string) (*IngestResult, error) {
	text, err := p.extractor.Extract(ctx, docType, content)
	if err != nil {
		return nil, err
	}

	docID := uuid.New().String()
	chunks, err := p.chunker.Chunk(docID, filename, text)
	if err != nil {
		return nil, err
	}
	logger.Debug("Document chunked", zap.String("doc_id", docID), zap.Int("chunks", len(chunks)))

	doc := models.Document{
		ID:        docID,
		Filename:  filename,
		Type:      docType,
		CreatedAt: time.Now(),
	}
	stats, err := p.store.Add(ctx, doc, chunks)
	if err != nil {
		return nil, err
	}

	return &IngestResult{
		DocumentID:         docID,
		Filename:           filename,
		DocumentType:       docType,
		ChunksCreated:      len(chunks),
		TotalChunksInStore: stats.TotalChunks,
	}, nil
}
