package handlers

import (
	"context"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/models"
	"github.com/docqa/backend/internal/store"
	"github.com/docqa/backend/pkg/logger"
)

// AnswerInvalidator drops cached answers when the corpus is cleared.
type AnswerInvalidator interface {
	InvalidateAnswers(ctx context.Context) error
}

type DocumentHandler struct {
	processor   *ingestion.Processor
	store       *store.Store
	modelNames  []string
	invalidator AnswerInvalidator
}

type DocumentOption func(*DocumentHandler)

func WithAnswerInvalidator(inv AnswerInvalidator) DocumentOption {
	return func(h *DocumentHandler) {
		h.invalidator = inv
	}
}

func NewDocumentHandler(processor *ingestion.Processor, st *store.Store, modelNames []string, opts ...DocumentOption) *DocumentHandler {
	h := &DocumentHandler{
		processor:  processor,
		store:      st,
		modelNames: modelNames,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type StatsResponse struct {
	TotalChunks    int      `json:"total_chunks"`
	TotalDocuments int      `json:"total_documents"`
	IndexType      string   `json:"index_type"`
	AvailableLLMs  []string `json:"available_llms"`
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "multipart field \"file\" is required")
	}

	if _, err := ingestion.DocumentType(fh.Filename); err != nil {
		return writeError(c, err)
	}
	if fh.Size > h.processor.MaxBytes() {
		return writeError(c, fmt.Errorf("%w: %d bytes exceeds the %d byte limit",
			models.ErrTooLarge, fh.Size, h.processor.MaxBytes()))
	}

	f, err := fh.Open()
	if err != nil {
		logger.Error("Failed to open uploaded file", zap.Error(err))
		return badRequest(c, "failed to read file")
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, h.processor.MaxBytes()+1))
	if err != nil {
		logger.Error("Failed to read uploaded file", zap.Error(err))
		return badRequest(c, "failed to read file")
	}

	result, err := h.processor.Ingest(c.UserContext(), content, fh.Filename)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

func (h *DocumentHandler) GetStats(c *fiber.Ctx) error {
	stats := h.store.Stats()
	return c.JSON(StatsResponse{
		TotalChunks:    stats.TotalChunks,
		TotalDocuments: stats.TotalDocuments,
		IndexType:      h.store.IndexType(),
		AvailableLLMs:  h.modelNames,
	})
}

func (h *DocumentHandler) ClearDocuments(c *fiber.Ctx) error {
	h.store.Clear()
	if h.invalidator != nil {
		if err := h.invalidator.InvalidateAnswers(c.UserContext()); err != nil {
			logger.Warn("Failed to invalidate cached answers", zap.Error(err))
		}
	}
	logger.Info("All documents cleared")
	return c.JSON(fiber.Map{"ok": true})
}
