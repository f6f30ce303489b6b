package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/models"
	"github.com/docqa/backend/pkg/logger"
)

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Code         string                    `json:"code"`
	Error        string                    `json:"error"`
	Attempts     []models.ModelCallOutcome `json:"attempts,omitempty"`
	PartialModel string                    `json:"partial_model,omitempty"`
}

// classifyError maps a domain error to an HTTP status and a stable code.
func classifyError(err error) (int, ErrorBody) {
	body := ErrorBody{Error: err.Error()}

	switch {
	case errors.Is(err, models.ErrUnsupportedType):
		body.Code = "unsupported_type"
		return fiber.StatusBadRequest, body
	case errors.Is(err, models.ErrTooLarge):
		body.Code = "file_too_large"
		return fiber.StatusRequestEntityTooLarge, body
	case errors.Is(err, models.ErrValidation):
		body.Code = "invalid_request"
		return fiber.StatusBadRequest, body
	case errors.Is(err, models.ErrEmptyInput):
		body.Code = "empty_document"
		return fiber.StatusUnprocessableEntity, body
	case errors.Is(err, models.ErrExtractionFailed):
		body.Code = "extraction_failed"
		return fiber.StatusUnprocessableEntity, body
	case errors.Is(err, models.ErrNoDocumentsIndexed):
		body.Code = "no_documents"
		return fiber.StatusConflict, body
	case errors.Is(err, models.ErrAllModelsUnavailable):
		body.Code = "all_models_unavailable"
		var exhausted *llm.ExhaustedError
		if errors.As(err, &exhausted) {
			body.Attempts = exhausted.Outcomes
			body.PartialModel = exhausted.PartialModel
		}
		return fiber.StatusServiceUnavailable, body
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		body.Code = "request_cancelled"
		return fiber.StatusRequestTimeout, body
	default:
		body.Code = "internal_error"
		body.Error = "internal error"
		return fiber.StatusInternalServerError, body
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status, body := classifyError(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorBody{Code: "invalid_request", Error: msg})
}
