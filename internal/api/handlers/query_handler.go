package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/pkg/logger"
)

type QueryHandler struct {
	queryEngine *query.Engine
}

func NewQueryHandler(queryEngine *query.Engine) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
	}
}

type AskRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func (h *QueryHandler) Ask(c *fiber.Ctx) error {
	var req AskRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Warn("Failed to parse request body", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	response, err := h.queryEngine.Answer(c.UserContext(), query.Request{
		Question: req.Question,
		TopK:     req.TopK,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(response)
}
