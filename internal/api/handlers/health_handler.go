package handlers

import (
	"github.com/gofiber/fiber/v2"
)

const (
	serviceName    = "Document Q&A API"
	serviceVersion = "1.0.0"
)

type HealthHandler struct {
	apiKeyConfigured bool
}

func NewHealthHandler(apiKeyConfigured bool) *HealthHandler {
	return &HealthHandler{apiKeyConfigured: apiKeyConfigured}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":             "healthy",
		"api_key_configured": h.apiKeyConfigured,
	})
}

func (h *HealthHandler) Info(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"name":    serviceName,
		"version": serviceVersion,
		"endpoints": fiber.Map{
			"upload": "POST /api/v1/upload",
			"ask":    "POST /api/v1/ask",
			"ws_ask": "GET /api/v1/ws/ask",
			"stats":  "GET /api/v1/stats",
			"clear":  "POST /api/v1/clear",
			"health": "GET /api/v1/health",
		},
	})
}
