package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	// AllowedContentTypes maps a route path to the media types it accepts.
	AllowedContentTypes map[string][]string
	Logger              *zap.Logger
}

// DefaultContentTypes covers the write routes of the API.
func DefaultContentTypes(prefix string) map[string][]string {
	return map[string][]string{
		prefix + "/upload": {fiber.MIMEMultipartForm},
		prefix + "/ask":    {fiber.MIMEApplicationJSON},
	}
}

// Middleware rejects POST and PUT requests whose Content-Type the route does
// not accept, before any body parsing happens.
func Middleware(cfg Config) fiber.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		allowed, ok := cfg.AllowedContentTypes[strings.TrimSuffix(c.Path(), "/")]
		if !ok {
			return c.Next()
		}

		contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
		for _, t := range allowed {
			if strings.HasPrefix(contentType, t) {
				return c.Next()
			}
		}

		cfg.Logger.Warn("Unsupported content type",
			zap.String("path", c.Path()),
			zap.String("content_type", contentType),
			zap.String("ip", c.IP()),
		)
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"code":  "unsupported_media_type",
			"error": "expected " + strings.Join(allowed, " or "),
		})
	}
}
