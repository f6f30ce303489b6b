package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	// AllowedOrigins are added to connect-src so browser front-ends can reach
	// the websocket endpoint.
	AllowedOrigins []string
	IsDevelopment  bool
}

// HeadersMiddleware sets response hardening headers. The API serves JSON
// only, so the content policy denies everything except connections.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := "default-src 'none'; " +
		"connect-src 'self'" + connectSrc(cfg.AllowedOrigins) + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'none'"

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", csp)

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}

func connectSrc(origins []string) string {
	var b strings.Builder
	for _, origin := range origins {
		if origin == "" || origin == "*" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(origin)
	}
	return b.String()
}
