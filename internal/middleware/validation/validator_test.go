package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(Config{AllowedContentTypes: DefaultContentTypes("/api/v1")}))
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) }
	app.Post("/api/v1/upload", ok)
	app.Post("/api/v1/ask", ok)
	app.Post("/api/v1/clear", ok)
	app.Get("/api/v1/stats", ok)

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		want        int
	}{
		{"json ask", http.MethodPost, "/api/v1/ask", "application/json; charset=utf-8", http.StatusNoContent},
		{"form ask", http.MethodPost, "/api/v1/ask", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"multipart upload", http.MethodPost, "/api/v1/upload", "multipart/form-data; boundary=x", http.StatusNoContent},
		{"json upload", http.MethodPost, "/api/v1/upload", "application/json", http.StatusUnsupportedMediaType},
		{"clear without body", http.MethodPost, "/api/v1/clear", "", http.StatusNoContent},
		{"get is not checked", http.MethodGet, "/api/v1/stats", "text/plain", http.StatusNoContent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}"))
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
