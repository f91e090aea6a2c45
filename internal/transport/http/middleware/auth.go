package middleware

import (
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/config"
	"github.com/gofiber/fiber/v2"
)

// AdminAuth guards the API with the shared admin key. An empty key disables
// the check.
func AdminAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := strings.TrimSpace(cfg.Auth.AdminAPIKey)
		if expected == "" {
			return c.Next()
		}

		token := strings.TrimSpace(c.Get("X-Admin-Token"))
		if token == "" {
			auth := c.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}
		if token == "" && strings.HasPrefix(c.Path(), "/ws/") {
			// browsers cannot set headers on websocket upgrades
			token = strings.TrimSpace(c.Query("token"))
		}

		if token != expected {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	}
}
