package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CallerLocalsKey is the fiber locals key holding the trimmed caller id.
const CallerLocalsKey = "caller_id"

// RequireCaller rejects requests that do not carry a caller identity in header.
// The identity itself is checked against site memberships by the query engine.
func RequireCaller(header string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := strings.TrimSpace(c.Get(header))
		if caller == "" {
			logger.Debug("Request without caller identity",
				slog.String("path", c.Path()),
				slog.String("header", header))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing " + header + " header",
				"code":  "UNAUTHENTICATED",
			})
		}

		c.Locals(CallerLocalsKey, caller)
		return c.Next()
	}
}
