package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
)

// CorrelationMiddleware seeds the request context with the X-Request-ID header,
// generating one when absent, and echoes it on the response.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, correlationID := observability.EnsureCorrelationID(c.UserContext(), strings.TrimSpace(c.Get(fiber.HeaderXRequestID)))
		c.SetUserContext(ctx)
		c.Set(fiber.HeaderXRequestID, correlationID)
		return c.Next()
	}
}
