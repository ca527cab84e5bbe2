package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// HttpRequestID assigns every request a UUID, honoring an X-Request-ID
// supplied by an upstream proxy, and echoes it in the response header.
func HttpRequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}
