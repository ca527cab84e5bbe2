package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// HttpRealIP resolves the client address behind proxies and stores it
// in locals for the request logger.
func HttpRealIP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if forwarded := c.Get(fiber.HeaderXForwardedFor); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			c.Locals("remote_ip", strings.TrimSpace(first))
		} else if realIP := c.Get("X-Real-IP"); realIP != "" {
			c.Locals("remote_ip", strings.TrimSpace(realIP))
		}
		return c.Next()
	}
}
