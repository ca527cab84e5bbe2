package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cache"
)

// HttpCacheInMemory caches GET responses for ttl seconds. Admin and
// authenticated requests bypass the cache so state reads stay fresh.
func HttpCacheInMemory(ttl int) fiber.Handler {
	if ttl <= 0 {
		ttl = 5
	}
	return cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {
			if c.Method() != fiber.MethodGet {
				return true
			}
			return c.Get("X-Admin-Secret") != "" || c.Get("Authorization") != ""
		},
		Expiration: time.Duration(ttl) * time.Second,
	})
}
