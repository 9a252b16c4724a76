package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gptstore-api/internal/utils"
)

// RateLimit throttles a route per authenticated user, falling back to the
// client IP for anonymous callers.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return fmt.Sprintf("%s:%s", identifier, rateLimitSubject(c))
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.Fail(c, fiber.StatusTooManyRequests, "too many requests", fiber.Map{
				"limit":          max,
				"window_seconds": int(window.Seconds()),
			})
		},
	})
}

func rateLimitSubject(c *fiber.Ctx) string {
	switch id := c.Locals("user_id").(type) {
	case uint:
		if id > 0 {
			return fmt.Sprintf("user:%d", id)
		}
	case int:
		if id > 0 {
			return fmt.Sprintf("user:%d", id)
		}
	}
	return "ip:" + c.IP()
}
