package middleware

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstore "github.com/gofiber/storage/redis/v3"
)

// LimiterStorage returns a Redis-backed limiter store so counters survive
// restarts, or nil for the limiter's in-memory default when redisURL is empty.
// The redis driver panics if the server is unreachable at startup.
func LimiterStorage(redisURL string) fiber.Storage {
	if redisURL == "" {
		return nil
	}
	log.Printf("[RateLimit] using redis storage")
	return redisstore.New(redisstore.Config{URL: redisURL})
}

// RateLimit allows max requests per client IP per window. storage may be nil.
func RateLimit(max int, window time.Duration, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{"error": "too many requests"})
		},
	})
}
