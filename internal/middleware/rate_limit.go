package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// WithdrawalRateLimit bounds withdrawal creation per user per minute using
// Redis. Must run after JWTAuth so the user id is available.
func WithdrawalRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		uid := UserID(c)
		if uid == "" {
			uid = c.IP()
		}

		key := "rl:withdrawals:" + uid
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many withdrawal requests, try again later")
		}
		return c.Next()
	}
}
