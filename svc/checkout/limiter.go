package checkout

import (
	"github.com/redis/go-redis/v9"

	"tourmaline.app/pkg/config"
	"tourmaline.app/pkg/ratelimit"
)

const limiterKeyPrefix = "tourmaline:ratelimit:"

// newLimiter builds the payment intent limiter. With a Redis address every
// edge instance draws from the same per-client budget.
func newLimiter(s *config.Settings) *ratelimit.RateLimiter {
	cfg := ratelimit.PerMinute(s.PaymentsPerMinute)
	if s.RateLimitRedisAddr == "" {
		return ratelimit.NewRateLimiter(cfg)
	}
	client := redis.NewClient(&redis.Options{Addr: s.RateLimitRedisAddr})
	return ratelimit.NewRateLimiterWithStorage(cfg, ratelimit.NewRedisStorage(client, limiterKeyPrefix))
}
