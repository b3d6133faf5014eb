package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"tourmaline.app/pkg/errs"
	"tourmaline.app/pkg/httpx"
	"tourmaline.app/pkg/metrics"
)

// Check applies the limiter to r and sets the X-RateLimit-* headers. When the
// request is denied it writes the 429 response and returns false.
func Check(rateLimiter *RateLimiter, action string, keyFunc func(*http.Request) string, w http.ResponseWriter, r *http.Request) bool {
	key := keyFunc(r)
	if key == "" {
		return true
	}
	ctx := r.Context()
	cfg := rateLimiter.Config()

	allowed := rateLimiter.Allow(ctx, key)
	remaining := rateLimiter.GetRemainingAttempts(ctx, key)

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxAttempts))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

	if !allowed {
		retryAfter := rateLimiter.GetTimeUntilReset(ctx, key)
		if retryAfter <= 0 {
			retryAfter = cfg.Window
		}
		secs := int(retryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().UTC().Add(retryAfter).Unix(), 10))
		metrics.RateLimitedTotal.WithLabelValues(action).Inc()
		httpx.WriteError(w, errs.E(ctx, errs.TooManyRequests, "Too many requests, please try again later"))
		return false
	}

	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().UTC().Add(cfg.Window).Unix(), 10))
	return true
}

// IPBasedKeyFunc generates rate limit keys from the client IP
func IPBasedKeyFunc(action string) func(*http.Request) string {
	return func(r *http.Request) string {
		return GenerateIPKey(action, httpx.GetClientIP(r))
	}
}
