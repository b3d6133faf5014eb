// Package ratelimit provides fixed-window rate limiting for storefront endpoints
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"tourmaline.app/pkg/logger"
)

// RateLimitConfig defines the configuration for rate limiting
type RateLimitConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	Window      time.Duration `json:"window"`
	BlockTime   time.Duration `json:"block_time,omitempty"` // Optional blocking time after limit exceeded
}

// AttemptRecord tracks attempts for a specific key
type AttemptRecord struct {
	Key       string     `json:"key"`
	Count     int        `json:"count"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
	BlockedAt *time.Time `json:"blocked_at,omitempty"`
}

// RateLimiter provides rate limiting functionality
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimitConfig
	storage Storage
	now     func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration using memory storage
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return NewRateLimiterWithStorage(config, NewMemoryStorage())
}

// NewRateLimiterWithStorage creates a new rate limiter with custom storage backend
func NewRateLimiterWithStorage(config RateLimitConfig, storage Storage) *RateLimiter {
	return &RateLimiter{
		config:  config,
		storage: storage,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PerMinute returns a config allowing n attempts per rolling minute window.
func PerMinute(n int) RateLimitConfig {
	if n <= 0 {
		n = 1
	}
	return RateLimitConfig{MaxAttempts: n, Window: time.Minute}
}

// Config returns the limiter configuration
func (rl *RateLimiter) Config() RateLimitConfig {
	return rl.config
}

// hashSensitiveKey creates a short hash of a key so client IPs never reach the logs
func hashSensitiveKey(key string) string {
	if key == "" {
		return "empty-key"
	}
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:4])
}

// Allow checks and records an attempt for key. Storage errors fail open.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	record, err := rl.storage.GetRecord(ctx, key)
	if err != nil {
		logger.Warn(ctx, "rate limiter storage read failed", logger.Fields{"key": hashSensitiveKey(key), "error": err.Error()})
		return true
	}

	if record == nil {
		rl.store(ctx, key, &AttemptRecord{Key: key, Count: 1, FirstSeen: now, LastSeen: now})
		return true
	}

	if record.BlockedAt != nil && rl.config.BlockTime > 0 {
		if now.Sub(*record.BlockedAt) < rl.config.BlockTime {
			return false
		}
		record.BlockedAt = nil
		record.Count = 0
		record.FirstSeen = now
	}

	if now.Sub(record.FirstSeen) >= rl.config.Window {
		record.Count = 1
		record.FirstSeen = now
		record.LastSeen = now
		rl.store(ctx, key, record)
		return true
	}

	if record.Count >= rl.config.MaxAttempts {
		if rl.config.BlockTime > 0 && record.BlockedAt == nil {
			record.BlockedAt = &now
		}
		rl.store(ctx, key, record)
		return false
	}

	record.Count++
	record.LastSeen = now
	rl.store(ctx, key, record)
	return true
}

func (rl *RateLimiter) store(ctx context.Context, key string, record *AttemptRecord) {
	if err := rl.storage.SetRecord(ctx, key, record, rl.retention()); err != nil {
		logger.Warn(ctx, "rate limiter storage write failed", logger.Fields{"key": hashSensitiveKey(key), "error": err.Error()})
	}
}

// retention is how long a record stays relevant
func (rl *RateLimiter) retention() time.Duration {
	if rl.config.BlockTime > rl.config.Window {
		return rl.config.BlockTime
	}
	return rl.config.Window
}

// GetRemainingAttempts returns the number of remaining attempts for the key
func (rl *RateLimiter) GetRemainingAttempts(ctx context.Context, key string) int {
	if key == "" {
		return 0
	}

	record, err := rl.storage.GetRecord(ctx, key)
	if err != nil || record == nil {
		return rl.config.MaxAttempts
	}

	now := rl.now()
	if record.BlockedAt != nil && rl.config.BlockTime > 0 && now.Sub(*record.BlockedAt) < rl.config.BlockTime {
		return 0
	}
	if now.Sub(record.FirstSeen) >= rl.config.Window {
		return rl.config.MaxAttempts
	}

	remaining := rl.config.MaxAttempts - record.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetTimeUntilReset returns the time until the rate limit resets for the key
func (rl *RateLimiter) GetTimeUntilReset(ctx context.Context, key string) time.Duration {
	if key == "" {
		return 0
	}

	record, err := rl.storage.GetRecord(ctx, key)
	if err != nil || record == nil {
		return 0
	}

	now := rl.now()
	if record.BlockedAt != nil && rl.config.BlockTime > 0 {
		if blockExpiry := record.BlockedAt.Add(rl.config.BlockTime); now.Before(blockExpiry) {
			return blockExpiry.Sub(now)
		}
	}
	if windowExpiry := record.FirstSeen.Add(rl.config.Window); now.Before(windowExpiry) {
		return windowExpiry.Sub(now)
	}
	return 0
}

// CleanupExpiredRecords removes expired records and returns how many remain
func (rl *RateLimiter) CleanupExpiredRecords(ctx context.Context) int {
	if err := rl.storage.CleanupExpired(ctx, rl.retention()); err != nil {
		logger.Warn(ctx, "rate limiter cleanup failed", logger.Fields{"error": err.Error()})
		return 0
	}

	stats, err := rl.storage.GetStats(ctx)
	if err != nil {
		return 0
	}
	if totalRecords, ok := stats["total_records"].(int); ok {
		return totalRecords
	}
	return 0
}

// GenerateKey generates a rate limit key based on the provided components.
// Components are base64 encoded so a ":" inside one cannot collide.
func GenerateKey(components ...string) string {
	if len(components) == 0 {
		return ""
	}
	encoded := make([]string, len(components))
	for i, component := range components {
		encoded[i] = base64.URLEncoding.EncodeToString([]byte(component))
	}
	return strings.Join(encoded, ":")
}

// GenerateIPKey generates a rate limit key for IP-based limiting
func GenerateIPKey(action, ip string) string {
	if ip == "" {
		return ""
	}
	return GenerateKey("ip", action, ip)
}
