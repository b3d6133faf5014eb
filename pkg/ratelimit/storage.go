package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Storage defines the interface for rate limit storage backends
type Storage interface {
	// GetRecord retrieves an attempt record, or nil when the key is unknown
	GetRecord(ctx context.Context, key string) (*AttemptRecord, error)

	// SetRecord stores an attempt record; ttl bounds how long it is kept
	SetRecord(ctx context.Context, key string, record *AttemptRecord, ttl time.Duration) error

	// CleanupExpired removes records idle for longer than retention
	CleanupExpired(ctx context.Context, retention time.Duration) error

	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// MemoryStorage implements in-memory storage for rate limiting
type MemoryStorage struct {
	attempts map[string]*AttemptRecord
	mutex    sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		attempts: make(map[string]*AttemptRecord),
	}
}

func copyRecord(record *AttemptRecord) *AttemptRecord {
	recordCopy := *record
	if record.BlockedAt != nil {
		blockedAtCopy := *record.BlockedAt
		recordCopy.BlockedAt = &blockedAtCopy
	}
	return &recordCopy
}

// GetRecord retrieves an attempt record for the given key
func (ms *MemoryStorage) GetRecord(ctx context.Context, key string) (*AttemptRecord, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	record, exists := ms.attempts[key]
	if !exists {
		return nil, nil
	}
	return copyRecord(record), nil
}

// SetRecord stores an attempt record for the given key
func (ms *MemoryStorage) SetRecord(ctx context.Context, key string, record *AttemptRecord, ttl time.Duration) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.attempts[key] = copyRecord(record)
	return nil
}

// CleanupExpired removes all expired records
func (ms *MemoryStorage) CleanupExpired(ctx context.Context, retention time.Duration) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	now := time.Now().UTC()
	for key, record := range ms.attempts {
		last := record.LastSeen
		if record.BlockedAt != nil && record.BlockedAt.After(last) {
			last = *record.BlockedAt
		}
		if now.Sub(last) > retention {
			delete(ms.attempts, key)
		}
	}
	return nil
}

// GetStats returns storage statistics
func (ms *MemoryStorage) GetStats(ctx context.Context) (map[string]interface{}, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	blockedCount := 0
	for _, record := range ms.attempts {
		if record.BlockedAt != nil {
			blockedCount++
		}
	}

	return map[string]interface{}{
		"type":          "memory",
		"total_records": len(ms.attempts),
		"blocked_count": blockedCount,
		"active_count":  len(ms.attempts) - blockedCount,
	}, nil
}

// RedisStorage keeps attempt records in Redis so several edge instances
// share one budget per client. Expiry is delegated to Redis TTLs.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage creates a Redis-backed storage; prefix namespaces the keys
func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (rs *RedisStorage) key(key string) string {
	return rs.prefix + key
}

// GetRecord retrieves an attempt record for the given key
func (rs *RedisStorage) GetRecord(ctx context.Context, key string) (*AttemptRecord, error) {
	data, err := rs.client.Get(ctx, rs.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var record AttemptRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode attempt record: %w", err)
	}
	return &record, nil
}

// SetRecord stores an attempt record for the given key
func (rs *RedisStorage) SetRecord(ctx context.Context, key string, record *AttemptRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode attempt record: %w", err)
	}
	if err := rs.client.Set(ctx, rs.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op; Redis expires keys itself
func (rs *RedisStorage) CleanupExpired(ctx context.Context, retention time.Duration) error {
	return nil
}

// GetStats returns storage statistics
func (rs *RedisStorage) GetStats(ctx context.Context) (map[string]interface{}, error) {
	var total int
	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		total++
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return map[string]interface{}{
		"type":          "redis",
		"total_records": total,
	}, nil
}
