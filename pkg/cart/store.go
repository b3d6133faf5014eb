package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"

	"tourmaline.app/pkg/logger"
)

// Fixed storage keys
const (
	KeyCart  = "cart"
	KeyTheme = "theme"
)

// Theme is the UI colour preference
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme accepts "light" or "dark"
func ParseTheme(s string) (Theme, error) {
	switch t := Theme(s); t {
	case ThemeLight, ThemeDark:
		return t, nil
	default:
		return "", fmt.Errorf("unknown theme %q", s)
	}
}

// Toggle returns the opposite theme
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// Store is the single persistence boundary for client-side state
type Store interface {
	Load(ctx context.Context) (Cart, error)
	Save(ctx context.Context, c Cart) error
	Clear(ctx context.Context) error
	Theme(ctx context.Context) (Theme, error)
	SetTheme(ctx context.Context, t Theme) error
}

// backend is a string key/value store with the semantics of browser local storage
type backend interface {
	get(ctx context.Context, key string) (string, bool, error)
	set(ctx context.Context, key, value string) error
	del(ctx context.Context, key string) error
}

func loadCart(ctx context.Context, b backend) (Cart, error) {
	raw, ok, err := b.get(ctx, KeyCart)
	if err != nil {
		return Cart{}, fmt.Errorf("load cart: %w", err)
	}
	if !ok || raw == "" {
		return Cart{}, nil
	}
	var c Cart
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		// unreadable data is discarded, matching a fresh browser profile
		logger.Warn(ctx, "discarding unreadable stored cart", logger.Fields{"error": err.Error()})
		return Cart{}, nil
	}
	return c, nil
}

func saveCart(ctx context.Context, b backend, c Cart) error {
	if c.IsEmpty() {
		return clearCart(ctx, b)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := b.set(ctx, KeyCart, string(data)); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func clearCart(ctx context.Context, b backend) error {
	if err := b.del(ctx, KeyCart); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func loadTheme(ctx context.Context, b backend) (Theme, error) {
	raw, ok, err := b.get(ctx, KeyTheme)
	if err != nil {
		return ThemeLight, fmt.Errorf("load theme: %w", err)
	}
	if !ok {
		return ThemeLight, nil
	}
	t, err := ParseTheme(raw)
	if err != nil {
		return ThemeLight, nil
	}
	return t, nil
}

func saveTheme(ctx context.Context, b backend, t Theme) error {
	if _, err := ParseTheme(string(t)); err != nil {
		return err
	}
	if err := b.set(ctx, KeyTheme, string(t)); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	return nil
}

// FileStore keeps the key/value pairs in one JSON file, written atomically
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by dir/storage.json, creating dir if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, "storage.json")}, nil
}

// Path is the backing file
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) readAll() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return m, nil
}

func (s *FileStore) writeAll(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".storage-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.readAll()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (s *FileStore) set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.readAll()
	if err != nil {
		return err
	}
	m[key] = value
	return s.writeAll(m)
}

func (s *FileStore) del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.readAll()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return s.writeAll(m)
}

func (s *FileStore) Load(ctx context.Context) (Cart, error)      { return loadCart(ctx, s) }
func (s *FileStore) Save(ctx context.Context, c Cart) error      { return saveCart(ctx, s, c) }
func (s *FileStore) Clear(ctx context.Context) error             { return clearCart(ctx, s) }
func (s *FileStore) Theme(ctx context.Context) (Theme, error)    { return loadTheme(ctx, s) }
func (s *FileStore) SetTheme(ctx context.Context, t Theme) error { return saveTheme(ctx, s, t) }

// RedisStore keeps the pairs under "<prefix><key>" so several storefront
// profiles can share one Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store for profile
func NewRedisStore(client *redis.Client, profile string) *RedisStore {
	if profile == "" {
		profile = "default"
	}
	return &RedisStore{client: client, prefix: "tourmaline:" + profile + ":"}
}

func (s *RedisStore) get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *RedisStore) del(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) Load(ctx context.Context) (Cart, error)      { return loadCart(ctx, s) }
func (s *RedisStore) Save(ctx context.Context, c Cart) error      { return saveCart(ctx, s, c) }
func (s *RedisStore) Clear(ctx context.Context) error             { return clearCart(ctx, s) }
func (s *RedisStore) Theme(ctx context.Context) (Theme, error)    { return loadTheme(ctx, s) }
func (s *RedisStore) SetTheme(ctx context.Context, t Theme) error { return saveTheme(ctx, s, t) }

// Close closes the Redis client
func (s *RedisStore) Close() error { return s.client.Close() }

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: map[string]string{}}
}

func (s *MemoryStore) get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemoryStore) set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *MemoryStore) del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) (Cart, error)      { return loadCart(ctx, s) }
func (s *MemoryStore) Save(ctx context.Context, c Cart) error      { return saveCart(ctx, s, c) }
func (s *MemoryStore) Clear(ctx context.Context) error             { return clearCart(ctx, s) }
func (s *MemoryStore) Theme(ctx context.Context) (Theme, error)    { return loadTheme(ctx, s) }
func (s *MemoryStore) SetTheme(ctx context.Context, t Theme) error { return saveTheme(ctx, s, t) }

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
