package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/redis/go-redis/v9"

	"tourmaline.app/pkg/cart"
	"tourmaline.app/pkg/pricing"
	"tourmaline.app/pkg/storefront"
)

// Config is the storefront client's TOML configuration
type Config struct {
	Endpoint       string          `toml:"endpoint"`
	PublishableKey string          `toml:"publishable_key"`
	StripeAPIBase  string          `toml:"stripe_api_base"`
	PaymentMethod  string          `toml:"payment_method"`
	Currency       string          `toml:"currency"`
	Profile        string          `toml:"profile"`
	Store          StoreConfig     `toml:"store"`
	Selection      SelectionConfig `toml:"selection"`
	Form           storefront.Form `toml:"form"`
}

// StoreConfig selects where the cart and theme are persisted
type StoreConfig struct {
	Backend       string `toml:"backend"` // file | redis
	Dir           string `toml:"dir"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// SelectionConfig is the default shipping and coupon selection
type SelectionConfig struct {
	Method  string `toml:"method"`
	Country string `toml:"country"`
	Coupon  string `toml:"coupon"`
}

func defaultConfig() Config {
	dir := ".tourmaline"
	if d, err := os.UserConfigDir(); err == nil {
		dir = filepath.Join(d, "tourmaline")
	}
	return Config{
		Endpoint:      "http://localhost:4000",
		PaymentMethod: "pm_card_visa",
		Currency:      "usd",
		Profile:       "default",
		Store: StoreConfig{
			Backend:   "file",
			Dir:       dir,
			RedisAddr: "localhost:6379",
		},
		Selection: SelectionConfig{Method: string(pricing.Standard)},
	}
}

// defaultConfigPath is ~/.config/tourmaline/storefront.toml
func defaultConfigPath() string {
	d, err := os.UserConfigDir()
	if err != nil {
		return "storefront.toml"
	}
	return filepath.Join(d, "tourmaline", "storefront.toml")
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return cfg, fmt.Errorf("config %s: %s", path, strict.String())
		}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			row, col := de.Position()
			return cfg, fmt.Errorf("config %s:%d:%d: %s", path, row, col, de.Error())
		}
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown store backend %q (want file or redis)", c.Store.Backend)
	}
	if _, err := pricing.ParseMethod(c.Selection.Method); err != nil {
		return err
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	return nil
}

// writeConfig saves cfg to path, creating the directory
func writeConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// selection converts the configured selection
func (c Config) selection() pricing.Selection {
	method, _ := pricing.ParseMethod(c.Selection.Method)
	return pricing.Selection{
		Method:  method,
		Country: strings.ToUpper(strings.TrimSpace(c.Selection.Country)),
		Coupon:  strings.TrimSpace(c.Selection.Coupon),
	}
}

// openStore opens the configured backend. The returned closer is never nil.
func openStore(ctx context.Context, c Config) (cart.Store, io.Closer, error) {
	switch c.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Store.RedisAddr,
			Password: c.Store.RedisPassword,
			DB:       c.Store.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", c.Store.RedisAddr, err)
		}
		s := cart.NewRedisStore(client, c.Profile)
		return s, s, nil
	default:
		dir := c.Store.Dir
		if c.Profile != "" && c.Profile != "default" {
			dir = filepath.Join(dir, c.Profile)
		}
		s, err := cart.NewFileStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
