// Package config loads storefront settings from environment or map sources
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"tourmaline.app/pkg/logger"
)

// EnvPrefix is prepended to every key when settings are read from the environment.
const EnvPrefix = "STOREFRONT_"

// Settings holds all storefront configuration
type Settings struct {
	// Payment settings
	PaymentsCurrency    string `json:"payments_currency"`
	PaymentsDescription string `json:"payments_description"`
	ShippingCountry     string `json:"shipping_country"`
	PaymentsPerMinute   int    `json:"payments_rate_limit_per_minute"`

	// RateLimitRedisAddr shares the payment limiter across instances when set
	RateLimitRedisAddr string `json:"ratelimit_redis_addr"`

	// Site settings
	SiteBaseURL   string `json:"site_base_url"`
	StaticBucket  string `json:"static_bucket"`
	StaticProject string `json:"static_project"`

	// CORS settings
	CORSAllowedOrigins []string `json:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers"`
	CORSMaxAge         int      `json:"cors_max_age"`

	// Pricing settings (minor units, basis points)
	FreeShippingThreshold int64  `json:"free_shipping_threshold"`
	ShippingStandard      int64  `json:"shipping_standard"`
	ShippingExpress       int64  `json:"shipping_express"`
	TaxCountry            string `json:"tax_country"`
	TaxRateBps            int64  `json:"tax_rate_bps"`

	// Notification settings
	NotifyEnabled  bool   `json:"notify_enabled"`
	NotifyURL      string `json:"notify_url"`
	NotifyTitle    string `json:"notify_title"`
	FulfillmentURL string `json:"fulfillment_url"`

	// Stock API
	StockAPIURL  string        `json:"stock_api_url"`
	StockTimeout time.Duration `json:"stock_timeout"`

	// Webhook
	WebhookMaxBodyBytes int64 `json:"webhook_max_body_bytes"`

	// Metadata
	LastUpdated time.Time `json:"last_updated"`
}

// Source supplies raw key/value settings. Keys use dotted lower-case names
// such as "payments.currency".
type Source interface {
	Load(ctx context.Context) (map[string]string, error)
}

// EnvSource reads settings from environment variables. A key like
// "payments.currency" maps to STOREFRONT_PAYMENTS_CURRENCY.
type EnvSource struct {
	Prefix string
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load implements Source
func (s EnvSource) Load(ctx context.Context) (map[string]string, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	prefix := s.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}
	out := make(map[string]string, len(knownKeys))
	for _, key := range knownKeys {
		if v, ok := lookup(EnvName(prefix, key)); ok {
			out[key] = v
		}
	}
	return out, nil
}

// EnvName returns the environment variable name for a dotted settings key.
func EnvName(prefix, key string) string {
	return prefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// MapSource is a static Source, mostly useful in tests.
type MapSource map[string]string

// Load implements Source
func (m MapSource) Load(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

var knownKeys = []string{
	"payments.currency",
	"payments.description",
	"payments.shipping_country",
	"payments.rate_limit_per_minute",
	"ratelimit.redis_addr",
	"site.base_url",
	"static.bucket",
	"static.project",
	"cors.allowed_origins",
	"cors.allowed_methods",
	"cors.allowed_headers",
	"cors.max_age",
	"pricing.free_shipping_threshold",
	"pricing.shipping_standard",
	"pricing.shipping_express",
	"pricing.tax_country",
	"pricing.tax_rate_bps",
	"notify.enabled",
	"notify.url",
	"notify.title",
	"fulfillment.url",
	"stock.api_url",
	"stock.timeout_ms",
	"webhook.max_body_bytes",
}

// Manager holds the loaded storefront settings
type Manager struct {
	source   Source
	settings *Settings
	mutex    sync.RWMutex
}

// NewManager creates a configuration manager and loads settings from source
func NewManager(source Source) *Manager {
	if source == nil {
		source = EnvSource{}
	}
	manager := &Manager{source: source}

	if err := manager.LoadSettings(context.Background()); err != nil {
		logger.Warn(context.Background(), "Failed to load initial settings, using defaults", logger.Fields{"error": err.Error()})
		manager.settings = Defaults()
	}
	return manager
}

// LoadSettings loads settings from the source
func (cm *Manager) LoadSettings(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	values, err := cm.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	cm.apply(Parse(values))
	return nil
}

// Defaults returns the settings used when no source values are present.
func Defaults() *Settings {
	return Parse(nil)
}

// Parse builds Settings from a key/value map, falling back to defaults for
// missing or malformed values.
func Parse(values map[string]string) *Settings {
	s := &Settings{}

	s.PaymentsCurrency = strings.ToLower(parseString(values["payments.currency"], "usd"))
	s.PaymentsDescription = parseString(values["payments.description"], "Tourmaline Tech Order")
	s.ShippingCountry = strings.ToUpper(parseString(values["payments.shipping_country"], "AU"))
	s.PaymentsPerMinute = parseInt(values["payments.rate_limit_per_minute"], 10)
	if s.PaymentsPerMinute <= 0 {
		s.PaymentsPerMinute = 10
	}
	s.RateLimitRedisAddr = parseString(values["ratelimit.redis_addr"], "")

	s.SiteBaseURL = strings.TrimRight(parseString(values["site.base_url"], ""), "/")
	s.StaticBucket = parseString(values["static.bucket"], "")
	s.StaticProject = parseString(values["static.project"], "")

	s.CORSAllowedOrigins = parseStringSlice(values["cors.allowed_origins"], []string{"*"})
	s.CORSAllowedMethods = parseStringSlice(values["cors.allowed_methods"], []string{"GET", "POST", "OPTIONS"})
	s.CORSAllowedHeaders = parseStringSlice(values["cors.allowed_headers"], []string{"Content-Type", "Stripe-Signature", "Idempotency-Key"})
	s.CORSMaxAge = parseInt(values["cors.max_age"], 86400)

	s.FreeShippingThreshold = parseInt64(values["pricing.free_shipping_threshold"], 15000)
	s.ShippingStandard = parseInt64(values["pricing.shipping_standard"], 1000)
	s.ShippingExpress = parseInt64(values["pricing.shipping_express"], 2500)
	s.TaxCountry = strings.ToUpper(parseString(values["pricing.tax_country"], "AU"))
	s.TaxRateBps = parseInt64(values["pricing.tax_rate_bps"], 1000)
	if s.TaxRateBps < 0 {
		s.TaxRateBps = 0
	}

	s.NotifyEnabled = parseBool(values["notify.enabled"], true)
	s.NotifyURL = parseString(values["notify.url"], "")
	s.NotifyTitle = parseString(values["notify.title"], "New Tourmaline order")
	s.FulfillmentURL = parseString(values["fulfillment.url"], "")

	s.StockAPIURL = strings.TrimRight(parseString(values["stock.api_url"], ""), "/")
	s.StockTimeout = time.Duration(parseInt(values["stock.timeout_ms"], 5000)) * time.Millisecond

	s.WebhookMaxBodyBytes = parseInt64(values["webhook.max_body_bytes"], 65536)

	s.LastUpdated = time.Now().UTC()
	return s
}

func (cm *Manager) apply(settings *Settings) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.settings = settings
}

// GetSettings returns current settings (thread-safe)
func (cm *Manager) GetSettings() *Settings {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	// Return a copy to prevent external modifications
	settingsCopy := *cm.settings
	return &settingsCopy
}

// Helper parsing functions
func parseBool(value string, defaultValue bool) bool {
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseInt(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseInt64(value string, defaultValue int64) int64 {
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseString(value string, defaultValue string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseStringSlice(value string, defaultValue []string) []string {
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}

// Global config manager instance
var (
	globalManager *Manager
	initOnce      sync.Once
)

// Initialize initializes the global config manager
func Initialize(source Source) *Manager {
	initOnce.Do(func() {
		globalManager = NewManager(source)
	})
	return globalManager
}

// GetGlobalManager returns the global config manager, or nil before Initialize
func GetGlobalManager() *Manager {
	return globalManager
}

// GetSettings returns the global settings, or defaults before Initialize
func GetSettings() *Settings {
	if m := GetGlobalManager(); m != nil {
		return m.GetSettings()
	}
	return Defaults()
}
