package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourmaline.app/pkg/pricing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", cfg.Endpoint)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "usd", cfg.Currency)
	assert.Equal(t, "pm_card_visa", cfg.PaymentMethod)
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "storefront.toml", `
endpoint = "https://shop.example"
publishable_key = "pk_test_123"
profile = "work"

[store]
backend = "redis"
redis_addr = "cache:6379"

[selection]
method = "express"
country = "au"
coupon = "SAVE10"

[form]
name = "Ada Lovelace"
email = "ada@example.com"
line1 = "1 Analytical Way"
city = "Perth"
postal_code = "6000"
country = "AU"
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example", cfg.Endpoint)
	assert.Equal(t, "pk_test_123", cfg.PublishableKey)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "cache:6379", cfg.Store.RedisAddr)
	assert.Equal(t, "Perth", cfg.Form.City)
	assert.NoError(t, cfg.Form.Validate())
	assert.Equal(t, pricing.Selection{Method: pricing.Express, Country: "AU", Coupon: "SAVE10"}, cfg.selection())
	// untouched keys keep their defaults
	assert.Equal(t, "usd", cfg.Currency)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "storefront.toml", "endpoint = \"x\"\nendpont = \"typo\"\n")
	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpont")
}

func TestLoadConfigValidates(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"backend.toml": "[store]\nbackend = \"s3\"\n",
		"method.toml":  "[selection]\nmethod = \"drone\"\n",
		"syntax.toml":  "endpoint = \n",
	} {
		_, err := loadConfig(writeFile(t, dir, name, content))
		assert.Error(t, err, name)
	}
}

func TestWriteConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "storefront.toml")
	cfg := defaultConfig()
	cfg.PublishableKey = "pk_test_rt"
	require.NoError(t, writeConfig(path, cfg))

	got, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
