package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"STOREFRONT_HTTP_ADDR", "STOREFRONT_CURRENCY", "STOREFRONT_AUTO_MIGRATE",
		"STOREFRONT_OUTBOX_INTERVAL", "STOREFRONT_OUTBOX_BATCH"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	cfg := Load()

	assert.Equal(t, ":5000", cfg.HTTPAddr)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "usd", cfg.Currency)
	assert.Equal(t, 2*time.Second, cfg.OutboxInterval)
	assert.Equal(t, 32, cfg.OutboxBatchSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STOREFRONT_HTTP_ADDR", ":9090")
	t.Setenv("STOREFRONT_OUTBOX_INTERVAL", "500ms")
	t.Setenv("STOREFRONT_OUTBOX_BATCH", "8")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("FRONTEND_URL", "https://shop.example.com")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.OutboxInterval)
	assert.Equal(t, 8, cfg.OutboxBatchSize)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "https://shop.example.com", cfg.FrontendURL)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("STOREFRONT_OUTBOX_BATCH", "lots")
	t.Setenv("STOREFRONT_SHUTDOWN_TIMEOUT", "soon")
	t.Setenv("STOREFRONT_AUTO_MIGRATE", "maybe")

	cfg := Load()

	assert.Equal(t, 32, cfg.OutboxBatchSize)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGracePeriod)
	assert.True(t, cfg.AutoMigrate)
}
