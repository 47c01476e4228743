package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/sales-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE", "DB_PATH", "OVERDUE_CHECK_INTERVAL", "CORS_ORIGINS", "LOG_LEVEL", "DEFAULT_PAYMENT_TERMS_DAYS"} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.StoreSQLite, cfg.Store)
	assert.Equal(t, "sales.db", cfg.DBPath)
	assert.Equal(t, 30, cfg.DefaultPaymentTermsDays)
	assert.Equal(t, time.Hour, cfg.OverdueCheckInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Len(t, cfg.CORSOrigins, 2)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE", "Redis")
	t.Setenv("DEFAULT_PAYMENT_TERMS_DAYS", "45")
	t.Setenv("OVERDUE_CHECK_INTERVAL", "5m")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := config.Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, config.StoreRedis, cfg.Store)
	assert.Equal(t, 45, cfg.DefaultPaymentTermsDays)
	assert.Equal(t, 5*time.Minute, cfg.OverdueCheckInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("OVERDUE_CHECK_INTERVAL", "soon")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg := config.Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Hour, cfg.OverdueCheckInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}
