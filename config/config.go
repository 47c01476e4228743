/*
Package config reads server settings from the environment.

SOURCES (later wins):
  1. Built-in defaults
  2. .env file in the working directory, if present
  3. Process environment
  4. Command-line flags (applied by cmd/server)

VARIABLES:
  PORT                        HTTP port (8080)
  STORE                       memory | sqlite | redis (sqlite)
  DB_PATH                     SQLite path, ":memory:" allowed (sales.db)
  REDIS_URL                   redis://host:port/db (redis://localhost:6379/0)
  REDIS_PREFIX                Key prefix (crm)
  DEFAULT_PAYMENT_TERMS_DAYS  Due days for unknown terms codes (30)
  PAYMENT_TERMS_FILE          Optional JSON payment-terms table
  OVERDUE_CHECK_INTERVAL      Overdue scan period, 0 disables (1h)
  CORS_ORIGINS                Comma-separated allowed origins
  LOG_LEVEL                   debug | info | warn | error (info)
*/
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type Config struct {
	Port                    int
	Store                   string
	DBPath                  string
	RedisURL                string
	RedisPrefix             string
	DefaultPaymentTermsDays int
	PaymentTermsFile        string
	OverdueCheckInterval    time.Duration
	CORSOrigins             []string
	LogLevel                slog.Level
}

func Load() *Config {
	// Load .env file if exists
	godotenv.Load()

	return &Config{
		Port:                    getEnvAsInt("PORT", 8080),
		Store:                   strings.ToLower(getEnv("STORE", StoreSQLite)),
		DBPath:                  getEnv("DB_PATH", "sales.db"),
		RedisURL:                getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:             getEnv("REDIS_PREFIX", "crm"),
		DefaultPaymentTermsDays: getEnvAsInt("DEFAULT_PAYMENT_TERMS_DAYS", 30),
		PaymentTermsFile:        getEnv("PAYMENT_TERMS_FILE", ""),
		OverdueCheckInterval:    getEnvAsDuration("OVERDUE_CHECK_INTERVAL", time.Hour),
		CORSOrigins:             getEnvAsList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
		LogLevel:                getEnvAsLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(value)); err == nil {
			return level
		}
	}
	return defaultValue
}
