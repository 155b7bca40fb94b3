package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // PostgreSQL; when empty, SQLite is used
	SQLitePath  string
	RedisURL    string // optional, backs the model catalog cache

	// OpenRouter upstream
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	AppURL            string // sent as HTTP-Referer
	AppName           string // sent as X-Title

	// Streaming
	StreamTimeout  time.Duration // bounds one completion request end to end
	ModelsCacheTTL time.Duration
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
		RedisURL:    os.Getenv("REDIS_URL"),

		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		AppURL:            getEnv("APP_URL", "http://localhost:8080"),
		AppName:           getEnv("APP_NAME", "GameMaster"),

		StreamTimeout:  getDuration("STREAM_TIMEOUT_SECONDS", 120*time.Second),
		ModelsCacheTTL: getDuration("MODELS_CACHE_TTL_SECONDS", time.Hour),
	}

	// In production, require the upstream API key and a real database
	if cfg.Env == "production" {
		if cfg.OpenRouterAPIKey == "" {
			panic("OPENROUTER_API_KEY is required in production")
		}
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
