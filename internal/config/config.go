// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session store backends.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	APIURL         string
	APITimeout     time.Duration // 0 = no client-side timeout
	SessionStore   string
	DBPath         string
	Redis          RedisConfig
	SessionTTL     time.Duration
	JanitorEvery   time.Duration
	AllowedOrigins []string
	AppEnv         string
	LogLevel       slog.Level
	HealthTimeout  time.Duration
}

// RedisConfig locates the Redis session store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "5173"),
		APIURL:       strings.TrimRight(getEnv("API_URL", "http://localhost:8000"), "/"),
		APITimeout:   getEnvDuration("API_TIMEOUT", 0),
		SessionStore: strings.ToLower(getEnv("SESSION_STORE", StoreSQLite)),
		DBPath:       getEnv("DB_PATH", "./data/client.db"),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		SessionTTL:     getEnvDuration("SESSION_TTL", 30*24*time.Hour),
		JanitorEvery:   getEnvDuration("JANITOR_INTERVAL", 5*time.Minute),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		HealthTimeout:  5 * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_URL must be an absolute http(s) URL, got %q", c.APIURL)
	}
	if c.APITimeout < 0 {
		return fmt.Errorf("API_TIMEOUT must be >= 0")
	}
	switch c.SessionStore {
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("SESSION_STORE must be one of sqlite, redis, memory, got %q", c.SessionStore)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.JanitorEvery <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv != "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		slog.Warn("ignoring invalid duration", "key", key, "value", value)
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
