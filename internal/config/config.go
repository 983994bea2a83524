// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogLevel    slog.Level

	Match   MatchConfig
	Session SessionConfig
	Relay   RelayConfig
	Redis   RedisConfig
}

// MatchConfig controls the matching pool.
type MatchConfig struct {
	MaxWait       time.Duration
	SweepInterval time.Duration
}

// SessionConfig controls session lifetimes.
type SessionConfig struct {
	ChatDuration    time.Duration
	DisconnectGrace time.Duration
	CodeTTL         time.Duration
	SweepInterval   time.Duration
	LockTimeout     time.Duration
}

// RelayConfig controls chat message intake.
type RelayConfig struct {
	SendRateLimit  int
	SendRateWindow time.Duration
}

// RedisConfig selects the Redis event broker. An empty Addr keeps events
// in process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/connect.db"),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Match: MatchConfig{
			MaxWait:       getEnvDuration("MATCH_MAX_WAIT", 60*time.Second),
			SweepInterval: getEnvDuration("MATCH_SWEEP_INTERVAL", 5*time.Second),
		},
		Session: SessionConfig{
			ChatDuration:    getEnvDuration("CHAT_DURATION", 20*time.Minute),
			DisconnectGrace: getEnvDuration("DISCONNECT_GRACE", 2*time.Minute),
			CodeTTL:         getEnvDuration("RECONNECT_CODE_TTL", 24*time.Hour),
			SweepInterval:   getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Second),
			LockTimeout:     getEnvDuration("LOCK_TIMEOUT", 2*time.Second),
		},
		Relay: RelayConfig{
			SendRateLimit:  getEnvInt("SEND_RATE_LIMIT", 30),
			SendRateWindow: getEnvDuration("SEND_RATE_WINDOW", time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
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
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"MATCH_MAX_WAIT", c.Match.MaxWait},
		{"MATCH_SWEEP_INTERVAL", c.Match.SweepInterval},
		{"CHAT_DURATION", c.Session.ChatDuration},
		{"DISCONNECT_GRACE", c.Session.DisconnectGrace},
		{"RECONNECT_CODE_TTL", c.Session.CodeTTL},
		{"SESSION_SWEEP_INTERVAL", c.Session.SweepInterval},
		{"LOCK_TIMEOUT", c.Session.LockTimeout},
		{"SEND_RATE_WINDOW", c.Relay.SendRateWindow},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be > 0", d.key)
		}
	}
	if c.Relay.SendRateLimit <= 0 {
		return fmt.Errorf("SEND_RATE_LIMIT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
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

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
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
