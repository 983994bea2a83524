package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "MATCH_MAX_WAIT", "CHAT_DURATION", "REDIS_ADDR", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "./data/connect.db")
	t.Setenv("MATCH_MAX_WAIT", "60s")
	t.Setenv("CHAT_DURATION", "1200")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Match.MaxWait != time.Minute {
		t.Errorf("MaxWait = %v", cfg.Match.MaxWait)
	}
	if cfg.Session.ChatDuration != 20*time.Minute {
		t.Errorf("ChatDuration = %v", cfg.Session.ChatDuration)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "x.db")
	t.Setenv("DISCONNECT_GRACE", "0s")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero DISCONNECT_GRACE")
	}
}

func TestGetEnvDurationFallback(t *testing.T) {
	t.Setenv("X_DURATION", "soon")
	if got := getEnvDuration("X_DURATION", 3*time.Second); got != 3*time.Second {
		t.Fatalf("got %v", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"https://introji.app", false},
	}
	for _, tt := range tests {
		c := &Config{FrontendURL: tt.url}
		if got := c.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
	if got := (&Config{}).AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("AllowedOrigins() = %v", got)
	}
}
