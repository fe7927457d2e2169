package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.DBSchema != "bestiary" {
		t.Fatalf("DBSchema = %q", cfg.DBSchema)
	}
	if cfg.SessionTimeout != 10*time.Minute {
		t.Fatalf("SessionTimeout = %v", cfg.SessionTimeout)
	}
	if cfg.TokenDigits != 6 {
		t.Fatalf("TokenDigits = %d", cfg.TokenDigits)
	}
	if cfg.ReapInterval != 2500*time.Millisecond {
		t.Fatalf("ReapInterval = %v", cfg.ReapInterval)
	}
	if cfg.RegistrationTTL != 24*time.Hour {
		t.Fatalf("RegistrationTTL = %v", cfg.RegistrationTTL)
	}
	if cfg.ResetTTL != time.Hour {
		t.Fatalf("ResetTTL = %v", cfg.ResetTTL)
	}
	if cfg.CreatureQuota != 0 {
		t.Fatalf("CreatureQuota = %d", cfg.CreatureQuota)
	}
	if cfg.WSRateEvents != 120 || cfg.WSRateWindow != 10*time.Second {
		t.Fatalf("ws rate = %d/%v", cfg.WSRateEvents, cfg.WSRateWindow)
	}
	if cfg.SMTPPort != 587 {
		t.Fatalf("SMTPPort = %d", cfg.SMTPPort)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("BESTIARY_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("BESTIARY_SESSION_TIMEOUT", "90s")
	t.Setenv("BESTIARY_TOKEN_DIGITS", "8")
	t.Setenv("BESTIARY_CREATURE_QUOTA", "25")
	t.Setenv("BESTIARY_WS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("BESTIARY_READINESS_REQUIRE_DB", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.SessionTimeout != 90*time.Second {
		t.Fatalf("SessionTimeout = %v", cfg.SessionTimeout)
	}
	if cfg.TokenDigits != 8 {
		t.Fatalf("TokenDigits = %d", cfg.TokenDigits)
	}
	if cfg.CreatureQuota != 25 {
		t.Fatalf("CreatureQuota = %d", cfg.CreatureQuota)
	}
	if len(cfg.WSAllowedOrigins) != 2 || cfg.WSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("WSAllowedOrigins = %v", cfg.WSAllowedOrigins)
	}
	if !cfg.ReadinessRequireDB {
		t.Fatal("ReadinessRequireDB = false, want true")
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	t.Setenv("BESTIARY_SESSION_TIMEOUT", "soon")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected parse error for invalid duration")
	}
}
