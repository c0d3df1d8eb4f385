package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Client.Audio.Cooldown() != time.Second {
		t.Fatalf("expected 1s cooldown, got %v", cfg.Client.Audio.Cooldown())
	}
	if cfg.Client.Audio.PanicDelay() != 5*time.Second {
		t.Fatalf("expected 5s panic delay, got %v", cfg.Client.Audio.PanicDelay())
	}
	if cfg.Client.Playback.DialoguePause() != 600*time.Millisecond {
		t.Fatalf("expected 600ms dialogue pause, got %v", cfg.Client.Playback.DialoguePause())
	}
	if cfg.Gemini.TTSVoiceMan != "Charon" || cfg.Gemini.TTSVoiceWoman != "Aoede" {
		t.Fatalf("unexpected default voices: %+v", cfg.Gemini)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "langbridge.yaml")
	data := []byte(`
http:
  port: 9000
cors:
  allowed_origins: ["https://app.example"]
client:
  api_base: https://edge.example
  audio:
    cooldown_ms: 250
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.HTTP.Port)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://app.example" {
		t.Fatalf("unexpected origins %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Client.Audio.CooldownMS != 250 {
		t.Fatalf("expected cooldown override, got %d", cfg.Client.Audio.CooldownMS)
	}
	if cfg.Client.Audio.PanicDelayMS != 5000 {
		t.Fatalf("expected default panic delay kept, got %d", cfg.Client.Audio.PanicDelayMS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-generic")
	t.Setenv("LANGBRIDGE_GEMINI_API_KEY", "from-prefixed")
	t.Setenv("LANGBRIDGE_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LANGBRIDGE_BUS_ENABLED", "true")
	t.Setenv("LANGBRIDGE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LANGBRIDGE_RATE_LIMIT_ENABLED", "true")
	t.Setenv("LANGBRIDGE_RATE_LIMIT_RPS", "2.5")
	t.Setenv("LANGBRIDGE_CLIENT_PLAYBACK_RATE", "0.75")
	t.Setenv("LANGBRIDGE_CLIENT_RETENTION_MODE", "ephemeral")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gemini.APIKey != "from-prefixed" {
		t.Fatalf("expected prefixed key to win, got %q", cfg.Gemini.APIKey)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RPS != 2.5 {
		t.Fatalf("expected rate limit overrides, got %+v", cfg.RateLimit)
	}
	if cfg.Client.Playback.Rate != 0.75 {
		t.Fatalf("expected playback rate 0.75, got %v", cfg.Client.Playback.Rate)
	}
	if cfg.Client.RetentionMode != "ephemeral" {
		t.Fatalf("expected ephemeral retention")
	}
}

func TestValidateRejectsBadPlaybackRate(t *testing.T) {
	t.Setenv("LANGBRIDGE_CLIENT_PLAYBACK_RATE", "1.5")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for playback rate 1.5")
	}
}

func TestValidateRejectsRateLimitWithoutRPS(t *testing.T) {
	t.Setenv("LANGBRIDGE_RATE_LIMIT_ENABLED", "true")
	t.Setenv("LANGBRIDGE_RATE_LIMIT_RPS", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for rps 0")
	}
}

func TestTelemetryLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (TelemetryConfig{LogLevel: in}).Level(); got != want {
			t.Fatalf("Level(%q) = %v, want %v", in, got, want)
		}
	}
}
