package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Gemini      GeminiConfig    `yaml:"gemini"`
	CORS        CORSConfig      `yaml:"cors"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Sentry      SentryConfig    `yaml:"sentry"`
	Client      ClientConfig    `yaml:"client"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// GeminiConfig configures the upstream generative-AI service the edge API proxies.
type GeminiConfig struct {
	APIKey        string `yaml:"api_key"`
	Endpoint      string `yaml:"endpoint"`
	TextModel     string `yaml:"text_model"`
	TTSModel      string `yaml:"tts_model"`
	TTSVoice      string `yaml:"tts_voice"`
	TTSVoiceWoman string `yaml:"tts_voice_woman"`
	TTSVoiceMan   string `yaml:"tts_voice_man"`
	MaxRetries    int    `yaml:"max_retries"`
	TimeoutMS     int    `yaml:"timeout_ms"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type SentryConfig struct {
	DSN              string  `yaml:"dsn"`
	TracesSampleRate float64 `yaml:"traces_sample_rate"`
}

// ClientConfig holds settings for the study client binary.
type ClientConfig struct {
	APIBase       string         `yaml:"api_base"`
	StorePath     string         `yaml:"store_path"`
	RetentionMode string         `yaml:"retention_mode"`
	Audio         AudioConfig    `yaml:"audio"`
	Speech        SpeechConfig   `yaml:"speech"`
	Playback      PlaybackConfig `yaml:"playback"`
}

type AudioConfig struct {
	CooldownMS       int `yaml:"cooldown_ms"`
	PanicDelayMS     int `yaml:"panic_delay_ms"`
	RateLimitRetries int `yaml:"rate_limit_retries"`
	CacheEntries     int `yaml:"cache_entries"`
}

type SpeechConfig struct {
	Command        string `yaml:"command"`
	WordsPerMinute int    `yaml:"words_per_minute"`
}

type PlaybackConfig struct {
	Player          string  `yaml:"player"` // oto, none
	Rate            float64 `yaml:"rate"`
	DialoguePauseMS int     `yaml:"dialogue_pause_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "langbridge-edge",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8787,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Gemini: GeminiConfig{
			Endpoint:      "https://generativelanguage.googleapis.com/v1beta",
			TextModel:     "gemini-1.5-flash-latest",
			TTSModel:      "gemini-2.0-flash-exp",
			TTSVoice:      "Aoede",
			TTSVoiceWoman: "Aoede",
			TTSVoiceMan:   "Charon",
			MaxRetries:    2,
			TimeoutMS:     60000,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			RPS:     5,
			Burst:   10,
		},
		Sentry: SentryConfig{
			TracesSampleRate: 0.2,
		},
		Client: ClientConfig{
			APIBase:       "http://localhost:8787",
			StorePath:     "./data/langbridge.db",
			RetentionMode: "persistent",
			Audio: AudioConfig{
				CooldownMS:       1000,
				PanicDelayMS:     5000,
				RateLimitRetries: 2,
				CacheEntries:     512,
			},
			Speech: SpeechConfig{
				Command:        "espeak-ng --stdin -v {voice} -s {wpm}",
				WordsPerMinute: 175,
			},
			Playback: PlaybackConfig{
				Player:          "oto",
				Rate:            1.0,
				DialoguePauseMS: 600,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration helpers keep the yaml surface in plain milliseconds.

func (c AudioConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMS) * time.Millisecond
}

func (c AudioConfig) PanicDelay() time.Duration {
	return time.Duration(c.PanicDelayMS) * time.Millisecond
}

func (c PlaybackConfig) DialoguePause() time.Duration {
	return time.Duration(c.DialoguePauseMS) * time.Millisecond
}

// Level maps log_level onto a slog level; unknown values mean info.
func (c TelemetryConfig) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c GeminiConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LANGBRIDGE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LANGBRIDGE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LANGBRIDGE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LANGBRIDGE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LANGBRIDGE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LANGBRIDGE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LANGBRIDGE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LANGBRIDGE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LANGBRIDGE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LANGBRIDGE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LANGBRIDGE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LANGBRIDGE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LANGBRIDGE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LANGBRIDGE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LANGBRIDGE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LANGBRIDGE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LANGBRIDGE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LANGBRIDGE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	overrideString(&cfg.Gemini.APIKey, "LANGBRIDGE_GEMINI_API_KEY")
	overrideString(&cfg.Gemini.Endpoint, "LANGBRIDGE_GEMINI_ENDPOINT")
	overrideString(&cfg.Gemini.TextModel, "LANGBRIDGE_GEMINI_TEXT_MODEL")
	overrideString(&cfg.Gemini.TTSModel, "LANGBRIDGE_GEMINI_TTS_MODEL")
	overrideString(&cfg.Gemini.TTSVoice, "LANGBRIDGE_GEMINI_TTS_VOICE")
	overrideString(&cfg.Gemini.TTSVoiceWoman, "LANGBRIDGE_GEMINI_TTS_VOICE_WOMAN")
	overrideString(&cfg.Gemini.TTSVoiceMan, "LANGBRIDGE_GEMINI_TTS_VOICE_MAN")
	overrideInt(&cfg.Gemini.MaxRetries, "LANGBRIDGE_GEMINI_MAX_RETRIES")
	overrideInt(&cfg.Gemini.TimeoutMS, "LANGBRIDGE_GEMINI_TIMEOUT_MS")
	overrideStringSlice(&cfg.CORS.AllowedOrigins, "LANGBRIDGE_CORS_ALLOWED_ORIGINS")
	overrideBool(&cfg.RateLimit.Enabled, "LANGBRIDGE_RATE_LIMIT_ENABLED")
	overrideFloat(&cfg.RateLimit.RPS, "LANGBRIDGE_RATE_LIMIT_RPS")
	overrideInt(&cfg.RateLimit.Burst, "LANGBRIDGE_RATE_LIMIT_BURST")
	overrideString(&cfg.Sentry.DSN, "LANGBRIDGE_SENTRY_DSN")
	overrideFloat(&cfg.Sentry.TracesSampleRate, "LANGBRIDGE_SENTRY_TRACES_SAMPLE_RATE")
	overrideString(&cfg.Client.APIBase, "LANGBRIDGE_CLIENT_API_BASE")
	overrideString(&cfg.Client.StorePath, "LANGBRIDGE_CLIENT_STORE_PATH")
	overrideString(&cfg.Client.RetentionMode, "LANGBRIDGE_CLIENT_RETENTION_MODE")
	overrideInt(&cfg.Client.Audio.CooldownMS, "LANGBRIDGE_CLIENT_AUDIO_COOLDOWN_MS")
	overrideInt(&cfg.Client.Audio.PanicDelayMS, "LANGBRIDGE_CLIENT_AUDIO_PANIC_DELAY_MS")
	overrideInt(&cfg.Client.Audio.RateLimitRetries, "LANGBRIDGE_CLIENT_AUDIO_RATE_LIMIT_RETRIES")
	overrideInt(&cfg.Client.Audio.CacheEntries, "LANGBRIDGE_CLIENT_AUDIO_CACHE_ENTRIES")
	overrideString(&cfg.Client.Speech.Command, "LANGBRIDGE_CLIENT_SPEECH_COMMAND")
	overrideInt(&cfg.Client.Speech.WordsPerMinute, "LANGBRIDGE_CLIENT_SPEECH_WPM")
	overrideString(&cfg.Client.Playback.Player, "LANGBRIDGE_CLIENT_PLAYBACK_PLAYER")
	overrideFloat(&cfg.Client.Playback.Rate, "LANGBRIDGE_CLIENT_PLAYBACK_RATE")
	overrideInt(&cfg.Client.Playback.DialoguePauseMS, "LANGBRIDGE_CLIENT_DIALOGUE_PAUSE_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Gemini.Endpoint == "" {
		return errors.New("gemini.endpoint must not be empty")
	}
	if cfg.Gemini.TextModel == "" || cfg.Gemini.TTSModel == "" {
		return errors.New("gemini.text_model and gemini.tts_model must not be empty")
	}
	if cfg.Gemini.MaxRetries < 0 {
		return errors.New("gemini.max_retries must be >= 0")
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RPS <= 0 {
			return errors.New("rate_limit.rps must be positive")
		}
		if cfg.RateLimit.Burst <= 0 {
			return errors.New("rate_limit.burst must be >= 1")
		}
	}
	if cfg.Sentry.TracesSampleRate < 0 || cfg.Sentry.TracesSampleRate > 1 {
		return errors.New("sentry.traces_sample_rate must be between 0 and 1")
	}
	if cfg.Client.APIBase == "" {
		return errors.New("client.api_base must not be empty")
	}
	switch cfg.Client.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("client.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Client.RetentionMode == "persistent" && cfg.Client.StorePath == "" {
		return errors.New("client.store_path must not be empty when retention_mode=persistent")
	}
	audio := cfg.Client.Audio
	if audio.CooldownMS < 0 || audio.PanicDelayMS < 0 {
		return errors.New("client.audio delays must be >= 0")
	}
	if audio.RateLimitRetries < 0 {
		return errors.New("client.audio.rate_limit_retries must be >= 0")
	}
	if audio.CacheEntries <= 0 {
		return errors.New("client.audio.cache_entries must be >= 1")
	}
	switch cfg.Client.Playback.Player {
	case "oto", "none":
	default:
		return errors.New("client.playback.player must be one of oto|none")
	}
	if cfg.Client.Playback.Rate != 0.75 && cfg.Client.Playback.Rate != 1.0 {
		return errors.New("client.playback.rate must be 0.75 or 1.0")
	}
	if cfg.Client.Playback.DialoguePauseMS < 0 {
		return errors.New("client.playback.dialogue_pause_ms must be >= 0")
	}
	if cfg.Client.Speech.WordsPerMinute <= 0 {
		return errors.New("client.speech.words_per_minute must be positive")
	}
	return nil
}
