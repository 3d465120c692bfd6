// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Storage settings.
	Store       string // "sqlite" or "postgres"
	SQLitePath  string
	DatabaseURL string

	// Reasoning provider settings.
	ReasoningProvider  string // "auto", "openai", "ollama", "gemini", or "none"
	OpenAIAPIKey       string
	OpenAIModel        string
	OllamaURL          string
	OllamaModel        string
	GeminiAPIKey       string
	GeminiModel        string
	ReasoningTimeout   time.Duration
	ReasoningMaxTokens int

	// Decision pipeline settings.
	HistoryLimit   int
	TuningWindow   int
	TuningInterval time.Duration // 0 disables scheduled retunes.

	// Rate limiting for /v1/decide.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint    string
	OTELInsecure    bool
	OTELSampleRatio float64
	ServiceName     string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		collect(err)
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		collect(err)
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := envBool(key, def)
		collect(err)
		return v
	}
	floatVar := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		collect(err)
		return v
	}

	cfg := Config{
		Port:                intVar("KAIRO_PORT", 8080),
		ReadTimeout:         durVar("KAIRO_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        durVar("KAIRO_WRITE_TIMEOUT", 60*time.Second),
		MaxRequestBodyBytes: int64(intVar("KAIRO_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		Store:               envStr("KAIRO_STORE", "sqlite"),
		SQLitePath:          envStr("KAIRO_SQLITE_PATH", "data/kairo.db"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		ReasoningProvider:   envStr("KAIRO_REASONING_PROVIDER", "auto"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		OpenAIModel:         envStr("KAIRO_OPENAI_MODEL", "gpt-4o-mini"),
		OllamaURL:           envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envStr("KAIRO_OLLAMA_MODEL", "qwen2.5:3b"),
		GeminiAPIKey:        envStr("GEMINI_API_KEY", ""),
		GeminiModel:         envStr("KAIRO_GEMINI_MODEL", "gemini-2.5-flash"),
		ReasoningTimeout:    durVar("KAIRO_REASONING_TIMEOUT", 30*time.Second),
		ReasoningMaxTokens:  intVar("KAIRO_REASONING_MAX_TOKENS", 1024),
		HistoryLimit:        intVar("KAIRO_HISTORY_LIMIT", 5),
		TuningWindow:        intVar("KAIRO_TUNING_WINDOW", 100),
		TuningInterval:      durVar("KAIRO_TUNING_INTERVAL", time.Hour),
		RateLimitEnabled:    boolVar("KAIRO_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:        floatVar("KAIRO_RATE_LIMIT_RPS", 2),
		RateLimitBurst:      intVar("KAIRO_RATE_LIMIT_BURST", 10),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        boolVar("KAIRO_OTEL_INSECURE", false),
		OTELSampleRatio:     floatVar("KAIRO_OTEL_SAMPLE_RATIO", 1),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "kairo"),
		LogLevel:            envStr("KAIRO_LOG_LEVEL", "info"),
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and in range.
func (c Config) Validate() error {
	switch c.Store {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("config: KAIRO_SQLITE_PATH is required when KAIRO_STORE=sqlite")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required when KAIRO_STORE=postgres")
		}
	default:
		return fmt.Errorf("config: KAIRO_STORE must be sqlite or postgres, got %q", c.Store)
	}
	switch c.ReasoningProvider {
	case "auto", "openai", "ollama", "gemini", "none":
	default:
		return fmt.Errorf("config: KAIRO_REASONING_PROVIDER must be one of auto, openai, ollama, gemini, none; got %q", c.ReasoningProvider)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: KAIRO_PORT must be within 1-65535")
	}
	if c.ReasoningTimeout <= 0 {
		return fmt.Errorf("config: KAIRO_REASONING_TIMEOUT must be positive")
	}
	if c.ReasoningMaxTokens <= 0 {
		return fmt.Errorf("config: KAIRO_REASONING_MAX_TOKENS must be positive")
	}
	if c.HistoryLimit < 0 || c.HistoryLimit > 5 {
		return fmt.Errorf("config: KAIRO_HISTORY_LIMIT must be within 0-5")
	}
	if c.TuningWindow <= 0 {
		return fmt.Errorf("config: KAIRO_TUNING_WINDOW must be positive")
	}
	if c.TuningInterval < 0 {
		return fmt.Errorf("config: KAIRO_TUNING_INTERVAL must not be negative")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: KAIRO_RATE_LIMIT_RPS and KAIRO_RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if c.OTELSampleRatio < 0 || c.OTELSampleRatio > 1 {
		return fmt.Errorf("config: KAIRO_OTEL_SAMPLE_RATIO must be within 0-1")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KAIRO_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
