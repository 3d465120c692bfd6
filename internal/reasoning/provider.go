package reasoning

import (
	"context"
	"fmt"
	"log/slog"
)

// ProviderConfig selects and configures a Completer.
type ProviderConfig struct {
	Provider     string // auto, openai, ollama, gemini, none
	OpenAIAPIKey string
	OpenAIModel  string
	OllamaURL    string
	OllamaModel  string
	GeminiAPIKey string
	GeminiModel  string
}

// NewCompleter builds the configured provider. "auto" prefers a reachable
// local Ollama, then OpenAI, then Gemini, and falls back to NoopCompleter.
func NewCompleter(ctx context.Context, cfg ProviderConfig, logger *slog.Logger) (Completer, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("reasoning: OPENAI_API_KEY required when provider is openai")
		}
		logger.Info("reasoning provider: openai", "model", cfg.OpenAIModel)
		return NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "ollama":
		logger.Info("reasoning provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return NewOllamaCompleter(cfg.OllamaURL, cfg.OllamaModel), nil
	case "gemini":
		logger.Info("reasoning provider: gemini", "model", cfg.GeminiModel)
		return NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "none":
		logger.Warn("reasoning provider: none (decide requests will fail)")
		return NoopCompleter{}, nil
	case "auto", "":
		if OllamaReachable(ctx, cfg.OllamaURL) {
			logger.Info("reasoning provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
			return NewOllamaCompleter(cfg.OllamaURL, cfg.OllamaModel), nil
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("reasoning provider: openai (auto-detected)", "model", cfg.OpenAIModel)
			return NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
		}
		if cfg.GeminiAPIKey != "" {
			logger.Info("reasoning provider: gemini (auto-detected)", "model", cfg.GeminiModel)
			return NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		}
		logger.Warn("no reasoning provider available, decide requests will fail")
		return NoopCompleter{}, nil
	default:
		return nil, fmt.Errorf("reasoning: unknown provider %q", cfg.Provider)
	}
}
