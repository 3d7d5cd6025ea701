package gateway

import (
	"context"
	"fmt"
	"os"

	"inquest/internal/config"
)

// Provider identifies one of the supported LLM backends.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// NewClient constructs the provider client named by the configuration.
// Provider choice happens exactly once, here; call sites never branch on
// provider strings.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	provider := Provider(cfg.Provider)
	apiKey := cfg.APIKey

	if provider == "" {
		var err error
		provider, apiKey, err = detectProvider()
		if err != nil {
			return nil, err
		}
	}

	switch provider {
	case ProviderGemini:
		gcfg := DefaultGeminiConfig(apiKey)
		if cfg.Model != "" {
			gcfg.Model = cfg.Model
		}
		gcfg.Timeout = cfg.LLMTimeout()
		return NewGeminiClient(ctx, gcfg)

	case ProviderOpenAI:
		ocfg := DefaultOpenAIConfig(apiKey)
		if cfg.Model != "" {
			ocfg.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			ocfg.BaseURL = cfg.BaseURL
		}
		ocfg.Timeout = cfg.LLMTimeout()
		return NewOpenAIClient(ocfg), nil

	case ProviderAnthropic:
		acfg := DefaultAnthropicConfig(apiKey)
		if cfg.Model != "" {
			acfg.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			acfg.BaseURL = cfg.BaseURL
		}
		acfg.Timeout = cfg.LLMTimeout()
		return NewAnthropicClient(acfg), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: gemini, openai, anthropic)", provider)
	}
}

// detectProvider falls back to environment variables when no provider is
// configured. Priority: GEMINI > OPENAI > ANTHROPIC.
func detectProvider() (Provider, string, error) {
	candidates := []struct {
		envVar   string
		provider Provider
	}{
		{"GEMINI_API_KEY", ProviderGemini},
		{"OPENAI_API_KEY", ProviderOpenAI},
		{"ANTHROPIC_API_KEY", ProviderAnthropic},
	}
	for _, c := range candidates {
		if key := os.Getenv(c.envVar); key != "" {
			return c.provider, key, nil
		}
	}
	return "", "", fmt.Errorf("no LLM provider configured; set llm.provider in config or one of GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY")
}
