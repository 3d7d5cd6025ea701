package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiClient implements Client using Google's genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:  apiKey,
		Model:   "gemini-2.5-flash",
		Timeout: 120 * time.Second,
	}
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiClient{client: client, model: cfg.Model}, nil
}

// Name implements Client.
func (c *GeminiClient) Name() string { return "gemini" }

// Close implements Client. The genai SDK client holds no resources that
// require explicit cleanup.
func (c *GeminiClient) Close() error {
	return nil
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(opts.Temperature)),
		MaxOutputTokens: int32(opts.MaxTokens),
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), genCfg)
	if err != nil {
		return "", classifyGeminiErr(err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", NewCallError(FailureProvider, errors.New("no completion returned"))
	}
	return text, nil
}

// classifyGeminiErr maps a genai SDK error to a failure kind. The SDK does
// not expose a stable typed error surface, so classification inspects the
// status text the API embeds in the error.
func classifyGeminiErr(err error) *CallError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewCallError(FailureTimeout, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "429"):
		return NewCallError(FailureRateLimited, err)
	case strings.Contains(msg, "UNAUTHENTICATED") || strings.Contains(msg, "PERMISSION_DENIED") ||
		strings.Contains(msg, "API key"):
		return NewCallError(FailureAuth, err)
	case strings.Contains(msg, "INVALID_ARGUMENT"):
		return NewCallError(FailureBadRequest, err)
	case strings.Contains(msg, "SAFETY") || strings.Contains(msg, "blocked"):
		return NewCallError(FailureContentPolicy, err)
	default:
		return NewCallError(FailureProvider, err)
	}
}
