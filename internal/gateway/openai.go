package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient implements Client for the OpenAI chat completions API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 120 * time.Second,
	}
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Name implements Client.
func (c *OpenAIClient) Name() string { return "openai" }

// Close implements Client. The HTTP client holds no resources to release.
func (c *OpenAIClient) Close() error { return nil }

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if c.apiKey == "" {
		return "", NewCallError(FailureAuth, errors.New("API key not configured"))
	}

	reqBody := openAIRequest{
		Model:       c.model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", NewCallError(FailureBadRequest, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", NewCallError(FailureBadRequest, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewCallError(FailureProvider, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPStatus(resp.StatusCode, body)
	}

	var oaResp openAIResponse
	if err := json.Unmarshal(body, &oaResp); err != nil {
		return "", NewCallError(FailureProvider, fmt.Errorf("parse response: %w", err))
	}
	if oaResp.Error != nil {
		return "", NewCallError(FailureProvider, fmt.Errorf("API error: %s", oaResp.Error.Message))
	}
	if len(oaResp.Choices) == 0 {
		return "", NewCallError(FailureProvider, errors.New("no completion returned"))
	}
	if oaResp.Choices[0].FinishReason == "content_filter" {
		return "", NewCallError(FailureContentPolicy, errors.New("completion blocked by content filter"))
	}

	return strings.TrimSpace(oaResp.Choices[0].Message.Content), nil
}

// classifyHTTPStatus maps an HTTP status to a failure kind.
func classifyHTTPStatus(status int, body []byte) *CallError {
	cause := fmt.Errorf("HTTP %d: %s", status, truncateBody(body))
	switch {
	case status == http.StatusTooManyRequests:
		return NewCallError(FailureRateLimited, cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewCallError(FailureAuth, cause)
	case status == http.StatusRequestTimeout:
		return NewCallError(FailureTimeout, cause)
	case status >= 500:
		return NewCallError(FailureProvider, cause)
	default:
		return NewCallError(FailureBadRequest, cause)
	}
}

// classifyTransportErr maps a transport failure to a failure kind.
func classifyTransportErr(err error) *CallError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewCallError(FailureTimeout, err)
	}
	return NewCallError(FailureProvider, err)
}

func truncateBody(body []byte) string {
	s := string(body)
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return strings.TrimSpace(s)
}
