// Package gateway provides a uniform completion interface over a closed set
// of LLM providers, with retry/backoff and provider error normalization.
// The provider is selected once at construction and fixed for the gateway's
// lifetime.
package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Options carries per-call generation parameters. Task is a free-form tag
// used only for logging, never for routing.
type Options struct {
	Temperature float64
	MaxTokens   int
	Task        string
}

// Completer is the minimal completion surface pipeline stages depend on.
// *Gateway implements it; tests substitute fakes.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Client is a single provider's completion surface.
type Client interface {
	// Complete sends a prompt and returns the model's text. Failures are
	// returned as *CallError with a FailureKind classification.
	Complete(ctx context.Context, prompt string, opts Options) (string, error)

	// Name identifies the provider for logging.
	Name() string

	// Close releases any provider resources. Safe to call more than once.
	Close() error
}

// Gateway wraps one provider client with a per-attempt timeout and
// exponential-backoff retry of transient failures.
type Gateway struct {
	client  Client
	policy  RetryPolicy
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a gateway around an already-constructed provider client.
func New(client Client, policy RetryPolicy, timeout time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	return &Gateway{client: client, policy: policy, timeout: timeout, logger: logger}
}

// Complete runs one completion with retries. Transient failures (timeout,
// rate limit, provider 5xx) are retried with doubling backoff; permanent
// failures (auth, malformed request, content policy) surface immediately.
// The final error always wraps ErrCallFailed and the last cause.
func (g *Gateway) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	start := time.Now()
	text, attempts, err := withRetry(ctx, g.policy, func(ctx context.Context) (string, error) {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return g.client.Complete(callCtx, prompt, opts)
	})

	if err != nil {
		g.logger.Warn("completion failed",
			zap.String("provider", g.client.Name()),
			zap.String("task", opts.Task),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return "", err
	}

	g.logger.Debug("completion ok",
		zap.String("provider", g.client.Name()),
		zap.String("task", opts.Task),
		zap.Int("attempts", attempts),
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", time.Since(start)))
	return text, nil
}

// Close releases the underlying provider client.
func (g *Gateway) Close() error {
	return g.client.Close()
}
