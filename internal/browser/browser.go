// Package browser owns the shared Chrome render resource used as the
// extraction fallback for script-heavy pages. The browser is expensive to
// launch, so one instance serves a whole run: it starts lazily on first
// Render and is released only by an explicit Close. Access is serialized —
// browser automation backends are not safe for concurrent callers.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// ErrClosed is returned by Render after Close has been called.
var ErrClosed = errors.New("browser: closed")

// ErrNavigation wraps page navigation failures.
var ErrNavigation = errors.New("browser: navigation failed")

// Browser is the shared render resource.
type Browser struct {
	headless bool
	logger   *zap.Logger

	mu       sync.Mutex // serializes start, render, and close
	launcher *launcher.Launcher
	browser  *rod.Browser
	closed   bool
}

// New creates an unstarted browser. Chrome is not launched until the first
// Render call needs it.
func New(headless bool, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{headless: headless, logger: logger}
}

// Render navigates to url in a fresh page and returns the rendered DOM as
// HTML. timeout bounds navigation plus load; exceeding it returns an error,
// never a hang. At most one render runs at a time.
func (b *Browser) Render(ctx context.Context, url string, timeout time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrClosed
	}
	if err := b.startLocked(); err != nil {
		return "", err
	}

	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx).Timeout(timeout)

	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}

	htmlText, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read DOM: %w", err)
	}

	b.logger.Debug("page rendered",
		zap.String("url", url),
		zap.Int("html_bytes", len(htmlText)))
	return htmlText, nil
}

// startLocked launches and connects Chrome if not already running.
// Callers must hold b.mu.
func (b *Browser) startLocked() error {
	if b.browser != nil {
		return nil
	}

	l := launcher.New().Headless(b.headless)
	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}

	br := rod.New().ControlURL(controlURL)
	if err := br.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("connect to chrome: %w", err)
	}

	b.launcher = l
	b.browser = br
	b.logger.Info("browser started", zap.Bool("headless", b.headless))
	return nil
}

// Close shuts down Chrome and releases its resources. It is idempotent and
// safe to call after a failed run or when the browser was never started.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
		b.launcher = nil
	}
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	b.logger.Debug("browser closed")
	return nil
}
