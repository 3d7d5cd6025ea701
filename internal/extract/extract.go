// Package extract fetches candidate pages and reduces them to readable
// text. Strategy per page: a lightweight static fetch-and-parse first, then
// escalation to the shared browser render resource when the static result
// looks script-gated. One page failing never fails the run; it is marked
// fetch-failed and dropped downstream.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"inquest/internal/websearch"
)

// Status describes the outcome of extracting one page.
type Status string

const (
	StatusOK          Status = "ok"
	StatusFetchFailed Status = "fetch-failed"
	StatusEmpty       Status = "empty"
)

// Page is the extraction result for one candidate URL.
type Page struct {
	URL       string
	Title     string
	Body      string
	WordCount int
	Status    Status
}

// Renderer is the browser render boundary used for escalation.
type Renderer interface {
	Render(ctx context.Context, url string, timeout time.Duration) (string, error)
}

// Extractor fetches and parses candidate pages.
type Extractor struct {
	httpClient  *http.Client
	renderer    Renderer
	userAgent   string
	maxContent  int
	pageTimeout time.Duration
	parallelism int
	logger      *zap.Logger
}

// minStaticChars is the body size below which a static fetch is considered
// script-gated and escalated to the browser.
const minStaticChars = 200

// New creates an extractor. renderer may be nil to disable escalation.
func New(renderer Renderer, userAgent string, maxContent int, pageTimeout time.Duration, parallelism int, logger *zap.Logger) *Extractor {
	if maxContent <= 0 {
		maxContent = 50000
	}
	if pageTimeout <= 0 {
		pageTimeout = 30 * time.Second
	}
	if parallelism < 1 {
		parallelism = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		httpClient:  &http.Client{},
		renderer:    renderer,
		userAgent:   userAgent,
		maxContent:  maxContent,
		pageTimeout: pageTimeout,
		parallelism: parallelism,
		logger:      logger,
	}
}

// ExtractAll extracts every candidate. The returned slice preserves
// candidate order regardless of fetch completion order; bounded parallelism
// covers the static fetches while the renderer serializes escalations
// internally.
func (e *Extractor) ExtractAll(ctx context.Context, candidates []websearch.Candidate) []Page {
	pages := make([]Page, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for i, c := range candidates {
		g.Go(func() error {
			pages[i] = e.Extract(gctx, c.URL, c.Title)
			return nil
		})
	}
	_ = g.Wait() // workers record failures in page status, never as errors

	return pages
}

// Extract fetches one URL. fallbackTitle is used when the page itself
// yields no title.
func (e *Extractor) Extract(ctx context.Context, url, fallbackTitle string) Page {
	page := Page{URL: url, Title: fallbackTitle}

	ctx, cancel := context.WithTimeout(ctx, e.pageTimeout)
	defer cancel()

	rawHTML, fetchErr := e.fetchStatic(ctx, url)

	var title, body string
	if fetchErr == nil {
		title, body = ParseReadable(rawHTML)
	}

	if e.shouldEscalate(fetchErr, rawHTML, body) && e.renderer != nil {
		rendered, err := e.renderer.Render(ctx, url, e.pageTimeout)
		if err != nil {
			e.logger.Debug("render escalation failed",
				zap.String("url", url),
				zap.Error(err))
		} else {
			rTitle, rBody := ParseReadable(rendered)
			if len(rBody) > len(body) {
				title, body = rTitle, rBody
				fetchErr = nil
			}
		}
	}

	if fetchErr != nil {
		page.Status = StatusFetchFailed
		e.logger.Warn("page fetch failed",
			zap.String("url", url),
			zap.Error(fetchErr))
		return page
	}

	body = strings.TrimSpace(body)
	if body == "" {
		page.Status = StatusEmpty
		return page
	}

	if title != "" {
		page.Title = title
	}
	if len(body) > e.maxContent {
		body = body[:e.maxContent]
	}
	page.Body = body
	page.WordCount = len(strings.Fields(body)) // counted post-truncation
	page.Status = StatusOK

	e.logger.Debug("page extracted",
		zap.String("url", url),
		zap.Int("words", page.WordCount))
	return page
}

// fetchStatic performs the lightweight HTTP fetch.
func (e *Extractor) fetchStatic(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20)) // 2MB limit
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		// Already readable; wrap so ParseReadable passes it straight through.
		return "<html><body><pre>" + html.EscapeString(string(data)) + "</pre></body></html>", nil
	}

	return string(data), nil
}

// shouldEscalate decides whether the static result warrants the browser.
func (e *Extractor) shouldEscalate(fetchErr error, rawHTML, body string) bool {
	if fetchErr != nil {
		return true
	}
	if len(strings.TrimSpace(body)) < minStaticChars {
		return true
	}
	return RequiresScripts(rawHTML)
}

// RequiresScripts detects pages that refuse to render without JavaScript.
func RequiresScripts(rawHTML string) bool {
	lower := strings.ToLower(rawHTML)
	markers := []string{
		"enable javascript",
		"javascript is required",
		"requires javascript",
		"<noscript>please",
	}
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// ParseReadable converts raw HTML into a page title and readable body text.
// Script, style, and chrome elements are dropped; headings and list items
// keep light markdown markers so structure survives into prompts.
func ParseReadable(rawHTML string) (title, body string) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", ""
	}

	var sb strings.Builder
	walkText(doc, &sb, &title, 0)

	return strings.TrimSpace(title), cleanText(sb.String())
}

func walkText(n *html.Node, sb *strings.Builder, title *string, depth int) {
	if depth > 50 {
		return
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header":
			return
		case "title":
			if *title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				*title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		case "h1":
			sb.WriteString("\n\n# ")
		case "h2":
			sb.WriteString("\n\n## ")
		case "h3":
			sb.WriteString("\n\n### ")
		case "h4", "h5", "h6":
			sb.WriteString("\n\n#### ")
		case "p", "div", "section", "article":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "pre":
			sb.WriteString("\n\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, sb, title, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "pre":
			sb.WriteString("\n\n")
		}
	}
}

// cleanText collapses whitespace left behind by the HTML walk.
func cleanText(s string) string {
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	s = multiSpacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
