// Package websearch turns expanded search terms into ranked candidate pages.
// The bundled provider scrapes the DuckDuckGo HTML interface, which needs no
// API key; the Searcher interface keeps other providers pluggable.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Result is a single ranked search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher is the external search-provider boundary.
type Searcher interface {
	Search(ctx context.Context, term string, count int) ([]Result, error)
}

// DuckDuckGo implements Searcher against the html.duckduckgo.com endpoint.
type DuckDuckGo struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

// NewDuckDuckGo creates a DuckDuckGo searcher. timeout bounds each call.
func NewDuckDuckGo(userAgent string, timeout time.Duration) *DuckDuckGo {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DuckDuckGo{
		httpClient: &http.Client{},
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// Search implements Searcher.
func (d *DuckDuckGo) Search(ctx context.Context, term string, count int) ([]Result, error) {
	if count <= 0 {
		count = 10
	}
	if count > 30 {
		count = 30
	}

	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(term))

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return ParseResults(string(body), count)
}

// ParseResults extracts search results from DuckDuckGo HTML. Result blocks
// carry class="result results_links ..."; the link and snippet inside use
// result__a and result__snippet.
func ParseResults(htmlContent string, maxResults int) ([]Result, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var results []Result

	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}

		if n.Type == html.ElementNode && n.Data == "div" {
			for _, attr := range n.Attr {
				if attr.Key == "class" && strings.Contains(attr.Val, "result") && strings.Contains(attr.Val, "results_links") {
					r := extractResult(n)
					if r.URL != "" && r.Title != "" {
						results = append(results, r)
					}
					return
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findResults(c)
		}
	}

	findResults(doc)
	return results, nil
}

func extractResult(n *html.Node) Result {
	var r Result

	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "class" {
					if strings.Contains(attr.Val, "result__a") {
						r.URL = attrValue(n, "href")
						r.Title = textContent(n)
					} else if strings.Contains(attr.Val, "result__snippet") {
						r.Snippet = textContent(n)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)

	r.URL = cleanRedirect(r.URL)
	return r
}

// cleanRedirect unwraps DuckDuckGo's uddg redirect URLs.
func cleanRedirect(raw string) string {
	if !strings.HasPrefix(raw, "//duckduckgo.com/l/?uddg=") {
		return raw
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(raw, "//duckduckgo.com/l/?uddg="))
	if err != nil {
		return raw
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
