// Package score rates extracted pages for relevance to the original query
// and assigns the stable source indices used by citations. Index assignment
// order is processing order, never score order, and an index is never reused
// or renumbered within a run.
package score

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"inquest/internal/expand"
	"inquest/internal/extract"
	"inquest/internal/gateway"
)

// Page is an extracted page plus its relevance verdict. SourceIndex is zero
// for pages below threshold; retained pages carry a 1-based contiguous
// index.
type Page struct {
	extract.Page
	Score       float64
	Rationale   string
	SourceIndex int
}

// Relevant reports whether the page met the threshold and holds an index.
func (p Page) Relevant() bool { return p.SourceIndex > 0 }

// Filter scores pages via the LLM gateway.
type Filter struct {
	llm         gateway.Completer
	threshold   float64
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// New creates a relevance filter with the given retention threshold.
func New(llm gateway.Completer, threshold, temperature float64, maxTokens int, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		llm:         llm,
		threshold:   threshold,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

// promptBodyLimit bounds how much page text is sent for scoring.
const promptBodyLimit = 4000

// ScoreAll scores every page in order. One page's scoring failure is a
// partial failure: the page fails closed to score 0 with an explanatory
// rationale and is excluded, and the run continues. Source indices are
// assigned the moment a page is retained, in processing order. A threshold
// of zero or below falls back to the filter's configured threshold.
func (f *Filter) ScoreAll(ctx context.Context, q expand.Query, pages []extract.Page, threshold float64) []Page {
	if threshold <= 0 {
		threshold = f.threshold
	}
	scored := make([]Page, 0, len(pages))
	nextIndex := 1

	for _, p := range pages {
		sp := Page{Page: p}

		reply, err := f.llm.Complete(ctx, f.buildPrompt(q, p), gateway.Options{
			Temperature: f.temperature,
			MaxTokens:   f.maxTokens,
			Task:        "relevance_score",
		})
		if err != nil {
			sp.Score = 0
			sp.Rationale = fmt.Sprintf("scoring failed: %v", err)
			f.logger.Warn("relevance scoring failed",
				zap.String("url", p.URL),
				zap.Error(err))
		} else {
			score, rationale, ok := ParseScore(reply)
			if !ok {
				score, rationale = 0, "unparseable"
				f.logger.Warn("unparseable relevance reply",
					zap.String("url", p.URL))
			}
			sp.Score = score
			sp.Rationale = rationale
		}

		if sp.Score >= threshold {
			sp.SourceIndex = nextIndex
			nextIndex++
		}

		f.logger.Debug("page scored",
			zap.String("url", p.URL),
			zap.Float64("score", sp.Score),
			zap.Int("source_index", sp.SourceIndex))
		scored = append(scored, sp)
	}

	return scored
}

// Relevant returns the retained pages in index order.
func Relevant(pages []Page) []Page {
	var out []Page
	for _, p := range pages {
		if p.Relevant() {
			out = append(out, p)
		}
	}
	return out
}

func (f *Filter) buildPrompt(q expand.Query, p extract.Page) string {
	body := p.Body
	if len(body) > promptBodyLimit {
		body = body[:promptBodyLimit]
	}

	var sb strings.Builder
	sb.WriteString("Rate how relevant the following page is to the research question.\n")
	sb.WriteString("Reply with exactly two lines:\n")
	sb.WriteString("Score: <number between 0.0 and 1.0>\n")
	sb.WriteString("Rationale: <one short sentence>\n\n")
	fmt.Fprintf(&sb, "Question: %s\n\n", q.Text)
	fmt.Fprintf(&sb, "Page title: %s\nPage URL: %s\n\nPage content:\n%s\n", p.Title, p.URL, body)
	return sb.String()
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ParseScore recovers a relevance score and rationale from a model reply.
// The first number in the reply is taken as the score; replies with no
// number, or a number outside [0,1], are rejected so the caller fails
// closed. Out-of-range numbers are deliberately not clamped: a model that
// answers "8" did not follow the scale, and guessing its intent would
// manufacture a confidence the reply never expressed.
func ParseScore(reply string) (score float64, rationale string, ok bool) {
	match := numberPattern.FindString(reply)
	if match == "" {
		return 0, "", false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, "", false
	}

	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "rationale:") {
			rationale = strings.TrimSpace(trimmed[len("rationale:"):])
			break
		}
	}
	if rationale == "" {
		rationale = "no rationale given"
	}
	return v, rationale, true
}
