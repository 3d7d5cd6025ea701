// Package expand turns a raw user query into a small set of targeted search
// terms via the LLM gateway. Parsing of the model's reply fails closed: when
// no usable term can be recovered, the raw query becomes the sole term.
package expand

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"inquest/internal/gateway"
)

// QueryType influences the expansion prompt.
type QueryType string

const (
	TypeGeneral   QueryType = "general"
	TypeTechnical QueryType = "technical"
	TypeNews      QueryType = "news"
	TypeAcademic  QueryType = "academic"
)

// Valid reports whether t is a recognized query type.
func (t QueryType) Valid() bool {
	switch t {
	case TypeGeneral, TypeTechnical, TypeNews, TypeAcademic:
		return true
	}
	return false
}

// Query is the immutable run input.
type Query struct {
	Text string
	Type QueryType
}

// Expander produces search terms from a query.
type Expander struct {
	llm         gateway.Completer
	maxTerms    int
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// New creates an expander. maxTerms bounds the size of the returned set.
func New(llm gateway.Completer, maxTerms int, temperature float64, maxTokens int, logger *zap.Logger) *Expander {
	if maxTerms < 1 {
		maxTerms = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		llm:         llm,
		maxTerms:    maxTerms,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

// Expand returns an ordered, non-empty term set for q. Order reflects
// priority: the model is asked to put the most specific terms first. A
// gateway failure is terminal and propagates; an unparseable reply is not.
func (e *Expander) Expand(ctx context.Context, q Query) ([]string, error) {
	prompt := e.buildPrompt(q)

	reply, err := e.llm.Complete(ctx, prompt, gateway.Options{
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
		Task:        "query_expansion",
	})
	if err != nil {
		return nil, fmt.Errorf("expand query: %w", err)
	}

	terms := ParseTerms(reply, e.maxTerms)
	if len(terms) == 0 {
		e.logger.Warn("no usable terms parsed from expansion reply, falling back to raw query",
			zap.String("query", q.Text))
		terms = []string{q.Text}
	}

	e.logger.Debug("query expanded",
		zap.String("query", q.Text),
		zap.Strings("terms", terms))
	return terms, nil
}

func (e *Expander) buildPrompt(q Query) string {
	guidance := map[QueryType]string{
		TypeGeneral:   "Favor plain-language phrasings a general audience would search for.",
		TypeTechnical: "Favor precise technical terminology, product names, and error phrasing.",
		TypeNews:      "Favor recent-event phrasing; include terms that surface current coverage.",
		TypeAcademic:  "Favor scholarly terminology likely to match papers and reviews.",
	}

	g, ok := guidance[q.Type]
	if !ok {
		g = guidance[TypeGeneral]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate up to %d web search queries for researching the following question.\n", e.maxTerms)
	sb.WriteString(g)
	sb.WriteString("\nOrder them from most specific to most general.")
	sb.WriteString("\nReturn one query per line with no commentary.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n", q.Text)
	return sb.String()
}

// ParseTerms extracts up to max search terms from a model reply, one per
// line. It tolerates numbering prefixes, bullets, surrounding quotes, and
// trailing punctuation, and drops exact duplicates.
func ParseTerms(reply string, max int) []string {
	var terms []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(reply, "\n") {
		term := cleanTerm(line)
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		terms = append(terms, term)
		if len(terms) >= max {
			break
		}
	}
	return terms
}

// cleanTerm strips list decoration from one reply line.
func cleanTerm(line string) string {
	s := strings.TrimSpace(line)

	// Bullet prefixes.
	s = strings.TrimLeft(s, "-*•")
	s = strings.TrimSpace(s)

	// Numbering prefixes like "1." "2)" "10:".
	if i := strings.IndexAny(s, ".):"); i > 0 && i <= 3 {
		if isDigits(s[:i]) {
			s = s[i+1:]
		}
	}

	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimRight(s, ".,;")
	return strings.TrimSpace(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
