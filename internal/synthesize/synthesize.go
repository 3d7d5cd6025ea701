// Package synthesize produces the final cited summary from the retained
// pages. Every [Source k] marker in the output must resolve to a supplied
// source index; markers referencing unknown indices are stripped (a
// deterministic choice — see StripUnknownMarkers) and the reference table
// always lists every supplied source, cited or not.
package synthesize

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"inquest/internal/expand"
	"inquest/internal/gateway"
	"inquest/internal/score"
)

// Reference maps a source index to its page identity.
type Reference struct {
	Index int
	Title string
	URL   string
}

// Summary is the synthesis output.
type Summary struct {
	Text       string
	References []Reference
	Cited      bool
}

// Synthesizer builds summaries via the LLM gateway.
type Synthesizer struct {
	llm         gateway.Completer
	temperature float64
	maxTokens   int
	bodyLimit   int
	logger      *zap.Logger
}

// New creates a synthesizer. bodyLimit bounds per-source text in the prompt.
func New(llm gateway.Completer, temperature float64, maxTokens, bodyLimit int, logger *zap.Logger) *Synthesizer {
	if bodyLimit <= 0 {
		bodyLimit = 3000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		llm:         llm,
		temperature: temperature,
		maxTokens:   maxTokens,
		bodyLimit:   bodyLimit,
		logger:      logger,
	}
}

// Synthesize summarizes the retained pages. In cited mode the model is
// instructed to attribute claims with [Source k] markers and the output is
// validated against the supplied indices; in non-cited mode markers and the
// reference table are skipped. A gateway failure here is terminal.
func (s *Synthesizer) Synthesize(ctx context.Context, q expand.Query, pages []score.Page, cited bool) (Summary, error) {
	reply, err := s.llm.Complete(ctx, s.buildPrompt(q, pages, cited), gateway.Options{
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Task:        "synthesis",
	})
	if err != nil {
		return Summary{}, fmt.Errorf("synthesize summary: %w", err)
	}

	if !cited {
		return Summary{Text: strings.TrimSpace(reply)}, nil
	}

	refs := BuildReferences(pages)
	known := make(map[int]bool, len(refs))
	for _, r := range refs {
		known[r.Index] = true
	}

	text, stripped := StripUnknownMarkers(reply, known)
	if len(stripped) > 0 {
		s.logger.Warn("stripped citations to unknown sources",
			zap.Ints("indices", stripped))
	}

	return Summary{
		Text:       appendReferenceTable(strings.TrimSpace(text), refs),
		References: refs,
		Cited:      true,
	}, nil
}

func (s *Synthesizer) buildPrompt(q expand.Query, pages []score.Page, cited bool) string {
	var sb strings.Builder
	sb.WriteString("Write a thorough, well-organized answer to the research question using only the sources below.\n")
	if cited {
		sb.WriteString("Attribute every claim to its source with an inline marker of the form [Source k], ")
		sb.WriteString("where k is the source number shown. Use only the source numbers supplied.\n")
	} else {
		sb.WriteString("Do not include citations or source markers.\n")
	}
	fmt.Fprintf(&sb, "\nResearch question: %s\n", q.Text)

	for _, p := range pages {
		body := p.Body
		if len(body) > s.bodyLimit {
			body = body[:s.bodyLimit]
		}
		fmt.Fprintf(&sb, "\n--- Source %d ---\nTitle: %s\nURL: %s\n\n%s\n", p.SourceIndex, p.Title, p.URL, body)
	}
	return sb.String()
}

var markerPattern = regexp.MustCompile(`\[Source (\d+)\]`)

// StripUnknownMarkers removes [Source k] markers whose k is not a supplied
// index, in document order, and reports the distinct stripped indices in
// ascending order. Stripping (rather than flagging) keeps the summary
// readable; the reference table still shows exactly what was supplied.
func StripUnknownMarkers(text string, known map[int]bool) (string, []int) {
	strippedSet := make(map[int]bool)

	clean := markerPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := markerPattern.FindStringSubmatch(m)
		k, err := strconv.Atoi(sub[1])
		if err == nil && known[k] {
			return m
		}
		if err == nil {
			strippedSet[k] = true
		}
		return ""
	})

	stripped := make([]int, 0, len(strippedSet))
	for k := range strippedSet {
		stripped = append(stripped, k)
	}
	sort.Ints(stripped)

	return clean, stripped
}

// CitedIndices returns the distinct source indices cited in text, ascending.
func CitedIndices(text string) []int {
	set := make(map[int]bool)
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		if k, err := strconv.Atoi(m[1]); err == nil {
			set[k] = true
		}
	}
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// BuildReferences renders the reference table for the supplied pages. The
// same page sequence always yields the same table: entries follow the
// pages' own order, which is source-index order by construction.
func BuildReferences(pages []score.Page) []Reference {
	refs := make([]Reference, 0, len(pages))
	for _, p := range pages {
		refs = append(refs, Reference{
			Index: p.SourceIndex,
			Title: p.Title,
			URL:   p.URL,
		})
	}
	return refs
}

// appendReferenceTable makes the summary self-describing even when the
// model omitted some citations.
func appendReferenceTable(text string, refs []Reference) string {
	if len(refs) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\nSources:\n")
	for _, r := range refs {
		fmt.Fprintf(&sb, "[Source %d] %s - %s\n", r.Index, r.Title, r.URL)
	}
	return strings.TrimRight(sb.String(), "\n")
}
