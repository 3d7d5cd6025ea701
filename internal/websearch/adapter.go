package websearch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrSearchUnavailable is the terminal search error: every term's provider
// call failed.
var ErrSearchUnavailable = errors.New("search unavailable: all terms failed")

// Candidate is a deduplicated search hit tagged with the term that found it.
type Candidate struct {
	Title   string
	URL     string
	Snippet string
	Term    string
}

// Adapter issues one provider call per term, strictly sequentially, with a
// mandatory delay between calls. The delay is a provider rate-limit
// requirement, not an optimization.
type Adapter struct {
	searcher Searcher
	delay    time.Duration
	logger   *zap.Logger

	// sleep is swapped in tests to observe the waits without real time.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAdapter creates a search adapter around a provider.
func NewAdapter(searcher Searcher, delay time.Duration, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		searcher: searcher,
		delay:    delay,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Find searches every term, merges results in term order, deduplicates by
// URL (first occurrence wins), and truncates to count. A failed call for one
// term is logged and skipped; only all terms failing is terminal.
func (a *Adapter) Find(ctx context.Context, terms []string, count int) ([]Candidate, error) {
	var merged []Candidate
	seen := make(map[string]bool)
	failures := 0

	for i, term := range terms {
		if i > 0 && a.delay > 0 {
			if err := a.sleep(ctx, a.delay); err != nil {
				return nil, err
			}
		}

		results, err := a.searcher.Search(ctx, term, count)
		if err != nil {
			failures++
			a.logger.Warn("search term failed",
				zap.String("term", term),
				zap.Error(err))
			continue
		}

		for _, r := range results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			merged = append(merged, Candidate{
				Title:   r.Title,
				URL:     r.URL,
				Snippet: r.Snippet,
				Term:    term,
			})
		}

		a.logger.Debug("search term done",
			zap.String("term", term),
			zap.Int("results", len(results)),
			zap.Int("merged", len(merged)))
	}

	if len(terms) > 0 && failures == len(terms) {
		return nil, ErrSearchUnavailable
	}

	if len(merged) > count {
		merged = merged[:count]
	}
	return merged, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
