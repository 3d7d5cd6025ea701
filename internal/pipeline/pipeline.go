// Package pipeline orchestrates a research run end to end: expand the
// query into search terms, gather candidate URLs, extract page content,
// score relevance, and synthesize a cited summary. The orchestrator owns
// the run's state machine and per-stage timings; shared resources (the
// LLM client, the browser) are closed exactly once by Close.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inquest/internal/expand"
	"inquest/internal/extract"
	"inquest/internal/score"
	"inquest/internal/synthesize"
	"inquest/internal/websearch"
)

// State names a stage of the run.
type State string

const (
	StateIdle           State = "idle"
	StateExpandingTerms State = "expanding_terms"
	StateSearching      State = "searching"
	StateExtracting     State = "extracting"
	StateScoring        State = "scoring"
	StateSummarizing    State = "summarizing"
	StateComplete       State = "complete"
	StateFailed         State = "failed"
)

var (
	// ErrExtractionExhausted means every candidate page failed to fetch,
	// leaving nothing to score.
	ErrExtractionExhausted = errors.New("no pages could be extracted")

	// ErrNoRelevantSources means extraction succeeded but no page met the
	// relevance threshold.
	ErrNoRelevantSources = errors.New("no relevant sources found")

	// ErrClosed is returned for runs started after Close.
	ErrClosed = errors.New("pipeline closed")
)

// StageTiming records how long one stage took.
type StageTiming struct {
	Stage    State
	Duration time.Duration
}

// Stats summarizes a run.
type Stats struct {
	Timings         []StageTiming
	ExtractionCount int // pages with usable content
	RelevantCount   int // pages at or above the threshold
	Elapsed         time.Duration
}

// Request describes one research run. MaxResults and Threshold override
// the orchestrator's configured values when positive.
type Request struct {
	Query      string
	Type       expand.QueryType
	MaxResults int
	Threshold  float64
}

// RunResult carries everything a run produced, including partial results
// when the run failed mid-way.
type RunResult struct {
	RunID      uuid.UUID
	Query      expand.Query
	State      State
	Terms      []string
	Candidates []websearch.Candidate
	Pages      []score.Page // every scored page, relevant or not
	Summary    synthesize.Summary
	Stats      Stats
}

// Relevant returns the retained pages in source-index order.
func (r *RunResult) Relevant() []score.Page {
	return score.Relevant(r.Pages)
}

// Stage interfaces, satisfied by the concrete types in their packages.
// Kept here so tests can substitute any stage.
type (
	TermExpander interface {
		Expand(ctx context.Context, q expand.Query) ([]string, error)
	}
	CandidateFinder interface {
		Find(ctx context.Context, terms []string, count int) ([]websearch.Candidate, error)
	}
	PageExtractor interface {
		ExtractAll(ctx context.Context, candidates []websearch.Candidate) []extract.Page
	}
	RelevanceScorer interface {
		ScoreAll(ctx context.Context, q expand.Query, pages []extract.Page, threshold float64) []score.Page
	}
	Summarizer interface {
		Synthesize(ctx context.Context, q expand.Query, pages []score.Page, cited bool) (synthesize.Summary, error)
	}
)

// Orchestrator runs the pipeline. One run at a time; Abort cancels the
// run in flight, Close releases shared resources and is idempotent.
type Orchestrator struct {
	expander   TermExpander
	finder     CandidateFinder
	extractor  PageExtractor
	scorer     RelevanceScorer
	summarizer Summarizer

	maxResults int
	cited      bool
	logger     *zap.Logger

	closers []io.Closer

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	closed bool
}

// New wires the stages together. closers are released by Close, in order.
func New(expander TermExpander, finder CandidateFinder, extractor PageExtractor, scorer RelevanceScorer, summarizer Summarizer, maxResults int, cited bool, logger *zap.Logger, closers ...io.Closer) *Orchestrator {
	if maxResults <= 0 {
		maxResults = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		expander:   expander,
		finder:     finder,
		extractor:  extractor,
		scorer:     scorer,
		summarizer: summarizer,
		maxResults: maxResults,
		cited:      cited,
		logger:     logger,
		closers:    closers,
		state:      StateIdle,
	}
}

// State reports the current stage.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Abort cancels the run in flight, if any. The run surfaces the
// cancellation as a failure.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close releases shared resources. Safe to call more than once and after
// a failed run; only the first call closes anything.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	var errs []error
	for _, c := range o.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ProcessQuery runs the full pipeline for one query. On failure the
// returned RunResult still carries whatever earlier stages produced.
func (o *Orchestrator) ProcessQuery(ctx context.Context, req Request) (*RunResult, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	if req.Type == "" {
		req.Type = expand.TypeGeneral
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = o.maxResults
	}
	res := &RunResult{
		RunID: uuid.New(),
		Query: expand.Query{Text: req.Query, Type: req.Type},
	}
	start := time.Now()
	defer func() {
		res.Stats.Elapsed = time.Since(start)
		res.State = o.State()
	}()

	o.logger.Info("run started",
		zap.String("run_id", res.RunID.String()),
		zap.String("query", req.Query),
		zap.String("type", string(req.Type)))

	terms, err := runStage(ctx, o, StateExpandingTerms, res, func(ctx context.Context) ([]string, error) {
		return o.expander.Expand(ctx, res.Query)
	})
	if err != nil {
		return o.fail(res, fmt.Errorf("expand terms: %w", err))
	}
	res.Terms = terms

	candidates, err := runStage(ctx, o, StateSearching, res, func(ctx context.Context) ([]websearch.Candidate, error) {
		return o.finder.Find(ctx, res.Terms, maxResults)
	})
	if err != nil {
		return o.fail(res, fmt.Errorf("search: %w", err))
	}
	res.Candidates = candidates

	pages, err := runStage(ctx, o, StateExtracting, res, func(ctx context.Context) ([]extract.Page, error) {
		return o.extractor.ExtractAll(ctx, res.Candidates), nil
	})
	if err != nil {
		return o.fail(res, err)
	}
	usable := make([]extract.Page, 0, len(pages))
	for _, p := range pages {
		if p.Status == extract.StatusOK {
			usable = append(usable, p)
		}
	}
	res.Stats.ExtractionCount = len(usable)
	if len(usable) == 0 {
		return o.fail(res, ErrExtractionExhausted)
	}

	scored, err := runStage(ctx, o, StateScoring, res, func(ctx context.Context) ([]score.Page, error) {
		return o.scorer.ScoreAll(ctx, res.Query, usable, req.Threshold), nil
	})
	if err != nil {
		return o.fail(res, err)
	}
	res.Pages = scored
	relevant := score.Relevant(scored)
	res.Stats.RelevantCount = len(relevant)
	if len(relevant) == 0 {
		return o.fail(res, ErrNoRelevantSources)
	}

	summary, err := runStage(ctx, o, StateSummarizing, res, func(ctx context.Context) (synthesize.Summary, error) {
		return o.summarizer.Synthesize(ctx, res.Query, relevant, o.cited)
	})
	if err != nil {
		return o.fail(res, fmt.Errorf("summarize: %w", err))
	}
	res.Summary = summary

	o.setState(StateComplete)
	o.logger.Info("run complete",
		zap.String("run_id", res.RunID.String()),
		zap.Int("extracted", res.Stats.ExtractionCount),
		zap.Int("relevant", res.Stats.RelevantCount),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// runStage enters a stage, runs fn, and records the stage duration
// whether or not fn succeeded. Cancellation observed mid-stage is
// surfaced even when the stage itself swallowed it.
func runStage[T any](ctx context.Context, o *Orchestrator, state State, res *RunResult, fn func(context.Context) (T, error)) (T, error) {
	o.setState(state)
	start := time.Now()
	v, err := fn(ctx)
	res.Stats.Timings = append(res.Stats.Timings, StageTiming{Stage: state, Duration: time.Since(start)})
	if err == nil {
		err = ctx.Err()
	}
	return v, err
}

func (o *Orchestrator) fail(res *RunResult, err error) (*RunResult, error) {
	o.setState(StateFailed)
	o.logger.Warn("run failed",
		zap.String("run_id", res.RunID.String()),
		zap.String("stage", string(res.lastStage())),
		zap.Error(err))
	return res, err
}

func (r *RunResult) lastStage() State {
	if len(r.Stats.Timings) == 0 {
		return StateIdle
	}
	return r.Stats.Timings[len(r.Stats.Timings)-1].Stage
}
