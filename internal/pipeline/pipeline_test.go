package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"inquest/internal/expand"
	"inquest/internal/extract"
	"inquest/internal/score"
	"inquest/internal/synthesize"
	"inquest/internal/websearch"
)

func TestMain(m *testing.M) {
	// go.opencensus.io (a transitive dependency of the genai SDK) starts a
	// background worker in package init that can never be stopped; ignore it
	// so goleak only flags goroutines leaked by the code under test.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type stubExpander struct {
	fn func(ctx context.Context, q expand.Query) ([]string, error)
}

func (s *stubExpander) Expand(ctx context.Context, q expand.Query) ([]string, error) {
	return s.fn(ctx, q)
}

type stubFinder struct {
	candidates []websearch.Candidate
	err        error
	calls      int
	gotTerms   []string
	gotCount   int
}

func (s *stubFinder) Find(_ context.Context, terms []string, count int) ([]websearch.Candidate, error) {
	s.calls++
	s.gotTerms = terms
	s.gotCount = count
	return s.candidates, s.err
}

type stubExtractor struct {
	pages []extract.Page
	calls int
}

func (s *stubExtractor) ExtractAll(context.Context, []websearch.Candidate) []extract.Page {
	s.calls++
	return s.pages
}

type stubScorer struct {
	fn    func(pages []extract.Page) []score.Page
	calls int
	got   []extract.Page
}

func (s *stubScorer) ScoreAll(_ context.Context, _ expand.Query, pages []extract.Page, _ float64) []score.Page {
	s.calls++
	s.got = pages
	return s.fn(pages)
}

type stubSummarizer struct {
	summary  synthesize.Summary
	err      error
	calls    int
	gotPages []score.Page
	gotCited bool
}

func (s *stubSummarizer) Synthesize(_ context.Context, _ expand.Query, pages []score.Page, cited bool) (synthesize.Summary, error) {
	s.calls++
	s.gotPages = pages
	s.gotCited = cited
	return s.summary, s.err
}

type countingCloser struct {
	closes int
	err    error
}

func (c *countingCloser) Close() error {
	c.closes++
	return c.err
}

func staticExpander(terms ...string) *stubExpander {
	return &stubExpander{fn: func(context.Context, expand.Query) ([]string, error) {
		return terms, nil
	}}
}

// scoreWith replays the real index-assignment rule: scores applied to
// pages in order, indices handed out at retention time.
func scoreWith(threshold float64, scores ...float64) *stubScorer {
	return &stubScorer{fn: func(pages []extract.Page) []score.Page {
		out := make([]score.Page, 0, len(pages))
		next := 1
		for i, p := range pages {
			sp := score.Page{Page: p, Score: scores[i]}
			if sp.Score >= threshold {
				sp.SourceIndex = next
				next++
			}
			out = append(out, sp)
		}
		return out
	}}
}

func candidates(n int) []websearch.Candidate {
	out := make([]websearch.Candidate, n)
	for i := range out {
		out[i] = websearch.Candidate{
			Title: "candidate",
			URL:   "https://example.com/" + string(rune('a'+i)),
		}
	}
	return out
}

func okPage(url string, words string) extract.Page {
	return extract.Page{URL: url, Title: "t", Body: words, Status: extract.StatusOK}
}

func TestProcessQueryFullRun(t *testing.T) {
	// 3 terms, 6 candidates, 5 extracted (one fetch failure), 3 relevant.
	extracted := []extract.Page{
		okPage("https://example.com/a", "alpha content"),
		okPage("https://example.com/b", "beta content"),
		{URL: "https://example.com/c", Status: extract.StatusFetchFailed},
		okPage("https://example.com/d", "delta content"),
		okPage("https://example.com/e", "epsilon content"),
		okPage("https://example.com/f", "zeta content"),
	}
	scorer := scoreWith(0.7, 0.9, 0.2, 0.8, 0.95, 0.1)
	summarizer := &stubSummarizer{summary: synthesize.Summary{
		Text:  "Findings [Source 1] and [Source 3].",
		Cited: true,
		References: []synthesize.Reference{
			{Index: 1, Title: "t", URL: "https://example.com/a"},
			{Index: 2, Title: "t", URL: "https://example.com/d"},
			{Index: 3, Title: "t", URL: "https://example.com/e"},
		},
	}}
	finder := &stubFinder{candidates: candidates(6)}

	o := New(staticExpander("t1", "t2", "t3"), finder,
		&stubExtractor{pages: extracted}, scorer, summarizer,
		10, true, zap.NewNop())

	res, err := o.ProcessQuery(context.Background(), Request{Query: "what changed", Type: expand.TypeNews})
	require.NoError(t, err)

	require.NotEqual(t, uuid.Nil, res.RunID)
	require.Equal(t, StateComplete, res.State)
	require.Equal(t, []string{"t1", "t2", "t3"}, res.Terms)
	require.Len(t, res.Candidates, 6)
	require.Equal(t, 5, res.Stats.ExtractionCount)
	require.Equal(t, 3, res.Stats.RelevantCount)
	require.Len(t, scorer.got, 5, "fetch-failed page must not reach scoring")

	// Summarizer sees only the retained pages, indexed 1..3.
	require.Len(t, summarizer.gotPages, 3)
	for i, p := range summarizer.gotPages {
		require.Equal(t, i+1, p.SourceIndex)
	}
	require.True(t, summarizer.gotCited)

	// Every cited index resolves against the reference table.
	cited := synthesize.CitedIndices(res.Summary.Text)
	known := map[int]bool{}
	for _, r := range res.Summary.References {
		known[r.Index] = true
	}
	for _, k := range cited {
		require.True(t, known[k], "cited index %d missing from references", k)
	}
	require.Len(t, res.Summary.References, 3)

	wantStages := []State{StateExpandingTerms, StateSearching, StateExtracting, StateScoring, StateSummarizing}
	require.Len(t, res.Stats.Timings, len(wantStages))
	for i, tm := range res.Stats.Timings {
		require.Equal(t, wantStages[i], tm.Stage)
	}
}

func TestSearchUnavailableShortCircuits(t *testing.T) {
	extractor := &stubExtractor{}
	finder := &stubFinder{err: websearch.ErrSearchUnavailable}
	o := New(staticExpander("only-term"), finder, extractor,
		scoreWith(0.7), &stubSummarizer{}, 10, true, zap.NewNop())

	res, err := o.ProcessQuery(context.Background(), Request{Query: "q", Type: expand.TypeGeneral})
	if !errors.Is(err, websearch.ErrSearchUnavailable) {
		t.Fatalf("err = %v, want ErrSearchUnavailable", err)
	}
	if extractor.calls != 0 {
		t.Fatal("extraction ran after search failure")
	}
	if res.State != StateFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if len(res.Terms) != 1 {
		t.Fatalf("partial result lost terms: %v", res.Terms)
	}
}

func TestAllExtractionsFailedIsTerminal(t *testing.T) {
	scorer := scoreWith(0.7)
	pages := []extract.Page{
		{URL: "https://example.com/a", Status: extract.StatusFetchFailed},
		{URL: "https://example.com/b", Status: extract.StatusFetchFailed},
	}
	o := New(staticExpander("t"), &stubFinder{candidates: candidates(2)},
		&stubExtractor{pages: pages}, scorer, &stubSummarizer{}, 10, true, zap.NewNop())

	_, err := o.ProcessQuery(context.Background(), Request{Query: "q", Type: expand.TypeGeneral})
	if !errors.Is(err, ErrExtractionExhausted) {
		t.Fatalf("err = %v, want ErrExtractionExhausted", err)
	}
	if scorer.calls != 0 {
		t.Fatal("scoring ran with nothing extracted")
	}
}

func TestNoRelevantSourcesIsTerminal(t *testing.T) {
	summarizer := &stubSummarizer{}
	o := New(staticExpander("t"), &stubFinder{candidates: candidates(2)},
		&stubExtractor{pages: []extract.Page{
			okPage("https://example.com/a", "x"),
			okPage("https://example.com/b", "y"),
		}},
		scoreWith(0.7, 0.1, 0.3), summarizer, 10, true, zap.NewNop())

	res, err := o.ProcessQuery(context.Background(), Request{Query: "q", Type: expand.TypeGeneral})
	if !errors.Is(err, ErrNoRelevantSources) {
		t.Fatalf("err = %v, want ErrNoRelevantSources", err)
	}
	if summarizer.calls != 0 {
		t.Fatal("summarizer ran with no relevant pages")
	}
	if len(res.Pages) != 2 {
		t.Fatalf("partial result lost scored pages: %d", len(res.Pages))
	}
}

func TestCloseIsIdempotentAfterFailedRun(t *testing.T) {
	closer := &countingCloser{}
	o := New(staticExpander("t"), &stubFinder{err: websearch.ErrSearchUnavailable},
		&stubExtractor{}, scoreWith(0.7), &stubSummarizer{}, 10, true, zap.NewNop(), closer)

	_, err := o.ProcessQuery(context.Background(), Request{Query: "q", Type: expand.TypeGeneral})
	if err == nil {
		t.Fatal("expected run failure")
	}

	if err := o.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if closer.closes != 1 {
		t.Fatalf("closer closed %d times, want 1", closer.closes)
	}

	if _, err := o.ProcessQuery(context.Background(), Request{Query: "q", Type: expand.TypeGeneral}); !errors.Is(err, ErrClosed) {
		t.Fatalf("run after close: err = %v, want ErrClosed", err)
	}
}

func TestCloseJoinsCloserErrors(t *testing.T) {
	bad := &countingCloser{err: errors.New("browser shutdown")}
	good := &countingCloser{}
	o := New(staticExpander("t"), &stubFinder{}, &stubExtractor{},
		scoreWith(0.7), &stubSummarizer{}, 10, true, zap.NewNop(), bad, good)

	err := o.Close()
	if err == nil || !errors.Is(err, bad.err) {
		t.Fatalf("Close err = %v, want wrapped closer error", err)
	}
	if good.closes != 1 {
		t.Fatal("later closer skipped after earlier failure")
	}
}

func TestAbortCancelsRunInFlight(t *testing.T) {
	started := make(chan struct{})
	blocking := &stubExpander{fn: func(ctx context.Context, _ expand.Query) ([]string, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := New(blocking, &stubFinder{}, &stubExtractor{},
		scoreWith(0.7), &stubSummarizer{}, 10, true, zap.NewNop())

	go func() {
		<-started
		o.Abort()
	}()

	res, err := o.ProcessQuery(context.Background(), Request{Query: "q", Type: expand.TypeGeneral})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.State != StateFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}
}

func TestNonCitedModePassedThrough(t *testing.T) {
	summarizer := &stubSummarizer{summary: synthesize.Summary{Text: "plain"}}
	o := New(staticExpander("t"), &stubFinder{candidates: candidates(1)},
		&stubExtractor{pages: []extract.Page{okPage("https://example.com/a", "x")}},
		scoreWith(0.5, 0.9), summarizer, 10, false, zap.NewNop())

	res, err := o.ProcessQuery(context.Background(), Request{Query: "q", Type: expand.TypeGeneral})
	require.NoError(t, err)
	require.False(t, summarizer.gotCited)
	require.False(t, res.Summary.Cited)
}

func TestRequestOverridesConfiguredLimits(t *testing.T) {
	finder := &stubFinder{candidates: candidates(1)}
	scorer := &stubScorer{}
	scorer.fn = func(pages []extract.Page) []score.Page {
		out := make([]score.Page, len(pages))
		for i, p := range pages {
			out[i] = score.Page{Page: p, Score: 0.9, SourceIndex: i + 1}
		}
		return out
	}
	o := New(staticExpander("t"), finder,
		&stubExtractor{pages: []extract.Page{okPage("https://example.com/a", "x")}},
		scorer, &stubSummarizer{summary: synthesize.Summary{Text: "s"}},
		10, true, zap.NewNop())

	_, err := o.ProcessQuery(context.Background(), Request{Query: "q", MaxResults: 3, Threshold: 0.5})
	require.NoError(t, err)
	require.Equal(t, 3, finder.gotCount)
}

func TestStateTransitionsObservable(t *testing.T) {
	seen := make(chan State, 1)
	var o *Orchestrator
	probe := &stubExpander{fn: func(context.Context, expand.Query) ([]string, error) {
		seen <- o.State()
		return []string{"t"}, nil
	}}
	o = New(probe, &stubFinder{candidates: candidates(1)},
		&stubExtractor{pages: []extract.Page{okPage("https://example.com/a", "x")}},
		scoreWith(0.5, 0.9), &stubSummarizer{summary: synthesize.Summary{Text: "s"}},
		10, false, zap.NewNop())

	if got := o.State(); got != StateIdle {
		t.Fatalf("initial state = %s, want idle", got)
	}
	_, err := o.ProcessQuery(context.Background(), Request{Query: "q", Type: expand.TypeGeneral})
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	select {
	case s := <-seen:
		if s != StateExpandingTerms {
			t.Fatalf("state during expansion = %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("probe never ran")
	}
	if got := o.State(); got != StateComplete {
		t.Fatalf("final state = %s, want complete", got)
	}
}
