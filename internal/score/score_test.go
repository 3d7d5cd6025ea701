package score

import (
	"context"
	"errors"
	"testing"

	"inquest/internal/expand"
	"inquest/internal/extract"
	"inquest/internal/gateway"
)

type scriptedLLM struct {
	replies []string
	errs    []error
	calls   int
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string, opts gateway.Options) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", errors.New("no scripted reply")
}

func pagesNamed(urls ...string) []extract.Page {
	pages := make([]extract.Page, len(urls))
	for i, u := range urls {
		pages[i] = extract.Page{URL: u, Title: u, Body: "body", WordCount: 1, Status: extract.StatusOK}
	}
	return pages
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		reply     string
		wantScore float64
		wantOK    bool
	}{
		{"Score: 0.85\nRationale: covers the topic directly", 0.85, true},
		{"0.5", 0.5, true},
		{"Score: 1.0\nRationale: exact match", 1.0, true},
		{"Score: 0\nRationale: unrelated", 0, true},
		{"very relevant", 0, false},
		{"Score: 8\nRationale: out of range", 0, false},
		{"Score: -0.2", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		score, _, ok := ParseScore(tc.reply)
		if ok != tc.wantOK || score != tc.wantScore {
			t.Fatalf("ParseScore(%q) = (%v, %v), want (%v, %v)", tc.reply, score, ok, tc.wantScore, tc.wantOK)
		}
	}
}

func TestParseScoreRationale(t *testing.T) {
	_, rationale, ok := ParseScore("Score: 0.9\nRationale: direct coverage of the question")
	if !ok || rationale != "direct coverage of the question" {
		t.Fatalf("rationale = %q, ok = %v", rationale, ok)
	}

	_, rationale, ok = ParseScore("0.4")
	if !ok || rationale != "no rationale given" {
		t.Fatalf("rationale = %q, ok = %v", rationale, ok)
	}
}

func TestScoreAllAssignsContiguousIndices(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"Score: 0.9\nRationale: a",
		"Score: 0.4\nRationale: b",
		"Score: 0.8\nRationale: c",
		"Score: 0.95\nRationale: d",
	}}
	f := New(llm, 0.7, 0.1, 256, nil)

	scored := f.ScoreAll(context.Background(), expand.Query{Text: "q"}, pagesNamed("u1", "u2", "u3", "u4"), 0)

	if len(scored) != 4 {
		t.Fatalf("len = %d, want 4", len(scored))
	}
	// Indices follow processing order among retained pages, not score order.
	wantIdx := []int{1, 0, 2, 3}
	for i, sp := range scored {
		if sp.SourceIndex != wantIdx[i] {
			t.Fatalf("page %d index = %d, want %d", i, sp.SourceIndex, wantIdx[i])
		}
	}

	relevant := Relevant(scored)
	if len(relevant) != 3 {
		t.Fatalf("relevant = %d, want 3", len(relevant))
	}
	for i, sp := range relevant {
		if sp.SourceIndex != i+1 {
			t.Fatalf("relevant[%d] index = %d, want contiguous from 1", i, sp.SourceIndex)
		}
	}
}

func TestScoreAllFailsClosedOnUnparseableReply(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"definitely relevant!"}}
	f := New(llm, 0.7, 0.1, 256, nil)

	scored := f.ScoreAll(context.Background(), expand.Query{Text: "q"}, pagesNamed("u1"), 0)

	if scored[0].Score != 0 || scored[0].Rationale != "unparseable" {
		t.Fatalf("got score %v rationale %q, want fail-closed zero", scored[0].Score, scored[0].Rationale)
	}
	if scored[0].Relevant() {
		t.Fatal("unparseable page must not be retained")
	}
}

func TestScoreAllContinuesPastGatewayFailure(t *testing.T) {
	llm := &scriptedLLM{
		errs:    []error{gateway.ErrCallFailed, nil},
		replies: []string{"", "Score: 0.9\nRationale: fine"},
	}
	f := New(llm, 0.7, 0.1, 256, nil)

	scored := f.ScoreAll(context.Background(), expand.Query{Text: "q"}, pagesNamed("u1", "u2"), 0)

	if scored[0].Relevant() {
		t.Fatal("failed page must be excluded")
	}
	if !scored[1].Relevant() || scored[1].SourceIndex != 1 {
		t.Fatalf("second page index = %d, want 1", scored[1].SourceIndex)
	}
}

func TestThresholdIsInclusive(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"Score: 0.7\nRationale: edge"}}
	f := New(llm, 0.7, 0.1, 256, nil)

	scored := f.ScoreAll(context.Background(), expand.Query{Text: "q"}, pagesNamed("u1"), 0)
	if !scored[0].Relevant() {
		t.Fatal("score equal to threshold must be retained")
	}
}

func TestScoreAllThresholdOverride(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"Score: 0.5\nRationale: middling"}}
	f := New(llm, 0.7, 0.1, 256, nil)

	scored := f.ScoreAll(context.Background(), expand.Query{Text: "q"}, pagesNamed("u1"), 0.4)
	if !scored[0].Relevant() {
		t.Fatal("per-call threshold 0.4 should retain a 0.5 score")
	}
}
