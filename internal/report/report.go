// Package report renders a completed run as a Markdown document suitable
// for saving alongside the terminal output.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"

	"inquest/internal/pipeline"
)

// Writer renders run results as Markdown.
type Writer struct {
	output io.Writer
}

// NewWriter creates a Writer targeting output.
func NewWriter(output io.Writer) *Writer {
	return &Writer{output: output}
}

// Write renders the full report: query header, summary text, sources,
// and run statistics.
func (w *Writer) Write(res *pipeline.RunResult) error {
	md := markdown.NewMarkdown(w.output)

	writeHeader(md, res)
	writeSummary(md, res)
	writeSources(md, res)
	writeStats(md, res)

	return md.Build()
}

func writeHeader(md *markdown.Markdown, res *pipeline.RunResult) {
	md.H1("Research Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Query", res.Query.Text},
			{"Type", string(res.Query.Type)},
			{"Run ID", "`" + res.RunID.String() + "`"},
			{"Status", string(res.State)},
		},
	})
	md.PlainText("")
}

func writeSummary(md *markdown.Markdown, res *pipeline.RunResult) {
	md.H2("Summary")
	md.PlainText("")
	if res.Summary.Text == "" {
		md.PlainText("No summary was produced.")
	} else {
		md.PlainText(res.Summary.Text)
	}
	md.PlainText("")
}

func writeSources(md *markdown.Markdown, res *pipeline.RunResult) {
	if len(res.Summary.References) == 0 {
		return
	}
	md.H2("Sources")
	md.PlainText("")
	rows := make([][]string, 0, len(res.Summary.References))
	for _, r := range res.Summary.References {
		rows = append(rows, []string{
			strconv.Itoa(r.Index),
			r.Title,
			fmt.Sprintf("[%s](%s)", r.URL, r.URL),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"#", "Title", "URL"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writeStats(md *markdown.Markdown, res *pipeline.RunResult) {
	md.H2("Run Statistics")
	md.PlainText("")
	rows := [][]string{
		{"Search terms", strconv.Itoa(len(res.Terms))},
		{"Candidates found", strconv.Itoa(len(res.Candidates))},
		{"Pages extracted", strconv.Itoa(res.Stats.ExtractionCount)},
		{"Relevant sources", strconv.Itoa(res.Stats.RelevantCount)},
		{"Total time", res.Stats.Elapsed.Round(time.Millisecond).String()},
	}
	for _, tm := range res.Stats.Timings {
		rows = append(rows, []string{
			"Stage: " + string(tm.Stage),
			tm.Duration.Round(time.Millisecond).String(),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows:   rows,
	})
}
