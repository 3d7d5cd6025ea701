// Command inquest answers a research question from the public web: it
// expands the query into search terms, gathers and extracts candidate
// pages, filters them for relevance, and prints a citation-backed summary.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"inquest/internal/browser"
	"inquest/internal/config"
	"inquest/internal/expand"
	"inquest/internal/extract"
	"inquest/internal/gateway"
	"inquest/internal/pipeline"
	"inquest/internal/report"
	"inquest/internal/score"
	"inquest/internal/synthesize"
	"inquest/internal/websearch"
)

var (
	configPath  string
	queryType   string
	maxResults  int
	threshold   float64
	noCitations bool
	reportPath  string
	verbose     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "inquest [query]",
	Short: "inquest - web research with cited answers",
	Long: `inquest answers a natural-language question by searching the public
web, extracting and scoring candidate pages, and synthesizing a summary in
which every claim carries a [Source k] citation resolvable against the
printed source list.

Example:
  inquest "what changed in the EU AI Act in 2025" --type news --report out.md`,
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runQuery,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	rootCmd.Flags().StringVarP(&queryType, "type", "t", "general", "query type: general, technical, news, academic")
	rootCmd.Flags().IntVarP(&maxResults, "max-results", "n", 0, "maximum candidate pages to consider")
	rootCmd.Flags().Float64Var(&threshold, "threshold", 0, "relevance threshold in [0,1]")
	rootCmd.Flags().BoolVar(&noCitations, "no-citations", false, "produce a plain summary without source markers")
	rootCmd.Flags().StringVar(&reportPath, "report", "", "also write a Markdown report to this path")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func runQuery(cmd *cobra.Command, args []string) error {
	qt := expand.QueryType(queryType)
	if !qt.Valid() {
		return fmt.Errorf("unknown query type %q (want general, technical, news, or academic)", queryType)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-results") {
		cfg.Search.MaxResults = maxResults
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Score.RelevanceThreshold = threshold
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if lvl, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil && !verbose {
		logger = logger.WithOptions(zap.IncreaseLevel(lvl))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := gateway.NewClient(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("configure LLM provider: %w", err)
	}
	policy := gateway.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.LLM.MaxRetryAttempts
	policy.BaseDelay = cfg.LLM.BaseDelay()
	gw := gateway.New(client, policy, cfg.LLM.LLMTimeout(), logger)

	searcher := websearch.NewDuckDuckGo(cfg.Search.UserAgent, cfg.Search.Timeout())
	adapter := websearch.NewAdapter(searcher, cfg.Search.SearchDelay(), logger)

	// Started lazily on the first page that needs script rendering.
	br := browser.New(cfg.Extract.HeadlessBrowser, logger)
	extractor := extract.New(br, cfg.Extract.UserAgent, cfg.Extract.MaxContentLength,
		cfg.Extract.PageTimeout(), cfg.Extract.FetchParallelism, logger)

	filter := score.New(gw, cfg.Score.RelevanceThreshold, 0.1, 512, logger)
	summarizer := synthesize.New(gw, cfg.LLM.Temperature, cfg.LLM.MaxTokens, 0, logger)

	expander := expand.New(gw, cfg.Search.MaxTerms, cfg.LLM.Temperature, cfg.LLM.MaxTokens, logger)

	orch := pipeline.New(expander, adapter, extractor, filter, summarizer,
		cfg.Search.MaxResults, !noCitations, logger, gw, br)
	defer func() {
		if err := orch.Close(); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	res, err := orch.ProcessQuery(ctx, pipeline.Request{
		Query:      args[0],
		Type:       qt,
		MaxResults: cfg.Search.MaxResults,
		Threshold:  cfg.Score.RelevanceThreshold,
	})
	if err != nil {
		return fmt.Errorf("research failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Summary.Text)

	if reportPath != "" {
		f, err := os.Create(reportPath)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		if err := report.NewWriter(f).Write(res); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		logger.Info("report written", zap.String("path", reportPath))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
