// Package config holds all inquest configuration. Configuration is loaded
// once from a YAML file (plus environment overrides) and passed by value
// through constructors; there is no ambient global state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all recognized inquest options.
type Config struct {
	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Search configuration
	Search SearchConfig `yaml:"search"`

	// Extraction configuration
	Extract ExtractConfig `yaml:"extract"`

	// Scoring configuration
	Score ScoreConfig `yaml:"score"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the LLM gateway.
type LLMConfig struct {
	Provider         string  `yaml:"provider"` // gemini, openai, anthropic
	APIKey           string  `yaml:"api_key"`
	Model            string  `yaml:"model"`
	BaseURL          string  `yaml:"base_url"`
	Temperature      float64 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	Timeout          string  `yaml:"timeout"`
	MaxRetryAttempts int     `yaml:"max_retry_attempts"`
	RetryBaseDelay   string  `yaml:"retry_base_delay"`
}

// SearchConfig configures the search provider adapter.
type SearchConfig struct {
	MaxResults  int    `yaml:"max_results"`
	MaxTerms    int    `yaml:"max_terms"`
	Delay       string `yaml:"delay"` // enforced between provider calls
	CallTimeout string `yaml:"call_timeout"`
	UserAgent   string `yaml:"user_agent"`
}

// ExtractConfig configures the content extractor and render resource.
type ExtractConfig struct {
	MaxContentLength int    `yaml:"max_content_length"`
	PageLoadTimeout  string `yaml:"page_load_timeout"`
	HeadlessBrowser  bool   `yaml:"headless_browser"`
	FetchParallelism int    `yaml:"fetch_parallelism"`
	UserAgent        string `yaml:"user_agent"`
}

// ScoreConfig configures the relevance filter.
type ScoreConfig struct {
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
}

// LoggingConfig configures zap logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the configuration defaults used when a field is unset.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Temperature:      0.3,
			MaxTokens:        4096,
			Timeout:          "120s",
			MaxRetryAttempts: 3,
			RetryBaseDelay:   "1s",
		},
		Search: SearchConfig{
			MaxResults:  10,
			MaxTerms:    5,
			Delay:       "2s",
			CallTimeout: "30s",
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		},
		Extract: ExtractConfig{
			MaxContentLength: 50000,
			PageLoadTimeout:  "30s",
			HeadlessBrowser:  true,
			FetchParallelism: 4,
			UserAgent:        "Mozilla/5.0 (compatible; inquest/1.0)",
		},
		Score: ScoreConfig{
			RelevanceThreshold: 0.7,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, applies environment overrides,
// and fills unset fields with defaults. A missing file is not an error; the
// defaults (plus environment) are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over file values.
// Provider API keys come from the conventional *_API_KEY variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INQUEST_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("INQUEST_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("INQUEST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("INQUEST_RELEVANCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Score.RelevanceThreshold = f
		}
	}
	if v := os.Getenv("INQUEST_MAX_SEARCH_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxResults = n
		}
	}
	if v := os.Getenv("INQUEST_HEADLESS_BROWSER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Extract.HeadlessBrowser = b
		}
	}

	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "gemini":
			c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
}

// fillDefaults backfills zero values left by a sparse config file.
func (c *Config) fillDefaults() {
	def := Default()
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = def.LLM.Temperature
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if c.LLM.Timeout == "" {
		c.LLM.Timeout = def.LLM.Timeout
	}
	if c.LLM.MaxRetryAttempts == 0 {
		c.LLM.MaxRetryAttempts = def.LLM.MaxRetryAttempts
	}
	if c.LLM.RetryBaseDelay == "" {
		c.LLM.RetryBaseDelay = def.LLM.RetryBaseDelay
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = def.Search.MaxResults
	}
	if c.Search.MaxTerms == 0 {
		c.Search.MaxTerms = def.Search.MaxTerms
	}
	if c.Search.Delay == "" {
		c.Search.Delay = def.Search.Delay
	}
	if c.Search.CallTimeout == "" {
		c.Search.CallTimeout = def.Search.CallTimeout
	}
	if c.Search.UserAgent == "" {
		c.Search.UserAgent = def.Search.UserAgent
	}
	if c.Extract.MaxContentLength == 0 {
		c.Extract.MaxContentLength = def.Extract.MaxContentLength
	}
	if c.Extract.PageLoadTimeout == "" {
		c.Extract.PageLoadTimeout = def.Extract.PageLoadTimeout
	}
	if c.Extract.FetchParallelism == 0 {
		c.Extract.FetchParallelism = def.Extract.FetchParallelism
	}
	if c.Extract.UserAgent == "" {
		c.Extract.UserAgent = def.Extract.UserAgent
	}
	if c.Score.RelevanceThreshold == 0 {
		c.Score.RelevanceThreshold = def.Score.RelevanceThreshold
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Validate rejects configurations that no component could honor.
func (c Config) Validate() error {
	if c.Score.RelevanceThreshold < 0 || c.Score.RelevanceThreshold > 1 {
		return fmt.Errorf("relevance_threshold %v out of range [0,1]", c.Score.RelevanceThreshold)
	}
	if c.LLM.MaxRetryAttempts < 1 {
		return fmt.Errorf("max_retry_attempts must be at least 1, got %d", c.LLM.MaxRetryAttempts)
	}
	durations := map[string]string{
		"llm.timeout":               c.LLM.Timeout,
		"llm.retry_base_delay":      c.LLM.RetryBaseDelay,
		"search.delay":              c.Search.Delay,
		"search.call_timeout":       c.Search.CallTimeout,
		"extract.page_load_timeout": c.Extract.PageLoadTimeout,
	}
	for name, s := range durations {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, s)
		}
	}
	return nil
}

// LLMTimeout returns the parsed per-call LLM timeout.
func (c LLMConfig) LLMTimeout() time.Duration {
	return parseDuration(c.Timeout, 120*time.Second)
}

// BaseDelay returns the parsed retry base delay.
func (c LLMConfig) BaseDelay() time.Duration {
	return parseDuration(c.RetryBaseDelay, time.Second)
}

// SearchDelay returns the parsed inter-call delay.
func (c SearchConfig) SearchDelay() time.Duration {
	return parseDuration(c.Delay, 2*time.Second)
}

// Timeout returns the parsed per-search-call timeout.
func (c SearchConfig) Timeout() time.Duration {
	return parseDuration(c.CallTimeout, 30*time.Second)
}

// PageTimeout returns the parsed per-page fetch/render timeout.
func (c ExtractConfig) PageTimeout() time.Duration {
	return parseDuration(c.PageLoadTimeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
