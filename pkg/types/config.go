// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "consequence-pipeline/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// PacingConfig controls request spacing for one upstream API.
type PacingConfig struct {
	// Interval is the minimum delay between consecutive requests.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// RateLimitBackoff is the fixed pause after an HTTP 429 before the
	// adapter gives up on the current topic.
	RateLimitBackoff time.Duration `json:"rate_limit_backoff" yaml:"rate_limit_backoff"`
}

// ArxivConfig holds settings for the arXiv adapter.
type ArxivConfig struct {
	Enabled    bool         `json:"enabled" yaml:"enabled"`
	MaxResults int          `json:"max_results" yaml:"max_results"`
	Pacing     PacingConfig `json:"pacing" yaml:"pacing"`
}

// GuardianConfig holds settings for the Guardian content API adapter.
type GuardianConfig struct {
	Enabled  bool         `json:"enabled" yaml:"enabled"`
	APIKey   string       `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Section  string       `json:"section" yaml:"section"`
	PageSize int          `json:"page_size" yaml:"page_size"`
	Pages    int          `json:"pages" yaml:"pages"`
	Pacing   PacingConfig `json:"pacing" yaml:"pacing"`
}

// NYTConfig holds settings for the New York Times article search adapter.
type NYTConfig struct {
	Enabled   bool         `json:"enabled" yaml:"enabled"`
	APIKey    string       `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	NewsDesk  string       `json:"news_desk" yaml:"news_desk"`
	PageLimit int          `json:"page_limit" yaml:"page_limit"`
	Pacing    PacingConfig `json:"pacing" yaml:"pacing"`

	// FetchFullText downloads each article page and extracts the body.
	FetchFullText bool `json:"fetch_full_text" yaml:"fetch_full_text"`
}

// SourcesConfig groups the source adapters and the ingestion window.
type SourcesConfig struct {
	HTTPConfig `yaml:",inline"`

	// WindowDays is the trailing publication window (default 7).
	WindowDays int `json:"window_days" yaml:"window_days"`

	// Topics are the queries each adapter is run with.
	Topics []string `json:"topics" yaml:"topics"`

	Arxiv    ArxivConfig    `json:"arxiv" yaml:"arxiv"`
	Guardian GuardianConfig `json:"guardian" yaml:"guardian"`
	NYT      NYTConfig      `json:"nyt" yaml:"nyt"`
}

// OracleConfig holds settings for the language model backend.
type OracleConfig struct {
	// BaseURL is an OpenAI-compatible endpoint; empty uses the OpenAI default.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the chat model identifier (e.g. "gpt-4o-mini").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the model API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`

	// SystemPrompt is sent with every free-text request.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

// StagingConfig holds settings for the run-scoped staging database.
type StagingConfig struct {
	// Dir is the parent directory for per-run databases; empty uses os.TempDir.
	Dir string `json:"dir" yaml:"dir"`
}

// StagesConfig holds settings shared by the stage processors.
type StagesConfig struct {
	// MaxContentChars is the body ceiling for the content filter and summarizer.
	MaxContentChars int `json:"max_content_chars" yaml:"max_content_chars"`

	// MaxAspectChars is the body ceiling for the aspect classifier.
	MaxAspectChars int `json:"max_aspect_chars" yaml:"max_aspect_chars"`

	// MaxAttempts is how many times a failed oracle call is tried per record.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
}

// StoreKind selects the production store backend.
type StoreKind string

const (
	StorePostgres StoreKind = "postgres"
	StoreREST     StoreKind = "rest"
	StoreDryRun   StoreKind = "dry-run"
)

// PublishConfig holds settings for the production store.
type PublishConfig struct {
	HTTPConfig `yaml:",inline"`

	Kind  StoreKind `json:"kind" yaml:"kind"`
	Table string    `json:"table" yaml:"table"`

	// DSN is the Postgres connection string.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	// URL and Key address a PostgREST (Supabase) endpoint.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
}

// ScheduleConfig holds settings for the periodic driver.
type ScheduleConfig struct {
	Cron     string `json:"cron" yaml:"cron"`
	Timezone string `json:"timezone" yaml:"timezone"`
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// PipelineConfig groups all component configurations.
type PipelineConfig struct {
	Sources  SourcesConfig  `json:"sources" yaml:"sources"`
	Oracle   OracleConfig   `json:"oracle" yaml:"oracle"`
	Staging  StagingConfig  `json:"staging" yaml:"staging"`
	Stages   StagesConfig   `json:"stages" yaml:"stages"`
	Publish  PublishConfig  `json:"publish" yaml:"publish"`
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// DefaultTopics are the technology areas searched on every run.
var DefaultTopics = []string{
	"social media", "voice assistants", "virtual reality",
	"computer vision", "robotics", "mobile technology",
	"ai decision-making", "neuroscience", "computational biology",
	"ubiquitous computing",
}

// DefaultPipelineConfig returns the settings used when nothing is configured.
func DefaultPipelineConfig() PipelineConfig {
	http := HTTPConfig{Timeout: 30 * time.Second, UserAgent: "consequence-pipeline/0.1"}
	return PipelineConfig{
		Sources: SourcesConfig{
			HTTPConfig: http,
			WindowDays: 7,
			Topics:     append([]string(nil), DefaultTopics...),
			Arxiv: ArxivConfig{
				Enabled:    true,
				MaxResults: 50,
				Pacing:     PacingConfig{Interval: 3 * time.Second, RateLimitBackoff: 60 * time.Second},
			},
			Guardian: GuardianConfig{
				Enabled:  true,
				Section:  "technology",
				PageSize: 50,
				Pages:    1,
				Pacing:   PacingConfig{Interval: time.Second, RateLimitBackoff: 60 * time.Second},
			},
			NYT: NYTConfig{
				Enabled:       true,
				NewsDesk:      "Technology",
				PageLimit:     5,
				Pacing:        PacingConfig{Interval: 12 * time.Second, RateLimitBackoff: 60 * time.Second},
				FetchFullText: true,
			},
		},
		Oracle: OracleConfig{
			Model:        "gpt-4o-mini",
			Temperature:  0.1,
			MaxTokens:    512,
			SystemPrompt: "You are a helpful assistant that analyzes articles about technology and its societal impacts.",
		},
		Stages: StagesConfig{
			MaxContentChars: 13000,
			MaxAspectChars:  19000,
			MaxAttempts:     2,
			RetryBackoff:    2 * time.Second,
		},
		Publish: PublishConfig{
			HTTPConfig: http,
			Kind:       StoreREST,
			Table:      "data",
		},
		Schedule: ScheduleConfig{Cron: "0 6 * * *", Timezone: "UTC"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}
