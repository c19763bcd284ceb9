// Package config loads and validates operator configuration.
//
// Settings are layered, lowest precedence first: built-in defaults, an
// optional YAML file, MATCHLOG_* environment variables, command-line flags.
// The merged result is checked against an embedded CUE schema.
package config

import (
	"time"

	"github.com/roach88/matchlog/internal/governor"
	"github.com/roach88/matchlog/internal/ingest"
	"github.com/roach88/matchlog/internal/rawstore"
	"github.com/roach88/matchlog/internal/record"
	"github.com/roach88/matchlog/internal/remote"
)

// Config is the complete operator configuration.
type Config struct {
	StartID    int64 `mapstructure:"start_id" yaml:"start_id" json:"start_id"`
	EndID      int64 `mapstructure:"end_id" yaml:"end_id" json:"end_id"`
	ForceStart bool  `mapstructure:"force_start" yaml:"force_start" json:"force_start"`
	Workers    int   `mapstructure:"workers" yaml:"workers" json:"workers"`

	Rate  RateConfig  `mapstructure:"rate" yaml:"rate" json:"rate"`
	Retry RetryConfig `mapstructure:"retry" yaml:"retry" json:"retry"`

	InFlightTimeout time.Duration `mapstructure:"inflight_timeout" yaml:"inflight_timeout" json:"inflight_timeout"`
	FailurePolicy   string        `mapstructure:"failure_policy" yaml:"failure_policy" json:"failure_policy"`
	PatchFence      bool          `mapstructure:"patch_fence" yaml:"patch_fence" json:"patch_fence"`

	API APIConfig `mapstructure:"api" yaml:"api" json:"api"`

	// Store is the raw store location, e.g. "dir:data/games/raw" or
	// "postgres://user@host/db".
	Store          string   `mapstructure:"store" yaml:"store" json:"store"`
	StoreCacheSize int      `mapstructure:"store_cache_size" yaml:"store_cache_size" json:"store_cache_size"`
	S3             S3Config `mapstructure:"s3" yaml:"s3" json:"s3"`

	// Ledger is the progress ledger path. ".db", ".sqlite" and ".sqlite3"
	// select SQLite; anything else is a YAML file.
	Ledger string `mapstructure:"ledger" yaml:"ledger" json:"ledger"`

	// MetricsAddr serves /metrics when non-empty, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr" json:"metrics_addr"`

	Log LogConfig `mapstructure:"log" yaml:"log" json:"log"`
}

// RateConfig bounds remote calls to Limit per sliding Window.
type RateConfig struct {
	Limit  int           `mapstructure:"limit" yaml:"limit" json:"limit"`
	Window time.Duration `mapstructure:"window" yaml:"window" json:"window"`
}

// RetryConfig selects a retry profile. Non-zero fields override it.
type RetryConfig struct {
	Profile     string        `mapstructure:"profile" yaml:"profile" json:"profile"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	Base        time.Duration `mapstructure:"base" yaml:"base" json:"base"`
	Cap         time.Duration `mapstructure:"cap" yaml:"cap" json:"cap"`
}

// APIConfig configures the remote client.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Key     string        `mapstructure:"key" yaml:"key" json:"key"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// S3Config configures s3:// stores.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key" json:"secret_key"`
	Region    string `mapstructure:"region" yaml:"region" json:"region"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl" json:"use_ssl"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// Default returns the built-in configuration: one call per second into a
// directory of JSON files, resumable through a YAML ledger.
func Default() Config {
	return Config{
		Workers: ingest.DefaultWorkers,
		Rate: RateConfig{
			Limit:  1,
			Window: time.Second,
		},
		Retry: RetryConfig{
			Profile: ingest.ProfileStandard,
		},
		InFlightTimeout: ingest.DefaultInFlightTimeout,
		FailurePolicy:   string(ingest.FailSkip),
		API: APIConfig{
			BaseURL: remote.DefaultBaseURL,
			Timeout: 30 * time.Second,
		},
		Store:  "dir:data/games/raw",
		Ledger: "data/progress.yaml",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// resolveRetry fills unset retry fields from the named profile.
func (c *Config) resolveRetry() error {
	p, err := ingest.Profile(c.Retry.Profile)
	if err != nil {
		return err
	}
	if c.Retry.Profile == "" {
		c.Retry.Profile = ingest.ProfileStandard
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = p.MaxAttempts
	}
	if c.Retry.Base == 0 {
		c.Retry.Base = p.Base
	}
	if c.Retry.Cap == 0 {
		c.Retry.Cap = max(p.Cap, c.Retry.Base)
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.API.Key != "" {
		c.API.Key = "REDACTED"
	}
	if c.S3.SecretKey != "" {
		c.S3.SecretKey = "REDACTED"
	}
	return c
}

// GovernorConfig returns the rate governor settings.
func (c Config) GovernorConfig() governor.Config {
	return governor.Config{Limit: c.Rate.Limit, Window: c.Rate.Window}
}

// IngestOptions returns the controller settings.
func (c Config) IngestOptions() ingest.Options {
	return ingest.Options{
		Workers: c.Workers,
		Retry: ingest.RetryPolicy{
			MaxAttempts: c.Retry.MaxAttempts,
			Base:        c.Retry.Base,
			Cap:         c.Retry.Cap,
		},
		InFlightTimeout: c.InFlightTimeout,
		FailurePolicy:   ingest.FailurePolicy(c.FailurePolicy),
		StartID:         record.ID(c.StartID),
		ForceStart:      c.ForceStart,
		UpperBound:      record.ID(c.EndID),
		PatchFence:      c.PatchFence,
	}
}

// RemoteConfig returns the API client settings.
func (c Config) RemoteConfig() remote.Config {
	return remote.Config{
		BaseURL: c.API.BaseURL,
		APIKey:  c.API.Key,
		Timeout: c.API.Timeout,
	}
}

// StoreOptions returns the raw store settings.
func (c Config) StoreOptions() rawstore.Options {
	return rawstore.Options{
		CacheSize: c.StoreCacheSize,
		S3: rawstore.S3Options{
			Endpoint:  c.S3.Endpoint,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			Region:    c.S3.Region,
			UseSSL:    c.S3.UseSSL,
		},
	}
}
