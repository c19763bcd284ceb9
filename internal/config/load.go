package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: rate.limit is MATCHLOG_RATE_LIMIT.
const EnvPrefix = "MATCHLOG"

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"start-id":         "start_id",
	"end-id":           "end_id",
	"force-start":      "force_start",
	"workers":          "workers",
	"rate-limit":       "rate.limit",
	"rate-window":      "rate.window",
	"retry-profile":    "retry.profile",
	"max-attempts":     "retry.max_attempts",
	"inflight-timeout": "inflight_timeout",
	"failure-policy":   "failure_policy",
	"patch-fence":      "patch_fence",
	"api-url":          "api.base_url",
	"api-key":          "api.key",
	"api-timeout":      "api.timeout",
	"store":            "store",
	"store-cache":      "store_cache_size",
	"ledger":           "ledger",
	"metrics-addr":     "metrics_addr",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

// Load merges defaults, the YAML file at path (skipped when empty), the
// environment and flags, then resolves the retry profile and validates.
// Flags not present in FlagKeys are ignored.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.resolveRetry(); err != nil {
		return Config{}, ValidationErrors{{Field: "retry.profile", Message: err.Error()}}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables are seen by
// Unmarshal even when no file sets them.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("start_id", d.StartID)
	v.SetDefault("end_id", d.EndID)
	v.SetDefault("force_start", d.ForceStart)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("rate.limit", d.Rate.Limit)
	v.SetDefault("rate.window", d.Rate.Window)
	v.SetDefault("retry.profile", d.Retry.Profile)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base", d.Retry.Base)
	v.SetDefault("retry.cap", d.Retry.Cap)
	v.SetDefault("inflight_timeout", d.InFlightTimeout)
	v.SetDefault("failure_policy", d.FailurePolicy)
	v.SetDefault("patch_fence", d.PatchFence)
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.key", d.API.Key)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("store", d.Store)
	v.SetDefault("store_cache_size", d.StoreCacheSize)
	v.SetDefault("s3.endpoint", d.S3.Endpoint)
	v.SetDefault("s3.access_key", d.S3.AccessKey)
	v.SetDefault("s3.secret_key", d.S3.SecretKey)
	v.SetDefault("s3.region", d.S3.Region)
	v.SetDefault("s3.use_ssl", d.S3.UseSSL)
	v.SetDefault("ledger", d.Ledger)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// IsValidationError reports whether err came from configuration validation.
func IsValidationError(err error) bool {
	var v ValidationErrors
	return errors.As(err, &v)
}
