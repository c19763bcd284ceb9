package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/matchlog/internal/config"
)

// addIngestFlags registers every configuration flag the run command accepts.
// Flag defaults only document the built-in values: config.Load decides
// precedence, so an unset flag never hides the file or the environment.
func addIngestFlags(fs *pflag.FlagSet) {
	d := config.Default()

	fs.Int64("start-id", d.StartID, "first match ID of a new archive")
	fs.Int64("end-id", d.EndID, "stop once every ID up to this one is resolved (0 runs until stopped)")
	fs.Bool("force-start", false, "apply --start-id to an existing ledger, discarding its position")
	fs.Int("workers", d.Workers, "concurrent fetch workers")

	fs.Int("rate-limit", d.Rate.Limit, "API calls allowed per rate window")
	fs.Duration("rate-window", d.Rate.Window, "length of the sliding rate window")

	fs.String("retry-profile", d.Retry.Profile, "retry profile (standard|aggressive)")
	fs.Int("max-attempts", d.Retry.MaxAttempts, "attempts per ID before giving up (0 uses the profile)")
	fs.Duration("inflight-timeout", d.InFlightTimeout, "requeue IDs whose fetch has not reported after this long")
	fs.String("failure-policy", d.FailurePolicy, "what to do with an ID that cannot be fetched (skip|halt)")
	fs.Bool("patch-fence", false, "stop at the first record from a newer game patch")

	fs.String("api-url", d.API.BaseURL, "game API base URL")
	fs.String("api-key", "", "game API key (prefer MATCHLOG_API_KEY)")
	fs.Duration("api-timeout", d.API.Timeout, "per-request timeout")

	addStorageFlags(fs)
	fs.Int("store-cache", d.StoreCacheSize, "remember this many stored IDs in memory (0 disables)")

	fs.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	fs.String("log-level", d.Log.Level, "log level (debug|info|warn|error)")
	fs.String("log-format", d.Log.Format, "log format (text|json)")
}

// addStorageFlags registers the flags locating the archive.
func addStorageFlags(fs *pflag.FlagSet) {
	fs.String("store", config.Default().Store,
		"raw store location (mem:, sqlite:PATH, dir:PATH, postgres://..., s3://BUCKET/PREFIX)")
	addLedgerFlag(fs)
}

func addLedgerFlag(fs *pflag.FlagSet) {
	fs.String("ledger", config.Default().Ledger, "progress ledger path (.yaml, or .db for SQLite)")
}

// loadConfig merges the configuration file, environment and the command's
// flags. Invalid configuration is a command error.
func loadConfig(opts *RootOptions, cmd *cobra.Command, out *OutputFormatter) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, cmd.Flags())
	if err != nil {
		return config.Config{}, out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Verbose forces debug level.
func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
