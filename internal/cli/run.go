package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/roach88/matchlog/internal/fetch"
	"github.com/roach88/matchlog/internal/governor"
	"github.com/roach88/matchlog/internal/ingest"
	"github.com/roach88/matchlog/internal/progress"
	"github.com/roach88/matchlog/internal/rawstore"
	"github.com/roach88/matchlog/internal/remote"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Remote overrides the game API client (for testing).
	// If nil, a remote.Client is built from the configuration.
	Remote fetch.Remote

	// RunIDs overrides the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs ingest.RunIDGenerator

	// Registry receives the run's metrics (for testing).
	// If nil, a fresh registry with Go and process collectors is used.
	Registry *prometheus.Registry
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Archive match records",
		Long: `Fetch match records in increasing ID order and store them.

The run resumes from the progress ledger. It stops on SIGINT/SIGTERM, once
every ID up to --end-id is resolved, or, with --patch-fence, when the API
starts returning matches from a newer game patch. The ledger is flushed
before exit in every case.

Exit codes:
  0 - Run finished or was interrupted cleanly
  1 - Run stopped on a storage failure or a halted ID
  2 - Invalid configuration

Example:
  matchlog run --start-id 1000000 --api-key $KEY
  matchlog run --config matchlog.yaml --end-id 1200000 --format json
  MATCHLOG_RATE_LIMIT=5 matchlog run --store sqlite:games.db --ledger progress.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd)
		},
	}

	addIngestFlags(cmd.Flags())

	return cmd
}

func runIngest(opts *RunOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, cmd, out)
	if err != nil {
		return err
	}

	// Configure logging from config, --verbose forcing debug
	slog.SetDefault(newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr()))
	slog.Debug("configuration loaded", "config", cfg.Redacted())

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	gov, err := governor.New(cfg.GovernorConfig(), clock.RealClock{})
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid rate limit", err)
	}

	api := opts.Remote
	if api == nil {
		client, err := remote.New(cfg.RemoteConfig())
		if err != nil {
			return out.Fail(ExitCommandError, CodeConfig, "invalid API configuration", err)
		}
		api = client
	}

	slog.Info("opening raw store", "store", cfg.Store)
	store, err := rawstore.Open(ctx, cfg.Store, cfg.StoreOptions())
	if err != nil {
		return out.Fail(ExitFailure, CodeStorage, "failed to open raw store", err)
	}
	defer closeLogged("raw store", store)

	slog.Info("opening ledger", "path", cfg.Ledger)
	ledger, err := progress.Open(cfg.Ledger)
	if err != nil {
		return out.Fail(ExitFailure, CodeLedger, "failed to open ledger", err)
	}
	defer closeLogged("ledger", ledger)

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	registerGovernorMetrics(reg, gov)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ctlOpts := []ingest.Option{ingest.WithMetrics(ingest.NewMetrics(reg))}
	if opts.RunIDs != nil {
		ctlOpts = append(ctlOpts, ingest.WithRunIDGenerator(opts.RunIDs))
	}
	ctl, err := ingest.New(cfg.IngestOptions(), gov, api, store, ledger, ctlOpts...)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}

	summary, runErr := ctl.Run(ctx)
	if runErr != nil {
		exitCode, code, message := classifyRunError(runErr)
		if out.Format == "json" {
			_ = out.Error(code, message, summary)
		} else {
			_ = summary.WriteText(out.Writer)
		}
		return WrapExitError(exitCode, message, runErr)
	}

	if out.Format == "json" {
		return out.Success(summary)
	}
	return summary.WriteText(out.Writer)
}

// classifyRunError maps a controller error to an exit code, an error code
// and a message.
func classifyRunError(err error) (int, string, string) {
	switch {
	case ingest.IsConfigError(err):
		return ExitCommandError, CodeConfig, "invalid configuration"
	case ingest.IsHaltError(err):
		return ExitFailure, CodeHalted, "run halted on a failed ID"
	default:
		return ExitFailure, CodeStorage, "storage failure"
	}
}

// registerGovernorMetrics exports the rate governor's window usage.
func registerGovernorMetrics(reg prometheus.Registerer, gov *governor.Governor) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: ingest.MetricsPrefix + "rate_window_used",
		Help: "Permits issued within the current rate window",
	}, func() float64 {
		return float64(gov.Snapshot().InWindow)
	})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: ingest.MetricsPrefix + "rate_waiters",
		Help: "Callers waiting for a permit",
	}, func() float64 {
		return float64(gov.Snapshot().Waiters)
	})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: ingest.MetricsPrefix + "rate_paused_seconds",
		Help: "Seconds until a server-requested pause ends",
	}, func() float64 {
		until := gov.Snapshot().PausedUntil
		if until.IsZero() {
			return 0
		}
		return max(time.Until(until).Seconds(), 0)
	})
}

// serveMetrics serves reg on addr in the background.
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return srv
}

func closeLogged(what string, c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("error closing "+what, "error", err)
	}
}
