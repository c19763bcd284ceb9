package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/matchlog/internal/progress"
	"github.com/roach88/matchlog/internal/rawstore"
	"github.com/roach88/matchlog/internal/record"
)

// maxListedGaps caps the missing IDs printed in text output.
const maxListedGaps = 20

// VerifyReport is the result of checking the archive against its ledger.
type VerifyReport struct {
	Frontier  record.ID   `json:"frontier"`
	Checked   int         `json:"checked"`
	Stored    int         `json:"stored"`
	Absent    int         `json:"absent"`
	Missing   []record.ID `json:"missing"`
	Invariant string      `json:"invariant_error,omitempty"`
}

// OK reports whether the archive is consistent.
func (r VerifyReport) OK() bool {
	return r.Invariant == "" && len(r.Missing) == 0
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the archive against the ledger",
		Long: `Check that the ledger is internally consistent and that every ID up to
the frontier is either in the raw store or recorded as absent.

Exit codes:
  0 - Archive is consistent
  1 - Gaps or ledger inconsistencies found
  2 - Command error (invalid configuration, etc.)

Examples:
  matchlog verify
  matchlog verify --store sqlite:games.db --ledger progress.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}

	addStorageFlags(cmd.Flags())

	return cmd
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)
	ctx := cmd.Context()

	cfg, err := loadConfig(opts, cmd, out)
	if err != nil {
		return err
	}

	ledger, err := progress.Open(cfg.Ledger)
	if err != nil {
		return out.Fail(ExitFailure, CodeLedger, "failed to open ledger", err)
	}
	defer closeLogged("ledger", ledger)

	state, err := ledger.Load(ctx)
	if err != nil {
		return out.Fail(ExitFailure, CodeLedger, "failed to read ledger", err)
	}

	store, err := rawstore.Open(ctx, cfg.Store, cfg.StoreOptions())
	if err != nil {
		return out.Fail(ExitFailure, CodeStorage, "failed to open raw store", err)
	}
	defer closeLogged("raw store", store)

	out.VerboseLog("verifying ids %d..%d", state.Base+1, state.Frontier)
	report, err := verifyArchive(ctx, state, store)
	if err != nil {
		return out.Fail(ExitFailure, CodeStorage, "failed to read raw store", err)
	}

	if !report.OK() {
		message := fmt.Sprintf("archive inconsistent: %d missing", len(report.Missing))
		if report.Invariant != "" {
			message = "ledger inconsistent: " + report.Invariant
		}
		if out.Format == "json" {
			_ = out.Error(CodeVerify, message, report)
		} else {
			_ = report.WriteText(out.Writer)
		}
		return NewExitError(ExitFailure, message)
	}

	if out.Format == "json" {
		return out.Success(report)
	}
	return report.WriteText(out.Writer)
}

// verifyArchive checks every ID in (Base, Frontier] is stored or absent.
func verifyArchive(ctx context.Context, s progress.State, store rawstore.Store) (VerifyReport, error) {
	report := VerifyReport{Frontier: s.Frontier, Missing: []record.ID{}}
	if err := s.Check(); err != nil {
		report.Invariant = err.Error()
	}

	for id := s.Base + 1; id <= s.Frontier; id++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		if _, ok := s.Absent[id]; ok {
			report.Absent++
			continue
		}
		ok, err := store.Exists(ctx, id)
		if err != nil {
			return report, fmt.Errorf("exists %d: %w", id, err)
		}
		if !ok {
			report.Missing = append(report.Missing, id)
			continue
		}
		report.Stored++
	}
	return report, nil
}

// WriteText renders the report for humans.
func (r VerifyReport) WriteText(w io.Writer) error {
	var b strings.Builder
	if r.OK() {
		fmt.Fprintf(&b, "✓ %d ids verified up to %d\n", r.Checked, r.Frontier)
	} else {
		fmt.Fprintf(&b, "✗ archive inconsistent up to %d\n", r.Frontier)
	}
	fmt.Fprintf(&b, "  stored:   %d\n", r.Stored)
	fmt.Fprintf(&b, "  absent:   %d\n", r.Absent)
	fmt.Fprintf(&b, "  missing:  %d\n", len(r.Missing))
	if r.Invariant != "" {
		fmt.Fprintf(&b, "  ledger:   %s\n", r.Invariant)
	}
	for i, id := range r.Missing {
		if i == maxListedGaps {
			fmt.Fprintf(&b, "  ... and %d more\n", len(r.Missing)-maxListedGaps)
			break
		}
		fmt.Fprintf(&b, "  missing %d\n", id)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
