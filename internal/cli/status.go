package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/matchlog/internal/progress"
	"github.com/roach88/matchlog/internal/record"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	List bool // include pending and failed IDs
}

// StatusReport describes a ledger.
type StatusReport struct {
	Ledger      string     `json:"ledger"`
	Base        record.ID  `json:"base"`
	Frontier    record.ID  `json:"frontier"`
	Cursor      record.ID  `json:"cursor"`
	Bound       record.ID  `json:"bound,omitempty"`
	TargetPatch string     `json:"target_patch,omitempty"`
	Pending     int        `json:"pending"`
	NotFound    int        `json:"not_found"`
	Failed      int        `json:"failed"`
	RunID       string     `json:"run_id,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`

	PendingIDs []PendingEntry `json:"pending_ids,omitempty"`
	Failures   []FailureEntry `json:"failures,omitempty"`
}

// PendingEntry is an ID waiting for retry.
type PendingEntry struct {
	ID        record.ID `json:"id"`
	Attempts  int       `json:"attempts"`
	LastCause string    `json:"last_cause,omitempty"`
}

// FailureEntry is an ID given up on.
type FailureEntry struct {
	ID     record.ID       `json:"id"`
	Reason progress.Reason `json:"reason"`
	Cause  string          `json:"cause,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show archive progress",
		Long: `Show the progress recorded in the ledger: the contiguous frontier, the
scan cursor, IDs waiting for retry and IDs given up on.

Examples:
  matchlog status
  matchlog status --ledger progress.db --list
  matchlog status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	addLedgerFlag(cmd.Flags())
	cmd.Flags().BoolVar(&opts.List, "list", false, "list pending and failed IDs")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, cmd, out)
	if err != nil {
		return err
	}

	ledger, err := progress.Open(cfg.Ledger)
	if err != nil {
		return out.Fail(ExitFailure, CodeLedger, "failed to open ledger", err)
	}
	defer closeLogged("ledger", ledger)

	state, err := ledger.Load(cmd.Context())
	if err != nil {
		return out.Fail(ExitFailure, CodeLedger, "failed to read ledger", err)
	}

	report := newStatusReport(cfg.Ledger, state, opts.List)
	if out.Format == "json" {
		return out.Success(report)
	}
	return report.WriteText(out.Writer)
}

func newStatusReport(path string, s progress.State, list bool) StatusReport {
	counts := s.Counts()
	r := StatusReport{
		Ledger:   path,
		Base:     s.Base,
		Frontier: s.Frontier,
		Cursor:   s.Cursor,
		Bound:    s.Bound,
		Pending:  counts.Pending,
		NotFound: counts.NotFound,
		Failed:   counts.Failed,
		RunID:    s.RunID,
	}
	if s.TargetPatch != nil {
		r.TargetPatch = s.TargetPatch.String()
	}
	if !s.UpdatedAt.IsZero() {
		updated := s.UpdatedAt.UTC()
		r.UpdatedAt = &updated
	}
	if !list {
		return r
	}

	for _, id := range s.PendingIDs() {
		p := s.Pending[id]
		r.PendingIDs = append(r.PendingIDs, PendingEntry{ID: id, Attempts: p.Attempts, LastCause: p.LastCause})
	}
	for _, id := range s.AbsentIDs() {
		a := s.Absent[id]
		if a.Reason.Failed() {
			r.Failures = append(r.Failures, FailureEntry{ID: id, Reason: a.Reason, Cause: a.Cause})
		}
	}
	return r
}

// WriteText renders the report for humans.
func (r StatusReport) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Ledger %s\n", r.Ledger)
	fmt.Fprintf(&b, "  frontier:   %d\n", r.Frontier)
	fmt.Fprintf(&b, "  cursor:     %d\n", r.Cursor)
	if r.Bound > 0 {
		fmt.Fprintf(&b, "  bound:      %d\n", r.Bound)
	}
	if r.TargetPatch != "" {
		fmt.Fprintf(&b, "  patch:      %s\n", r.TargetPatch)
	}
	fmt.Fprintf(&b, "  pending:    %d\n", r.Pending)
	fmt.Fprintf(&b, "  not found:  %d\n", r.NotFound)
	fmt.Fprintf(&b, "  failed:     %d\n", r.Failed)
	if r.RunID != "" {
		fmt.Fprintf(&b, "  last run:   %s\n", r.RunID)
	}
	if r.UpdatedAt != nil {
		fmt.Fprintf(&b, "  updated:    %s\n", r.UpdatedAt.Format(time.RFC3339))
	}

	if len(r.PendingIDs) > 0 {
		fmt.Fprintln(&b, "Pending")
		for _, p := range r.PendingIDs {
			fmt.Fprintf(&b, "  %d  attempts=%d  %s\n", p.ID, p.Attempts, p.LastCause)
		}
	}
	if len(r.Failures) > 0 {
		fmt.Fprintln(&b, "Failed")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  %d  %s  %s\n", f.ID, f.Reason, f.Cause)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
