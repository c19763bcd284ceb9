package ingest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roach88/matchlog/internal/record"
)

// Summary reports what a run did.
type Summary struct {
	RunID string `json:"run_id"`

	// Per-run counts.
	Attempts        int `json:"attempts"`
	Committed       int `json:"committed"`
	Duplicates      int `json:"duplicates"`
	SkippedExisting int `json:"skipped_existing"`
	NotFound        int `json:"not_found"`
	RateLimited     int `json:"rate_limited"`
	Retried         int `json:"retried"`
	Failed          int `json:"failed"`

	// Ledger totals at the end of the run.
	Frontier    record.ID `json:"frontier"`
	Cursor      record.ID `json:"cursor"`
	Pending     int       `json:"pending"`
	AbsentTotal int       `json:"absent_total"`
	FailedTotal int       `json:"failed_total"`

	StoppedBy string        `json:"stopped_by"` // "bound", "signal", "halt" or "error"
	Duration  time.Duration `json:"duration_ns"`
}

// WriteText renders the summary for humans.
func (s Summary) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s stopped by %s after %s\n", s.RunID, s.StoppedBy, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  attempts:          %d\n", s.Attempts)
	fmt.Fprintf(&b, "  committed:         %d\n", s.Committed)
	fmt.Fprintf(&b, "  duplicates:        %d\n", s.Duplicates)
	fmt.Fprintf(&b, "  skipped existing:  %d\n", s.SkippedExisting)
	fmt.Fprintf(&b, "  absent:            %d\n", s.NotFound)
	fmt.Fprintf(&b, "  rate limited:      %d\n", s.RateLimited)
	fmt.Fprintf(&b, "  retried:           %d\n", s.Retried)
	fmt.Fprintf(&b, "  failed:            %d\n", s.Failed)
	fmt.Fprintf(&b, "Ledger\n")
	fmt.Fprintf(&b, "  frontier:          %d\n", s.Frontier)
	fmt.Fprintf(&b, "  cursor:            %d\n", s.Cursor)
	fmt.Fprintf(&b, "  pending:           %d\n", s.Pending)
	fmt.Fprintf(&b, "  absent (total):    %d\n", s.AbsentTotal)
	fmt.Fprintf(&b, "  failed (total):    %d\n", s.FailedTotal)
	_, err := io.WriteString(w, b.String())
	return err
}

func (s Summary) String() string {
	var b strings.Builder
	_ = s.WriteText(&b)
	return b.String()
}
