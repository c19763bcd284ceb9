package harness

import (
	"slices"
	"time"

	"github.com/roach88/matchlog/internal/governor"
	"github.com/roach88/matchlog/internal/ingest"
	"github.com/roach88/matchlog/internal/progress"
	"github.com/roach88/matchlog/internal/record"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool

	// Errors contains assertion failure messages.
	Errors []string

	Summary ingest.Summary

	// RunError is the controller error code, empty when Run returned nil.
	RunError string

	// State is the final saved ledger.
	State progress.State

	// Calls counts remote requests per ID.
	Calls map[record.ID]int

	// Stored lists the IDs in the raw store after the run, ascending.
	Stored []record.ID

	// CallTimes holds the wall time of every remote request, in call order.
	CallTimes []time.Time

	// Rate is the governor configuration the run used.
	Rate governor.Config
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
		Calls:  make(map[record.ID]int),
		Stored: []record.ID{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func sortIDs(ids []record.ID) {
	slices.Sort(ids)
}
