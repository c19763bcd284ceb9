package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/matchlog/internal/governor"
	"github.com/roach88/matchlog/internal/ingest"
	"github.com/roach88/matchlog/internal/progress"
	"github.com/roach88/matchlog/internal/rawstore"
	"github.com/roach88/matchlog/internal/record"
	"github.com/roach88/matchlog/internal/testutil"
)

// DefaultRunID is the run ID of scenarios that do not set one.
const DefaultRunID = "scenario-run"

// Harness wires one scenario run.
type Harness struct {
	remote *testutil.FakeRemote
	store  *rawstore.Memory
	ledger *progress.MemoryLedger
}

// Run executes a scenario and evaluates its assertions.
//
// A controller error is not a harness error: it is recorded on the
// result so scenarios can assert on halts. Run only fails when the
// scenario cannot be set up.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		remote: testutil.NewFakeRemote(nil),
		store:  rawstore.NewMemory(),
		ledger: progress.NewMemoryLedger(),
	}
	if err := h.setup(scenario); err != nil {
		return nil, err
	}

	opts, err := controllerOptions(scenario.Options)
	if err != nil {
		return nil, err
	}
	rate := rateConfig(scenario.Options.Rate)
	gov, err := governor.New(rate, nil)
	if err != nil {
		return nil, err
	}
	runID := scenario.RunID
	if runID == "" {
		runID = DefaultRunID
	}
	ctl, err := ingest.New(opts, gov, h.remote, h.store, h.ledger,
		ingest.WithRunIDGenerator(ingest.NewFixedGenerator(runID)),
		ingest.WithJitter(func(time.Duration) time.Duration { return 0 }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	timeout := 10 * time.Second
	if scenario.Options.Timeout != "" {
		timeout, _ = time.ParseDuration(scenario.Options.Timeout)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	summary, runErr := ctl.Run(ctx)
	summary.Duration = 0

	state, err := h.ledger.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to read final ledger: %w", err)
	}

	result := NewResult()
	result.Summary = summary
	result.State = state
	result.Rate = rate
	result.CallTimes = h.remote.CallTimes()
	if runErr != nil {
		result.RunError = errorCode(runErr)
	}
	for _, id := range h.remote.Calls() {
		result.Calls[id]++
	}
	for id := range scenario.storedUniverse(state) {
		if _, ok := h.store.Get(id); ok {
			result.Stored = append(result.Stored, id)
		}
	}
	sortIDs(result.Stored)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// setup seeds the remote, raw store and ledger.
func (h *Harness) setup(s *Scenario) error {
	if s.Default != nil {
		def := *s.Default
		h.remote = testutil.NewFakeRemote(func(id record.ID) testutil.Reply {
			r, _ := toReply(id, def)
			return r
		})
	}
	for id, specs := range s.Replies {
		replies := make([]testutil.Reply, 0, len(specs))
		for _, spec := range specs {
			r, err := toReply(record.ID(id), spec)
			if err != nil {
				return fmt.Errorf("replies[%d]: %w", id, err)
			}
			replies = append(replies, r)
		}
		h.remote.Script(record.ID(id), replies...)
	}

	for _, id := range s.Stored {
		rec, err := record.New(record.ID(id), []byte(testutil.MatchPayload(record.ID(id), 1, 0)))
		if err != nil {
			return fmt.Errorf("stored[%d]: %w", id, err)
		}
		if _, err := h.store.Write(context.Background(), rec); err != nil {
			return fmt.Errorf("stored[%d]: %w", id, err)
		}
	}

	if s.Ledger != nil {
		state := progress.NewState()
		state.Base = record.ID(s.Ledger.Base)
		state.Frontier = record.ID(s.Ledger.Frontier)
		state.Cursor = record.ID(s.Ledger.Cursor)
		for i, id := range s.Ledger.Pending {
			state.Pending[record.ID(id)] = progress.Retry{Seq: int64(i + 1)}
		}
		for id, reason := range s.Ledger.Absent {
			state.Absent[record.ID(id)] = progress.Absence{Reason: progress.Reason(reason)}
		}
		state.Normalize()
		if err := state.Check(); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		h.ledger = progress.NewMemoryLedgerWith(state)
	}
	return nil
}

// rateConfig defaults to a limit no scenario reaches.
func rateConfig(o *RateOptions) governor.Config {
	if o == nil {
		return governor.Config{Limit: 1000, Window: time.Second}
	}
	window, _ := time.ParseDuration(o.Window)
	return governor.Config{Limit: o.Limit, Window: window}
}

func controllerOptions(o Options) (ingest.Options, error) {
	policy, err := ingest.ParseFailurePolicy(o.FailurePolicy)
	if err != nil {
		return ingest.Options{}, err
	}
	maxAttempts := o.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	workers := o.Workers
	if workers == 0 {
		workers = 1
	}
	return ingest.Options{
		Workers:       workers,
		Retry:         ingest.RetryPolicy{MaxAttempts: maxAttempts, Base: time.Millisecond, Cap: 4 * time.Millisecond},
		FailurePolicy: policy,
		StartID:       record.ID(o.Start),
		ForceStart:    o.ForceStart,
		UpperBound:    record.ID(o.End),
		PatchFence:    o.PatchFence,
	}, nil
}

func toReply(id record.ID, spec ReplySpec) (testutil.Reply, error) {
	switch spec.Kind {
	case ReplyFound:
		if spec.Patch == "" {
			return testutil.Found(id), nil
		}
		p, err := record.ParsePatch(spec.Patch)
		if err != nil {
			return testutil.Reply{}, err
		}
		return testutil.FoundOnPatch(id, p.Major, p.Minor), nil
	case ReplyMissing:
		return testutil.Missing(), nil
	case ReplyThrottled:
		var d time.Duration
		if spec.RetryAfter != "" {
			var err error
			if d, err = time.ParseDuration(spec.RetryAfter); err != nil {
				return testutil.Reply{}, err
			}
		}
		return testutil.Throttled(d), nil
	case ReplyUnavailable:
		return testutil.Unavailable(), nil
	case ReplyForbidden:
		return testutil.Forbidden(), nil
	case ReplyGarbled:
		return testutil.Garbled(), nil
	case ReplyReset:
		return testutil.Reply{Err: errors.New("connection reset by peer")}, nil
	}
	return testutil.Reply{}, fmt.Errorf("unknown reply kind %q", spec.Kind)
}

// storedUniverse is every ID the run could have written, plus seeded ones.
func (s *Scenario) storedUniverse(state progress.State) map[record.ID]struct{} {
	ids := make(map[record.ID]struct{})
	for _, id := range s.Stored {
		ids[record.ID(id)] = struct{}{}
	}
	lo := state.Base + 1
	if lo < 1 {
		lo = 1
	}
	for id := lo; id <= state.Cursor; id++ {
		ids[id] = struct{}{}
	}
	return ids
}

func errorCode(err error) string {
	var e *ingest.Error
	if errors.As(err, &e) {
		return string(e.Code)
	}
	return "UNKNOWN"
}
