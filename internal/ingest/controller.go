package ingest

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/roach88/matchlog/internal/fetch"
	"github.com/roach88/matchlog/internal/progress"
	"github.com/roach88/matchlog/internal/rawstore"
	"github.com/roach88/matchlog/internal/record"
	"github.com/roach88/matchlog/internal/sequencer"
)

// DefaultWorkers is the default size of the fetch worker pool.
const DefaultWorkers = 4

// DefaultInFlightTimeout returns an ID to the pending set when no outcome
// arrives within this long.
const DefaultInFlightTimeout = 2 * time.Minute

// Governor paces remote calls. Implemented by governor.Governor.
type Governor interface {
	Acquire(ctx context.Context) error
	Backoff(retryAfter time.Duration)
}

// Options configures a Controller.
type Options struct {
	Workers         int
	Retry           RetryPolicy
	InFlightTimeout time.Duration
	FailurePolicy   FailurePolicy

	// StartID sets the first ID in scope when the ledger is empty.
	StartID record.ID

	// ForceStart applies StartID to a non-empty ledger, discarding its
	// frontier and pending retries.
	ForceStart bool

	// UpperBound ends the run once every ID up to it is resolved.
	// Zero runs until cancelled.
	UpperBound record.ID

	// PatchFence stops the scan at the first record from a newer game
	// patch than the first record committed.
	PatchFence bool
}

// Validate rejects unusable options.
func (o Options) Validate() error {
	if o.Workers < 1 {
		return configError("workers must be at least 1, got %d", o.Workers)
	}
	if err := o.Retry.Validate(); err != nil {
		return configError("retry policy: %w", err)
	}
	if o.InFlightTimeout < 0 {
		return configError("in-flight timeout must not be negative")
	}
	if o.StartID < 0 || o.UpperBound < 0 {
		return configError("ids must not be negative")
	}
	if o.UpperBound > 0 && o.StartID > o.UpperBound {
		return configError("start id %d is beyond upper bound %d", o.StartID, o.UpperBound)
	}
	if _, err := ParseFailurePolicy(string(o.FailurePolicy)); err != nil {
		return configError("%w", err)
	}
	return nil
}

// Controller is the ingestion state machine.
type Controller struct {
	opts     Options
	governor Governor
	worker   *fetch.Worker
	store    rawstore.Store
	ledger   progress.Ledger

	clock   clock.Clock
	metrics *Metrics
	runIDs  RunIDGenerator
	jitter  func(time.Duration) time.Duration
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithMetrics exports controller activity.
func WithMetrics(m *Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// WithRunIDGenerator replaces the UUIDv7 run ID generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(ctl *Controller) { ctl.runIDs = g }
}

// WithJitter replaces the random backoff jitter. The function receives the
// backoff base and returns a delay to add.
func WithJitter(j func(time.Duration) time.Duration) Option {
	return func(ctl *Controller) { ctl.jitter = j }
}

// New creates a Controller. Every remote call made through remote is gated
// by gov.
func New(
	opts Options,
	gov Governor,
	remote fetch.Remote,
	store rawstore.Store,
	ledger progress.Ledger,
	options ...Option,
) (*Controller, error) {
	if opts.Workers == 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.InFlightTimeout == 0 {
		opts.InFlightTimeout = DefaultInFlightTimeout
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = FailSkip
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		opts:     opts,
		governor: gov,
		store:    store,
		ledger:   ledger,
		clock:    clock.RealClock{},
		runIDs:   UUIDv7Generator{},
		jitter: func(base time.Duration) time.Duration {
			return rand.N(base)
		},
	}
	for _, o := range options {
		o(c)
	}
	c.worker = fetch.NewWorker(gov, remote, c.clock)
	return c, nil
}

// run holds the state of one Run call. Only the Run goroutine touches it.
type run struct {
	c       *Controller
	state   *progress.State
	seq     *sequencer.Sequencer
	summary Summary
	ready   []fetch.Job
	dirty   bool
}

// Run ingests until the upper bound is reached, ctx is cancelled, or a
// storage failure (or a failure under the halt policy) occurs. The ledger
// is flushed before Run returns in every case where the ledger is usable.
//
// Cancellation is a normal stop: Run returns the summary and a nil error.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	start := c.clock.Now()

	state, err := c.ledger.Load(ctx)
	if err != nil {
		return Summary{StoppedBy: "error"}, storageError("load ledger", 0, err)
	}
	c.applyStart(&state)

	r := &run{c: c, state: &state}
	r.summary.RunID = c.runIDs.Generate()
	state.RunID = r.summary.RunID
	r.seq = sequencer.New(&state, sequencer.Options{
		InFlightTimeout: c.opts.InFlightTimeout,
		UpperBound:      c.opts.UpperBound,
		Clock:           c.clock,
	})

	slog.Info("ingestion starting",
		"run_id", r.summary.RunID,
		"frontier", state.Frontier,
		"cursor", state.Cursor,
		"pending", len(state.Pending),
		"workers", c.opts.Workers,
		"bound", state.Bound,
	)

	runErr := r.loop(ctx)

	r.summary.StoppedBy = stopReason(ctx, runErr)
	if err := r.flush(context.WithoutCancel(ctx)); err != nil {
		runErr = errors.Join(runErr, err)
	}
	r.finishSummary(c.clock.Since(start))

	slog.Info("ingestion stopped",
		"run_id", r.summary.RunID,
		"stopped_by", r.summary.StoppedBy,
		"frontier", r.summary.Frontier,
		"committed", r.summary.Committed,
		"failed", r.summary.Failed,
		"pending", r.summary.Pending,
	)
	return r.summary, runErr
}

func stopReason(ctx context.Context, err error) string {
	switch {
	case IsHaltError(err):
		return "halt"
	case err != nil:
		return "error"
	case ctx.Err() != nil:
		return "signal"
	}
	return "bound"
}

// applyStart scopes a fresh ledger to begin at StartID.
func (c *Controller) applyStart(s *progress.State) {
	start := c.opts.StartID
	if start <= 0 {
		return
	}
	fresh := s.Cursor == 0 && len(s.Pending) == 0 && len(s.Absent) == 0
	if !fresh && !c.opts.ForceStart {
		if start-1 != s.Base {
			slog.Warn("ignoring start id for existing ledger; use force-start to override",
				"start_id", start, "cursor", s.Cursor)
		}
		return
	}
	base := start - 1
	s.Base, s.Frontier, s.Cursor = base, base, base
	s.Bound = 0
	s.TargetPatch = nil
	clear(s.Pending)
	for id := range s.Absent {
		if id <= base {
			delete(s.Absent, id)
		}
	}
}

func (r *run) loop(ctx context.Context) error {
	c := r.c
	jobs := make(chan fetch.Job)
	results := make(chan fetch.Outcome)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		return fetch.NewPool(c.worker, c.opts.Workers).Run(workerCtx, jobs, results)
	})
	defer func() {
		stopWorkers()
		_ = g.Wait()
	}()

	for ctx.Err() == nil {
		if err := r.fill(ctx); err != nil {
			return err
		}
		if r.dirty {
			if err := r.flush(context.WithoutCancel(ctx)); err != nil {
				return err
			}
		}
		if r.seq.Done() {
			return nil
		}

		var send chan<- fetch.Job
		var head fetch.Job
		if len(r.ready) > 0 {
			send, head = jobs, r.ready[0]
		}

		var timer clock.Timer
		var wake <-chan time.Time
		if at, ok := r.seq.NextWakeup(); ok {
			timer = c.clock.NewTimer(at.Sub(c.clock.Now()))
			wake = timer.C()
		}

		var err error
		select {
		case <-ctx.Done():
		case send <- head:
			r.ready = r.ready[1:]
		case out := <-results:
			err = r.handle(ctx, out)
		case <-wake:
			if expired := r.seq.Expire(); len(expired) > 0 {
				slog.Warn("outcomes overdue, requeueing", "ids", expired)
				r.dirty = true
			}
		}
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			return err
		}
		r.dropStaleJobs()
	}
	return nil
}

// fill tops the ready queue up to the worker count. IDs already present
// in the raw store are resolved without a remote call.
func (r *run) fill(ctx context.Context) error {
	for ctx.Err() == nil {
		capacity := r.c.opts.Workers - r.seq.InFlight()
		if r.c.opts.PatchFence && r.state.TargetPatch == nil {
			// One ID at a time until the lowest found record fixes the target.
			capacity = 1 - r.seq.InFlight()
		}
		if capacity <= 0 {
			return nil
		}
		ids := r.seq.NextBatch(capacity)
		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			exists, err := r.c.store.Exists(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					r.seq.Retry(id, time.Time{}, "interrupted", false)
					return nil
				}
				return storageError("exists", id, err)
			}
			if exists {
				slog.Debug("already stored", "id", id)
				r.seq.Resolve(id)
				r.summary.SkippedExisting++
				r.c.metrics.observeSkipped()
				r.dirty = true
				continue
			}
			gen, _ := r.seq.Generation(id)
			r.ready = append(r.ready, fetch.Job{ID: id, Gen: gen})
		}
	}
	return nil
}

func (r *run) dropStaleJobs() {
	r.ready = slices.DeleteFunc(r.ready, func(j fetch.Job) bool {
		return !r.seq.IsCurrent(j.ID, j.Gen)
	})
}

// handle applies one outcome. Only storage failures and halts return errors.
func (r *run) handle(ctx context.Context, out fetch.Outcome) error {
	r.summary.Attempts++
	r.c.metrics.observeOutcome(out)

	current := r.seq.IsCurrent(out.ID, out.Gen)
	unresolved := r.seq.Unresolved(out.ID)

	// Success and NotFound are facts about the remote record and apply even
	// to a timed-out dispatch. Other outcomes only speak for their dispatch.
	switch out.Kind {
	case fetch.Success:
		if !unresolved {
			slog.Debug("ignoring success for resolved id", "id", out.ID)
			return nil
		}
		return r.commit(ctx, out, current)

	case fetch.NotFound:
		if !unresolved {
			return nil
		}
		slog.Debug("not found", "id", out.ID)
		r.seq.MarkAbsent(out.ID, progress.Absence{Reason: progress.ReasonNotFound})
		r.summary.NotFound++

	case fetch.RateLimited:
		r.c.governor.Backoff(out.RetryAfter)
		r.summary.RateLimited++
		if !current {
			return nil
		}
		slog.Info("rate limited by server", "id", out.ID, "retry_after", out.RetryAfter)
		r.seq.Retry(out.ID, time.Time{}, "rate limited", false)

	case fetch.Transient:
		if !current {
			return nil
		}
		if ctx.Err() != nil {
			// Shutdown interrupted the attempt; it does not count.
			r.seq.Retry(out.ID, time.Time{}, "interrupted", false)
			break
		}
		attempts := r.seq.Attempts(out.ID) + 1
		if attempts >= r.c.opts.Retry.MaxAttempts {
			return r.fail(out.ID, progress.ReasonExhausted, out.Cause)
		}
		delay := r.c.opts.Retry.Backoff(attempts-1, r.c.jitter)
		slog.Warn("transient failure, retrying",
			"id", out.ID, "attempt", attempts, "delay", delay, "cause", out.Cause)
		r.seq.Retry(out.ID, r.c.clock.Now().Add(delay), out.Cause.Error(), true)
		r.summary.Retried++

	case fetch.Fatal:
		if !current {
			return nil
		}
		return r.fail(out.ID, progress.ReasonFatal, out.Cause)
	}

	r.dirty = true
	return nil
}

func (r *run) commit(ctx context.Context, out fetch.Outcome, current bool) error {
	rec, err := record.New(out.ID, out.Payload)
	if err != nil {
		if !current {
			return nil
		}
		return r.fail(out.ID, progress.ReasonFatal, err)
	}

	if r.c.opts.PatchFence && r.fenced(out) {
		r.dirty = true
		return nil
	}

	// A fetched record is written even when shutdown has begun.
	written, err := r.c.store.Write(context.WithoutCancel(ctx), rec)
	if err != nil {
		return storageError("write", out.ID, err)
	}
	r.seq.Resolve(out.ID)
	r.dirty = true
	r.c.metrics.observeCommit(written)
	if written {
		r.summary.Committed++
		slog.Debug("committed", "id", out.ID, "hash", rec.Hash)
	} else {
		r.summary.Duplicates++
		slog.Debug("already stored", "id", out.ID)
	}
	return nil
}

// fenced reports whether out belongs to another patch than the target,
// in which case the scan is bounded just below it.
func (r *run) fenced(out fetch.Outcome) bool {
	patch, ok, err := record.ExtractPatch(out.Payload)
	if err != nil || !ok {
		return false
	}
	target := r.state.TargetPatch
	if target == nil {
		r.state.TargetPatch = &patch
		slog.Info("archiving patch", "patch", patch.String(), "first_id", out.ID)
		return false
	}
	if patch == *target {
		return false
	}
	slog.Info("patch changed, bounding scan",
		"patch", patch.String(), "target", target.String(), "newer", target.Less(patch), "bound", out.ID-1)
	r.seq.SetUpperBound(out.ID - 1)
	return true
}

func (r *run) fail(id record.ID, reason progress.Reason, cause error) error {
	r.seq.MarkAbsent(id, progress.Absence{Reason: reason, Cause: cause.Error()})
	r.summary.Failed++
	r.dirty = true
	r.c.metrics.observeFailed(reason)
	slog.Error("record failed", "id", id, "reason", reason, "cause", cause)

	if r.c.opts.FailurePolicy == FailHalt {
		return &Error{Code: ErrCodeHalted, Op: "fetch", ID: id, Err: cause}
	}
	return nil
}

func (r *run) flush(ctx context.Context) error {
	snap := r.seq.Snapshot()
	snap.UpdatedAt = r.c.clock.Now().UTC()

	start := r.c.clock.Now()
	if err := r.c.ledger.Save(ctx, snap); err != nil {
		return storageError("save ledger", 0, err)
	}
	r.c.metrics.observeSave(r.c.clock.Since(start))
	r.c.metrics.observeProgress(snap.Frontier, snap.Cursor, len(r.state.Pending), r.seq.InFlight())
	r.dirty = false
	return nil
}

func (r *run) finishSummary(d time.Duration) {
	snap := r.seq.Snapshot()
	counts := snap.Counts()
	r.summary.Frontier = snap.Frontier
	r.summary.Cursor = snap.Cursor
	r.summary.Pending = counts.Pending
	r.summary.AbsentTotal = counts.NotFound + counts.Failed
	r.summary.FailedTotal = counts.Failed
	r.summary.Duration = d
}
