// Package sequencer decides which record IDs to attempt next.
//
// Candidates come first from the pending retries, oldest first, then from
// the scan cursor upward. IDs handed out are tracked as in flight until the
// controller resolves or re-queues them, so no ID is ever dispatched twice
// concurrently. The sequencer is not safe for concurrent use; it is owned by
// the ingestion controller's goroutine.
package sequencer

import (
	"maps"
	"slices"
	"time"

	"k8s.io/utils/clock"

	"github.com/roach88/matchlog/internal/progress"
	"github.com/roach88/matchlog/internal/record"
)

// Options configures a Sequencer.
type Options struct {
	// InFlightTimeout returns an ID to the pending set when no outcome
	// arrives in time. Zero disables expiry.
	InFlightTimeout time.Duration

	// UpperBound stops this run's scan after this ID. Zero means unbounded.
	// Unlike the fence bound it is not part of the persisted state.
	UpperBound record.ID

	Clock clock.PassiveClock
}

type flight struct {
	gen        uint64
	dispatched time.Time
	attempts   int
	seq        int64 // zero for IDs never queued for retry
	cause      string
}

// Sequencer hands out IDs and maintains the frontier of a progress.State.
type Sequencer struct {
	state    *progress.State
	clock    clock.PassiveClock
	timeout  time.Duration
	seq      *progress.Clock
	limit    record.ID // operator bound for this run only
	gen      uint64
	inflight map[record.ID]*flight
}

// New wraps state, which the Sequencer mutates in place from then on.
// The state is normalized first.
func New(state *progress.State, opts Options) *Sequencer {
	state.Normalize()
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &Sequencer{
		state:    state,
		clock:    clk,
		timeout:  opts.InFlightTimeout,
		seq:      progress.NewClockAt(state.MaxSeq()),
		limit:    max(opts.UpperBound, 0),
		inflight: make(map[record.ID]*flight),
	}
	s.advance()
	return s
}

// NextBatch returns up to n IDs to attempt: due pending retries oldest
// first, then fresh IDs above the cursor. Returned IDs are in flight.
func (s *Sequencer) NextBatch(n int) []record.ID {
	if n <= 0 {
		return nil
	}
	now := s.clock.Now()
	batch := make([]record.ID, 0, n)

	for _, id := range s.state.PendingIDs() {
		if len(batch) == n {
			return batch
		}
		r := s.state.Pending[id]
		if r.NotBefore.After(now) || !s.inScope(id) {
			continue
		}
		delete(s.state.Pending, id)
		s.dispatch(id, now, r.Attempts, r.Seq, r.LastCause)
		batch = append(batch, id)
	}

	for len(batch) < n {
		if bound := s.bound(); bound > 0 && s.state.Cursor >= bound {
			break
		}
		s.state.Cursor++
		id := s.state.Cursor
		if _, absent := s.state.Absent[id]; absent {
			s.advance()
			continue
		}
		s.dispatch(id, now, 0, 0, "")
		batch = append(batch, id)
	}
	return batch
}

func (s *Sequencer) dispatch(id record.ID, now time.Time, attempts int, seq int64, cause string) {
	s.gen++
	s.inflight[id] = &flight{gen: s.gen, dispatched: now, attempts: attempts, seq: seq, cause: cause}
}

// Generation identifies the current dispatch of an in-flight ID. Outcomes
// carrying an older generation are stale.
func (s *Sequencer) Generation(id record.ID) (uint64, bool) {
	f, ok := s.inflight[id]
	if !ok {
		return 0, false
	}
	return f.gen, true
}

// IsCurrent reports whether gen is the live dispatch of id.
func (s *Sequencer) IsCurrent(id record.ID, gen uint64) bool {
	f, ok := s.inflight[id]
	return ok && f.gen == gen
}

// Unresolved reports whether id is pending or in flight.
func (s *Sequencer) Unresolved(id record.ID) bool {
	if _, ok := s.inflight[id]; ok {
		return true
	}
	_, ok := s.state.Pending[id]
	return ok
}

// Attempts returns the counted failed attempts of an unresolved ID.
func (s *Sequencer) Attempts(id record.ID) int {
	if f, ok := s.inflight[id]; ok {
		return f.attempts
	}
	return s.state.Pending[id].Attempts
}

// InFlight returns the number of IDs awaiting an outcome.
func (s *Sequencer) InFlight() int {
	return len(s.inflight)
}

// Resolve marks id as committed.
func (s *Sequencer) Resolve(id record.ID) {
	delete(s.inflight, id)
	delete(s.state.Pending, id)
	s.advance()
}

// MarkAbsent records id as permanently absent and resolves it.
func (s *Sequencer) MarkAbsent(id record.ID, a progress.Absence) {
	delete(s.inflight, id)
	delete(s.state.Pending, id)
	s.state.Absent[id] = a
	s.advance()
}

// Retry moves an unresolved id back to the pending set, due at notBefore.
// countAttempt charges the failure against the retry budget and returns the
// new attempt count.
func (s *Sequencer) Retry(id record.ID, notBefore time.Time, cause string, countAttempt bool) int {
	var attempts int
	var seq int64
	if f, ok := s.inflight[id]; ok {
		attempts, seq = f.attempts, f.seq
		delete(s.inflight, id)
	} else if r, ok := s.state.Pending[id]; ok {
		attempts, seq = r.Attempts, r.Seq
	} else {
		return 0
	}
	if countAttempt {
		attempts++
	}
	if seq == 0 {
		seq = s.seq.Next()
	}
	s.state.Pending[id] = progress.Retry{Attempts: attempts, Seq: seq, NotBefore: notBefore, LastCause: cause}
	return attempts
}

// Expire returns in-flight IDs older than the timeout to the pending set,
// due immediately and without charging an attempt.
func (s *Sequencer) Expire() []record.ID {
	if s.timeout <= 0 {
		return nil
	}
	now := s.clock.Now()
	var expired []record.ID
	for id, f := range s.inflight {
		if now.Sub(f.dispatched) >= s.timeout {
			expired = append(expired, id)
		}
	}
	slices.Sort(expired)
	for _, id := range expired {
		s.Retry(id, time.Time{}, "in-flight timeout", false)
	}
	return expired
}

// NextWakeup returns the earliest future moment at which NextBatch or
// Expire could produce something new.
func (s *Sequencer) NextWakeup() (time.Time, bool) {
	now := s.clock.Now()
	var next time.Time
	consider := func(t time.Time) {
		if t.After(now) && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	for id, r := range s.state.Pending {
		if s.inScope(id) {
			consider(r.NotBefore)
		}
	}
	if s.timeout > 0 {
		for _, f := range s.inflight {
			consider(f.dispatched.Add(s.timeout))
		}
	}
	return next, !next.IsZero()
}

// bound is the effective last ID of this run: the tighter of the
// operator's limit and the persisted fence bound. Zero means unbounded.
func (s *Sequencer) bound() record.ID {
	switch {
	case s.limit == 0:
		return s.state.Bound
	case s.state.Bound == 0:
		return s.limit
	}
	return min(s.limit, s.state.Bound)
}

func (s *Sequencer) inScope(id record.ID) bool {
	bound := s.bound()
	return bound == 0 || id <= bound
}

// SetUpperBound fences the archive at bound. The fence is persisted with
// the state; unresolved IDs above it are dropped and their late outcomes
// are then ignored. A fence never widens.
func (s *Sequencer) SetUpperBound(bound record.ID) {
	if bound <= 0 || (s.state.Bound > 0 && bound >= s.state.Bound) {
		return
	}
	s.state.Bound = bound
	for id := range s.state.Pending {
		if id > bound {
			delete(s.state.Pending, id)
		}
	}
	for id := range s.inflight {
		if id > bound {
			delete(s.inflight, id)
		}
	}
	if s.state.Cursor > bound {
		s.state.Cursor = max(bound, s.state.Frontier)
	}
	s.advance()
}

// Done reports whether the bound was reached and every ID up to it
// resolved. Retries above the operator's limit stay pending for a later run.
func (s *Sequencer) Done() bool {
	bound := s.bound()
	if bound == 0 || s.state.Cursor < bound || len(s.inflight) > 0 {
		return false
	}
	for id := range s.state.Pending {
		if id <= bound {
			return false
		}
	}
	return true
}

// Frontier returns the highest ID below which everything is resolved.
func (s *Sequencer) Frontier() record.ID {
	return s.state.Frontier
}

// Snapshot returns a copy of the state suitable for persisting. In-flight
// IDs are folded into the pending set so a crash cannot lose them.
func (s *Sequencer) Snapshot() progress.State {
	snap := s.state.Clone()
	for _, id := range slices.Sorted(maps.Keys(s.inflight)) {
		f := s.inflight[id]
		seq := f.seq
		if seq == 0 {
			seq = s.seq.Next()
			f.seq = seq
		}
		snap.Pending[id] = progress.Retry{Attempts: f.attempts, Seq: seq, LastCause: f.cause}
	}
	return snap
}

// advance recomputes the frontier as the ID just below the lowest
// unresolved one, or the cursor when nothing is unresolved.
func (s *Sequencer) advance() {
	lowest := s.state.Cursor + 1
	for id := range s.state.Pending {
		lowest = min(lowest, id)
	}
	for id := range s.inflight {
		lowest = min(lowest, id)
	}
	s.state.Frontier = max(lowest-1, s.state.Base)
}
