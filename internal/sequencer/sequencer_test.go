package sequencer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/roach88/matchlog/internal/progress"
	"github.com/roach88/matchlog/internal/record"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestSequencer(t *testing.T, state progress.State, opts Options) (*Sequencer, *progress.State, *clocktesting.FakeClock) {
	t.Helper()
	fc := clocktesting.NewFakeClock(epoch)
	opts.Clock = fc
	st := state.Clone()
	return New(&st, opts), &st, fc
}

func TestNextBatch_FreshState(t *testing.T) {
	s, _, _ := newTestSequencer(t, progress.NewState(), Options{})

	assert.Equal(t, []record.ID{1, 2, 3}, s.NextBatch(3))
	assert.Equal(t, []record.ID{4}, s.NextBatch(1))
	assert.Equal(t, 4, s.InFlight())
	assert.Nil(t, s.NextBatch(0))
}

func TestNextBatch_ResumeRetriesBeforeFrontier(t *testing.T) {
	st := progress.NewState()
	st.Frontier = 50
	st.Pending[47] = progress.Retry{Seq: 1}

	s, state, _ := newTestSequencer(t, st, Options{})

	assert.Equal(t, []record.ID{47, 51, 52, 53}, s.NextBatch(4))
	assert.Equal(t, record.ID(46), state.Frontier)
}

func TestNextBatch_PendingOldestFirst(t *testing.T) {
	st := progress.NewState()
	st.Frontier = 10
	st.Cursor = 20
	st.Pending[15] = progress.Retry{Seq: 4}
	st.Pending[12] = progress.Retry{Seq: 9}
	st.Pending[18] = progress.Retry{Seq: 2}

	s, _, _ := newTestSequencer(t, st, Options{})
	assert.Equal(t, []record.ID{18, 15, 12, 21}, s.NextBatch(4))
}

func TestNextBatch_SkipsRetriesNotYetDue(t *testing.T) {
	st := progress.NewState()
	st.Cursor = 5
	st.Frontier = 2
	st.Pending[3] = progress.Retry{Seq: 1, NotBefore: epoch.Add(time.Minute)}

	s, _, fc := newTestSequencer(t, st, Options{})
	assert.Equal(t, []record.ID{6, 7}, s.NextBatch(2))

	wake, ok := s.NextWakeup()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(time.Minute), wake)

	fc.Step(time.Minute)
	assert.Equal(t, []record.ID{3}, s.NextBatch(1))
}

func TestNextBatch_NoIDTwiceWhileInFlight(t *testing.T) {
	s, _, _ := newTestSequencer(t, progress.NewState(), Options{})

	seen := map[record.ID]bool{}
	for i := 0; i < 5; i++ {
		for _, id := range s.NextBatch(3) {
			require.False(t, seen[id], "id %d handed out twice", id)
			seen[id] = true
		}
	}
}

func TestFrontier_AdvancesOnlyThroughContiguousResolved(t *testing.T) {
	st := progress.NewState()
	st.Base, st.Frontier, st.Cursor = 99, 99, 99
	s, state, _ := newTestSequencer(t, st, Options{})

	require.Equal(t, []record.ID{100, 101, 102, 103}, s.NextBatch(4))

	s.Resolve(101)
	s.MarkAbsent(102, progress.Absence{Reason: progress.ReasonNotFound})
	assert.Equal(t, record.ID(99), s.Frontier())

	s.Resolve(100)
	assert.Equal(t, record.ID(102), s.Frontier())

	s.Retry(103, epoch, "503", true)
	assert.Equal(t, record.ID(102), s.Frontier())
	require.NoError(t, state.Check())

	s.Resolve(103)
	assert.Equal(t, record.ID(103), s.Frontier())
	require.NoError(t, state.Check())
}

func TestRetry_CountsAttemptsAndKeepsOrder(t *testing.T) {
	s, state, _ := newTestSequencer(t, progress.NewState(), Options{})
	s.NextBatch(3)

	assert.Equal(t, 1, s.Retry(2, time.Time{}, "timeout", true))
	assert.Equal(t, 0, s.Retry(1, time.Time{}, "rate limited", false))
	assert.Equal(t, 1, state.Pending[2].Attempts)
	assert.Equal(t, "rate limited", state.Pending[1].LastCause)

	// 2 was queued first and keeps its place across re-dispatch.
	require.Equal(t, []record.ID{2, 1}, s.NextBatch(2))
	assert.Equal(t, 1, s.Attempts(2))
	assert.Equal(t, 2, s.Retry(2, time.Time{}, "timeout", true))
	assert.Equal(t, 0, s.Retry(99, time.Time{}, "unknown", true))
}

func TestExpire_ReturnsStaleInFlightToPending(t *testing.T) {
	s, state, fc := newTestSequencer(t, progress.NewState(), Options{InFlightTimeout: time.Minute})
	s.NextBatch(2)
	gen, ok := s.Generation(1)
	require.True(t, ok)

	fc.Step(30 * time.Second)
	assert.Empty(t, s.Expire())

	fc.Step(30 * time.Second)
	assert.ElementsMatch(t, []record.ID{1, 2}, s.Expire())
	assert.Zero(t, s.InFlight())
	assert.Zero(t, state.Pending[1].Attempts)
	assert.True(t, s.Unresolved(1))

	// Re-dispatch gets a new generation; the old one is stale.
	s.NextBatch(1)
	assert.False(t, s.IsCurrent(1, gen))
	newGen, _ := s.Generation(1)
	assert.True(t, s.IsCurrent(1, newGen))
}

func TestUpperBound(t *testing.T) {
	st := progress.NewState()
	st.Base, st.Frontier, st.Cursor = 99, 99, 99
	s, _, _ := newTestSequencer(t, st, Options{UpperBound: 102})

	assert.Equal(t, []record.ID{100, 101, 102}, s.NextBatch(5))
	assert.Empty(t, s.NextBatch(5))
	assert.False(t, s.Done())

	for _, id := range []record.ID{100, 101, 102} {
		s.Resolve(id)
	}
	assert.True(t, s.Done())
	assert.Equal(t, record.ID(102), s.Frontier())
}

func TestUpperBound_NotPersisted(t *testing.T) {
	st := progress.NewState()
	st.Base, st.Frontier, st.Cursor = 99, 99, 99
	s, state, _ := newTestSequencer(t, st, Options{UpperBound: 102})
	for _, id := range s.NextBatch(5) {
		s.Resolve(id)
	}
	require.True(t, s.Done())
	assert.Zero(t, state.Bound)

	// A later run with a wider bound, then with none, keeps scanning.
	snap := s.Snapshot()
	wider := New(&snap, Options{UpperBound: 105})
	assert.False(t, wider.Done())
	assert.Equal(t, []record.ID{103, 104, 105}, wider.NextBatch(5))

	snap = wider.Snapshot()
	unbounded := New(&snap, Options{})
	assert.Equal(t, []record.ID{103, 104, 105, 106}, unbounded.NextBatch(4))
}

func TestUpperBound_KeepsRetriesAboveIt(t *testing.T) {
	st := progress.NewState()
	st.Base, st.Frontier, st.Cursor = 99, 99, 110
	st.Pending[100] = progress.Retry{Attempts: 1, Seq: 1}
	st.Pending[108] = progress.Retry{Attempts: 1, Seq: 2}
	for id := record.ID(101); id <= 110; id++ {
		if id != 108 {
			st.Absent[id] = progress.Absence{Reason: progress.ReasonNotFound}
		}
	}
	s, state, _ := newTestSequencer(t, st, Options{UpperBound: 105})

	assert.Equal(t, []record.ID{100}, s.NextBatch(5))
	s.Resolve(100)
	assert.True(t, s.Done())
	assert.Contains(t, state.Pending, record.ID(108))
	_, ok := s.NextWakeup()
	assert.False(t, ok)
}

func TestUpperBound_FenceIsTighter(t *testing.T) {
	st := progress.NewState()
	st.Bound = 3
	s, _, _ := newTestSequencer(t, st, Options{UpperBound: 10})
	assert.Equal(t, []record.ID{1, 2, 3}, s.NextBatch(5))
}

func TestSetUpperBound_DropsIDsAboveBound(t *testing.T) {
	s, state, _ := newTestSequencer(t, progress.NewState(), Options{})
	s.NextBatch(6)
	s.Resolve(1)
	s.Retry(5, time.Time{}, "503", true)

	s.SetUpperBound(3)
	assert.False(t, s.Unresolved(4))
	assert.False(t, s.Unresolved(5))
	assert.Equal(t, record.ID(3), state.Cursor)

	// A wider bound never reopens the scan.
	s.SetUpperBound(10)
	assert.Equal(t, record.ID(3), state.Bound)

	s.Resolve(2)
	s.Resolve(3)
	assert.True(t, s.Done())
	require.NoError(t, state.Check())
}

func TestSnapshot_FoldsInFlightIntoPending(t *testing.T) {
	s, state, _ := newTestSequencer(t, progress.NewState(), Options{})
	s.NextBatch(3)
	s.Resolve(2)

	snap := s.Snapshot()
	assert.Contains(t, snap.Pending, record.ID(1))
	assert.Contains(t, snap.Pending, record.ID(3))
	assert.Empty(t, state.Pending)
	require.NoError(t, snap.Check())

	// A restart from the snapshot retries exactly the lost IDs first.
	restarted := New(&snap, Options{})
	assert.Equal(t, []record.ID{1, 3, 4}, restarted.NextBatch(3))
}

func TestNextBatch_SkipsAbsentAboveCursor(t *testing.T) {
	st := progress.NewState()
	st.Absent[2] = progress.Absence{Reason: progress.ReasonNotFound}
	s, _, _ := newTestSequencer(t, st, Options{})

	assert.Equal(t, []record.ID{1, 3}, s.NextBatch(2))
}
