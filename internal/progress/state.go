package progress

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/roach88/matchlog/internal/record"
)

// Reason explains why an ID is permanently absent.
type Reason string

const (
	// ReasonNotFound means the remote service reported the ID does not exist.
	ReasonNotFound Reason = "not_found"

	// ReasonFatal means the ID failed with an unrecoverable error.
	ReasonFatal Reason = "fatal"

	// ReasonExhausted means the ID kept failing transiently until the
	// retry budget ran out.
	ReasonExhausted Reason = "exhausted"
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonNotFound, ReasonFatal, ReasonExhausted:
		return true
	}
	return false
}

// Failed reports whether r records a failure rather than a genuine absence.
func (r Reason) Failed() bool {
	return r == ReasonFatal || r == ReasonExhausted
}

// Retry is an ID waiting to be attempted again.
type Retry struct {
	Attempts  int       // failed attempts that counted against the retry budget
	Seq       int64     // enqueue order; lower is older
	NotBefore time.Time // zero means due immediately
	LastCause string
}

// Absence records why an ID will not be fetched again.
type Absence struct {
	Reason Reason
	Cause  string
}

// State is the complete ingestion progress.
type State struct {
	// Base is the ID below the configured starting point. IDs ≤ Base are
	// outside the archive's scope.
	Base record.ID

	Frontier record.ID
	Cursor   record.ID
	Pending  map[record.ID]Retry
	Absent   map[record.ID]Absence

	// Bound, when non-zero, is the last ID in scope. Set by the patch fence.
	Bound record.ID

	// TargetPatch is the game patch being archived, when the patch fence is on.
	TargetPatch *record.Patch

	RunID     string
	UpdatedAt time.Time
}

// NewState returns an empty state.
func NewState() State {
	return State{
		Pending: make(map[record.ID]Retry),
		Absent:  make(map[record.ID]Absence),
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := s
	c.Pending = maps.Clone(s.Pending)
	c.Absent = maps.Clone(s.Absent)
	if c.Pending == nil {
		c.Pending = make(map[record.ID]Retry)
	}
	if c.Absent == nil {
		c.Absent = make(map[record.ID]Absence)
	}
	if s.TargetPatch != nil {
		p := *s.TargetPatch
		c.TargetPatch = &p
	}
	return c
}

// PendingIDs returns pending IDs oldest first.
func (s State) PendingIDs() []record.ID {
	ids := slices.Collect(maps.Keys(s.Pending))
	slices.SortFunc(ids, func(a, b record.ID) int {
		sa, sb := s.Pending[a].Seq, s.Pending[b].Seq
		if sa != sb {
			if sa < sb {
				return -1
			}
			return 1
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return ids
}

// AbsentIDs returns absent IDs in ascending order.
func (s State) AbsentIDs() []record.ID {
	ids := slices.Collect(maps.Keys(s.Absent))
	slices.Sort(ids)
	return ids
}

// MaxSeq returns the highest pending sequence number.
func (s State) MaxSeq() int64 {
	var m int64
	for _, r := range s.Pending {
		m = max(m, r.Seq)
	}
	return m
}

// Normalize repairs a state whose frontier disagrees with its pending set,
// as produced by older ledgers that did not track a cursor. The frontier is
// lowered below the oldest pending ID and the cursor raised to cover it.
func (s *State) Normalize() {
	if s.Pending == nil {
		s.Pending = make(map[record.ID]Retry)
	}
	if s.Absent == nil {
		s.Absent = make(map[record.ID]Absence)
	}
	if s.Frontier < s.Base {
		s.Frontier = s.Base
	}
	s.Cursor = max(s.Cursor, s.Frontier)
	for id := range s.Pending {
		if _, absent := s.Absent[id]; absent {
			delete(s.Pending, id)
			continue
		}
		if id <= s.Base {
			delete(s.Pending, id)
			continue
		}
		s.Cursor = max(s.Cursor, id)
		if id <= s.Frontier {
			s.Frontier = id - 1
		}
	}
}

// Counts summarizes the absent set.
type Counts struct {
	Pending  int
	NotFound int
	Failed   int
}

// Counts tallies pending and absent IDs.
func (s State) Counts() Counts {
	c := Counts{Pending: len(s.Pending)}
	for _, a := range s.Absent {
		if a.Reason.Failed() {
			c.Failed++
		} else {
			c.NotFound++
		}
	}
	return c
}

// Check verifies the state's invariants.
func (s State) Check() error {
	if s.Frontier < s.Base {
		return fmt.Errorf("frontier %d below base %d", s.Frontier, s.Base)
	}
	if s.Frontier > s.Cursor {
		return fmt.Errorf("frontier %d ahead of cursor %d", s.Frontier, s.Cursor)
	}
	for id := range s.Pending {
		if _, ok := s.Absent[id]; ok {
			return fmt.Errorf("id %d is both pending and absent", id)
		}
		if id <= s.Frontier {
			return fmt.Errorf("pending id %d at or below frontier %d", id, s.Frontier)
		}
		if id > s.Cursor {
			return fmt.Errorf("pending id %d beyond cursor %d", id, s.Cursor)
		}
	}
	for id, a := range s.Absent {
		if !a.Reason.Valid() {
			return fmt.Errorf("absent id %d has unknown reason %q", id, a.Reason)
		}
	}
	return nil
}
