package progress

import "sync/atomic"

// Clock hands out strictly increasing sequence numbers used to order the
// pending set. It never consults wall time, so the retry order survives a
// restart unchanged.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock whose first Next returns start+1.
// Resume with State.MaxSeq so new stamps sort after persisted ones.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
