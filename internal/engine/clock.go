package engine

import "sync/atomic"

// Clock is a monotonic logical clock. Every renderer call and every session
// transition is stamped with Next(), never with wall-clock time, so call logs
// order identically on every run.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// Sequencer is anything that hands out increasing sequence numbers.
// Implemented by *Clock and testutil.DeterministicClock.
type Sequencer interface {
	Next() int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that continues from start, e.g. after reopening
// an existing call log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
