// Package testutil holds helpers shared by package tests and the scenario
// harness.
package testutil

import (
	"sync/atomic"

	"github.com/roach88/phosphoros/internal/engine"
)

var _ engine.Sequencer = (*DeterministicClock)(nil)

// DeterministicClock is the logical clock scenarios run on. Flow steps,
// recorded renderer calls and session transitions all draw from one clock,
// so a trace interleaves them in the order they happened and two runs of the
// same scenario produce the same seqs.
//
// Unlike engine.Clock it can be rewound, which lets one test replay a flow
// and compare traces.
type DeterministicClock struct {
	seq atomic.Int64
}

// NewDeterministicClock creates a clock whose first Next returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// NewDeterministicClockAt creates a clock whose first Next returns start+1.
func NewDeterministicClockAt(start int64) *DeterministicClock {
	c := &DeterministicClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next seq. Safe for concurrent use: render workers record
// calls while the flow goroutine stamps steps.
func (c *DeterministicClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last seq handed out, or the start value.
func (c *DeterministicClock) Current() int64 {
	return c.seq.Load()
}

// Reset rewinds the clock to 0.
func (c *DeterministicClock) Reset() {
	c.seq.Store(0)
}
