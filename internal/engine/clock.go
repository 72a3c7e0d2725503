package engine

import "sync/atomic"

// Clock is a monotonic logical clock. Every pending remote write is
// stamped with a strictly increasing seq so write results can be
// correlated with the mutations that produced them, without wall-clock
// races between devices.
//
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
