package store

import "sync/atomic"

// Clock is the store's monotonic logical clock.
//
// Every document write and every commit is stamped with a strictly
// increasing seq from this clock. Ordering by seq is deterministic and
// independent of wall-clock skew.
//
// Thread-safety: Clock is safe for concurrent use. In practice only the
// writer (under Store.writeMu) calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after a known sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
