package testutil

import (
	"sync"
	"time"
)

// FakeClock is a settable wall clock for tests.
//
// Pass Now to store.WithNow and engine.WithNow so transaction timestamps
// and freshness windows are deterministic.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// DefaultEpoch is the starting time of NewFakeClock.
var DefaultEpoch = time.UnixMilli(1_700_000_000_000).UTC()

// NewFakeClock creates a clock frozen at DefaultEpoch.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: DefaultEpoch}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
