package timeline

import (
	"sync"
	"time"
)

// Clock is the run-wide time origin. All scenario offsets are relative to it.
type Clock struct {
	mu     sync.RWMutex
	origin time.Time
	now    func() time.Time
}

// NewClock creates a clock that has not started yet. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Start sets the origin to the current time. Subsequent calls are ignored.
func (c *Clock) Start() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.origin.IsZero() {
		c.origin = c.now()
	}
	return c.origin
}

// Origin returns the run start, or the zero time if Start was not called.
func (c *Clock) Origin() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.origin
}

// Now returns the current time as seen by this clock.
func (c *Clock) Now() time.Time {
	return c.now()
}

// Elapsed returns the time since the origin, or 0 before Start.
func (c *Clock) Elapsed() time.Duration {
	origin := c.Origin()
	if origin.IsZero() {
		return 0
	}
	return c.now().Sub(origin)
}
