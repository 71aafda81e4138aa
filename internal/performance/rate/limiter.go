// Package rate provides iteration arrival schedules and the request rate
// limiter shared by all VUs.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter is a leaky bucket that spaces calls at a fixed rate. It backs the
// run-wide rps cap: every request made by any VU waits on the same limiter.
//
// The bucket keeps a virtual drip time. Each Reserve returns when the caller
// may proceed; a caller that is behind schedule proceeds at once. Reserving
// in the future moves the drip time forward, so callers that wake up at their
// reserved time do not double count.
//
// Limiter is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	rate        float64 // per second
	lastDrip    time.Time
	accumulated float64
	maxBurst    float64
	now         func() time.Time

	reserved atomic.Int64
	waited   atomic.Int64
}

// NewLimiter creates a limiter allowing rate calls per second. A rate <= 0
// returns nil; a nil *Limiter never blocks.
func NewLimiter(rate float64) *Limiter {
	if rate <= 0 {
		return nil
	}
	return &Limiter{rate: rate, lastDrip: time.Now(), maxBurst: 1, now: time.Now}
}

// Reserve returns when the next call may proceed.
func (l *Limiter) Reserve() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.lastDrip).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	l.accumulated += elapsed * l.rate
	if l.accumulated > l.maxBurst {
		l.accumulated = l.maxBurst
	}
	l.reserved.Add(1)

	if l.accumulated >= 1 {
		l.accumulated--
		l.lastDrip = now
		return now
	}

	wait := time.Duration((1 - l.accumulated) / l.rate * float64(time.Second))
	l.accumulated = 0
	next := now.Add(wait)
	l.lastDrip = next
	l.waited.Add(int64(wait))
	return next
}

// Wait blocks until the caller may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	d := time.Until(l.Reserve())
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetRate changes the rate without carrying over accumulated credit.
func (l *Limiter) SetRate(rate float64) {
	if l == nil || rate <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = rate
	l.accumulated = 0
	l.lastDrip = l.now()
}

// Rate returns the current rate per second.
func (l *Limiter) Rate() float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// LimiterStats describes limiter activity.
type LimiterStats struct {
	Rate     float64       `json:"rate"`
	Reserved int64         `json:"reserved"`
	Waited   time.Duration `json:"waited"`
}

// Stats returns counters since creation.
func (l *Limiter) Stats() LimiterStats {
	if l == nil {
		return LimiterStats{}
	}
	return LimiterStats{
		Rate:     l.Rate(),
		Reserved: l.reserved.Load(),
		Waited:   time.Duration(l.waited.Load()),
	}
}
