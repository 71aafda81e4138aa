package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masoud-msk/dev-stack/internal/performance/timeline"
)

func drain(a Arrivals) []time.Duration {
	var out []time.Duration
	for {
		off, ok := a.Next()
		if !ok {
			return out
		}
		out = append(out, off)
	}
}

func TestConstantArrivals(t *testing.T) {
	a := NewConstantArrivals(30, time.Second, time.Second)
	offsets := drain(a)

	require.Len(t, offsets, 30)
	assert.Equal(t, time.Duration(0), offsets[0])
	assert.InDelta(t, float64(time.Second/30), float64(offsets[1]), float64(time.Microsecond))
	assert.Less(t, offsets[29], time.Second)
	assert.Equal(t, int64(30), NewConstantArrivals(30, time.Second, time.Second).Expected())
}

func TestConstantArrivals_TimeUnit(t *testing.T) {
	// 2 per minute over 90s: starts at 0s, 30s, 60s.
	offsets := drain(NewConstantArrivals(2, time.Minute, 90*time.Second))
	assert.Equal(t, []time.Duration{0, 30 * time.Second, 60 * time.Second}, offsets)
}

func TestConstantArrivals_ZeroRate(t *testing.T) {
	assert.Empty(t, drain(NewConstantArrivals(0, time.Second, time.Second)))
}

func TestRampingArrivals_FromZero(t *testing.T) {
	// 0 -> 10/s over 10s integrates to 50 starts; the 50th lands on the end.
	a := NewRampingArrivals(0, []timeline.Stage{{Duration: 10 * time.Second, Target: 10}}, time.Second)
	offsets := drain(a)

	require.Len(t, offsets, 49)
	assert.InDelta(t, 50.0, a.Total(), 1e-9)
	// With r(t) = t, N(t) = t^2/2, so the first start is at sqrt(2).
	assert.InDelta(t, 1.41421356, offsets[0].Seconds(), 1e-6)
	for i := 1; i < len(offsets); i++ {
		assert.Greater(t, offsets[i], offsets[i-1])
	}
	assert.Less(t, offsets[len(offsets)-1], 10*time.Second)
}

func TestRampingArrivals_MultiStage(t *testing.T) {
	a := NewRampingArrivals(10, []timeline.Stage{
		{Duration: time.Second, Target: 10},
		{Duration: time.Second, Target: 0},
		{Duration: time.Second, Target: 0},
		{Duration: time.Second, Target: 20},
	}, time.Second)
	offsets := drain(a)

	// 10 + 5 + 0 + 10
	assert.InDelta(t, 25.0, a.Total(), 1e-9)
	assert.Len(t, offsets, 25)
	assert.Equal(t, time.Duration(0), offsets[0])
	assert.InDelta(t, float64(100*time.Millisecond), float64(offsets[1]), float64(time.Microsecond))

	for _, off := range offsets {
		assert.False(t, off >= 2*time.Second && off < 3*time.Second, "no start in the zero-rate stage")
	}
	assert.Equal(t, 5.0, a.RateAt(1500*time.Millisecond))
}

func TestRampingArrivals_TimeUnit(t *testing.T) {
	a := NewRampingArrivals(60, []timeline.Stage{{Duration: 2 * time.Second, Target: 60}}, time.Minute)
	assert.Len(t, drain(a), 2)
}

func TestRampingArrivals_Scale(t *testing.T) {
	a := NewRampingArrivals(10, []timeline.Stage{{Duration: 2 * time.Second, Target: 10}}, time.Second).Scale(0.5)
	assert.InDelta(t, 10.0, a.Total(), 1e-9)
	assert.Len(t, drain(a), 10)
	assert.Equal(t, 5.0, a.RateAt(time.Second))
}

func TestLimiter_NilNeverBlocks(t *testing.T) {
	var l *Limiter
	assert.Nil(t, NewLimiter(0))
	assert.NoError(t, l.Wait(context.Background()))
	assert.Equal(t, LimiterStats{}, l.Stats())
}

func TestLimiter_SpacesCalls(t *testing.T) {
	l := NewLimiter(100)

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, int64(10), l.Stats().Reserved)
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(1000)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_ = l.Wait(context.Background())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), l.Stats().Reserved)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter(0.5)
	_ = l.Reserve()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestLimiter_SetRate(t *testing.T) {
	l := NewLimiter(10)
	l.SetRate(50)
	assert.Equal(t, 50.0, l.Rate())
	l.SetRate(-1)
	assert.Equal(t, 50.0, l.Rate())
}
