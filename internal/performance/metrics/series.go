package metrics

import (
	"context"
	"sync"
	"time"
)

// Point is one time-series bucket.
type Point struct {
	Time       time.Time `json:"time"`
	VUs        float64   `json:"vus"`
	Iterations float64   `json:"iterations"`
	Dropped    float64   `json:"droppedIterations"`
	Requests   float64   `json:"httpReqs"`

	// Interval values are the deltas since the previous point.
	IntervalIterations float64 `json:"intervalIterations"`
	IntervalRequests   float64 `json:"intervalHttpReqs"`
}

// Series is a bounded ring buffer of points sampled from an aggregator.
type Series struct {
	mu     sync.RWMutex
	points []Point
	head   int
	count  int
	last   Point
}

// NewSeries creates a ring holding up to max points (3600 if max <= 0).
func NewSeries(max int) *Series {
	if max <= 0 {
		max = 3600
	}
	return &Series{points: make([]Point, max)}
}

// Record samples the aggregator's counters into a new point. vus is read
// from the caller since it is a run-wide sum across scenarios.
func (s *Series) Record(a *Aggregator, vus int) Point {
	p := Point{
		Time:       time.Now(),
		VUs:        float64(vus),
		Iterations: a.Counter(Iterations),
		Dropped:    a.Counter(DroppedIterations),
		Requests:   a.Counter(HTTPReqs),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p.IntervalIterations = p.Iterations - s.last.Iterations
	p.IntervalRequests = p.Requests - s.last.Requests
	s.last = p

	s.points[s.head] = p
	s.head = (s.head + 1) % len(s.points)
	if s.count < len(s.points) {
		s.count++
	}
	return p
}

// Points returns a copy of all points in chronological order.
func (s *Series) Points() []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Point, s.count)
	start := 0
	if s.count == len(s.points) {
		start = s.head
	}
	for i := 0; i < s.count; i++ {
		out[i] = s.points[(start+i)%len(s.points)]
	}
	return out
}

// Sample records a point every interval until ctx is done. vus is called on
// each tick.
func (s *Series) Sample(ctx context.Context, a *Aggregator, interval time.Duration, vus func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Record(a, vus())
		}
	}
}
