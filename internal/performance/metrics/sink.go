package metrics

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Sink accumulates the samples of one metric (or submetric).
type Sink interface {
	Add(value float64)

	// Value returns a single aggregate. arg is the percentile for "p".
	Value(method string, arg float64) (float64, bool)

	// Format returns every aggregate of the sink keyed by method name.
	Format(elapsed time.Duration) map[string]float64

	// Count is the number of samples added so far.
	Count() int64
}

// NewSink creates the sink for a metric kind.
func NewSink(kind Kind) Sink {
	switch kind {
	case Counter:
		return &CounterSink{}
	case Gauge:
		return &GaugeSink{}
	case Trend:
		return NewTrendSink()
	case Rate:
		return &RateSink{}
	default:
		panic(fmt.Sprintf("metrics: no sink for kind %d", kind))
	}
}

// CounterSink keeps a running sum. Lock free.
type CounterSink struct {
	bits  atomic.Uint64
	count atomic.Int64
}

func (c *CounterSink) Add(value float64) {
	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + value)
		if c.bits.CompareAndSwap(old, next) {
			break
		}
	}
	c.count.Add(1)
}

// Sum returns the running total.
func (c *CounterSink) Sum() float64 {
	return math.Float64frombits(c.bits.Load())
}

func (c *CounterSink) Count() int64 { return c.count.Load() }

func (c *CounterSink) Value(method string, _ float64) (float64, bool) {
	switch method {
	case "count", "value":
		return c.Sum(), true
	default:
		return 0, false
	}
}

func (c *CounterSink) Format(elapsed time.Duration) map[string]float64 {
	sum := c.Sum()
	rate := 0.0
	if elapsed > 0 {
		rate = sum / elapsed.Seconds()
	}
	return map[string]float64{"count": sum, "rate": rate}
}

// GaugeSink keeps the latest value along with the extremes.
type GaugeSink struct {
	mu       sync.Mutex
	value    float64
	min, max float64
	count    int64
}

func (g *GaugeSink) Add(value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count == 0 || value < g.min {
		g.min = value
	}
	if g.count == 0 || value > g.max {
		g.max = value
	}
	g.value = value
	g.count++
}

func (g *GaugeSink) Count() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

func (g *GaugeSink) Value(method string, _ float64) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch method {
	case "value":
		return g.value, true
	case "min":
		return g.min, true
	case "max":
		return g.max, true
	default:
		return 0, false
	}
}

func (g *GaugeSink) Format(time.Duration) map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]float64{"value": g.value, "min": g.min, "max": g.max}
}

// RateSink keeps the ratio of non-zero samples. Lock free.
type RateSink struct {
	passes atomic.Int64
	total  atomic.Int64
}

func (r *RateSink) Add(value float64) {
	if value != 0 {
		r.passes.Add(1)
	}
	r.total.Add(1)
}

func (r *RateSink) Count() int64 { return r.total.Load() }

// Ratio returns passes/total, or 0 with no samples.
func (r *RateSink) Ratio() float64 {
	total := r.total.Load()
	if total == 0 {
		return 0
	}
	return float64(r.passes.Load()) / float64(total)
}

func (r *RateSink) Value(method string, _ float64) (float64, bool) {
	switch method {
	case "rate", "value":
		return r.Ratio(), true
	case "count":
		return float64(r.total.Load()), true
	default:
		return 0, false
	}
}

func (r *RateSink) Format(time.Duration) map[string]float64 {
	passes, total := r.passes.Load(), r.total.Load()
	return map[string]float64{
		"rate":   r.Ratio(),
		"passes": float64(passes),
		"fails":  float64(total - passes),
	}
}

// Histogram bounds. Trend values are recorded with three decimals of
// precision, so a millisecond trend resolves to the microsecond and can hold
// up to one hour.
const (
	trendScale   = 1000
	trendMin     = 1
	trendMax     = 3600000000
	trendSigFigs = 3
)

// TrendSink keeps exact min/max/sum/count and an HDR histogram for quantiles.
type TrendSink struct {
	mu       sync.Mutex
	hist     *hdrhistogram.Histogram
	min, max float64
	sum      float64
	count    int64
}

// NewTrendSink creates an empty trend.
func NewTrendSink() *TrendSink {
	return &TrendSink{hist: hdrhistogram.New(trendMin, trendMax, trendSigFigs)}
}

func (t *TrendSink) Add(value float64) {
	scaled := int64(math.Round(value * trendScale))
	if scaled < trendMin {
		scaled = trendMin
	}
	if scaled > trendMax {
		scaled = trendMax
	}

	// RecordValue is not safe for concurrent use.
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.hist.RecordValue(scaled)
	if t.count == 0 || value < t.min {
		t.min = value
	}
	if t.count == 0 || value > t.max {
		t.max = value
	}
	t.sum += value
	t.count++
}

func (t *TrendSink) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *TrendSink) Value(method string, arg float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch method {
	case "avg":
		return t.avg(), true
	case "min":
		return t.min, true
	case "max":
		return t.max, true
	case "med":
		return t.percentile(50), true
	case "p":
		return t.percentile(arg), true
	case "count":
		return float64(t.count), true
	default:
		return 0, false
	}
}

func (t *TrendSink) Format(time.Duration) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]float64{
		"avg":   t.avg(),
		"min":   t.min,
		"med":   t.percentile(50),
		"max":   t.max,
		"p(90)": t.percentile(90),
		"p(95)": t.percentile(95),
		"p(99)": t.percentile(99),
	}
}

func (t *TrendSink) avg() float64 {
	if t.count == 0 {
		return 0
	}
	return t.sum / float64(t.count)
}

// percentile is clamped to the exact extremes so that p(0) and p(100) match
// min and max despite histogram bucketing.
func (t *TrendSink) percentile(p float64) float64 {
	if t.count == 0 {
		return 0
	}
	v := float64(t.hist.ValueAtQuantile(p)) / trendScale
	return math.Min(math.Max(v, t.min), t.max)
}
