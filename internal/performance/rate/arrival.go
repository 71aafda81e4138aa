package rate

import (
	"math"
	"time"

	"github.com/masoud-msk/dev-stack/internal/performance/timeline"
)

// Arrivals yields iteration start offsets relative to the scenario start.
// Offsets are computed analytically from the configured rate, so timer jitter
// never accumulates into the schedule.
type Arrivals interface {
	// Next returns the offset of the next start, or false once the schedule
	// is exhausted.
	Next() (time.Duration, bool)

	// RateAt returns the target rate, per time unit, at an offset.
	RateAt(elapsed time.Duration) float64
}

// ConstantArrivals starts iteration i at i*timeUnit/rate.
type ConstantArrivals struct {
	rate     float64
	timeUnit time.Duration
	duration time.Duration
	i        int64
}

// NewConstantArrivals creates a schedule of rate starts per timeUnit over
// duration. The first start is at offset 0.
func NewConstantArrivals(rate float64, timeUnit, duration time.Duration) *ConstantArrivals {
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	return &ConstantArrivals{rate: rate, timeUnit: timeUnit, duration: duration}
}

func (c *ConstantArrivals) Next() (time.Duration, bool) {
	if c.rate <= 0 {
		return 0, false
	}
	offset := time.Duration(float64(c.i) * float64(c.timeUnit) / c.rate)
	if offset >= c.duration {
		return 0, false
	}
	c.i++
	return offset, true
}

func (c *ConstantArrivals) RateAt(time.Duration) float64 { return c.rate }

// Expected is the number of starts the full schedule yields.
func (c *ConstantArrivals) Expected() int64 {
	if c.rate <= 0 {
		return 0
	}
	n := int64(math.Ceil(float64(c.duration) * c.rate / float64(c.timeUnit)))
	for n > 0 && time.Duration(float64(n-1)*float64(c.timeUnit)/c.rate) >= c.duration {
		n--
	}
	return n
}

type rampSegment struct {
	start    time.Duration
	seconds  float64
	from, to float64 // per second
	cumStart float64
	area     float64
}

// RampingArrivals follows a piecewise-linear rate. Iteration i starts when
// the integral of the rate reaches i, or i+1 when the schedule starts from a
// zero rate so that the first start is not forced to offset 0.
type RampingArrivals struct {
	schedule timeline.Schedule
	timeUnit time.Duration
	segments []rampSegment
	total    float64
	offset   float64
	i        int64
	cursor   int
	scale    float64
}

// NewRampingArrivals creates a schedule from a start rate and stages whose
// targets are rates per timeUnit.
func NewRampingArrivals(startRate int64, stages []timeline.Stage, timeUnit time.Duration) *RampingArrivals {
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	unit := timeUnit.Seconds()

	r := &RampingArrivals{
		schedule: timeline.Schedule{Start: startRate, Stages: stages},
		timeUnit: timeUnit,
	}
	if startRate <= 0 {
		r.offset = 1
	}

	from := float64(startRate) / unit
	var start time.Duration
	for _, st := range stages {
		to := float64(st.Target) / unit
		secs := st.Duration.Seconds()
		area := (from + to) / 2 * secs
		r.segments = append(r.segments, rampSegment{
			start: start, seconds: secs, from: from, to: to,
			cumStart: r.total, area: area,
		})
		r.total += area
		start += st.Duration
		from = to
	}
	return r
}

// Scale multiplies every rate of the schedule by f, used to run a share of
// the total load on one instance. It must be called before Next.
func (r *RampingArrivals) Scale(f float64) *RampingArrivals {
	if f <= 0 || f == 1 {
		return r
	}
	r.scale = f
	r.total = 0
	for i := range r.segments {
		seg := &r.segments[i]
		seg.from *= f
		seg.to *= f
		seg.area *= f
		seg.cumStart = r.total
		r.total += seg.area
	}
	return r
}

func (r *RampingArrivals) Next() (time.Duration, bool) {
	target := float64(r.i) + r.offset
	if target >= r.total {
		return 0, false
	}

	for r.cursor < len(r.segments) {
		seg := r.segments[r.cursor]
		if target < seg.cumStart+seg.area {
			r.i++
			return seg.start + time.Duration(seg.solve(target-seg.cumStart)*float64(time.Second)), true
		}
		r.cursor++
	}
	return 0, false
}

// solve returns tau in seconds such that from*tau + k*tau^2 = c with
// k = (to-from)/(2*seconds). The rationalized form stays stable when k is 0.
func (s rampSegment) solve(c float64) float64 {
	if c <= 0 {
		return 0
	}
	k := (s.to - s.from) / (2 * s.seconds)
	disc := math.Max(0, s.from*s.from+4*k*c)
	denom := s.from + math.Sqrt(disc)
	if denom <= 0 {
		return 0
	}
	return 2 * c / denom
}

func (r *RampingArrivals) RateAt(elapsed time.Duration) float64 {
	if r.scale > 0 {
		return r.schedule.ValueAt(elapsed) * r.scale
	}
	return r.schedule.ValueAt(elapsed)
}

// Total is the integral of the rate over the whole schedule.
func (r *RampingArrivals) Total() float64 { return r.total }

// Duration is the length of the schedule.
func (r *RampingArrivals) Duration() time.Duration { return r.schedule.TotalDuration() }
