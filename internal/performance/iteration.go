package performance

import (
	"context"
	"sync"
	"time"

	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// IterationFunc is an iteration body.
type IterationFunc func(ctx context.Context, it *Iteration) error

// Iteration is the context handed to one iteration body.
type Iteration struct {
	Scenario string
	VU       int

	// Number is the VU-local index; ScenarioIteration counts across all VUs
	// of the scenario.
	Number            int64
	ScenarioIteration int64

	// Data is this iteration's private copy of the setup value.
	Data  any
	Setup SetupData

	Env       map[string]string
	Transport Transport

	aggregator *metrics.Aggregator

	mu   sync.Mutex
	tags metrics.Tags
}

// NewIteration builds a standalone iteration context, used by the setup and
// teardown phases which do not belong to a VU.
func NewIteration(scenario string, data SetupData, agg *metrics.Aggregator, tags metrics.Tags, env map[string]string) *Iteration {
	it := &Iteration{
		Scenario:   scenario,
		Setup:      data,
		Env:        env,
		aggregator: agg,
		tags:       tags.Clone(),
	}
	it.Data, _ = data.Value()
	return it
}

// Tags returns a copy of the tags applied to samples of this iteration.
func (it *Iteration) Tags() metrics.Tags {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.tags.Clone()
}

// SetTag adds a tag to every sample emitted from now on, including the
// iteration's own outcome samples.
func (it *Iteration) SetTag(key, value string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.tags[key] = value
}

// DeleteTag removes a tag from subsequent samples.
func (it *Iteration) DeleteTag(key string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	delete(it.tags, key)
}

// Emit records a custom sample tagged with the iteration tags and extra.
func (it *Iteration) Emit(name string, kind metrics.Kind, value float64, extra map[string]string) {
	if it.aggregator == nil {
		return
	}
	it.aggregator.Add(metrics.Sample{
		Metric: name,
		Kind:   kind,
		Value:  value,
		Tags:   it.Tags().With(extra),
		Time:   time.Now(),
	})
}

// Add increments a counter.
func (it *Iteration) Add(name string, value float64) {
	it.Emit(name, metrics.Counter, value, nil)
}

// Gauge sets a gauge.
func (it *Iteration) Gauge(name string, value float64) {
	it.Emit(name, metrics.Gauge, value, nil)
}

// Trend adds a value to a trend.
func (it *Iteration) Trend(name string, value float64) {
	it.Emit(name, metrics.Trend, value, nil)
}

// Rate records a pass (true) or fail (false).
func (it *Iteration) Rate(name string, ok bool) {
	it.Emit(name, metrics.Rate, boolValue(ok), nil)
}

// Check records each named condition in the "checks" rate and returns
// whether all of them passed.
func (it *Iteration) Check(conditions map[string]bool) bool {
	all := true
	for name, ok := range conditions {
		it.Emit("checks", metrics.Rate, boolValue(ok), map[string]string{"check": name})
		all = all && ok
	}
	return all
}

// Metrics returns the aggregator backing this iteration.
func (it *Iteration) Metrics() *metrics.Aggregator {
	return it.aggregator
}

func boolValue(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
