package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metric is a named series of samples of one kind.
type Metric struct {
	Name string
	Kind Kind
	Sink Sink

	// subs is replaced wholesale when a submetric is added, so Add never
	// takes a lock to read it.
	subs atomic.Pointer[[]*Submetric]
}

// Submetric aggregates the samples of a parent metric that carry a tag set.
type Submetric struct {
	Name   string
	Parent string
	Tags   Tags
	Sink   Sink
}

func (m *Metric) submetrics() []*Submetric {
	if p := m.subs.Load(); p != nil {
		return *p
	}
	return nil
}

// Aggregator accepts concurrent samples from any goroutine and keeps one
// accumulator per metric.
//
// Lookup goes through a sync.Map, and each accumulator synchronizes on its
// own, so writers to different metrics never contend. The registration
// mutex is only taken the first time a metric or submetric name is seen.
type Aggregator struct {
	logger *zap.Logger
	start  atomic.Int64 // unix nanoseconds

	metrics sync.Map // name -> *Metric

	regMu   sync.Mutex
	pending map[string][]Tags // submetrics requested before their parent existed

	samples  atomic.Int64
	rejected atomic.Int64
}

// NewAggregator creates an aggregator with the built-in metrics registered.
func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		logger:  logger,
		pending: make(map[string][]Tags),
	}
	a.start.Store(time.Now().UnixNano())
	for name, kind := range BuiltinKinds {
		_, _ = a.Register(name, kind)
	}
	return a
}

// ResetStart moves the origin used for per-second rates. It is safe to call
// while snapshots are being taken.
func (a *Aggregator) ResetStart(t time.Time) {
	a.start.Store(t.UnixNano())
}

// Start returns the origin used for per-second rates.
func (a *Aggregator) Start() time.Time {
	return time.Unix(0, a.start.Load())
}

// Register creates the metric if needed. Registering an existing name with a
// different kind fails.
func (a *Aggregator) Register(name string, kind Kind) (*Metric, error) {
	if v, ok := a.metrics.Load(name); ok {
		m := v.(*Metric)
		if m.Kind != kind {
			return nil, fmt.Errorf("metric %q already registered as %s, not %s", name, m.Kind, kind)
		}
		return m, nil
	}

	a.regMu.Lock()
	defer a.regMu.Unlock()

	if v, ok := a.metrics.Load(name); ok {
		m := v.(*Metric)
		if m.Kind != kind {
			return nil, fmt.Errorf("metric %q already registered as %s, not %s", name, m.Kind, kind)
		}
		return m, nil
	}

	m := &Metric{Name: name, Kind: kind, Sink: NewSink(kind)}
	for _, tags := range a.pending[name] {
		a.attachLocked(m, tags)
	}
	delete(a.pending, name)
	a.metrics.Store(name, m)
	return m, nil
}

// AddSubmetric registers a selector such as "http_req_duration{status:200}".
// The parent metric does not need to exist yet.
func (a *Aggregator) AddSubmetric(selector string) error {
	name, tags, err := ParseSelector(selector)
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}

	a.regMu.Lock()
	defer a.regMu.Unlock()

	if v, ok := a.metrics.Load(name); ok {
		a.attachLocked(v.(*Metric), tags)
		return nil
	}
	a.pending[name] = append(a.pending[name], tags)
	return nil
}

func (a *Aggregator) attachLocked(m *Metric, tags Tags) {
	subName := m.Name + "{" + tags.String() + "}"
	current := m.submetrics()
	for _, s := range current {
		if s.Name == subName {
			return
		}
	}
	next := make([]*Submetric, len(current), len(current)+1)
	copy(next, current)
	next = append(next, &Submetric{Name: subName, Parent: m.Name, Tags: tags.Clone(), Sink: NewSink(m.Kind)})
	m.subs.Store(&next)
}

// Add records a sample. Samples whose kind conflicts with the registered
// metric are counted and dropped.
func (a *Aggregator) Add(s Sample) {
	m, err := a.Register(s.Metric, s.Kind)
	if err != nil {
		if a.rejected.Add(1) == 1 {
			a.logger.Warn("dropping sample with conflicting kind", zap.String("metric", s.Metric), zap.Error(err))
		}
		return
	}

	a.samples.Add(1)
	m.Sink.Add(s.Value)
	for _, sub := range m.submetrics() {
		if s.Tags.Contains(sub.Tags) {
			sub.Sink.Add(s.Value)
		}
	}
}

// Emit is shorthand for Add with the current time.
func (a *Aggregator) Emit(name string, kind Kind, value float64, tags Tags) {
	a.Add(Sample{Metric: name, Kind: kind, Value: value, Tags: tags, Time: time.Now()})
}

// Lookup finds a metric or submetric by selector.
func (a *Aggregator) Lookup(selector string) (Kind, Sink, bool) {
	name, tags, err := ParseSelector(selector)
	if err != nil {
		return 0, nil, false
	}
	v, ok := a.metrics.Load(name)
	if !ok {
		return 0, nil, false
	}
	m := v.(*Metric)
	if len(tags) == 0 {
		return m.Kind, m.Sink, true
	}
	want := name + "{" + tags.String() + "}"
	for _, sub := range m.submetrics() {
		if sub.Name == want {
			return m.Kind, sub.Sink, true
		}
	}
	return 0, nil, false
}

// Counter returns the current sum of a counter, or 0 if it does not exist.
func (a *Aggregator) Counter(name string) float64 {
	kind, sink, ok := a.Lookup(name)
	if !ok || kind != Counter {
		return 0
	}
	return sink.(*CounterSink).Sum()
}

// SampleCount is the number of accepted samples.
func (a *Aggregator) SampleCount() int64 {
	return a.samples.Load()
}

// MetricSnapshot is the aggregate state of one metric or submetric.
type MetricSnapshot struct {
	Name     string             `json:"name"`
	Kind     Kind               `json:"type"`
	Parent   string             `json:"parent,omitempty"`
	Tags     Tags               `json:"tags,omitempty"`
	Samples  int64              `json:"samples"`
	Values   map[string]float64 `json:"values"`
	Contains string             `json:"contains,omitempty"`
}

// Snapshot is a point-in-time view of every metric.
type Snapshot struct {
	Time    time.Time                 `json:"time"`
	Elapsed time.Duration             `json:"elapsed"`
	Metrics map[string]MetricSnapshot `json:"metrics"`
}

// Names returns the metric names in lexical order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies the current aggregates. Metrics without samples are left
// out unless a submetric is registered on them.
func (a *Aggregator) Snapshot() *Snapshot {
	now := time.Now()
	elapsed := now.Sub(a.Start())
	snap := &Snapshot{Time: now, Elapsed: elapsed, Metrics: make(map[string]MetricSnapshot)}

	a.metrics.Range(func(_, v any) bool {
		m := v.(*Metric)
		subs := m.submetrics()
		if m.Sink.Count() == 0 && len(subs) == 0 {
			return true
		}
		snap.Metrics[m.Name] = MetricSnapshot{
			Name:     m.Name,
			Kind:     m.Kind,
			Samples:  m.Sink.Count(),
			Values:   m.Sink.Format(elapsed),
			Contains: contains(m.Name),
		}
		for _, sub := range subs {
			snap.Metrics[sub.Name] = MetricSnapshot{
				Name:     sub.Name,
				Kind:     m.Kind,
				Parent:   m.Name,
				Tags:     sub.Tags.Clone(),
				Samples:  sub.Sink.Count(),
				Values:   sub.Sink.Format(elapsed),
				Contains: contains(m.Name),
			}
		}
		return true
	})
	return snap
}

// contains describes the unit of a built-in metric for renderers.
func contains(name string) string {
	switch {
	case name == IterationDuration, name == HTTPReqDuration:
		return "time"
	case name == DataReceived, name == DataSent:
		return "data"
	case strings.HasPrefix(name, "http_req_") && name != HTTPReqFailed:
		return "time"
	default:
		return "default"
	}
}
