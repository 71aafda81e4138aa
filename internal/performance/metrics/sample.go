// Package metrics collects samples emitted during a run, aggregates them per
// metric and evaluates thresholds against the aggregates.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind is the aggregation applied to a metric's samples.
type Kind int

const (
	// Counter sums values.
	Counter Kind = iota + 1
	// Gauge keeps the latest value.
	Gauge
	// Trend keeps a distribution for quantile queries.
	Trend
	// Rate keeps the ratio of non-zero values.
	Rate
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Trend:
		return "trend"
	case Rate:
		return "rate"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind converts a kind name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "counter":
		return Counter, nil
	case "gauge":
		return Gauge, nil
	case "trend":
		return Trend, nil
	case "rate":
		return Rate, nil
	default:
		return 0, fmt.Errorf("unknown metric kind %q", s)
	}
}

// Tags is a set of key/value labels attached to a sample.
type Tags map[string]string

// Clone returns an independent copy.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// With returns a copy of t overlaid with other.
func (t Tags) With(other map[string]string) Tags {
	out := make(Tags, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Contains reports whether every tag in sel is present in t with the same value.
func (t Tags) Contains(sel Tags) bool {
	for k, v := range sel {
		if t[k] != v {
			return false
		}
	}
	return true
}

// String renders the tags sorted by key as "k:v,k:v".
func (t Tags) String() string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+t[k])
	}
	return strings.Join(parts, ",")
}

// Sample is a single measurement. Samples are never mutated once emitted.
type Sample struct {
	Metric string    `json:"metric"`
	Kind   Kind      `json:"kind"`
	Value  float64   `json:"value"`
	Tags   Tags      `json:"tags,omitempty"`
	Time   time.Time `json:"time"`
}

// Built-in metric names.
const (
	VUs               = "vus"
	VUsMax            = "vus_max"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	IterationsFailed  = "iterations_failed"
	Interrupted       = "iterations_interrupted"
	DroppedIterations = "dropped_iterations"
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	DataReceived      = "data_received"
	DataSent          = "data_sent"
)

// BuiltinKinds lists the kind of every built-in metric.
var BuiltinKinds = map[string]Kind{
	VUs:               Gauge,
	VUsMax:            Gauge,
	Iterations:        Counter,
	IterationDuration: Trend,
	IterationsFailed:  Counter,
	Interrupted:       Counter,
	DroppedIterations: Counter,
	HTTPReqs:          Counter,
	HTTPReqDuration:   Trend,
	HTTPReqFailed:     Rate,
	DataReceived:      Counter,
	DataSent:          Counter,
}

// ParseSelector splits "name{k:v,k2:v2}" into the metric name and tag filter.
func ParseSelector(selector string) (string, Tags, error) {
	selector = strings.TrimSpace(selector)
	open := strings.IndexByte(selector, '{')
	if open < 0 {
		if selector == "" {
			return "", nil, fmt.Errorf("empty metric selector")
		}
		return selector, nil, nil
	}
	if !strings.HasSuffix(selector, "}") {
		return "", nil, fmt.Errorf("metric selector %q: missing closing brace", selector)
	}

	name := strings.TrimSpace(selector[:open])
	if name == "" {
		return "", nil, fmt.Errorf("metric selector %q: missing metric name", selector)
	}

	body := strings.TrimSpace(selector[open+1 : len(selector)-1])
	if body == "" {
		return "", nil, fmt.Errorf("metric selector %q: empty tag filter", selector)
	}

	tags := Tags{}
	for _, pair := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(pair, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return "", nil, fmt.Errorf("metric selector %q: invalid tag %q", selector, pair)
		}
		tags[k] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return name, tags, nil
}
