package metrics

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Threshold is a parsed pass/fail expression such as "p(95) < 200".
type Threshold struct {
	Source     string
	Method     string
	Percentile float64
	Operator   string
	Target     float64

	AbortOnFail    bool
	DelayAbortEval time.Duration
}

// ThresholdSet groups the thresholds declared for one metric selector.
type ThresholdSet struct {
	Selector   string
	Thresholds []*Threshold
}

// ThresholdResult is the outcome of evaluating one threshold.
type ThresholdResult struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Passed     bool    `json:"passed"`
	Value      float64 `json:"value"`
	Message    string  `json:"message,omitempty"`
	Aborted    bool    `json:"aborted,omitempty"`
}

var thresholdRe = regexp.MustCompile(`^\s*(avg|min|max|med|count|rate|value|p\(\s*(\d+(?:\.\d+)?)\s*\))\s*(<=|>=|===|==|!=|<|>)\s*(-?\d+(?:\.\d+)?)\s*([a-zµ]*)\s*$`)

// ParseThreshold parses an expression "<method> <op> <number>". Methods are
// avg, min, max, med, p(N), count, rate and value. A duration suffix
// ("500ms", "2s") converts the target to milliseconds.
func ParseThreshold(expr string) (*Threshold, error) {
	m := thresholdRe.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q", expr)
	}

	t := &Threshold{Source: strings.TrimSpace(expr), Method: m[1], Operator: m[3]}
	if strings.HasPrefix(m[1], "p(") {
		p, err := strconv.ParseFloat(m[2], 64)
		if err != nil || p < 0 || p > 100 {
			return nil, fmt.Errorf("threshold %q: percentile must be within [0, 100]", expr)
		}
		t.Method = "p"
		t.Percentile = p
	}

	target, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return nil, fmt.Errorf("threshold %q: %w", expr, err)
	}
	if unit := m[5]; unit != "" {
		d, err := time.ParseDuration(m[4] + unit)
		if err != nil {
			return nil, fmt.Errorf("threshold %q: unknown unit %q", expr, unit)
		}
		target = float64(d) / float64(time.Millisecond)
	}
	t.Target = target
	return t, nil
}

// Supports reports whether the method is meaningful for a metric kind.
func (t *Threshold) Supports(kind Kind) bool {
	switch kind {
	case Counter:
		return t.Method == "count" || t.Method == "rate" || t.Method == "value"
	case Gauge:
		return t.Method == "value" || t.Method == "min" || t.Method == "max"
	case Rate:
		return t.Method == "rate" || t.Method == "count" || t.Method == "value"
	case Trend:
		switch t.Method {
		case "avg", "min", "max", "med", "p", "count":
			return true
		}
	}
	return false
}

// Check compares an aggregate against the target.
func (t *Threshold) Check(actual float64) bool {
	return compareValues(actual, t.Operator, t.Target)
}

func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "===":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}

// RegisterThresholds creates the submetrics the sets refer to and checks
// each method against the kind of already registered metrics.
func RegisterThresholds(a *Aggregator, sets []ThresholdSet) error {
	for _, set := range sets {
		if err := a.AddSubmetric(set.Selector); err != nil {
			return err
		}
		name, _, _ := ParseSelector(set.Selector)
		kind, ok := BuiltinKinds[name]
		if !ok {
			continue
		}
		for _, t := range set.Thresholds {
			if !t.Supports(kind) {
				return fmt.Errorf("threshold %q on %s metric %q: method %q is not supported", t.Source, kind, name, t.Method)
			}
		}
	}
	return nil
}

// EvaluateThreshold resolves the aggregate for one threshold.
func EvaluateThreshold(a *Aggregator, selector string, t *Threshold) ThresholdResult {
	res := ThresholdResult{Metric: selector, Expression: t.Source}

	kind, sink, ok := a.Lookup(selector)
	if !ok {
		res.Message = "metric has no samples"
		return res
	}
	if !t.Supports(kind) {
		res.Message = fmt.Sprintf("method %q not supported on %s metric", t.Method, kind)
		return res
	}

	var value float64
	if kind == Counter && t.Method == "rate" {
		value = sink.Format(time.Since(a.Start()))["rate"]
	} else {
		value, _ = sink.Value(t.Method, t.Percentile)
	}

	res.Value = value
	res.Passed = t.Check(value)
	if !res.Passed {
		res.Message = fmt.Sprintf("%s = %g, want %s %g", t.Method, value, t.Operator, t.Target)
	}
	return res
}

// EvaluateThresholds evaluates every threshold and reports whether all passed.
func EvaluateThresholds(a *Aggregator, sets []ThresholdSet) ([]ThresholdResult, bool) {
	var results []ThresholdResult
	passed := true
	for _, set := range sets {
		for _, t := range set.Thresholds {
			res := EvaluateThreshold(a, set.Selector, t)
			if !res.Passed {
				passed = false
			}
			results = append(results, res)
		}
	}
	return results, passed
}

// Watcher periodically evaluates thresholds marked abortOnFail and calls
// OnBreach the first time one fails after its delay.
type Watcher struct {
	Aggregator *Aggregator
	Sets       []ThresholdSet
	Interval   time.Duration
	OnBreach   func(ThresholdResult)
	Logger     *zap.Logger
}

// HasAbortable reports whether any threshold can abort the run.
func HasAbortable(sets []ThresholdSet) bool {
	for _, set := range sets {
		for _, t := range set.Thresholds {
			if t.AbortOnFail {
				return true
			}
		}
	}
	return false
}

// Run blocks until ctx is done or a breach has been reported.
func (w *Watcher) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	started := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		elapsed := time.Since(started)
		for _, set := range w.Sets {
			for _, t := range set.Thresholds {
				if !t.AbortOnFail || elapsed < t.DelayAbortEval {
					continue
				}
				// A metric without samples yet cannot breach.
				if _, sink, ok := w.Aggregator.Lookup(set.Selector); !ok || sink.Count() == 0 {
					continue
				}
				res := EvaluateThreshold(w.Aggregator, set.Selector, t)
				if res.Passed {
					continue
				}
				res.Aborted = true
				logger.Warn("threshold breached, aborting run",
					zap.String("metric", res.Metric),
					zap.String("threshold", res.Expression),
					zap.Float64("value", res.Value))
				if w.OnBreach != nil {
					w.OnBreach(res)
				}
				return
			}
		}
	}
}
