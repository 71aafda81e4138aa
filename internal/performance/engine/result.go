package engine

import (
	"encoding/json"
	"time"

	"github.com/masoud-msk/dev-stack/internal/performance/executor"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
	"github.com/masoud-msk/dev-stack/internal/performance/summary"
	"github.com/masoud-msk/dev-stack/internal/performance/timeline"
)

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name     string          `json:"name"`
	Executor string          `json:"executor"`
	Window   timeline.Window `json:"window"`
	Started  bool            `json:"started"`
	Stats    *executor.Stats `json:"stats"`
}

// Result is the outcome of a run.
type Result struct {
	RunID     string        `json:"runId"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
	Status    Status        `json:"status"`

	// Passed is false when a threshold failed or a fatal lifecycle error
	// occurred.
	Passed      bool   `json:"passed"`
	Aborted     bool   `json:"aborted,omitempty"`
	AbortReason string `json:"abortReason,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`

	Scenarios  []*ScenarioResult         `json:"scenarios"`
	Thresholds []metrics.ThresholdResult `json:"thresholds,omitempty"`
	Metrics    *metrics.Snapshot         `json:"metrics,omitempty"`
	TimeSeries []metrics.Point           `json:"timeSeries,omitempty"`

	Errors []*LifecycleError `json:"-"`

	// Outputs are the rendered summaries keyed by destination.
	Outputs map[string]string `json:"-"`
}

// MarshalJSON adds the lifecycle errors as strings.
func (r *Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		*plain
		Errors []string `json:"errors,omitempty"`
	}{plain: (*plain)(r), Errors: r.errorStrings()})
}

// Err returns the first fatal lifecycle error, if any.
func (r *Result) Err() error {
	for _, e := range r.Errors {
		if e.Fatal() {
			return e
		}
	}
	return nil
}

// Scenario returns the result of the named scenario.
func (r *Result) Scenario(name string) (*ScenarioResult, bool) {
	for _, s := range r.Scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

func (r *Result) addError(phase Phase, err error) {
	r.Errors = append(r.Errors, &LifecycleError{Phase: phase, Err: err})
}

func (r *Result) errorStrings() []string {
	if len(r.Errors) == 0 {
		return nil
	}
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Error()
	}
	return out
}

// summaryData converts the result into the input of summary hooks.
func (r *Result) summaryData(setup json.RawMessage) *summary.Data {
	data := &summary.Data{
		RunID:       r.RunID,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Duration:    r.Duration,
		Passed:      r.Passed,
		Aborted:     r.Aborted,
		AbortReason: r.AbortReason,
		Thresholds:  r.Thresholds,
		Metrics:     r.Metrics,
		TimeSeries:  r.TimeSeries,
		Errors:      r.errorStrings(),
		SetupData:   setup,
	}
	for _, s := range r.Scenarios {
		sc := summary.Scenario{
			Name:      s.Name,
			Executor:  s.Executor,
			StartTime: s.Window.Start,
			Started:   s.Started,
		}
		if s.Stats != nil {
			sc.Duration = s.Stats.Elapsed
			sc.Iterations = s.Stats.Iterations
			sc.Interrupted = s.Stats.Interrupted
			sc.Dropped = s.Stats.Dropped
			sc.PeakVUs = s.Stats.PeakVUs
			sc.MaxVUs = s.Stats.MaxVUs
		}
		data.Scenarios = append(data.Scenarios, sc)
	}
	return data
}
