// Package summary renders the end-of-run summary of a load test and writes
// rendered outputs to their destinations.
package summary

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// Output destinations understood by Write besides file paths.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// Scenario is the per-scenario part of the summary.
type Scenario struct {
	Name        string        `json:"name"`
	Executor    string        `json:"executor"`
	StartTime   time.Duration `json:"startTime"`
	Duration    time.Duration `json:"duration"`
	Iterations  int64         `json:"iterations"`
	Interrupted int64         `json:"interrupted"`
	Dropped     int64         `json:"dropped"`
	PeakVUs     int           `json:"peakVUs"`
	MaxVUs      int           `json:"maxVUs"`
	Started     bool          `json:"started"`
}

// Data is everything a summary hook gets to see.
type Data struct {
	RunID       string                    `json:"runId"`
	StartTime   time.Time                 `json:"startTime"`
	EndTime     time.Time                 `json:"endTime"`
	Duration    time.Duration             `json:"duration"`
	Passed      bool                      `json:"passed"`
	Aborted     bool                      `json:"aborted,omitempty"`
	AbortReason string                    `json:"abortReason,omitempty"`
	Scenarios   []Scenario                `json:"scenarios"`
	Thresholds  []metrics.ThresholdResult `json:"thresholds,omitempty"`
	Metrics     *metrics.Snapshot         `json:"metrics"`
	TimeSeries  []metrics.Point           `json:"timeSeries,omitempty"`
	Errors      []string                  `json:"errors,omitempty"`
	SetupData   json.RawMessage           `json:"setupData,omitempty"`
}

// MaxVUs sums the VU caps of every scenario.
func (d *Data) MaxVUs() int {
	n := 0
	for _, s := range d.Scenarios {
		n += s.MaxVUs
	}
	return n
}

// Hook turns summary data into rendered outputs keyed by destination:
// "stdout", "stderr" or a file path.
type Hook func(data *Data) (map[string]string, error)

// DefaultHook renders the text summary to stdout. Colors follow the terminal.
func DefaultHook(data *Data) (map[string]string, error) {
	text, err := Text(data, DefaultTextOptions(os.Stdout))
	if err != nil {
		return nil, err
	}
	return map[string]string{Stdout: text}, nil
}

// Write sends every output to its destination. Files are written with their
// parent directories created. Destinations are processed in lexical order and
// the first failure is returned after the rest have been attempted.
func Write(outputs map[string]string, stdout, stderr io.Writer) error {
	dests := make([]string, 0, len(outputs))
	for dest := range outputs {
		dests = append(dests, dest)
	}
	sort.Strings(dests)

	var firstErr error
	for _, dest := range dests {
		if err := writeOne(dest, outputs[dest], stdout, stderr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func writeOne(dest, content string, stdout, stderr io.Writer) error {
	switch dest {
	case Stdout:
		_, err := io.WriteString(stdout, content)
		return err
	case Stderr:
		_, err := io.WriteString(stderr, content)
		return err
	case "":
		return fmt.Errorf("summary output with empty destination")
	}

	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", dest, err)
		}
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write summary to %s: %w", dest, err)
	}
	return nil
}
