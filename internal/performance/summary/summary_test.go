package summary

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

func sampleData(t *testing.T) *Data {
	t.Helper()
	agg := metrics.NewAggregator(zap.NewNop())
	require.NoError(t, agg.AddSubmetric("http_req_duration{status:200}"))

	for i := 0; i < 10; i++ {
		agg.Emit(metrics.Iterations, metrics.Counter, 1, nil)
		agg.Emit(metrics.HTTPReqDuration, metrics.Trend, float64(10*(i+1)), metrics.Tags{"status": "200"})
		agg.Emit(metrics.HTTPReqFailed, metrics.Rate, 0, nil)
		agg.Emit(metrics.DataReceived, metrics.Counter, 2048, nil)
	}
	agg.Emit(metrics.VUs, metrics.Gauge, 3, nil)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &Data{
		RunID:     "run-1",
		StartTime: start,
		EndTime:   start.Add(12 * time.Second),
		Duration:  12 * time.Second,
		Passed:    false,
		Scenarios: []Scenario{
			{Name: "browse", Executor: "constant-vus", Iterations: 10, PeakVUs: 3, MaxVUs: 3, Duration: 10 * time.Second, Started: true},
			{Name: "late", Executor: "shared-iterations", MaxVUs: 2},
		},
		Thresholds: []metrics.ThresholdResult{
			{Metric: "http_req_duration", Expression: "p(95) < 50", Passed: false, Value: 95, Message: "p = 95, want < 50"},
			{Metric: "http_req_failed", Expression: "rate < 0.01", Passed: true},
		},
		Metrics: agg.Snapshot(),
		Errors:  []string{"teardown: boom"},
	}
}

func TestText(t *testing.T) {
	data := sampleData(t)

	out, err := Text(data, TextOptions{Indent: "  "})
	require.NoError(t, err)

	assert.NotContains(t, out, "\x1b[", "colors are off")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "2 scenarios, 5 max VUs")
	assert.Contains(t, out, "* browse: constant-vus, 10 iterations, 3 peak VUs")
	assert.Contains(t, out, "* late: shared-iterations, not started")
	assert.Contains(t, out, "✗ http_req_duration: p(95) < 50")
	assert.Contains(t, out, "✓ http_req_failed: rate < 0.01")
	assert.Contains(t, out, "{ status:200 }")
	assert.Contains(t, out, "avg=55.00ms")
	assert.Contains(t, out, "20.5 kB")
	assert.Contains(t, out, "0.00%")
	assert.Contains(t, out, "teardown: boom")

	// Parent metrics come before their submetrics.
	assert.Less(t, strings.Index(out, "http_req_duration."), strings.Index(out, "{ status:200 }"))
}

func TestText_Colors(t *testing.T) {
	out, err := Text(sampleData(t), TextOptions{Colors: true})
	require.NoError(t, err)
	assert.Contains(t, out, "\x1b[")
}

func TestText_Nil(t *testing.T) {
	_, err := Text(nil, TextOptions{})
	assert.Error(t, err)
}

func TestDefaultTextOptions_NotATerminal(t *testing.T) {
	opts := DefaultTextOptions(&bytes.Buffer{})
	assert.False(t, opts.Colors)
	assert.Equal(t, DefaultTrendStats, opts.TrendStats)
}

func TestJSON(t *testing.T) {
	out, err := JSON(sampleData(t))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "run-1", decoded["runId"])
	assert.Equal(t, false, decoded["passed"])

	snapshot := decoded["metrics"].(map[string]any)["metrics"].(map[string]any)
	assert.Contains(t, snapshot, "iterations")
	assert.Contains(t, snapshot, "http_req_duration{status:200}")
}

func TestHTML(t *testing.T) {
	data := sampleData(t)
	data.TimeSeries = []metrics.Point{{Time: data.StartTime, VUs: 3, Iterations: 10}}

	out, err := HTML(data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "Run run-1")
	assert.Contains(t, out, "browse")
	assert.Contains(t, out, "http_req_duration")
	assert.Contains(t, out, `"vus":3`)
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "summary.json")

	var stdout, stderr bytes.Buffer
	err := Write(map[string]string{
		Stdout: "to stdout",
		Stderr: "to stderr",
		path:   `{"ok":true}`,
	}, &stdout, &stderr)
	require.NoError(t, err)

	assert.Equal(t, "to stdout", stdout.String())
	assert.Equal(t, "to stderr", stderr.String())
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(content))

	assert.Error(t, Write(map[string]string{"": "x"}, &stdout, &stderr))
}

func TestDefaultHook(t *testing.T) {
	outputs, err := DefaultHook(sampleData(t))
	require.NoError(t, err)
	require.Contains(t, outputs, Stdout)
	assert.Contains(t, outputs[Stdout], "run-1")
}

func TestFormatters(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{formatDuration(500 * time.Millisecond), "500ms"},
		{formatDuration(1500 * time.Millisecond), "1.5s"},
		{formatDuration(90 * time.Second), "1m30s"},
		{formatDuration(time.Hour + 2*time.Minute + 3*time.Second), "1h02m03s"},
		{formatLatency(0), "0s"},
		{formatLatency(0.25), "250.00µs"},
		{formatLatency(12.5), "12.50ms"},
		{formatLatency(2500), "2.50s"},
		{formatBytes(999), "999 B"},
		{formatBytes(1500), "1.5 kB"},
		{formatBytes(2_500_000), "2.5 MB"},
		{formatNumber(1234567), "1,234,567"},
		{formatNumber(-1234), "-1,234"},
		{formatNumber(12), "12"},
		{formatNumber(0.5), "0.5"},
		{formatPercent(0.1234), "12.34%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got)
	}
}
