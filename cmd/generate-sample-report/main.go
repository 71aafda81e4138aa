package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
	"github.com/masoud-msk/dev-stack/internal/performance/summary"
)

func main() {
	outputPath := "sample-report.html"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	html, err := summary.HTML(createSampleData())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := summary.Write(map[string]string{outputPath: html}, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample report generated: %s\n", outputPath)
}

// createSampleData feeds two minutes of synthetic ramping traffic through an
// aggregator and returns the resulting summary data.
func createSampleData() *summary.Data {
	end := time.Now()
	start := end.Add(-2 * time.Minute)
	rng := rand.New(rand.NewSource(42))

	agg := metrics.NewAggregator(nil)
	agg.ResetStart(start)
	_ = agg.AddSubmetric("http_req_duration{status:200}")
	series := metrics.NewSeries(0)

	for sec := 0; sec < 120; sec++ {
		vus := 10 + sec/4
		if sec >= 90 {
			vus = 40 - (sec-90)
		}
		agg.Emit(metrics.VUs, metrics.Gauge, float64(vus), nil)

		for i := 0; i < vus*2; i++ {
			status := "200"
			failed := 0.0
			if rng.Float64() < 0.01 {
				status, failed = "500", 1
			}
			tags := metrics.Tags{"scenario": "api", "status": status}
			latency := 40 + rng.ExpFloat64()*30
			agg.Emit(metrics.HTTPReqs, metrics.Counter, 1, tags)
			agg.Emit(metrics.HTTPReqDuration, metrics.Trend, latency, tags)
			agg.Emit(metrics.HTTPReqFailed, metrics.Rate, failed, tags)
			agg.Emit(metrics.DataReceived, metrics.Counter, 1200+float64(rng.Intn(400)), tags)
			agg.Emit(metrics.DataSent, metrics.Counter, 180, tags)
			if i%2 == 1 {
				agg.Emit(metrics.Iterations, metrics.Counter, 1, tags)
				agg.Emit(metrics.IterationDuration, metrics.Trend, 2*latency+5, tags)
			}
		}
		series.Record(agg, vus)
	}

	p95, _ := metrics.ParseThreshold("p(95)<200")
	failRate, _ := metrics.ParseThreshold("rate<0.05")
	sets := []metrics.ThresholdSet{
		{Selector: metrics.HTTPReqDuration, Thresholds: []*metrics.Threshold{p95}},
		{Selector: metrics.HTTPReqFailed, Thresholds: []*metrics.Threshold{failRate}},
	}
	results, passed := metrics.EvaluateThresholds(agg, sets)

	snap := agg.Snapshot()
	return &summary.Data{
		RunID:     "sample-run",
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Passed:    passed,
		Scenarios: []summary.Scenario{{
			Name:       "api",
			Executor:   "ramping-vus",
			Duration:   2 * time.Minute,
			Iterations: int64(snap.Metrics[metrics.Iterations].Values["count"]),
			PeakVUs:    40,
			MaxVUs:     40,
			Started:    true,
		}},
		Thresholds: results,
		Metrics:    snap,
		TimeSeries: series.Points(),
	}
}
