package control

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

const namespace = "loadrun"

var (
	activeVUsDesc = prometheus.NewDesc(
		namespace+"_scenario_active_vus",
		"Number of VUs currently running an iteration loop",
		[]string{"scenario", "executor"}, nil,
	)
	scenarioIterationsDesc = prometheus.NewDesc(
		namespace+"_scenario_iterations_total",
		"Completed iterations per scenario",
		[]string{"scenario", "executor"}, nil,
	)
	scenarioDroppedDesc = prometheus.NewDesc(
		namespace+"_scenario_dropped_iterations_total",
		"Iterations an arrival-rate scenario could not start",
		[]string{"scenario", "executor"}, nil,
	)
)

// Collector exports the engine's live aggregates. Counters become
// <name>_total, gauges and rates plain gauges and trends one gauge per
// statistic labelled stat. Submetrics are skipped.
type Collector struct {
	engine Engine
}

// NewCollector returns a collector reading from eng at scrape time.
func NewCollector(eng Engine) *Collector {
	return &Collector{engine: eng}
}

// Describe sends nothing: the metric set depends on what the run emits, so
// the collector is unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, st := range c.engine.Stats() {
		if st == nil {
			continue
		}
		typ := string(st.Type)
		ch <- prometheus.MustNewConstMetric(activeVUsDesc, prometheus.GaugeValue, float64(st.ActiveVUs), name, typ)
		ch <- prometheus.MustNewConstMetric(scenarioIterationsDesc, prometheus.CounterValue, float64(st.Iterations), name, typ)
		ch <- prometheus.MustNewConstMetric(scenarioDroppedDesc, prometheus.CounterValue, float64(st.Dropped), name, typ)
	}

	snap := c.engine.Snapshot()
	if snap == nil {
		return
	}
	for _, name := range snap.Names() {
		m := snap.Metrics[name]
		if m.Parent != "" {
			continue
		}
		base := namespace + "_" + sanitize(name)

		switch m.Kind {
		case metrics.Counter:
			desc := prometheus.NewDesc(base+"_total", "Counter "+name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, m.Values["count"])
		case metrics.Gauge:
			desc := prometheus.NewDesc(base, "Gauge "+name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, m.Values["value"])
		case metrics.Rate:
			desc := prometheus.NewDesc(base+"_ratio", "Rate "+name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, m.Values["rate"])
		case metrics.Trend:
			desc := prometheus.NewDesc(base, "Trend "+name, []string{"stat"}, nil)
			for stat, v := range m.Values {
				ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, stat)
			}
		}
	}
}

// sanitize maps a metric name onto the Prometheus name charset.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
