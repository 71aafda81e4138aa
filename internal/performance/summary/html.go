package summary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// htmlView is the template input.
type htmlView struct {
	*Data
	Rows       []htmlRow
	SeriesJSON template.JS
}

type htmlRow struct {
	Name   string
	Sub    bool
	Kind   string
	Values []htmlValue
}

type htmlValue struct {
	Key   string
	Value string
}

// HTML renders a standalone HTML report with a VU and iteration chart.
func HTML(data *Data) (string, error) {
	if data == nil {
		return "", fmt.Errorf("summary data cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"duration": formatDuration,
		"number":   func(n int64) string { return formatNumber(float64(n)) },
		"rfc3339":  func(t time.Time) string { return t.Format(time.RFC3339) },
	}).Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	series, err := json.Marshal(data.TimeSeries)
	if err != nil {
		return "", fmt.Errorf("failed to convert time series: %w", err)
	}
	if data.TimeSeries == nil {
		series = []byte("[]")
	}

	view := htmlView{Data: data, Rows: htmlRows(data.Metrics), SeriesJSON: template.JS(series)}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func htmlRows(snap *metrics.Snapshot) []htmlRow {
	if snap == nil {
		return nil
	}

	var rows []htmlRow
	for _, name := range snap.Names() {
		m := snap.Metrics[name]
		if m.Parent != "" {
			continue
		}
		rows = append(rows, htmlRow{Name: name, Kind: m.Kind.String(), Values: htmlValues(m)})
		for _, sub := range snap.Names() {
			sm := snap.Metrics[sub]
			if sm.Parent == name {
				rows = append(rows, htmlRow{Name: "{ " + sm.Tags.String() + " }", Sub: true, Kind: sm.Kind.String(), Values: htmlValues(sm)})
			}
		}
	}
	return rows
}

func htmlValues(m metrics.MetricSnapshot) []htmlValue {
	var keys []string
	switch m.Kind {
	case metrics.Counter:
		keys = []string{"count", "rate"}
	case metrics.Gauge:
		keys = []string{"value", "min", "max"}
	case metrics.Rate:
		keys = []string{"rate", "passes", "fails"}
	case metrics.Trend:
		keys = []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}
	}

	out := make([]htmlValue, 0, len(keys))
	for _, k := range keys {
		v := m.Values[k]
		var s string
		switch {
		case m.Kind == metrics.Rate && k == "rate":
			s = formatPercent(v)
		case m.Kind == metrics.Rate:
			s = formatNumber(v)
		case m.Kind == metrics.Counter && k == "rate":
			s = formatValue(v, m.Contains) + "/s"
		default:
			s = formatValue(v, m.Contains)
		}
		out = append(out, htmlValue{Key: k, Value: s})
	}
	return out
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Load test {{.RunID}}</title>
<script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
<style>
body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; margin: 2rem; color: #1e293b; background: #f8fafc; }
h1 { font-size: 1.4rem; }
.passed { color: #16a34a; } .failed { color: #dc2626; }
table { border-collapse: collapse; margin: 1rem 0; background: #fff; }
th, td { border: 1px solid #e2e8f0; padding: .3rem .6rem; text-align: left; font-size: .9rem; }
tr.sub td:first-child { padding-left: 1.6rem; color: #64748b; }
.chart { max-width: 900px; }
</style>
</head>
<body>
<h1>Run {{.RunID}} <span class="{{if .Passed}}passed{{else}}failed{{end}}">{{if .Passed}}passed{{else}}failed{{end}}</span></h1>
<p>Started {{rfc3339 .StartTime}}, ran for {{duration .Duration}}.{{if .Aborted}} Aborted: {{.AbortReason}}{{end}}</p>

<h2>Scenarios</h2>
<table>
<tr><th>Name</th><th>Executor</th><th>Iterations</th><th>Interrupted</th><th>Dropped</th><th>Peak VUs</th><th>Duration</th></tr>
{{range .Scenarios}}<tr><td>{{.Name}}</td><td>{{.Executor}}</td><td>{{number .Iterations}}</td><td>{{.Interrupted}}</td><td>{{.Dropped}}</td><td>{{.PeakVUs}}</td><td>{{duration .Duration}}</td></tr>
{{end}}</table>

{{if .Thresholds}}<h2>Thresholds</h2>
<table>
<tr><th></th><th>Metric</th><th>Expression</th><th>Value</th></tr>
{{range .Thresholds}}<tr><td class="{{if .Passed}}passed{{else}}failed{{end}}">{{if .Passed}}✓{{else}}✗{{end}}</td><td>{{.Metric}}</td><td>{{.Expression}}</td><td>{{.Value}}</td></tr>
{{end}}</table>{{end}}

<h2>Metrics</h2>
<table>
{{range .Rows}}<tr{{if .Sub}} class="sub"{{end}}><td>{{.Name}}</td><td>{{.Kind}}</td>{{range .Values}}<td>{{.Key}}={{.Value}}</td>{{end}}</tr>
{{end}}</table>

{{if .Errors}}<h2>Errors</h2><ul>{{range .Errors}}<li>{{.}}</li>{{end}}</ul>{{end}}

<div class="chart"><canvas id="series"></canvas></div>
<script>
const points = {{.SeriesJSON}};
if (points.length > 0 && window.Chart) {
  new Chart(document.getElementById('series'), {
    type: 'line',
    data: {
      labels: points.map(p => new Date(p.time).toLocaleTimeString()),
      datasets: [
        { label: 'VUs', data: points.map(p => p.vus), yAxisID: 'vus' },
        { label: 'iterations/interval', data: points.map(p => p.intervalIterations), yAxisID: 'its' }
      ]
    },
    options: { scales: { vus: { position: 'left' }, its: { position: 'right' } } }
  });
}
</script>
</body>
</html>
`
