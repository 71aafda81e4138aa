package summary

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// DefaultTrendStats are the trend aggregates shown when none are configured.
var DefaultTrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)"}

// TextOptions controls the text renderer.
type TextOptions struct {
	Colors     bool
	Indent     string
	TrendStats []string
}

// DefaultTextOptions enables colors when w is a terminal and NO_COLOR is not
// set.
func DefaultTextOptions(w io.Writer) TextOptions {
	return TextOptions{
		Colors:     isTerminal(w) && os.Getenv("NO_COLOR") == "",
		Indent:     "     ",
		TrendStats: DefaultTrendStats,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// palette holds the colors used by the text renderer.
type palette struct {
	ok     *color.Color
	fail   *color.Color
	warn   *color.Color
	name   *color.Color
	value  *color.Color
	dim    *color.Color
	header *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		ok:     color.New(color.FgGreen),
		fail:   color.New(color.FgRed),
		warn:   color.New(color.FgYellow),
		name:   color.New(color.FgWhite),
		value:  color.New(color.FgCyan),
		dim:    color.New(color.Faint),
		header: color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.ok, p.fail, p.warn, p.name, p.value, p.dim, p.header} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) mark(passed bool) string {
	if passed {
		return p.ok.Sprint("✓")
	}
	return p.fail.Sprint("✗")
}

// Text renders the human readable summary.
func Text(data *Data, opts TextOptions) (string, error) {
	if data == nil {
		return "", fmt.Errorf("summary data cannot be nil")
	}
	if len(opts.TrendStats) == 0 {
		opts.TrendStats = DefaultTrendStats
	}

	t := &textRenderer{opts: opts, p: newPalette(opts.Colors)}
	t.header(data)
	t.scenarios(data)
	t.thresholds(data)
	t.metrics(data.Metrics)
	t.errors(data)
	return t.b.String(), nil
}

type textRenderer struct {
	b    strings.Builder
	opts TextOptions
	p    palette
}

func (t *textRenderer) line(format string, args ...any) {
	t.b.WriteString(t.opts.Indent)
	fmt.Fprintf(&t.b, format, args...)
	t.b.WriteByte('\n')
}

func (t *textRenderer) blank() { t.b.WriteByte('\n') }

func (t *textRenderer) header(data *Data) {
	status := t.p.ok.Sprint("passed")
	if !data.Passed {
		status = t.p.fail.Sprint("failed")
	}
	t.blank()
	t.line("%s %s %s", t.p.header.Sprint("run"), t.p.dim.Sprint(data.RunID), status)
	if data.Aborted {
		t.line("%s %s", t.p.warn.Sprint("aborted:"), data.AbortReason)
	}
	t.blank()
}

func (t *textRenderer) scenarios(data *Data) {
	if len(data.Scenarios) == 0 {
		return
	}

	word := "scenarios"
	if len(data.Scenarios) == 1 {
		word = "scenario"
	}
	t.line("%s %d %s, %d max VUs, %s duration",
		t.p.header.Sprint("scenarios:"),
		len(data.Scenarios), word, data.MaxVUs(), formatDuration(data.Duration))

	for _, s := range data.Scenarios {
		if !s.Started {
			t.line("  * %s: %s, not started", s.Name, s.Executor)
			continue
		}
		var extra []string
		if s.Interrupted > 0 {
			extra = append(extra, fmt.Sprintf("%d interrupted", s.Interrupted))
		}
		if s.Dropped > 0 {
			extra = append(extra, t.p.warn.Sprintf("%d dropped", s.Dropped))
		}
		suffix := ""
		if len(extra) > 0 {
			suffix = " (" + strings.Join(extra, ", ") + ")"
		}
		t.line("  * %s: %s, %s iterations, %d peak VUs, %s%s",
			s.Name, s.Executor, formatNumber(float64(s.Iterations)), s.PeakVUs, formatDuration(s.Duration), suffix)
	}
	t.blank()
}

func (t *textRenderer) thresholds(data *Data) {
	if len(data.Thresholds) == 0 {
		return
	}
	t.line("%s", t.p.header.Sprint("thresholds:"))
	for _, r := range data.Thresholds {
		msg := fmt.Sprintf("%s: %s", r.Metric, r.Expression)
		if r.Message != "" {
			msg += " " + t.p.dim.Sprintf("(%s)", r.Message)
		}
		if r.Aborted {
			msg += " " + t.p.warn.Sprint("aborted the run")
		}
		t.line("  %s %s", t.p.mark(r.Passed), msg)
	}
	t.blank()
}

func (t *textRenderer) metrics(snap *metrics.Snapshot) {
	if snap == nil || len(snap.Metrics) == 0 {
		return
	}

	var parents []string
	subs := make(map[string][]string)
	width := 0
	for _, name := range snap.Names() {
		m := snap.Metrics[name]
		label := name
		if m.Parent != "" {
			subs[m.Parent] = append(subs[m.Parent], name)
			label = "  { " + m.Tags.String() + " }"
		} else {
			parents = append(parents, name)
		}
		if len(label) > width {
			width = len(label)
		}
	}
	width += 3

	for _, name := range parents {
		m := snap.Metrics[name]
		t.metricLine(name, m, width)
		children := subs[name]
		sort.Strings(children)
		for _, sub := range children {
			sm := snap.Metrics[sub]
			t.metricLine("  { "+sm.Tags.String()+" }", sm, width)
		}
	}
	t.blank()
}

func (t *textRenderer) metricLine(label string, m metrics.MetricSnapshot, width int) {
	dots := strings.Repeat(".", width-len(label))
	t.line("%s%s: %s", t.p.name.Sprint(label), t.p.dim.Sprint(dots), t.values(m))
}

func (t *textRenderer) values(m metrics.MetricSnapshot) string {
	v := m.Values
	switch m.Kind {
	case metrics.Counter:
		return fmt.Sprintf("%s %s",
			t.p.value.Sprint(formatValue(v["count"], m.Contains)),
			t.p.dim.Sprintf("%s/s", formatValue(v["rate"], m.Contains)))
	case metrics.Gauge:
		return fmt.Sprintf("%s %s",
			t.p.value.Sprint(formatValue(v["value"], m.Contains)),
			t.p.dim.Sprintf("min=%s max=%s", formatValue(v["min"], m.Contains), formatValue(v["max"], m.Contains)))
	case metrics.Rate:
		return fmt.Sprintf("%s %s %s",
			t.p.value.Sprint(formatPercent(v["rate"])),
			t.p.ok.Sprintf("✓ %s", formatNumber(v["passes"])),
			t.p.fail.Sprintf("✗ %s", formatNumber(v["fails"])))
	case metrics.Trend:
		parts := make([]string, 0, len(t.opts.TrendStats))
		for _, stat := range t.opts.TrendStats {
			val, ok := v[stat]
			if !ok {
				continue
			}
			parts = append(parts, stat+"="+t.p.value.Sprint(formatValue(val, m.Contains)))
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

func (t *textRenderer) errors(data *Data) {
	if len(data.Errors) == 0 {
		return
	}
	t.line("%s", t.p.fail.Sprint("errors:"))
	for _, e := range data.Errors {
		t.line("  %s", e)
	}
	t.blank()
}
