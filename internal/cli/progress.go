package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/masoud-msk/dev-stack/internal/performance/executor"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// ANSI cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	progressFilled = "█"
	progressEmpty  = "░"
	barWidth       = 30
)

// progressSource is the part of the engine the live display reads.
type progressSource interface {
	Stats() map[string]*executor.Stats
	Snapshot() *metrics.Snapshot
}

// progress renders a live per-scenario view of a running test. On a
// terminal the block is redrawn in place, elsewhere each frame is appended.
type progress struct {
	w        io.Writer
	src      progressSource
	tty      bool
	interval time.Duration
	drawn    int

	name, dim, good, warn, bad *color.Color
}

func newProgress(w io.Writer, src progressSource) *progress {
	p := &progress{
		w:        w,
		src:      src,
		tty:      isTerminal(w),
		interval: time.Second,
		name:     color.New(color.FgCyan, color.Bold),
		dim:      color.New(color.Faint),
		good:     color.New(color.FgGreen),
		warn:     color.New(color.FgYellow),
		bad:      color.New(color.FgRed),
	}
	for _, c := range []*color.Color{p.name, p.dim, p.good, p.warn, p.bad} {
		if p.tty {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	if !p.tty {
		p.interval = 10 * time.Second
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Run draws a frame every interval until ctx is done, then draws the last
// one.
func (p *progress) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.draw()
			return
		case <-ticker.C:
			p.draw()
		}
	}
}

func (p *progress) draw() {
	lines := p.render()
	if p.tty && p.drawn > 0 {
		fmt.Fprintf(p.w, cursorUp, p.drawn)
	}
	for _, line := range lines {
		if p.tty {
			fmt.Fprint(p.w, clearLine)
		}
		fmt.Fprintln(p.w, line)
	}
	p.drawn = len(lines)
}

func (p *progress) render() []string {
	stats := p.src.Stats()
	names := make([]string, 0, len(stats))
	width := 0
	for name := range stats {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names)+1)
	lines = append(lines, p.header(p.src.Snapshot()))
	for _, name := range names {
		lines = append(lines, p.scenarioLine(stats[name], width))
	}
	return lines
}

func (p *progress) header(snap *metrics.Snapshot) string {
	reqs := snap.Metrics[metrics.HTTPReqs].Values
	failed := snap.Metrics[metrics.HTTPReqFailed].Values["rate"]
	iterations := snap.Metrics[metrics.Iterations].Values["count"]
	p95 := snap.Metrics[metrics.HTTPReqDuration].Values["p(95)"]

	style := p.good
	if failed > 0.01 {
		style = p.warn
	}
	if failed > 0.05 {
		style = p.bad
	}

	return fmt.Sprintf("%s %s  %s %.0f  %s %.0f (%.1f/s)  %s %s  %s %.1fms",
		p.dim.Sprint("elapsed"), formatClock(snap.Elapsed),
		p.dim.Sprint("iterations"), iterations,
		p.dim.Sprint("requests"), reqs["count"], reqs["rate"],
		p.dim.Sprint("failed"), style.Sprintf("%.2f%%", failed*100),
		p.dim.Sprint("p(95)"), p95)
}

func (p *progress) scenarioLine(s *executor.Stats, width int) string {
	frac := fraction(s)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %3.0f%% %s  %d/%d VUs  %d complete",
		p.name.Sprintf("%-*s", width, s.Name),
		p.good.Sprint(bar(frac, barWidth)),
		frac*100,
		formatClock(s.Elapsed),
		s.ActiveVUs, s.MaxVUs,
		s.Iterations)
	if s.Interrupted > 0 {
		fmt.Fprintf(&b, ", %s", p.warn.Sprintf("%d interrupted", s.Interrupted))
	}
	if s.Dropped > 0 {
		fmt.Fprintf(&b, ", %s", p.bad.Sprintf("%d dropped", s.Dropped))
	}
	if s.TotalStages > 0 {
		fmt.Fprintf(&b, "  stage %d/%d", s.CurrentStage, s.TotalStages)
	}
	if s.CurrentRate > 0 {
		fmt.Fprintf(&b, "  %.2f iters/unit", s.CurrentRate)
	}
	if s.Done {
		b.WriteString("  " + p.dim.Sprint("done"))
	}
	return b.String()
}

// fraction estimates scenario completion from its iteration budget, or its
// elapsed time when the budget is open.
func fraction(s *executor.Stats) float64 {
	var f float64
	switch {
	case s.Done:
		f = 1
	case s.TotalIterations > 0:
		f = float64(s.Iterations+s.Interrupted) / float64(s.TotalIterations)
	case s.TotalDuration > 0:
		f = float64(s.Elapsed) / float64(s.TotalDuration)
	}
	return min(max(f, 0), 1)
}

func bar(frac float64, width int) string {
	filled := int(frac * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatClock renders d as m:ss or h:mm:ss.
func formatClock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
