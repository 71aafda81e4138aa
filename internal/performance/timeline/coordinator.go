package timeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Entry is one scenario registered with the coordinator.
type Entry struct {
	Name string

	// StartTime is the offset from the run origin.
	StartTime time.Duration

	// Duration is the scenario's regular duration; GracefulStop is the extra
	// window in-flight iterations get after it.
	Duration     time.Duration
	GracefulStop time.Duration

	// Run drives the scenario and blocks until it terminates.
	Run func(ctx context.Context) error

	// Stop ends the scenario early. graceful=false interrupts iterations.
	Stop func(graceful bool)
}

// Window is the resolved absolute schedule of a scenario.
type Window struct {
	Name       string        `json:"name"`
	Start      time.Duration `json:"start"`
	RegularEnd time.Duration `json:"regularEnd"`
	MaxEnd     time.Duration `json:"maxEnd"`
}

// Coordinator launches scenarios at their offsets from the run origin and
// waits for all of them to terminate.
type Coordinator struct {
	clock  *Clock
	logger *zap.Logger

	entries []Entry

	mu      sync.Mutex
	started map[string]Entry
	stopped bool
	stopCh  chan struct{}
}

// NewCoordinator creates a coordinator bound to the given clock.
func NewCoordinator(clock *Clock, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		clock:   clock,
		logger:  logger,
		started: make(map[string]Entry),
		stopCh:  make(chan struct{}),
	}
}

// Add registers a scenario. Names must be unique.
func (c *Coordinator) Add(e Entry) error {
	if e.Run == nil {
		return fmt.Errorf("scenario %q has no run function", e.Name)
	}
	if e.StartTime < 0 {
		return fmt.Errorf("scenario %q: startTime must be >= 0", e.Name)
	}
	for _, existing := range c.entries {
		if existing.Name == e.Name {
			return fmt.Errorf("duplicate scenario name %q", e.Name)
		}
	}
	c.entries = append(c.entries, e)
	return nil
}

// Plan returns every scenario's window ordered by start offset.
func (c *Coordinator) Plan() []Window {
	windows := make([]Window, 0, len(c.entries))
	for _, e := range c.entries {
		windows = append(windows, Window{
			Name:       e.Name,
			Start:      e.StartTime,
			RegularEnd: e.StartTime + e.Duration,
			MaxEnd:     e.StartTime + e.Duration + e.GracefulStop,
		})
	}
	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].Start < windows[j].Start
	})
	return windows
}

// EndOffset is the latest point at which any scenario may still be running.
func (c *Coordinator) EndOffset() time.Duration {
	var end time.Duration
	for _, w := range c.Plan() {
		if w.MaxEnd > end {
			end = w.MaxEnd
		}
	}
	return end
}

// Run starts the clock and every scenario at its offset, then blocks until
// all started scenarios return. Scenarios whose offset is not reached before
// a stop never start. The first scenario error is returned.
func (c *Coordinator) Run(ctx context.Context) error {
	origin := c.clock.Start()

	var g errgroup.Group
	for _, e := range c.entries {
		e := e
		g.Go(func() error {
			if !c.waitForStart(ctx, origin.Add(e.StartTime)) {
				c.logger.Debug("scenario not started", zap.String("scenario", e.Name))
				return nil
			}
			if !c.markStarted(e) {
				return nil
			}

			c.logger.Debug("scenario started",
				zap.String("scenario", e.Name),
				zap.Duration("offset", c.clock.Elapsed()))

			if err := e.Run(ctx); err != nil {
				return fmt.Errorf("scenario %q: %w", e.Name, err)
			}

			c.logger.Debug("scenario finished",
				zap.String("scenario", e.Name),
				zap.Duration("at", c.clock.Elapsed()))
			return nil
		})
	}
	return g.Wait()
}

// Stop prevents pending scenarios from starting and stops the running ones.
func (c *Coordinator) Stop(graceful bool) {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		close(c.stopCh)
	}
	running := make([]Entry, 0, len(c.started))
	for _, e := range c.started {
		running = append(running, e)
	}
	c.mu.Unlock()

	for _, e := range running {
		if e.Stop != nil {
			e.Stop(graceful)
		}
	}
}

// Started reports whether the named scenario has been launched.
func (c *Coordinator) Started(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.started[name]
	return ok
}

func (c *Coordinator) waitForStart(ctx context.Context, at time.Time) bool {
	wait := at.Sub(c.clock.Now())
	if wait <= 0 {
		select {
		case <-c.stopCh:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) markStarted(e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.started[e.Name] = e
	return true
}
