// Package engine runs a load test through its lifecycle: setup, scenarios,
// teardown, threshold evaluation and summary.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/executor"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
	"github.com/masoud-msk/dev-stack/internal/performance/summary"
	"github.com/masoud-msk/dev-stack/internal/performance/timeline"
)

// Defaults for Options fields left zero.
const (
	DefaultSetupTimeout      = 60 * time.Second
	DefaultTeardownTimeout   = 60 * time.Second
	DefaultSampleInterval    = time.Second
	DefaultThresholdInterval = 2 * time.Second
)

// Options are the run-wide settings of an engine.
type Options struct {
	// Scenarios are already validated and scaled to the execution segment.
	Scenarios  []*executor.Config
	Thresholds []metrics.ThresholdSet

	SetupTimeout         time.Duration
	TeardownTimeout      time.Duration
	MinIterationDuration time.Duration

	// Env is the process environment exposed to every hook. Scenario env
	// entries override it.
	Env map[string]string

	// Metrics receives every sample. A new aggregator is used when nil.
	Metrics *metrics.Aggregator

	// Transports builds the per-VU transport, typically an HTTP client.
	Transports performance.TransportFactory

	SampleInterval    time.Duration
	ThresholdInterval time.Duration
}

func (o Options) setupTimeout() time.Duration {
	if o.SetupTimeout > 0 {
		return o.SetupTimeout
	}
	return DefaultSetupTimeout
}

func (o Options) teardownTimeout() time.Duration {
	if o.TeardownTimeout > 0 {
		return o.TeardownTimeout
	}
	return DefaultTeardownTimeout
}

type scenario struct {
	config *executor.Config
	exec   executor.Executor
	runner *performance.Runner
}

// Engine is the lifecycle manager of one test run.
//
// Example usage:
//
//	eng, _ := engine.New(opts, script, logger)
//	result, err := eng.Run(ctx)
//	_ = summary.Write(result.Outputs, os.Stdout, os.Stderr)
type Engine struct {
	opts   Options
	script *Script
	logger *zap.Logger

	agg    *metrics.Aggregator
	series *metrics.Series
	coord  *timeline.Coordinator
	run    *TestRun

	scenarios []*scenario

	mu      sync.Mutex
	started bool

	stopped atomic.Bool
	breach  atomic.Pointer[metrics.ThresholdResult]
}

// New validates the options against the script and prepares every
// scenario's executor. A nil logger discards logs.
func New(opts Options, script *Script, logger *zap.Logger) (*Engine, error) {
	if script == nil {
		return nil, &LifecycleError{Phase: PhaseInit, Err: fmt.Errorf("script is required")}
	}
	if len(opts.Scenarios) == 0 {
		return nil, &LifecycleError{Phase: PhaseInit, Err: fmt.Errorf("at least one scenario is required")}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewAggregator(logger)
	}

	names := make([]string, 0, len(opts.Scenarios))
	for _, cfg := range opts.Scenarios {
		names = append(names, cfg.Name)
	}

	e := &Engine{
		opts:   opts,
		script: script,
		logger: logger,
		agg:    opts.Metrics,
		series: metrics.NewSeries(0),
		run:    newTestRun(names),
	}
	e.logger = logger.With(zap.String("run_id", e.run.ID))
	e.coord = timeline.NewCoordinator(e.run.Clock, e.logger)

	if err := metrics.RegisterThresholds(e.agg, opts.Thresholds); err != nil {
		return nil, &LifecycleError{Phase: PhaseInit, Err: err}
	}

	for _, cfg := range opts.Scenarios {
		s, err := e.prepare(cfg)
		if err != nil {
			return nil, &LifecycleError{Phase: PhaseInit, Err: err}
		}
		e.scenarios = append(e.scenarios, s)
	}
	return e, nil
}

func (e *Engine) prepare(cfg *executor.Config) (*scenario, error) {
	fn, err := e.script.lookup(cfg.Exec)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", cfg.Name, err)
	}

	exec, err := executor.CreateAndInitExecutor(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", cfg.Name, err)
	}

	env := make(map[string]string, len(e.opts.Env)+len(cfg.Env))
	for k, v := range e.opts.Env {
		env[k] = v
	}
	for k, v := range cfg.Env {
		env[k] = v
	}

	s := &scenario{
		config: cfg,
		exec:   exec,
		runner: &performance.Runner{
			Scenario:             cfg.Name,
			Exec:                 fn,
			Env:                  env,
			Tags:                 cfg.Tags,
			Metrics:              e.agg,
			Logger:               e.logger,
			MinIterationDuration: e.opts.MinIterationDuration,
		},
	}

	execEnv := &executor.Env{
		Runner:     s.runner,
		Metrics:    e.agg,
		Logger:     e.logger,
		Transports: e.opts.Transports,
	}
	err = e.coord.Add(timeline.Entry{
		Name:         cfg.Name,
		StartTime:    cfg.StartTime,
		Duration:     cfg.RegularDuration(),
		GracefulStop: cfg.GracefulWindow(),
		Run: func(ctx context.Context) error {
			return exec.Run(ctx, execEnv)
		},
		Stop: exec.Stop,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Run executes the whole lifecycle and returns its result. The returned error
// is the first fatal lifecycle error; threshold failures only clear
// Result.Passed. Teardown and summary run even when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	e.started = true
	e.mu.Unlock()

	result := &Result{RunID: e.run.ID, StartTime: time.Now()}
	e.agg.ResetStart(result.StartTime)
	e.logger.Info("test run starting", zap.Int("scenarios", len(e.scenarios)))

	e.run.setStatus(StatusSetup)
	data, err := e.setup(ctx)
	if err != nil {
		result.addError(PhaseSetup, err)
		e.logger.Error("setup failed, no scenario will start", zap.Error(err))
		return e.finish(result, false), result.Err()
	}
	e.run.setData(data)
	for _, s := range e.scenarios {
		s.runner.Data = data
	}

	e.run.setStatus(StatusRunning)
	if err := e.runScenarios(ctx); err != nil {
		result.addError(PhaseScenarios, err)
	}

	e.run.setStatus(StatusTeardown)
	if err := e.teardown(ctx, data); err != nil {
		result.addError(PhaseTeardown, err)
		e.logger.Error("teardown failed", zap.Error(err))
	}

	return e.finish(result, true), result.Err()
}

// runScenarios starts the coordinator along with the VU sampler and, when
// needed, the threshold watcher.
func (e *Engine) runScenarios(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.sample(runCtx)
	}()

	if metrics.HasAbortable(e.opts.Thresholds) {
		watcher := &metrics.Watcher{
			Aggregator: e.agg,
			Sets:       e.opts.Thresholds,
			Interval:   e.opts.ThresholdInterval,
			OnBreach:   e.onBreach,
			Logger:     e.logger,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			watcher.Run(runCtx)
		}()
	}

	err := e.coord.Run(runCtx)
	cancel()
	wg.Wait()
	e.recordVUs()
	return err
}

func (e *Engine) sample(ctx context.Context) {
	interval := e.opts.SampleInterval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	e.recordVUs()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.recordVUs()
		}
	}
}

func (e *Engine) recordVUs() {
	active := e.ActiveVUs()
	maxVUs := 0
	for _, s := range e.scenarios {
		if e.coord.Started(s.config.Name) {
			maxVUs += s.config.MaxPoolVUs()
		}
	}
	e.agg.Emit(metrics.VUs, metrics.Gauge, float64(active), nil)
	e.agg.Emit(metrics.VUsMax, metrics.Gauge, float64(maxVUs), nil)
	e.series.Record(e.agg, active)
}

func (e *Engine) onBreach(res metrics.ThresholdResult) {
	if !e.breach.CompareAndSwap(nil, &res) {
		return
	}
	e.coord.Stop(false)
}

// finish evaluates thresholds, renders the summary and completes result.
func (e *Engine) finish(result *Result, ranScenarios bool) *Result {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	for _, s := range e.scenarios {
		result.Scenarios = append(result.Scenarios, &ScenarioResult{
			Name:     s.config.Name,
			Executor: string(s.config.Type),
			Window:   e.window(s.config.Name),
			Started:  e.coord.Started(s.config.Name),
			Stats:    s.exec.GetStats(),
		})
	}

	thresholdsPassed := true
	if ranScenarios {
		result.Thresholds, thresholdsPassed = metrics.EvaluateThresholds(e.agg, e.opts.Thresholds)
	}
	if breach := e.breach.Load(); breach != nil {
		result.Aborted = true
		result.AbortReason = fmt.Sprintf("threshold %q on %s crossed", breach.Expression, breach.Metric)
		for i := range result.Thresholds {
			t := &result.Thresholds[i]
			if t.Metric == breach.Metric && t.Expression == breach.Expression {
				t.Aborted = true
			}
		}
	}
	result.Interrupted = e.stopped.Load()
	result.Metrics = e.agg.Snapshot()
	result.TimeSeries = e.series.Points()
	result.Passed = thresholdsPassed && result.Err() == nil

	switch {
	case result.Aborted:
		result.Status = StatusAborted
	case result.Interrupted:
		result.Status = StatusInterrupt
	case result.Passed:
		result.Status = StatusPassed
	default:
		result.Status = StatusFailed
	}

	e.run.setStatus(StatusSummary)
	result.Outputs = e.summarize(result)
	e.run.setStatus(result.Status)

	e.logger.Info("test run finished",
		zap.String("status", string(result.Status)),
		zap.Duration("duration", result.Duration),
		zap.Bool("passed", result.Passed))
	return result
}

func (e *Engine) window(name string) timeline.Window {
	for _, w := range e.coord.Plan() {
		if w.Name == name {
			return w
		}
	}
	return timeline.Window{Name: name}
}

// Stop ends the run early. Pending scenarios never start; running ones stop
// gracefully or are interrupted. Teardown and summary still run.
func (e *Engine) Stop(graceful bool) {
	if e.stopped.Swap(true) {
		return
	}
	e.logger.Info("stopping test run", zap.Bool("graceful", graceful))
	e.coord.Stop(graceful)
}

// Stopped reports whether Stop has been called or an abort threshold fired.
func (e *Engine) Stopped() bool {
	return e.stopped.Load() || e.breach.Load() != nil
}

// TestRun returns the run identity and state.
func (e *Engine) TestRun() *TestRun {
	return e.run
}

// Metrics returns the run's aggregator.
func (e *Engine) Metrics() *metrics.Aggregator {
	return e.agg
}

// Snapshot returns the current aggregates.
func (e *Engine) Snapshot() *metrics.Snapshot {
	return e.agg.Snapshot()
}

// TimeSeries returns the sampled VU and iteration series.
func (e *Engine) TimeSeries() []metrics.Point {
	return e.series.Points()
}

// Executor returns the executor of the named scenario.
func (e *Engine) Executor(name string) (executor.Executor, bool) {
	for _, s := range e.scenarios {
		if s.config.Name == name {
			return s.exec, true
		}
	}
	return nil, false
}

// Controllable returns the scenarios whose VU count can change at runtime.
func (e *Engine) Controllable() map[string]executor.Controllable {
	out := make(map[string]executor.Controllable)
	for _, s := range e.scenarios {
		if c, ok := s.exec.(executor.Controllable); ok {
			out[s.config.Name] = c
		}
	}
	return out
}

// Stats returns current stats for all scenarios.
func (e *Engine) Stats() map[string]*executor.Stats {
	stats := make(map[string]*executor.Stats, len(e.scenarios))
	for _, s := range e.scenarios {
		stats[s.config.Name] = s.exec.GetStats()
	}
	return stats
}

// ActiveVUs sums the live VUs of every scenario.
func (e *Engine) ActiveVUs() int {
	n := 0
	for _, s := range e.scenarios {
		n += s.exec.GetActiveVUs()
	}
	return n
}

// Progress returns the mean progress of all scenarios (0.0 to 1.0).
func (e *Engine) Progress() float64 {
	if len(e.scenarios) == 0 {
		return 0
	}
	var total float64
	for _, s := range e.scenarios {
		total += s.exec.GetProgress()
	}
	return total / float64(len(e.scenarios))
}

// summarize runs the summary hook, falling back to the default text summary
// when the hook fails.
func (e *Engine) summarize(result *Result) map[string]string {
	hook := e.script.HandleSummary
	if hook == nil {
		hook = summary.DefaultHook
	}

	data := result.summaryData(e.run.SetupData().Raw())
	outputs, err := e.callSummary(hook, data)
	if err == nil {
		return outputs
	}

	result.addError(PhaseSummary, err)
	e.logger.Warn("summary hook failed, using the default summary", zap.Error(err))
	outputs, err = e.callSummary(summary.DefaultHook, data)
	if err != nil {
		e.logger.Error("default summary failed", zap.Error(err))
		return nil
	}
	return outputs
}

func (e *Engine) callSummary(hook summary.Hook, data *summary.Data) (outputs map[string]string, err error) {
	err = protect(func() error {
		var herr error
		outputs, herr = hook(data)
		return herr
	})
	return outputs, err
}
