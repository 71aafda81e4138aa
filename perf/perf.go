package perf

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	lhttp "github.com/masoud-msk/dev-stack/internal/http"
	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/config"
	"github.com/masoud-msk/dev-stack/internal/performance/engine"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
	"github.com/masoud-msk/dev-stack/internal/performance/summary"
)

// Types a test program works with.
type (
	Config        = config.Config
	Script        = engine.Script
	Iteration     = performance.Iteration
	IterationFunc = performance.IterationFunc
	Result        = engine.Result
	Status        = engine.Status
	Engine        = engine.Engine
	Format        = config.Format
)

// Configuration formats.
const (
	FormatYAML = config.FormatYAML
	FormatJSON = config.FormatJSON
)

// Load reads a YAML or JSON configuration, applying LOADRUN_ environment
// overrides.
func Load(path string) (*Config, error) {
	return config.Load(path)
}

// Parse decodes a configuration document.
func Parse(data []byte, format Format) (*Config, error) {
	return config.Parse(data, format)
}

// Runner runs one configuration with one script.
type Runner struct {
	Config *Config
	Script *Script

	// Env is exposed to every hook. The process environment is used when
	// nil.
	Env map[string]string

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// NewRunner creates a runner with the process environment and no logging.
func NewRunner(cfg *Config, script *Script) *Runner {
	return &Runner{Config: cfg, Script: script}
}

// Build wires the metrics aggregator, the HTTP transport and the engine
// without starting anything. Use it to drive the engine yourself, for
// instance behind the control API.
func (r *Runner) Build() (*Engine, error) {
	if r.Config == nil {
		return nil, fmt.Errorf("runner has no configuration")
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	env := r.Env
	if env == nil {
		env = Environ()
	}

	agg := metrics.NewAggregator(logger)
	factory, err := lhttp.NewFactory(r.Config.HTTP, agg, logger)
	if err != nil {
		return nil, fmt.Errorf("http transport: %w", err)
	}

	return engine.New(engine.Options{
		Scenarios:            r.Config.Scenarios,
		Thresholds:           r.Config.Thresholds,
		SetupTimeout:         r.Config.SetupTimeout,
		TeardownTimeout:      r.Config.TeardownTimeout,
		MinIterationDuration: r.Config.MinIterationDuration,
		Env:                  env,
		Metrics:              agg,
		Transports:           factory.NewTransport,
	}, r.Script, logger)
}

// Run builds the engine and runs the whole test. The result is returned
// even when err is set, unless the engine could not be built.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	eng, err := r.Build()
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx)
}

// WriteSummary writes the rendered summaries of a result.
func WriteSummary(res *Result, stdout, stderr io.Writer) error {
	return summary.Write(res.Outputs, stdout, stderr)
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
