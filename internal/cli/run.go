package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/control"
	"github.com/masoud-msk/dev-stack/internal/performance/config"
	"github.com/masoud-msk/dev-stack/internal/performance/engine"
	"github.com/masoud-msk/dev-stack/internal/sample"
	"github.com/masoud-msk/dev-stack/perf"
)

// Scripts are the iteration programs selectable with --script.
var Scripts = map[string]func(*zap.Logger) *engine.Script{
	"sample": sample.Script,
}

type runOptions struct {
	script        string
	segment       string
	rps           float64
	env           []string
	noControl     bool
	summaryExport string
	quiet         bool
}

func newRunCmd(g *globals) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run the scenarios of a configuration file",
		Long: `Run loads a YAML or JSON configuration, executes its scenarios with the
selected script and prints the end-of-test summary.

The first interrupt stops the run gracefully: running iterations finish
within their gracefulStop, then teardown and the summary run. A second
interrupt cancels everything that is still running.

Exit codes:
  0    all thresholds passed
  99   a threshold failed or aborted the run
  103  engine error
  104  invalid configuration
  105  the run was stopped before it completed
  106  the control API could not start
  107  setup or teardown failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, args[0], g, o)
		},
	}

	cmd.Flags().StringVarP(&o.script, "script", "s", "sample", "Script providing the iteration functions ("+strings.Join(scriptNames(), ", ")+")")
	cmd.Flags().StringVar(&o.segment, "execution-segment", "", "Run only this segment of the test, e.g. 1/2:1")
	cmd.Flags().Float64Var(&o.rps, "rps", 0, "Cap on requests per second across all VUs")
	cmd.Flags().StringArrayVarP(&o.env, "env", "e", nil, "Extra KEY=VALUE exposed to iterations (repeatable)")
	cmd.Flags().BoolVar(&o.noControl, "no-control", false, "Do not start the control API")
	cmd.Flags().StringVar(&o.summaryExport, "summary-export", "", "Write the run result as JSON to this file")
	cmd.Flags().BoolVarP(&o.quiet, "quiet", "q", false, "Disable the live progress display")
	return cmd
}

func scriptNames() []string {
	names := make([]string, 0, len(Scripts))
	for name := range Scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func runTest(cmd *cobra.Command, path string, g *globals, o *runOptions) error {
	logger := g.logger

	env := config.NewEnv()
	if err := env.BindPFlag(config.EnvExecutionSegment, cmd.Flags().Lookup("execution-segment")); err != nil {
		return err
	}
	if err := env.BindPFlag(config.EnvRPS, cmd.Flags().Lookup("rps")); err != nil {
		return err
	}
	cfg, err := (&config.Loader{Env: env}).Load(path)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}

	newScript, ok := Scripts[o.script]
	if !ok {
		return &ExitError{Code: ExitInvalidConfig, Err: fmt.Errorf("unknown script %q, available: %s", o.script, strings.Join(scriptNames(), ", "))}
	}
	scriptEnv, err := processEnv(o.env)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}

	runner := &perf.Runner{Config: cfg, Script: newScript(logger), Env: scriptEnv, Logger: logger}
	eng, err := runner.Build()
	if err != nil {
		return &ExitError{Code: ExitEngineError, Err: err}
	}

	if !o.noControl {
		srv := control.NewServer(eng, logger)
		if err := srv.Start(g.address); err != nil {
			return &ExitError{Code: ExitControlFailed, Err: err}
		}
		logger.Info("control API listening", zap.String("addr", srv.Addr()))
		defer func() {
			if err := srv.Shutdown(context.WithoutCancel(cmd.Context())); err != nil {
				logger.Warn("control API shutdown failed", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopOnSignal(ctx, eng, cancel, logger)

	var wg sync.WaitGroup
	progressCtx, stopProgress := context.WithCancel(ctx)
	if !o.quiet {
		p := newProgress(cmd.ErrOrStderr(), eng)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(progressCtx)
		}()
	}

	res, runErr := eng.Run(ctx)
	stopProgress()
	wg.Wait()

	if res != nil {
		if err := perf.WriteSummary(res, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
			logger.Error("failed to write summary", zap.Error(err))
		}
		if o.summaryExport != "" {
			if err := exportResult(o.summaryExport, res); err != nil {
				logger.Error("failed to export summary", zap.String("path", o.summaryExport), zap.Error(err))
			}
		}
	}

	if code := exitCode(res, runErr); code != ExitOK {
		return &ExitError{Code: code, Err: runErr}
	}
	return nil
}

// stopOnSignal stops the engine gracefully on the first SIGINT or SIGTERM
// and cancels the run on the second.
func stopOnSignal(ctx context.Context, eng *engine.Engine, cancel context.CancelFunc, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			logger.Warn("stopping test run, interrupt again to abort", zap.String("signal", sig.String()))
			eng.Stop(true)
		}
		select {
		case <-ctx.Done():
		case <-sigCh:
			logger.Warn("aborting test run")
			cancel()
		}
	}()
}

// exitCode maps the outcome of a run to the process exit code.
func exitCode(res *engine.Result, err error) int {
	if err != nil {
		var lerr *engine.LifecycleError
		if errors.As(err, &lerr) && (lerr.Phase == engine.PhaseSetup || lerr.Phase == engine.PhaseTeardown) {
			return ExitScriptError
		}
		return ExitEngineError
	}
	switch {
	case res == nil:
		return ExitEngineError
	case res.Aborted:
		return ExitThresholdsFailed
	case !res.Passed:
		return ExitThresholdsFailed
	case res.Interrupted:
		return ExitInterrupted
	}
	return ExitOK
}

// processEnv returns the process environment with the KEY=VALUE overrides
// applied.
func processEnv(overrides []string) (map[string]string, error) {
	env := perf.Environ()
	for _, kv := range overrides {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
		}
		env[k] = v
	}
	return env, nil
}

func exportResult(path string, res *engine.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
