// Package cli implements the loadrun command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/control"
)

var version = "0.1.0"

// Process exit codes.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitThresholdsFailed = 99
	ExitEngineError      = 103
	ExitInvalidConfig    = 104
	ExitInterrupted      = 105
	ExitControlFailed    = 106
	ExitScriptError      = 107
)

// ExitError carries a process exit code out of a command. A nil Err exits
// silently.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// globals holds the persistent flags and the logger built from them.
type globals struct {
	verbose bool
	address string
	logger  *zap.Logger
}

// NewRootCmd builds the loadrun command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{logger: zap.NewNop()}

	cmd := &cobra.Command{
		Use:     "loadrun",
		Short:   "Run declarative load test scenarios",
		Version: version,
		Long: `loadrun executes load test scenarios described in a YAML or JSON file.

Each scenario picks one of seven executors (constant-vus, ramping-vus,
constant-arrival-rate, ramping-arrival-rate, shared-iterations,
per-vu-iterations, externally-controlled). Thresholds decide whether the
run passes and a summary is printed when it ends.

While a test runs, its control API can be queried and the VU count of an
externally-controlled scenario changed:

  loadrun run configs/sample.yaml
  loadrun status
  loadrun scale --vus 10
  loadrun stop`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(g.verbose)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			g.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = g.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVarP(&g.address, "address", "a", control.DefaultAddr, "Address of the control API")

	cmd.AddCommand(
		newRunCmd(g),
		newValidateCmd(g),
		newStatusCmd(g),
		newScaleCmd(g),
		newStopCmd(g),
	)
	return cmd
}

// Execute runs the command line with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintln(stderr, "Error:", exit.Err)
		}
		return exit.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return ExitFailure
}

// newLogger returns a production logger, or a development one with debug
// level when verbose is set.
var newLogger = func(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
