package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/masoud-msk/dev-stack/internal/performance/config"
)

func newValidateCmd(g *globals) *cobra.Command {
	var (
		segment string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Check a configuration file without running it",
		Long: `Validate loads a configuration with the same rules as run, including
environment overrides, and prints the resolved scenarios.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := config.NewEnv()
			if err := env.BindPFlag(config.EnvExecutionSegment, cmd.Flags().Lookup("execution-segment")); err != nil {
				return err
			}
			cfg, err := (&config.Loader{Env: env}).Load(args[0])
			if err != nil {
				return &ExitError{Code: ExitInvalidConfig, Err: err}
			}
			g.logger.Debug("configuration is valid")

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg.Scenarios)
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
	cmd.Flags().StringVar(&segment, "execution-segment", "", "Resolve the scenarios for this execution segment")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the resolved scenarios as JSON")
	return cmd
}

func printConfig(out io.Writer, cfg *config.Config) {
	w := tabwriter.NewWriter(out, 1, 1, 2, ' ', 0)
	fmt.Fprintf(w, "SCENARIO\tEXECUTOR\tSTART\tDURATION\tGRACEFUL\tMAX VUS\tEXEC\n")
	for _, sc := range cfg.Scenarios {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			sc.Name, sc.Type, sc.StartTime, sc.RegularDuration(), sc.GracefulWindow(), sc.MaxPoolVUs(), sc.Exec)
	}
	w.Flush()

	thresholds := 0
	for _, set := range cfg.Thresholds {
		thresholds += len(set.Thresholds)
	}
	fmt.Fprintf(out, "\nsegment %s, %d threshold(s) on %d metric(s)\n", cfg.Segment, thresholds, len(cfg.Thresholds))
}
