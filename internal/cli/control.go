package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/control"
)

const controlTimeout = 10 * time.Second

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
			defer cancel()

			st, err := control.NewClient(g.address).Status(ctx)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func newScaleCmd(g *globals) *cobra.Command {
	var (
		scenario string
		vus      int
		maxVUs   int
	)
	cmd := &cobra.Command{
		Use:   "scale",
		Short: "Change the VUs of an externally-controlled scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if vus < 0 {
				return fmt.Errorf("--vus must not be negative")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
			defer cancel()

			st, err := control.NewClient(g.address).Scale(ctx, scenario, vus, maxVUs)
			if err != nil {
				return err
			}
			g.logger.Info("scenario scaled", zap.String("scenario", scenario), zap.Int("vus", vus), zap.Int("max_vus", maxVUs))
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "", "Scenario to scale, required when several are externally controlled")
	cmd.Flags().IntVarP(&vus, "vus", "u", 0, "Number of active VUs")
	cmd.Flags().IntVarP(&maxVUs, "max-vus", "m", 0, "New VU ceiling, unchanged when zero")
	_ = cmd.MarkFlagRequired("vus")
	return cmd
}

func newStopCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
			defer cancel()

			st, err := control.NewClient(g.address).Stop(ctx)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func printStatus(out io.Writer, st *control.Status) {
	w := tabwriter.NewWriter(out, 1, 1, 1, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", st.RunID)
	fmt.Fprintf(w, "Status:\t%s\n", st.Status)
	fmt.Fprintf(w, "VUs:\t%d/%d\n", st.VUs, st.VUsMax)
	fmt.Fprintf(w, "Running:\t%t\n", st.Running)
	fmt.Fprintf(w, "Stopped:\t%t\n", st.Stopped)
	w.Flush()

	if len(st.Scenarios) == 0 {
		return
	}
	names := make([]string, 0, len(st.Scenarios))
	for name := range st.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 1, 1, 2, ' ', 0)
	fmt.Fprintf(w, "SCENARIO\tVUS\tMAX\tACTIVE\tSTATE\n")
	for _, name := range names {
		sc := st.Scenarios[name]
		state := "pending"
		switch {
		case sc.Stopped:
			state = "stopped"
		case sc.Running:
			state = "running"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", name, sc.VUs, sc.MaxVUs, sc.Active, state)
	}
	w.Flush()
}
