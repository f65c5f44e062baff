package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/fundsim/internal/modules/performance"
)

func newRankCmd() *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Simulate every portfolio and rank portfolios and managers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			from, err := dateFlag("start", start, a.cfg.AnalysisStart)
			if err != nil {
				return err
			}
			to, err := dateFlag("end", end, a.cfg.AnalysisEnd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rankings, err := a.container.RunService.RunAll(ctx, from, to)
			if err != nil {
				return err
			}
			printRankings(cmd.OutOrStdout(), rankings)
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "First date (YYYY-MM-DD, default FUNDSIM_ANALYSIS_START)")
	cmd.Flags().StringVar(&end, "end", "", "Last date (YYYY-MM-DD, default FUNDSIM_ANALYSIS_END)")
	return cmd
}

func printRankings(out io.Writer, rankings *performance.Rankings) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "RANK\tPORTFOLIO\tCLIENT\tMANAGER\tSTRATEGY\tINITIAL\tFINAL\tPERF %")
	for i, p := range rankings.Portfolios {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%.2f\t%.2f\t%.2f\n",
			i+1, p.PortfolioID, p.Client, p.Manager, p.Strategy, p.InitialValue, p.FinalValue, p.PerformancePct)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "RANK\tMANAGER\tPORTFOLIOS\tAVG PERF %\tAUM")
	for i, m := range rankings.Managers {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.2f\t%.2f\n", i+1, m.Manager, m.Portfolios, m.AveragePerformancePct, m.TotalAUM)
	}
	_ = tw.Flush()
}
