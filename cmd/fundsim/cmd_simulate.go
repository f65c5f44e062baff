package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/modules/analysis"
	"github.com/aristath/fundsim/internal/modules/simulation"
)

func newSimulateCmd() *cobra.Command {
	var (
		portfolioID int64
		start       string
		end         string
		periods     bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate weekly rebalancing of one portfolio",
		Long: `Simulate a portfolio week by week from the first Monday on or after --start
through --end, then reinitialize it to the client's investment amount.

Examples:
  fundsim simulate --portfolio 3
  fundsim simulate --portfolio 3 --start 2024-01-01 --end 2024-06-30 --periods`,
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

			// Ctrl-C stops the run before the next period
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			var tw *tabwriter.Writer
			req := analysis.RunRequest{PortfolioID: portfolioID, Start: from, End: to}
			if periods {
				tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "DATE\tTRADES\tSKIPPED\tCASH\tVALUE")
				req.OnStep = func(step *simulation.StepResult) {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\n",
						step.Date.Format(config.DateLayout), len(step.Trades), len(step.Skips), step.Cash.Value, step.TotalValue)
				}
			}

			run, err := a.container.RunService.RunPortfolio(ctx, req)
			if tw != nil {
				_ = tw.Flush()
			}
			if err != nil {
				return err
			}

			printRun(out, run)
			return nil
		},
	}

	cmd.Flags().Int64Var(&portfolioID, "portfolio", 0, "Portfolio id")
	cmd.Flags().StringVar(&start, "start", "", "First date (YYYY-MM-DD, default FUNDSIM_ANALYSIS_START)")
	cmd.Flags().StringVar(&end, "end", "", "Last date (YYYY-MM-DD, default FUNDSIM_ANALYSIS_END)")
	cmd.Flags().BoolVar(&periods, "periods", false, "Print one line per simulated week")
	_ = cmd.MarkFlagRequired("portfolio")

	return cmd
}

func printRun(out io.Writer, run *analysis.Run) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", run.ID)
	fmt.Fprintf(tw, "Portfolio\t%d\n", run.PortfolioID)
	fmt.Fprintf(tw, "Periods\t%d\n", run.Periods)
	fmt.Fprintf(tw, "Trades\t%d\n", run.Trades)
	fmt.Fprintf(tw, "Initial value\t%.2f\n", run.InitialValue)
	fmt.Fprintf(tw, "Final value\t%.2f\n", run.FinalValue)
	fmt.Fprintf(tw, "Performance\t%.2f%%\n", run.PerformancePct)

	if m := run.Metrics; m != nil {
		fmt.Fprintf(tw, "Sharpe\t%.3f\n", m.Sharpe)
		fmt.Fprintf(tw, "Sortino\t%.3f\n", m.Sortino)
		fmt.Fprintf(tw, "Volatility\t%.2f%%\n", m.Volatility*100)
		fmt.Fprintf(tw, "Max drawdown\t%.2f%%\n", m.MaxDrawdown*100)

		tickers := make([]string, 0, len(m.Allocation))
		for ticker := range m.Allocation {
			tickers = append(tickers, ticker)
		}
		sort.Strings(tickers)
		for _, ticker := range tickers {
			fmt.Fprintf(tw, "Allocation %s\t%.2f%%\n", ticker, m.Allocation[ticker])
		}
	}
	_ = tw.Flush()
}
