package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/fundsim/internal/modules/universe"
)

func newImportCmd() *cobra.Command {
	var (
		ticker  string
		sector  string
		company string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an instrument's price history from CSV",
		Long: `Import a daily or weekly price history. The CSV needs a Date column and one of
"Adj Close", "Close" or "Price". The instrument is created when the ticker is new.

Example:
  fundsim import --ticker AAPL --sector Technology --file data/AAPL.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", file, err)
			}
			defer f.Close()

			ctx := context.Background()
			inst, err := a.container.InstrumentRepo.GetOrCreate(ctx, universe.Instrument{
				Ticker:      ticker,
				Sector:      sector,
				CompanyName: company,
			})
			if err != nil {
				return err
			}

			n, err := a.container.HistoryRepo.ImportCSV(ctx, inst.ID, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d returns for %s (instrument %d)\n", n, inst.Ticker, inst.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&ticker, "ticker", "", "Instrument ticker")
	cmd.Flags().StringVar(&sector, "sector", "", "Instrument sector")
	cmd.Flags().StringVar(&company, "company", "", "Company name")
	cmd.Flags().StringVar(&file, "file", "", "CSV file path")
	_ = cmd.MarkFlagRequired("ticker")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
