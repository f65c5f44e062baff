package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	var portfolioID int64

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reinitialize a portfolio to its client's investment amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			value, err := a.container.RunService.ResetPortfolio(context.Background(), portfolioID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Portfolio %d reset to %.2f cash\n", portfolioID, value)
			return nil
		},
	}

	cmd.Flags().Int64Var(&portfolioID, "portfolio", 0, "Portfolio id")
	_ = cmd.MarkFlagRequired("portfolio")
	return cmd
}
