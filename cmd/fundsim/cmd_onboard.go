package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/modules/portfolio"
)

func newOnboardCmd() *cobra.Command {
	var (
		clientName string
		country    string
		risk       string
		amount     float64
		manager    string
		sector     string
		tickers    []string
	)

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Create a client and open a portfolio for them",
		Long: `Create a client and a portfolio over already imported instruments. The portfolio
goes to the manager running the client's strategy with the fewest portfolios; when
nobody runs it, --manager names a new manager for it.

Example:
  fundsim onboard --client "Jane Doe" --risk "Low Risk" --amount 100000 \
    --sector Technology --tickers AAPL,MSFT,NVDA,GOOG,META --manager "John Smith"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := domain.ParseStrategyKind(risk)
			if err != nil {
				return err
			}
			if amount <= 0 {
				return fmt.Errorf("--amount must be positive")
			}

			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			repo := a.container.PortfolioRepo

			ids := make([]int64, 0, len(tickers))
			for _, t := range tickers {
				inst, err := a.container.InstrumentRepo.GetByTicker(ctx, strings.TrimSpace(t))
				if err != nil {
					return fmt.Errorf("%w (import its history first)", err)
				}
				ids = append(ids, inst.ID)
			}

			m, err := repo.FindManager(ctx, strategy)
			if err != nil {
				return err
			}
			if m == nil {
				if manager == "" {
					return fmt.Errorf("no manager runs %s; pass --manager to create one", strategy.Label())
				}
				if m, err = repo.CreateManager(ctx, portfolio.Manager{
					Name:       manager,
					Strategies: []domain.StrategyKind{strategy},
				}); err != nil {
					return err
				}
			}

			client, err := repo.CreateClient(ctx, portfolio.Client{
				Name:             clientName,
				Country:          country,
				RiskProfile:      strategy.Label(),
				InvestmentAmount: amount,
			})
			if err != nil {
				return err
			}

			p, err := repo.CreatePortfolio(ctx, domain.Portfolio{
				ManagerID: m.ID,
				ClientID:  client.ID,
				Name:      fmt.Sprintf("%s %s", client.Name, strategy.Label()),
				Strategy:  strategy,
				Sector:    sector,
				Value:     amount,
			}, ids)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Portfolio %d opened for %s, managed by %s (%s, %d instruments)\n",
				p.ID, client.Name, m.Name, strategy.Label(), p.Size)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientName, "client", "", "Client name")
	cmd.Flags().StringVar(&country, "country", "", "Client country")
	cmd.Flags().StringVar(&risk, "risk", "", "Risk profile: Low Risk, Medium Risk or High Risk")
	cmd.Flags().Float64Var(&amount, "amount", 0, "Investment amount")
	cmd.Flags().StringVar(&manager, "manager", "", "Manager to create when nobody runs the strategy")
	cmd.Flags().StringVar(&sector, "sector", "", "Target sector")
	cmd.Flags().StringSliceVar(&tickers, "tickers", nil, "Comma-separated instrument tickers")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("risk")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("tickers")
	return cmd
}
