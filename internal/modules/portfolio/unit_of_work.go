package portfolio

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/fundsim/internal/database"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/modules/ledger"
)

// UnitOfWork is a PortfolioRepository that also commits a whole period
// (positions, cash, value and ledger rows) in one SQL transaction.
// It implements domain.PeriodCommitter.
type UnitOfWork struct {
	*PortfolioRepository
}

// NewUnitOfWork wraps repo. The trades table must live in the same database.
func NewUnitOfWork(repo *PortfolioRepository) *UnitOfWork {
	return &UnitOfWork{PortfolioRepository: repo}
}

// CommitPeriod implements domain.PeriodCommitter. Either every row is written
// or none is.
func (u *UnitOfWork) CommitPeriod(ctx context.Context, portfolioID int64, positions []domain.Position, cash domain.Cash, totalValue float64, trades []domain.Trade) error {
	var inserted int
	err := database.WithTransaction(ctx, u.db, func(tx *sql.Tx) error {
		if err := writePositionsTx(ctx, tx, portfolioID, positions, cash, totalValue); err != nil {
			return err
		}

		var err error
		inserted, err = ledger.InsertTrades(ctx, tx, trades)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to commit period: %w", err)
	}

	u.log.Debug().
		Int64("portfolio_id", portfolioID).
		Int("trades", inserted).
		Float64("value", totalValue).
		Msg("Period committed")
	return nil
}
