package domain

import (
	"context"
	"time"
)

// HistoryProvider supplies trailing returns and last known prices as of a date
type HistoryProvider interface {
	// GetTrailingReturns returns up to the configured window of returns per ticker held by the
	// portfolio, oldest first. Instruments without history as of the date are absent.
	GetTrailingReturns(ctx context.Context, portfolioID int64, asOf time.Time) (ReturnsWindow, error)

	// GetLastPrice returns the last price on or before asOf, or a *DataGapError
	GetLastPrice(ctx context.Context, instrumentID int64, asOf time.Time) (float64, error)
}

// PortfolioReader loads portfolio records
type PortfolioReader interface {
	// GetPortfolio returns ErrPortfolioNotFound when the id does not exist
	GetPortfolio(ctx context.Context, portfolioID int64) (*Portfolio, error)
}

// PositionStore holds the per-portfolio positions and cash balance
type PositionStore interface {
	// ReadPositions marks every position to market as of asOf. Positions whose
	// instrument has no price are excluded. Weights are relative to the marked total.
	ReadPositions(ctx context.Context, portfolioID int64, asOf time.Time) ([]Position, Cash, error)

	// WritePositions overwrites positions, cash and total value atomically
	WritePositions(ctx context.Context, portfolioID int64, positions []Position, cash Cash, totalValue float64) error

	// ClearPositions zeroes quantity, weight and value of every position (cash untouched)
	ClearPositions(ctx context.Context, portfolioID int64) error
}

// TradeLedger is the append-only trade sink
type TradeLedger interface {
	AppendTrades(ctx context.Context, trades []Trade) error
}

// PeriodCommitter persists one period's positions and trades in a single transaction.
// Stores that implement it let the simulation avoid ledger rows without matching positions.
type PeriodCommitter interface {
	CommitPeriod(ctx context.Context, portfolioID int64, positions []Position, cash Cash, totalValue float64, trades []Trade) error
}

// Resetter reinitializes a portfolio between analysis runs
type Resetter interface {
	// ResetPortfolio zeroes all positions and sets cash and value to initialValue
	ResetPortfolio(ctx context.Context, portfolioID int64, initialValue float64) error
}
