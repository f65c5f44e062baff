// Package ledger is the append-only record of executed simulation trades.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/fundsim/internal/database"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// MonthCount is the number of trades a portfolio made in one calendar month
type MonthCount struct {
	Month  string `json:"month"` // YYYY-MM
	Trades int    `json:"trades"`
	Buys   int    `json:"buys"`
	Sells  int    `json:"sells"`
}

// TradeRepository implements domain.TradeLedger over the trades table
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trade").Logger(),
	}
}

// AppendTrades records trades in one transaction. A trade identical to an
// existing row (portfolio, instrument, date, action, quantity, price and run)
// is skipped, so retrying an append never doubles the ledger.
func (r *TradeRepository) AppendTrades(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	var inserted int
	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		inserted, err = InsertTrades(ctx, tx, trades)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append trades: %w", err)
	}

	r.log.Debug().
		Int("inserted", inserted).
		Int("duplicates", len(trades)-inserted).
		Msg("Trades appended")
	return nil
}

// InsertTrades writes trades inside an existing transaction, skipping exact
// duplicates. Returns the number of rows inserted.
func InsertTrades(ctx context.Context, tx *sql.Tx, trades []domain.Trade) (int, error) {
	exists, err := tx.PrepareContext(ctx, `
		SELECT COUNT(*) FROM trades
		WHERE portfolio_id = ? AND instrument_id = ? AND date = ?
			AND action = ? AND quantity = ? AND price = ? AND run_id IS ?
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare duplicate check: %w", err)
	}
	defer exists.Close()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (portfolio_id, instrument_id, date, action, quantity, price, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare trade insert: %w", err)
	}
	defer insert.Close()

	inserted := 0
	for _, t := range trades {
		if t.Action != domain.ActionBuy && t.Action != domain.ActionSell {
			return 0, fmt.Errorf("invalid trade action %q", t.Action)
		}

		date := t.Date.Format(dateLayout)
		runID := sql.NullString{String: t.RunID, Valid: t.RunID != ""}

		var count int
		if err := exists.QueryRowContext(ctx, t.PortfolioID, t.InstrumentID, date, string(t.Action), t.Quantity, t.Price, runID).Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to check duplicate trade: %w", err)
		}
		if count > 0 {
			continue
		}

		if _, err := insert.ExecContext(ctx, t.PortfolioID, t.InstrumentID, date, string(t.Action), t.Quantity, t.Price, runID); err != nil {
			return 0, fmt.Errorf("failed to insert trade for instrument %d: %w", t.InstrumentID, err)
		}
		inserted++
	}
	return inserted, nil
}

// ListByPortfolio returns the portfolio's trades, oldest first.
// limit <= 0 returns everything; otherwise the most recent limit trades.
func (r *TradeRepository) ListByPortfolio(ctx context.Context, portfolioID int64, limit int) ([]domain.Trade, error) {
	query := `
		SELECT t.id, t.portfolio_id, t.instrument_id, i.ticker, t.date, t.action, t.quantity, t.price, t.run_id
		FROM trades t
		JOIN instruments i ON i.id = t.instrument_id
		WHERE t.portfolio_id = ?
		ORDER BY t.date DESC, t.id DESC
	`
	args := []interface{}{portfolioID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := []domain.Trade{}
	for rows.Next() {
		var t domain.Trade
		var date, action string
		var runID sql.NullString
		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.InstrumentID, &t.Ticker, &date, &action, &t.Quantity, &t.Price, &runID); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Date, err = time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("invalid trade date %q: %w", date, err)
		}
		t.Action = domain.Action(action)
		t.RunID = runID.String
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	// Newest-first for the LIMIT; callers get chronological order
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return trades, nil
}

// CountByMonth returns per-month trade counts for a portfolio, oldest month first
func (r *TradeRepository) CountByMonth(ctx context.Context, portfolioID int64) ([]MonthCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT substr(date, 1, 7) AS month,
			COUNT(*),
			SUM(CASE WHEN action = 'BUY' THEN 1 ELSE 0 END),
			SUM(CASE WHEN action = 'SELL' THEN 1 ELSE 0 END)
		FROM trades
		WHERE portfolio_id = ?
		GROUP BY month
		ORDER BY month
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to count trades: %w", err)
	}
	defer rows.Close()

	counts := []MonthCount{}
	for rows.Next() {
		var c MonthCount
		if err := rows.Scan(&c.Month, &c.Trades, &c.Buys, &c.Sells); err != nil {
			return nil, fmt.Errorf("failed to scan month count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating month counts: %w", err)
	}
	return counts, nil
}
