// Package historical stores weekly instrument prices and returns and serves
// the trailing windows the rebalancing policies consume.
package historical

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

// HistoryRepository implements domain.HistoryProvider over the instrument_returns table
type HistoryRepository struct {
	db     *sql.DB
	window int
	log    zerolog.Logger
}

// NewHistoryRepository creates a history repository returning at most window
// returns per instrument.
func NewHistoryRepository(db *sql.DB, window int, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		window: window,
		log:    log.With().Str("repo", "history").Logger(),
	}
}

// GetTrailingReturns returns the last window returns on or before asOf for
// every instrument the portfolio holds, oldest first. Instruments without any
// history as of the date are absent from the result.
func (r *HistoryRepository) GetTrailingReturns(ctx context.Context, portfolioID int64, asOf time.Time) (domain.ReturnsWindow, error) {
	query := `
		SELECT i.ticker, h.returns
		FROM (
			SELECT instrument_id, date, returns,
				ROW_NUMBER() OVER (PARTITION BY instrument_id ORDER BY date DESC) AS rn
			FROM instrument_returns
			WHERE date <= ?
				AND instrument_id IN (SELECT instrument_id FROM portfolio_positions WHERE portfolio_id = ?)
		) h
		JOIN instruments i ON i.id = h.instrument_id
		WHERE h.rn <= ?
		ORDER BY i.ticker, h.date ASC
	`

	rows, err := r.db.QueryContext(ctx, query, asOf.Format(dateLayout), portfolioID, r.window)
	if err != nil {
		return domain.ReturnsWindow{}, fmt.Errorf("failed to query trailing returns: %w", err)
	}
	defer rows.Close()

	series := make(map[string][]float64)
	for rows.Next() {
		var ticker string
		var ret float64
		if err := rows.Scan(&ticker, &ret); err != nil {
			return domain.ReturnsWindow{}, fmt.Errorf("failed to scan return: %w", err)
		}
		series[ticker] = append(series[ticker], ret)
	}
	if err := rows.Err(); err != nil {
		return domain.ReturnsWindow{}, fmt.Errorf("error iterating returns: %w", err)
	}

	return domain.NewReturnsWindow(series), nil
}

// GetLastPrice returns the last price on or before asOf.
// A missing price is a *domain.DataGapError.
func (r *HistoryRepository) GetLastPrice(ctx context.Context, instrumentID int64, asOf time.Time) (float64, error) {
	var price float64
	err := r.db.QueryRowContext(ctx, `
		SELECT price FROM instrument_returns
		WHERE instrument_id = ? AND date <= ?
		ORDER BY date DESC
		LIMIT 1
	`, instrumentID, asOf.Format(dateLayout)).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, &domain.DataGapError{InstrumentID: instrumentID, Date: asOf}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get last price for instrument %d: %w", instrumentID, err)
	}
	return price, nil
}

// GetSeries returns the stored points of one instrument in [from, to], oldest first.
// A zero to means no upper bound.
func (r *HistoryRepository) GetSeries(ctx context.Context, instrumentID int64, from, to time.Time) ([]domain.PricePoint, error) {
	query := `SELECT date, price, returns FROM instrument_returns WHERE instrument_id = ? AND date >= ?`
	args := []interface{}{instrumentID, from.Format(dateLayout)}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, to.Format(dateLayout))
	}
	query += ` ORDER BY date ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	points := []domain.PricePoint{}
	for rows.Next() {
		var p domain.PricePoint
		var date string
		if err := rows.Scan(&date, &p.Price, &p.Returns); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		p.Date, err = time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("invalid stored date %q: %w", date, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating series: %w", err)
	}
	return points, nil
}

// UpsertSeries writes points for one instrument in a single transaction,
// replacing any existing row with the same date.
func (r *HistoryRepository) UpsertSeries(ctx context.Context, instrumentID int64, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO instrument_returns (instrument_id, date, price, returns)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(instrument_id, date) DO UPDATE SET
				price = excluded.price,
				returns = excluded.returns
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			if _, err := stmt.ExecContext(ctx, instrumentID, p.Date.Format(dateLayout), p.Price, p.Returns); err != nil {
				return fmt.Errorf("failed to upsert %s: %w", p.Date.Format(dateLayout), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Int64("instrument_id", instrumentID).Int("points", len(points)).Msg("Series upserted")
	return nil
}
