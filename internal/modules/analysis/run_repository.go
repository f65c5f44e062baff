package analysis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/fundsim/internal/modules/performance"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const dateLayout = "2006-01-02"

// ErrRunNotFound is returned when a run id does not exist
var ErrRunNotFound = errors.New("analysis run not found")

// Run is the stored outcome of simulating one portfolio over a date range
type Run struct {
	ID             string                   `json:"id"`
	PortfolioID    int64                    `json:"portfolio_id"`
	Start          time.Time                `json:"start"`
	End            time.Time                `json:"end"`
	Periods        int                      `json:"periods"`
	Trades         int                      `json:"trades"`
	InitialValue   float64                  `json:"initial_value"`
	FinalValue     float64                  `json:"final_value"`
	PerformancePct float64                  `json:"performance_pct"`
	Metrics        *performance.Metrics     `json:"metrics,omitempty"`
	Series         []performance.ValuePoint `json:"series,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
}

// RunRepository stores analysis runs with their value series msgpack-encoded
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repo", "analysis_run").Logger(),
	}
}

// Save inserts a run
func (r *RunRepository) Save(ctx context.Context, run *Run) error {
	blob, err := msgpack.Marshal(run.Series)
	if err != nil {
		return fmt.Errorf("failed to encode series: %w", err)
	}

	var sharpe, volatility, drawdown float64
	if run.Metrics != nil {
		sharpe, volatility, drawdown = run.Metrics.Sharpe, run.Metrics.Volatility, run.Metrics.MaxDrawdown
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO analysis_runs (id, portfolio_id, start_date, end_date, periods, trades,
			initial_value, final_value, performance_pct, sharpe, volatility, max_drawdown, series, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.PortfolioID, run.Start.Format(dateLayout), run.End.Format(dateLayout), run.Periods, run.Trades,
		run.InitialValue, run.FinalValue, run.PerformancePct, sharpe, volatility, drawdown, blob, run.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	r.log.Debug().Str("run_id", run.ID).Int64("portfolio_id", run.PortfolioID).Int("bytes", len(blob)).Msg("Run saved")
	return nil
}

// Get returns a run with its series. Metrics are recomputed from the series.
func (r *RunRepository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, portfolio_id, start_date, end_date, periods, trades, initial_value, final_value,
			performance_pct, series, created_at
		FROM analysis_runs WHERE id = ?
	`, id)

	run, blob, err := scanRun(row, true)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}

	if err := msgpack.Unmarshal(blob, &run.Series); err != nil {
		return nil, fmt.Errorf("failed to decode series for run %s: %w", id, err)
	}
	if m, err := performance.Analyze(run.Series, nil); err == nil {
		run.Metrics = m
	}
	return run, nil
}

// ListByPortfolio returns the portfolio's runs without series, newest first
func (r *RunRepository) ListByPortfolio(ctx context.Context, portfolioID int64, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, portfolio_id, start_date, end_date, periods, trades, initial_value, final_value,
			performance_pct, series, created_at
		FROM analysis_runs WHERE portfolio_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, _, err := scanRun(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner, withSeries bool) (*Run, []byte, error) {
	var run Run
	var start, end string
	var blob []byte
	var created int64
	if err := s.Scan(&run.ID, &run.PortfolioID, &start, &end, &run.Periods, &run.Trades,
		&run.InitialValue, &run.FinalValue, &run.PerformancePct, &blob, &created); err != nil {
		return nil, nil, err
	}

	var err error
	if run.Start, err = time.Parse(dateLayout, start); err != nil {
		return nil, nil, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	if run.End, err = time.Parse(dateLayout, end); err != nil {
		return nil, nil, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	run.CreatedAt = time.Unix(created, 0).UTC()

	if !withSeries {
		blob = nil
	}
	return &run, blob, nil
}
