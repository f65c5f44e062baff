// Package simulation runs one portfolio's rebalancing policy period by period.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/metrics"
	"github.com/aristath/fundsim/internal/modules/rebalancing"
	"github.com/rs/zerolog"
)

// Deps are the collaborators a Driver reads from and writes to.
type Deps struct {
	Portfolios domain.PortfolioReader
	History    domain.HistoryProvider
	Positions  domain.PositionStore
	// Committer writes a traded period's positions and ledger rows together. Required.
	Committer  domain.PeriodCommitter
	Policies   *rebalancing.Registry
}

// Config identifies the portfolio and run a Driver works on.
type Config struct {
	PortfolioID int64
	RunID       string // Tagged onto every trade; may be empty
	Policy      config.PolicyConfig
}

// StepResult is the state of the portfolio after one period.
type StepResult struct {
	Date       time.Time          `json:"date"`
	Trades     []domain.Trade     `json:"trades"`
	Skips      []rebalancing.Skip `json:"skips,omitempty"`
	Positions  []domain.Position  `json:"positions"`
	Cash       domain.Cash        `json:"cash"`
	TotalValue float64            `json:"total_value"`
}

// Driver owns one portfolio for the length of a run. It must not be shared
// between goroutines; each period completes before the next begins.
type Driver struct {
	portfolio *domain.Portfolio
	policy    rebalancing.Policy
	deps      Deps
	runID     string
	budget    *rebalancing.MonthlyBudget
	value     float64
	log       zerolog.Logger
}

// NewDriver loads the portfolio and resets all of its positions to zero.
// A missing portfolio, unbound strategy or missing committer is a *domain.ConfigurationError.
func NewDriver(ctx context.Context, cfg Config, deps Deps, log zerolog.Logger) (*Driver, error) {
	if deps.Committer == nil {
		return nil, &domain.ConfigurationError{PortfolioID: cfg.PortfolioID, Err: errNoCommitter}
	}

	portfolio, err := deps.Portfolios.GetPortfolio(ctx, cfg.PortfolioID)
	if err != nil {
		return nil, &domain.ConfigurationError{PortfolioID: cfg.PortfolioID, Err: err}
	}

	policy, err := deps.Policies.Get(portfolio.Strategy)
	if err != nil {
		return nil, &domain.ConfigurationError{PortfolioID: cfg.PortfolioID, Err: err}
	}

	if err := deps.Positions.ClearPositions(ctx, cfg.PortfolioID); err != nil {
		return nil, &domain.PersistenceError{Op: "clear positions", Err: err}
	}

	d := &Driver{
		portfolio: portfolio,
		policy:    policy,
		deps:      deps,
		runID:     cfg.RunID,
		budget:    rebalancing.NewMonthlyBudget(cfg.Policy.MonthlyTradeBudget),
		value:     portfolio.Value,
		log: log.With().
			Str("service", "simulation").
			Int64("portfolio_id", cfg.PortfolioID).
			Str("strategy", string(portfolio.Strategy)).
			Logger(),
	}

	d.log.Debug().Float64("value", portfolio.Value).Msg("Simulation driver ready")
	return d, nil
}

var errNoCommitter = errors.New("no period committer configured")

// Portfolio returns the portfolio as loaded at construction.
func (d *Driver) Portfolio() domain.Portfolio {
	return *d.portfolio
}

// Value returns Σ position values + cash after the last period.
func (d *Driver) Value() float64 {
	return d.value
}

// Step runs one rebalancing period as of date: fetch trailing returns, roll the
// monthly counter, mark positions to market, decide, and persist trades and
// positions atomically when the policy traded.
//
// Weights are relative to the marked total, but weight deltas are converted to
// quantities against the value the previous period closed at (the portfolio's
// starting value for the first period).
//
// A failed write returns a *domain.PersistenceError and leaves the counter as it
// was before the period. Cancellation is only honoured before a period starts.
func (d *Driver) Step(ctx context.Context, date time.Time) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	strategy := string(d.portfolio.Strategy)
	id := d.portfolio.ID

	// Periods already started run to completion
	periodCtx := context.WithoutCancel(ctx)

	returns, err := d.deps.History.GetTrailingReturns(periodCtx, id, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get trailing returns: %w", err)
	}

	if d.budget.Observe(date) {
		d.log.Debug().Time("date", date).Msg("New month, trade counter reset")
	}
	snapshot := d.budget.Snapshot()

	positions, cash, err := d.deps.Positions.ReadPositions(periodCtx, id, date)
	if err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}

	marked := cash.Value
	for _, p := range positions {
		marked += p.Value
	}
	book := rebalancing.NewBook(positions, cash, d.value)

	d.log.Debug().
		Time("date", date).
		Interface("positions", book.Positions()).
		Float64("cash", cash.Value).
		Float64("marked_value", marked).
		Float64("sizing_value", book.PortfolioValue()).
		Msg("Positions before rebalancing")

	decision, err := d.policy.Decide(periodCtx, rebalancing.Input{
		Date:    date,
		Book:    book,
		Returns: returns,
		Budget:  d.budget,
	})
	if err != nil {
		d.budget.Restore(snapshot)
		return nil, fmt.Errorf("policy %s failed: %w", strategy, err)
	}

	for i := range decision.Trades {
		decision.Trades[i].PortfolioID = id
		decision.Trades[i].Date = date
		decision.Trades[i].RunID = d.runID
	}

	result := &StepResult{
		Date:       date,
		Trades:     decision.Trades,
		Skips:      decision.Skips,
		Positions:  book.Positions(),
		Cash:       book.Cash(),
		TotalValue: book.TotalValue(),
	}

	if len(decision.Trades) > 0 {
		if err := d.commit(periodCtx, result); err != nil {
			d.budget.Restore(snapshot)
			metrics.PersistenceFailuresTotal.Inc()
			d.log.Error().Err(err).Time("date", date).Int("trades", len(decision.Trades)).Msg("Failed to persist period")
			return nil, &domain.PersistenceError{Op: "commit period", Err: err}
		}
	}

	d.value = result.TotalValue

	for _, trade := range decision.Trades {
		metrics.TradesTotal.WithLabelValues(strategy, string(trade.Action)).Inc()
	}
	for _, skip := range decision.Skips {
		metrics.SkippedTradesTotal.WithLabelValues(strategy, skip.Reason).Inc()
	}
	metrics.PeriodsTotal.WithLabelValues(strategy).Inc()
	metrics.PeriodDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())

	d.log.Debug().
		Time("date", date).
		Interface("trades", decision.Trades).
		Int("skipped", len(decision.Skips)).
		Float64("cash", result.Cash.Value).
		Float64("total_value", result.TotalValue).
		Int("trades_this_month", d.budget.Used()).
		Msg("Period complete")

	return result, nil
}

// commit writes positions, cash, value and trades in one unit. A failure leaves
// both the store and the ledger as they were before the period.
func (d *Driver) commit(ctx context.Context, r *StepResult) error {
	return d.deps.Committer.CommitPeriod(ctx, d.portfolio.ID, r.Positions, r.Cash, r.TotalValue, r.Trades)
}
