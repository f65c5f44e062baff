// Package analysis runs portfolio simulations over date ranges, stores their
// value series and ranks portfolios and managers by performance.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/metrics"
	"github.com/aristath/fundsim/internal/modules/performance"
	"github.com/aristath/fundsim/internal/modules/rebalancing"
	"github.com/aristath/fundsim/internal/modules/simulation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PortfolioStore is everything a run needs from the portfolio repository
type PortfolioStore interface {
	domain.PortfolioReader
	domain.PositionStore
	domain.PeriodCommitter
	ListPortfolioSummaries(ctx context.Context) ([]domain.PortfolioSummary, error)
	ReinitializeFromClient(ctx context.Context, portfolioID int64) (float64, error)
}

// Deps are the collaborators of a RunService
type Deps struct {
	Portfolios PortfolioStore
	History    domain.HistoryProvider
	Policies   *rebalancing.Registry
	Runs       *RunRepository // optional; runs are not stored when nil
}

// Options configure a RunService
type Options struct {
	Policy     config.PolicyConfig
	DefaultEnd time.Time // used when a request has no end date
	Workers    int       // portfolios simulated concurrently by RunAll
}

// RunRequest describes one portfolio simulation
type RunRequest struct {
	PortfolioID int64
	Start       time.Time
	End         time.Time
	// OnStep, when set, is called after every committed period
	OnStep func(*simulation.StepResult)
}

// RunService orchestrates simulations
type RunService struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	// one run per portfolio at a time
	mu     sync.Mutex
	active map[int64]bool
}

// ErrRunInProgress is returned when the portfolio is already being simulated
var ErrRunInProgress = errors.New("simulation already running for portfolio")

// NewRunService creates a run service
func NewRunService(deps Deps, opts Options, log zerolog.Logger) *RunService {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &RunService{
		deps:   deps,
		opts:   opts,
		log:    log.With().Str("service", "analysis").Logger(),
		active: make(map[int64]bool),
	}
}

func (s *RunService) acquire(portfolioID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[portfolioID] {
		return false
	}
	s.active[portfolioID] = true
	return true
}

func (s *RunService) release(portfolioID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, portfolioID)
}

// RunPortfolio simulates one portfolio week by week from the first Monday on or
// after Start through End. Cancellation is checked between periods only.
// Whatever the outcome, the portfolio is reinitialized to its client's
// investment amount afterwards.
func (s *RunService) RunPortfolio(ctx context.Context, req RunRequest) (*Run, error) {
	end := req.End
	if end.IsZero() {
		end = s.opts.DefaultEnd
	}
	dates := simulation.WeeklyDates(req.Start, end)
	if len(dates) == 0 {
		return nil, fmt.Errorf("no Monday between %s and %s", req.Start.Format(dateLayout), end.Format(dateLayout))
	}

	if !s.acquire(req.PortfolioID) {
		return nil, fmt.Errorf("portfolio %d: %w", req.PortfolioID, ErrRunInProgress)
	}
	defer s.release(req.PortfolioID)

	run := &Run{
		ID:          uuid.NewString(),
		PortfolioID: req.PortfolioID,
		Start:       req.Start,
		End:         end,
	}
	log := s.log.With().Str("run_id", run.ID).Int64("portfolio_id", req.PortfolioID).Logger()

	driver, err := simulation.NewDriver(ctx, simulation.Config{
		PortfolioID: req.PortfolioID,
		RunID:       run.ID,
		Policy:      s.opts.Policy,
	}, simulation.Deps{
		Portfolios: s.deps.Portfolios,
		History:    s.deps.History,
		Positions:  s.deps.Portfolios,
		Committer:  s.deps.Portfolios,
		Policies:   s.deps.Policies,
	}, log)
	if err != nil {
		metrics.AnalysisRunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	defer func() {
		// Reinitialization must happen even when the caller went away
		if _, err := s.deps.Portfolios.ReinitializeFromClient(context.WithoutCancel(ctx), req.PortfolioID); err != nil {
			log.Error().Err(err).Msg("Failed to reinitialize portfolio after run")
		}
	}()

	run.InitialValue = driver.Value()
	log.Info().
		Str("strategy", string(driver.Portfolio().Strategy)).
		Time("start", dates[0]).
		Time("end", end).
		Int("periods", len(dates)).
		Msg("Simulation started")

	for _, date := range dates {
		result, err := driver.Step(ctx, date)
		if err != nil {
			status := "failed"
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				status = "cancelled"
			}
			metrics.AnalysisRunsTotal.WithLabelValues(status).Inc()
			log.Warn().Err(err).Time("date", date).Int("completed", run.Periods).Msg("Simulation stopped")
			return nil, fmt.Errorf("period %s: %w", date.Format(dateLayout), err)
		}

		holdings := make(map[string]float64, len(result.Positions))
		for _, p := range result.Positions {
			holdings[p.Ticker] = p.Value
		}
		run.Series = append(run.Series, performance.ValuePoint{
			Date:       date,
			Cash:       result.Cash.Value,
			TotalValue: result.TotalValue,
			Holdings:   holdings,
		})
		run.Periods++
		run.Trades += len(result.Trades)

		if req.OnStep != nil {
			req.OnStep(result)
		}
	}

	run.FinalValue = driver.Value()
	run.PerformancePct = performance.PerformancePct(run.InitialValue, run.FinalValue)
	if m, err := performance.Analyze(run.Series, nil); err == nil {
		run.Metrics = m
	}

	if s.deps.Runs != nil {
		if err := s.deps.Runs.Save(context.WithoutCancel(ctx), run); err != nil {
			log.Error().Err(err).Msg("Failed to store run")
		}
	}

	metrics.AnalysisRunsTotal.WithLabelValues("completed").Inc()
	log.Info().
		Int("trades", run.Trades).
		Float64("initial_value", run.InitialValue).
		Float64("final_value", run.FinalValue).
		Float64("performance_pct", run.PerformancePct).
		Msg("Simulation finished")
	return run, nil
}

// RunAll simulates every portfolio and ranks the results. Performance is
// measured against the client's investment amount. A portfolio that fails is
// logged and left out of the rankings. Portfolios are disjoint, so up to
// Workers of them run concurrently.
func (s *RunService) RunAll(ctx context.Context, start, end time.Time) (*performance.Rankings, error) {
	summaries, err := s.deps.Portfolios.ListPortfolioSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}

	results := make([]*performance.PortfolioPerformance, len(summaries))
	sem := make(chan struct{}, s.opts.Workers)
	var wg sync.WaitGroup

	for i, summary := range summaries {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, summary domain.PortfolioSummary) {
			defer wg.Done()
			defer func() { <-sem }()

			run, err := s.RunPortfolio(ctx, RunRequest{PortfolioID: summary.ID, Start: start, End: end})
			if err != nil {
				s.log.Warn().Err(err).Int64("portfolio_id", summary.ID).Msg("Skipping portfolio in rankings")
				return
			}
			results[i] = &performance.PortfolioPerformance{
				PortfolioID:    summary.ID,
				Client:         summary.ClientName,
				Manager:        summary.ManagerName,
				Strategy:       summary.Strategy,
				InitialValue:   summary.InvestmentAmount,
				FinalValue:     run.FinalValue,
				PerformancePct: performance.PerformancePct(summary.InvestmentAmount, run.FinalValue),
			}
		}(i, summary)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ranked []performance.PortfolioPerformance
	for _, r := range results {
		if r != nil {
			ranked = append(ranked, *r)
		}
	}
	rankings := performance.Rank(ranked)

	s.log.Info().
		Int("portfolios", len(summaries)).
		Int("ranked", len(ranked)).
		Msg("Rankings computed")
	return &rankings, nil
}

// ResetPortfolio reinitializes a portfolio to its client's investment amount
func (s *RunService) ResetPortfolio(ctx context.Context, portfolioID int64) (float64, error) {
	if !s.acquire(portfolioID) {
		return 0, fmt.Errorf("portfolio %d: %w", portfolioID, ErrRunInProgress)
	}
	defer s.release(portfolioID)
	return s.deps.Portfolios.ReinitializeFromClient(ctx, portfolioID)
}
