package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/modules/historical"
	"github.com/aristath/fundsim/internal/modules/ledger"
	"github.com/aristath/fundsim/internal/modules/optimization"
	"github.com/aristath/fundsim/internal/modules/portfolio"
	"github.com/aristath/fundsim/internal/modules/rebalancing"
	"github.com/aristath/fundsim/internal/modules/simulation"
	"github.com/aristath/fundsim/internal/modules/universe"
	testingpkg "github.com/aristath/fundsim/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	ctx        context.Context
	service    *RunService
	portfolios *portfolio.PortfolioRepository
	trades     *ledger.TradeRepository
	runs       *RunRepository
	instrument []int64
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func setupTestEnv(t *testing.T) *testEnv {
	db, cleanup := testingpkg.NewTestDB(t, "fund")
	t.Cleanup(cleanup)

	ctx := context.Background()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	policy := config.DefaultPolicy()

	instruments := universe.NewInstrumentRepository(db.Conn(), log)
	history := historical.NewHistoryRepository(db.Conn(), policy.TrailingWindow, log)
	portfolios := portfolio.NewPortfolioRepository(db.Conn(), history, log)
	trades := ledger.NewTradeRepository(db.Conn(), log)
	runs := NewRunRepository(db.Conn(), log)

	var ids []int64
	for k := 0; k < 5; k++ {
		inst, err := instruments.Create(ctx, universe.Instrument{Ticker: fmt.Sprintf("T%d", k), Sector: "Technology"})
		require.NoError(t, err)
		ids = append(ids, inst.ID)

		var points []domain.PricePoint
		price := 40.0 + 15*float64(k)
		for i, d := range simulation.WeeklyDates(day(2023, 9, 4), day(2024, 6, 24)) {
			ret := 0.001*float64(k+1) + 0.002*float64((i+k)%4) - 0.003
			price *= 1 + ret
			points = append(points, domain.PricePoint{Date: d, Price: price, Returns: ret})
		}
		require.NoError(t, history.UpsertSeries(ctx, inst.ID, points))
	}

	optimizer := optimization.NewMVOptimizer(optimization.Options{
		RiskFreeRate:        policy.RiskFreeRate,
		MaxWeight:           policy.MaxWeight,
		AnnualizationFactor: policy.AnnualizationFactor,
	}, log)

	service := NewRunService(Deps{
		Portfolios: portfolio.NewUnitOfWork(portfolios),
		History:    history,
		Policies:   rebalancing.NewRegistry(policy, optimizer, log),
		Runs:       runs,
	}, Options{Policy: policy, DefaultEnd: day(2024, 3, 31), Workers: 2}, log)

	return &testEnv{ctx: ctx, service: service, portfolios: portfolios, trades: trades, runs: runs, instrument: ids}
}

func (e *testEnv) addPortfolio(t *testing.T, manager string, strategy domain.StrategyKind, amount float64) int64 {
	m, err := e.portfolios.CreateManager(e.ctx, portfolio.Manager{Name: manager, Strategies: []domain.StrategyKind{strategy}})
	require.NoError(t, err)
	c, err := e.portfolios.CreateClient(e.ctx, portfolio.Client{
		Name: "Client of " + manager, RiskProfile: strategy.Label(), InvestmentAmount: amount, RegistrationDate: day(2023, 12, 1),
	})
	require.NoError(t, err)
	p, err := e.portfolios.CreatePortfolio(e.ctx, domain.Portfolio{
		ManagerID: m.ID, ClientID: c.ID, Name: manager, Strategy: strategy, Value: amount,
	}, e.instrument)
	require.NoError(t, err)
	return p.ID
}

func TestRunPortfolio_StoresRunAndReinitializes(t *testing.T) {
	env := setupTestEnv(t)
	id := env.addPortfolio(t, "Alice", domain.StrategyLowRisk, 100000)

	steps := 0
	run, err := env.service.RunPortfolio(env.ctx, RunRequest{
		PortfolioID: id,
		Start:       day(2024, 1, 3),
		OnStep:      func(*simulation.StepResult) { steps++ },
	})
	require.NoError(t, err)

	// 2024-01-08 through 2024-03-25 with the default end
	expected := len(simulation.WeeklyDates(day(2024, 1, 3), day(2024, 3, 31)))
	assert.Equal(t, expected, run.Periods)
	assert.Equal(t, expected, steps)
	require.Len(t, run.Series, expected)
	assert.Equal(t, day(2024, 1, 8), run.Series[0].Date)
	assert.Equal(t, 100000.0, run.InitialValue)
	assert.Greater(t, run.Trades, 0)
	require.NotNil(t, run.Metrics)

	for _, p := range run.Series {
		sum := p.Cash
		for _, v := range p.Holdings {
			sum += v
		}
		assert.InDelta(t, p.TotalValue, sum, 1e-6)
	}

	trades, err := env.trades.ListByPortfolio(env.ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, trades, run.Trades)
	for _, tr := range trades {
		assert.Equal(t, run.ID, tr.RunID)
	}

	// Portfolio is back to the client's investment
	got, err := env.portfolios.GetPortfolio(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, got.CashValue)
	assert.Equal(t, 100000.0, got.Value)
	positions, _, err := env.portfolios.ReadPositions(env.ctx, id, day(2024, 3, 25))
	require.NoError(t, err)
	for _, p := range positions {
		assert.Equal(t, int64(0), p.Quantity)
	}

	stored, err := env.runs.Get(env.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Periods, stored.Periods)
	require.Len(t, stored.Series, run.Periods)
	assert.True(t, stored.Series[0].Date.Equal(day(2024, 1, 8)))
	assert.InDelta(t, run.FinalValue, stored.FinalValue, 1e-9)

	list, err := env.runs.ListByPortfolio(env.ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Series)
}

func TestRunPortfolio_CancelBetweenPeriods(t *testing.T) {
	env := setupTestEnv(t)
	id := env.addPortfolio(t, "Alice", domain.StrategyLowRisk, 50000)

	ctx, cancel := context.WithCancel(env.ctx)
	defer cancel()

	steps := 0
	_, err := env.service.RunPortfolio(ctx, RunRequest{
		PortfolioID: id,
		Start:       day(2024, 1, 1),
		End:         day(2024, 3, 31),
		OnStep: func(*simulation.StepResult) {
			steps++
			if steps == 2 {
				cancel()
			}
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, steps)

	// The two committed periods stay in the ledger; the portfolio is reinitialized
	got, err := env.portfolios.GetPortfolio(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, got.CashValue)

	list, err := env.runs.ListByPortfolio(env.ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRunPortfolio_Errors(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.service.RunPortfolio(env.ctx, RunRequest{PortfolioID: 404, Start: day(2024, 1, 1)})
	var cfgErr *domain.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	id := env.addPortfolio(t, "Alice", domain.StrategyHighRisk, 1000)
	_, err = env.service.RunPortfolio(env.ctx, RunRequest{PortfolioID: id, Start: day(2024, 1, 2), End: day(2024, 1, 5)})
	assert.Error(t, err)
}

func TestRunPortfolio_RejectsConcurrentRun(t *testing.T) {
	env := setupTestEnv(t)
	id := env.addPortfolio(t, "Alice", domain.StrategyHighRisk, 1000)

	var inner error
	_, err := env.service.RunPortfolio(env.ctx, RunRequest{
		PortfolioID: id,
		Start:       day(2024, 1, 1),
		End:         day(2024, 1, 8),
		OnStep: func(*simulation.StepResult) {
			if inner == nil {
				_, inner = env.service.ResetPortfolio(env.ctx, id)
			}
		},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrRunInProgress)

	amount, err := env.service.ResetPortfolio(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, amount)
}

func TestRunAll_RanksPortfoliosAndManagers(t *testing.T) {
	env := setupTestEnv(t)
	low := env.addPortfolio(t, "Alice", domain.StrategyLowRisk, 100000)
	high := env.addPortfolio(t, "Bob", domain.StrategyHighRisk, 20000)
	medium := env.addPortfolio(t, "Carol", domain.StrategyMediumRisk, 60000)

	rankings, err := env.service.RunAll(env.ctx, day(2024, 1, 1), day(2024, 3, 31))
	require.NoError(t, err)
	require.Len(t, rankings.Portfolios, 3)
	require.Len(t, rankings.Managers, 3)

	byID := make(map[int64]float64)
	for i, p := range rankings.Portfolios {
		byID[p.PortfolioID] = p.PerformancePct
		if i > 0 {
			assert.GreaterOrEqual(t, rankings.Portfolios[i-1].PerformancePct, p.PerformancePct)
		}
	}
	assert.Contains(t, byID, low)
	assert.Contains(t, byID, medium)
	// High risk never trades: all cash, no gain
	assert.Equal(t, 0.0, byID[high])

	for _, id := range []int64{low, high, medium} {
		runs, err := env.runs.ListByPortfolio(env.ctx, id, 0)
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	}
}

func TestRunAll_Cancelled(t *testing.T) {
	env := setupTestEnv(t)
	env.addPortfolio(t, "Alice", domain.StrategyLowRisk, 100000)

	ctx, cancel := context.WithCancel(env.ctx)
	cancel()
	_, err := env.service.RunAll(ctx, day(2024, 1, 1), day(2024, 3, 31))
	assert.Error(t, err)
}
