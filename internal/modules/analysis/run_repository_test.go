package analysis

import (
	"context"
	"database/sql"
	"testing"

	"github.com/aristath/fundsim/internal/database"
	"github.com/aristath/fundsim/internal/modules/performance"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func newRunRepo(t *testing.T) *RunRepository {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, database.ApplySchema(db, "fund"))
	t.Cleanup(func() { _ = db.Close() })
	return NewRunRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestRunRepository_SaveAndGet(t *testing.T) {
	repo := newRunRepo(t)
	ctx := context.Background()

	run := &Run{
		ID:             "run-a",
		PortfolioID:    7,
		Start:          day(2024, 1, 1),
		End:            day(2024, 1, 15),
		Periods:        3,
		Trades:         4,
		InitialValue:   1000,
		FinalValue:     1100,
		PerformancePct: 10,
		Series: []performance.ValuePoint{
			{Date: day(2024, 1, 1), Cash: 1000, TotalValue: 1000},
			{Date: day(2024, 1, 8), Cash: 100, TotalValue: 1050, Holdings: map[string]float64{"AAA": 950}},
			{Date: day(2024, 1, 15), Cash: 100, TotalValue: 1100, Holdings: map[string]float64{"AAA": 1000}},
		},
	}
	require.NoError(t, repo.Save(ctx, run))
	assert.False(t, run.CreatedAt.IsZero())

	got, err := repo.Get(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.PortfolioID)
	assert.Equal(t, day(2024, 1, 15), got.End)
	require.Len(t, got.Series, 3)
	assert.Equal(t, 950.0, got.Series[1].Holdings["AAA"])
	require.NotNil(t, got.Metrics)
	assert.InDelta(t, 0.1, got.Metrics.CumulativeReturn, 1e-12)

	// Duplicate id
	assert.Error(t, repo.Save(ctx, run))
}

func TestRunRepository_NotFound(t *testing.T) {
	repo := newRunRepo(t)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	runs, err := repo.ListByPortfolio(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
