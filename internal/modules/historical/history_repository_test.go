package historical

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aristath/fundsim/internal/database"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, database.ApplySchema(db, "fund"))
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		INSERT INTO managers (id, name) VALUES (1, 'Manager');
		INSERT INTO clients (id, name, risk_profile, investment_amount, registration_date)
			VALUES (1, 'Client', 'Low risk', 100000, '2022-01-01');
		INSERT INTO portfolios (id, manager_id, client_id, name, strategy, value, cash_value)
			VALUES (1, 1, 1, 'P1', 'Low Risk', 100000, 100000);
		INSERT INTO instruments (id, ticker) VALUES (1, 'AAA'), (2, 'BBB'), (3, 'CCC'), (4, 'DDD');
		INSERT INTO portfolio_positions (portfolio_id, instrument_id) VALUES (1, 1), (1, 2), (1, 3);
	`)
	require.NoError(t, err)
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weekly(start time.Time, prices ...float64) []domain.PricePoint {
	points := make([]domain.PricePoint, len(prices))
	for i, p := range prices {
		ret := 0.0
		if i > 0 {
			ret = p/prices[i-1] - 1
		}
		points[i] = domain.PricePoint{Date: start.AddDate(0, 0, 7*i), Price: p, Returns: ret}
	}
	return points
}

func newRepo(t *testing.T, window int) *HistoryRepository {
	return NewHistoryRepository(setupTestDB(t), window, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestGetTrailingReturns(t *testing.T) {
	repo := newRepo(t, 3)
	ctx := context.Background()

	require.NoError(t, repo.UpsertSeries(ctx, 1, weekly(date(2024, 1, 1), 100, 101, 102, 103, 104)))
	require.NoError(t, repo.UpsertSeries(ctx, 2, weekly(date(2024, 1, 15), 50, 55)))
	// Not held by the portfolio
	require.NoError(t, repo.UpsertSeries(ctx, 4, weekly(date(2024, 1, 1), 10, 11, 12)))

	window, err := repo.GetTrailingReturns(ctx, 1, date(2024, 1, 22))
	require.NoError(t, err)

	// CCC has no history; DDD is not in the portfolio
	assert.Equal(t, []string{"AAA", "BBB"}, window.Tickers)

	// AAA: last three returns up to 2024-01-22, oldest first
	require.Len(t, window.Series["AAA"], 3)
	assert.InDelta(t, 101.0/100-1, window.Series["AAA"][0], 1e-12)
	assert.InDelta(t, 103.0/102-1, window.Series["AAA"][2], 1e-12)

	// BBB only has two rows so far
	assert.Len(t, window.Series["BBB"], 2)
	assert.Equal(t, []string{"AAA"}, window.Complete().Tickers)
}

func TestGetTrailingReturns_BeforeAnyHistory(t *testing.T) {
	repo := newRepo(t, 12)
	ctx := context.Background()
	require.NoError(t, repo.UpsertSeries(ctx, 1, weekly(date(2024, 1, 1), 100, 101)))

	window, err := repo.GetTrailingReturns(ctx, 1, date(2023, 12, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, window.Len())
}

func TestGetLastPrice(t *testing.T) {
	repo := newRepo(t, 12)
	ctx := context.Background()
	require.NoError(t, repo.UpsertSeries(ctx, 1, weekly(date(2024, 1, 1), 100, 101, 102)))

	// Between two observations the earlier one applies
	price, err := repo.GetLastPrice(ctx, 1, date(2024, 1, 10))
	require.NoError(t, err)
	assert.Equal(t, 101.0, price)

	price, err = repo.GetLastPrice(ctx, 1, date(2024, 1, 15))
	require.NoError(t, err)
	assert.Equal(t, 102.0, price)

	_, err = repo.GetLastPrice(ctx, 1, date(2023, 12, 31))
	var gap *domain.DataGapError
	require.True(t, errors.As(err, &gap))
	assert.Equal(t, int64(1), gap.InstrumentID)

	_, err = repo.GetLastPrice(ctx, 3, date(2024, 6, 1))
	assert.True(t, errors.As(err, &gap))
}

func TestUpsertSeries_ReplacesSameDate(t *testing.T) {
	repo := newRepo(t, 12)
	ctx := context.Background()

	require.NoError(t, repo.UpsertSeries(ctx, 1, weekly(date(2024, 1, 1), 100, 101)))
	require.NoError(t, repo.UpsertSeries(ctx, 1, []domain.PricePoint{
		{Date: date(2024, 1, 8), Price: 99, Returns: -0.01},
	}))
	require.NoError(t, repo.UpsertSeries(ctx, 1, nil))

	points, err := repo.GetSeries(ctx, 1, date(2024, 1, 1), time.Time{})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 99.0, points[1].Price)
	assert.Equal(t, -0.01, points[1].Returns)
	assert.Equal(t, date(2024, 1, 8), points[1].Date)

	bounded, err := repo.GetSeries(ctx, 1, date(2024, 1, 1), date(2024, 1, 7))
	require.NoError(t, err)
	assert.Len(t, bounded, 1)
}

func TestParseCSV(t *testing.T) {
	in := `Date,Open,High,Low,Close,Volume
2024-01-15 00:00:00-05:00,1,1,1,110,10
2024-01-01 00:00:00-05:00,1,1,1,100,10
2024-01-08 00:00:00-05:00,1,1,1,125,10
2024-01-22 00:00:00-05:00,1,1,1,null,10
`
	points, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)

	// Rows are sorted; the first price has no return and is dropped
	require.Len(t, points, 2)
	assert.Equal(t, date(2024, 1, 8), points[0].Date)
	assert.InDelta(t, 0.25, points[0].Returns, 1e-12)
	assert.Equal(t, 110.0, points[1].Price)
	assert.InDelta(t, 110.0/125-1, points[1].Returns, 1e-12)
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"no price column", "date,volume\n2024-01-01,1\n"},
		{"bad date", "date,close\n01/02/2024,1\n"},
		{"bad price", "date,close\n2024-01-01,abc\n"},
		{"negative price", "date,close\n2024-01-01,-1\n"},
		{"duplicate date", "date,close\n2024-01-01,1\n2024-01-01,2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.in))
			assert.Error(t, err)
		})
	}
}

func TestImportCSV(t *testing.T) {
	repo := newRepo(t, 12)
	ctx := context.Background()

	n, err := repo.ImportCSV(ctx, 2, strings.NewReader("date,price\n2024-01-01,50\n2024-01-08,55\n2024-01-15,44\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	price, err := repo.GetLastPrice(ctx, 2, date(2024, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 44.0, price)

	// Only the rows with a return are stored
	_, err = repo.GetLastPrice(ctx, 2, date(2024, 1, 1))
	assert.Error(t, err)
}
