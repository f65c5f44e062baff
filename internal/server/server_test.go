package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/modules/analysis"
	"github.com/aristath/fundsim/internal/modules/ledger"
	"github.com/aristath/fundsim/internal/modules/performance"
	"github.com/aristath/fundsim/internal/modules/simulation"
	"github.com/aristath/fundsim/internal/modules/universe"
)

type fakePortfolios struct {
	portfolio *domain.Portfolio
	asOf      time.Time
}

func (f *fakePortfolios) ListPortfolioSummaries(ctx context.Context) ([]domain.PortfolioSummary, error) {
	return []domain.PortfolioSummary{{Portfolio: *f.portfolio, ClientName: "Alice", ManagerName: "Bob"}}, nil
}

func (f *fakePortfolios) GetPortfolio(ctx context.Context, id int64) (*domain.Portfolio, error) {
	if id != f.portfolio.ID {
		return nil, domain.ErrPortfolioNotFound
	}
	return f.portfolio, nil
}

func (f *fakePortfolios) ReadPositions(ctx context.Context, id int64, asOf time.Time) ([]domain.Position, domain.Cash, error) {
	f.asOf = asOf
	return []domain.Position{{PortfolioID: id, InstrumentID: 1, Ticker: "AAA", Quantity: 10, Price: 5, Value: 50, Weight: 0.5}},
		domain.Cash{Value: 50, Weight: 0.5}, nil
}

type fakeTrades struct{}

func (fakeTrades) ListByPortfolio(ctx context.Context, id int64, limit int) ([]domain.Trade, error) {
	return nil, nil
}

func (fakeTrades) CountByMonth(ctx context.Context, id int64) ([]ledger.MonthCount, error) {
	return []ledger.MonthCount{{Month: "2024-01", Trades: 2, Buys: 2}}, nil
}

type fakeRuns struct{}

func (fakeRuns) ListByPortfolio(ctx context.Context, id int64, limit int) ([]analysis.Run, error) {
	return []analysis.Run{{ID: "r1", PortfolioID: id}}, nil
}

func (fakeRuns) Get(ctx context.Context, id string) (*analysis.Run, error) {
	if id != "r1" {
		return nil, analysis.ErrRunNotFound
	}
	return &analysis.Run{ID: id, PortfolioID: 1}, nil
}

type fakeSimulator struct {
	err      error
	req      analysis.RunRequest
	steps    int
	rankings *performance.Rankings
	ranAll   bool
}

func (f *fakeSimulator) RunPortfolio(ctx context.Context, req analysis.RunRequest) (*analysis.Run, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	for i := 0; i < f.steps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if req.OnStep != nil {
			req.OnStep(&simulation.StepResult{Date: req.Start.AddDate(0, 0, 7*i), TotalValue: 100})
		}
	}
	return &analysis.Run{ID: "run-1", PortfolioID: req.PortfolioID, Periods: f.steps}, nil
}

func (f *fakeSimulator) RunAll(ctx context.Context, start, end time.Time) (*performance.Rankings, error) {
	f.ranAll = true
	return f.rankings, nil
}

func (f *fakeSimulator) ResetPortfolio(ctx context.Context, id int64) (float64, error) {
	if id != 1 {
		return 0, domain.ErrPortfolioNotFound
	}
	return 100000, nil
}

type fakeInstruments struct{}

func (fakeInstruments) GetByTicker(ctx context.Context, ticker string) (*universe.Instrument, error) {
	if ticker != "AAA" {
		return nil, universe.ErrInstrumentNotFound
	}
	return &universe.Instrument{ID: 7, Ticker: "AAA", Sector: "Tech"}, nil
}

func (fakeInstruments) List(ctx context.Context, sector string) ([]universe.Instrument, error) {
	return []universe.Instrument{{ID: 7, Ticker: "AAA", Sector: sector}}, nil
}

type fakeHistory struct {
	instrumentID int64
	from, to     time.Time
}

func (f *fakeHistory) GetSeries(ctx context.Context, instrumentID int64, from, to time.Time) ([]domain.PricePoint, error) {
	f.instrumentID, f.from, f.to = instrumentID, from, to
	return []domain.PricePoint{
		{Date: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), Price: 10, Returns: 0.01},
		{Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Price: 11, Returns: 0.1},
	}, nil
}

type fakeRankings struct {
	latest *performance.Rankings
}

func (f fakeRankings) Latest() (*performance.Rankings, time.Time) {
	return f.latest, time.Now()
}

func newTestServer(t *testing.T, sim *fakeSimulator, rankings RankingsSource) (*Server, *fakePortfolios) {
	t.Helper()
	portfolios := &fakePortfolios{portfolio: &domain.Portfolio{ID: 1, Name: "Growth", Strategy: domain.StrategyLowRisk}}
	s := New(Config{
		Log:           zerolog.New(nil).Level(zerolog.Disabled),
		DevMode:       true,
		Portfolios:    portfolios,
		Trades:        fakeTrades{},
		Runs:          fakeRuns{},
		Simulator:     sim,
		Rankings:      rankings,
		Instruments:   fakeInstruments{},
		History:       &fakeHistory{},
		AnalysisStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		AnalysisEnd:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	return s, portfolios
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, &fakeSimulator{}, nil)

	for _, path := range []string{"/health", "/api/health"} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "fundsim", body["service"])
	}
}

func TestServer_GetPortfolio(t *testing.T) {
	s, portfolios := newTestServer(t, &fakeSimulator{}, nil)

	rec := do(t, s, http.MethodGet, "/api/portfolios/1?date=2024-03-04", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PortfolioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Growth", resp.Portfolio.Name)
	assert.Equal(t, "2024-03-04", resp.AsOf)
	assert.Len(t, resp.Positions, 1)
	assert.Equal(t, 50.0, resp.Cash.Value)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), portfolios.asOf)

	tests := []struct {
		path   string
		status int
	}{
		{"/api/portfolios/2", http.StatusNotFound},
		{"/api/portfolios/abc", http.StatusBadRequest},
		{"/api/portfolios/1?date=March", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.status, do(t, s, http.MethodGet, tt.path, "").Code)
		})
	}
}

func TestServer_ListEndpoints(t *testing.T) {
	s, _ := newTestServer(t, &fakeSimulator{}, nil)

	rec := do(t, s, http.MethodGet, "/api/portfolios", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"client_name":"Alice"`)

	rec = do(t, s, http.MethodGet, "/api/portfolios/1/trades?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/portfolios/1/trades/monthly", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2024-01")

	rec = do(t, s, http.MethodGet, "/api/portfolios/1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"r1"`)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/runs/r1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/runs/nope", "").Code)
}

func TestServer_Simulate(t *testing.T) {
	sim := &fakeSimulator{steps: 3}
	s, _ := newTestServer(t, sim, nil)

	rec := do(t, s, http.MethodPost, "/api/portfolios/1/simulate", `{"start":"2024-02-05","end":"2024-03-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var run analysis.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), sim.req.Start)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), sim.req.End)

	// Empty body falls back to the configured window
	rec = do(t, s, http.MethodPost, "/api/portfolios/1/simulate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), sim.req.Start)

	assert.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodPost, "/api/portfolios/1/simulate", `{"start":"2024-03-01","end":"2024-02-01"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodPost, "/api/portfolios/1/simulate", `{not json`).Code)
}

func TestServer_SimulateErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", &domain.ConfigurationError{PortfolioID: 9, Err: domain.ErrPortfolioNotFound}, http.StatusNotFound},
		{"in progress", analysis.ErrRunInProgress, http.StatusConflict},
		{"persistence", &domain.PersistenceError{Op: "commit", Err: assert.AnError}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeSimulator{err: tt.err}, nil)
			rec := do(t, s, http.MethodPost, "/api/portfolios/9/simulate", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestServer_Reset(t *testing.T) {
	s, _ := newTestServer(t, &fakeSimulator{}, nil)

	rec := do(t, s, http.MethodPost, "/api/portfolios/1/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"value":100000`)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/api/portfolios/2/reset", "").Code)
}

func TestServer_Rankings(t *testing.T) {
	cached := &performance.Rankings{Portfolios: []performance.PortfolioPerformance{{PortfolioID: 7}}}
	fresh := &performance.Rankings{Portfolios: []performance.PortfolioPerformance{{PortfolioID: 8}}}

	t.Run("serves cached rankings", func(t *testing.T) {
		sim := &fakeSimulator{rankings: fresh}
		s, _ := newTestServer(t, sim, fakeRankings{latest: cached})

		rec := do(t, s, http.MethodGet, "/api/rankings", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"portfolio_id":7`)
		assert.False(t, sim.ranAll)
	})

	t.Run("refresh runs the analysis", func(t *testing.T) {
		sim := &fakeSimulator{rankings: fresh}
		s, _ := newTestServer(t, sim, fakeRankings{latest: cached})

		rec := do(t, s, http.MethodGet, "/api/rankings?refresh=true", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"portfolio_id":8`)
		assert.True(t, sim.ranAll)
	})

	t.Run("no cache yet", func(t *testing.T) {
		sim := &fakeSimulator{rankings: fresh}
		s, _ := newTestServer(t, sim, nil)

		rec := do(t, s, http.MethodGet, "/api/rankings", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, sim.ranAll)
	})
}

func TestServer_SystemStatus(t *testing.T) {
	s, _ := newTestServer(t, &fakeSimulator{}, nil)

	rec := do(t, s, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Greater(t, resp.Goroutines, 0)
	assert.Nil(t, resp.Database)
}

func TestServer_InstrumentHistory(t *testing.T) {
	s, _ := newTestServer(t, &fakeSimulator{}, nil)
	history := s.cfg.History.(*fakeHistory)

	rec := do(t, s, http.MethodGet, "/api/instruments/AAA/history?from=2024-01-01&to=2024-01-31", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AAA", resp.Instrument.Ticker)
	assert.Equal(t, "2024-01-01", resp.From)
	assert.Equal(t, "2024-01-31", resp.To)
	assert.Len(t, resp.Points, 2)
	assert.Equal(t, int64(7), history.instrumentID)

	// Defaults: analysis start, unbounded end
	rec = do(t, s, http.MethodGet, "/api/instruments/AAA/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-01-01", history.from.Format(dateLayout))
	assert.True(t, history.to.IsZero())

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown ticker", "/api/instruments/ZZZ/history", http.StatusNotFound},
		{"bad from", "/api/instruments/AAA/history?from=01-01-2024", http.StatusBadRequest},
		{"to before from", "/api/instruments/AAA/history?from=2024-02-01&to=2024-01-01", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, do(t, s, http.MethodGet, tt.path, "").Code)
		})
	}
}

func TestServer_ListInstruments(t *testing.T) {
	s, _ := newTestServer(t, &fakeSimulator{}, nil)

	rec := do(t, s, http.MethodGet, "/api/instruments?sector=Tech", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var instruments []universe.Instrument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &instruments))
	require.Len(t, instruments, 1)
	assert.Equal(t, "Tech", instruments[0].Sector)
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t, &fakeSimulator{}, nil)
	do(t, s, http.MethodGet, "/api/health", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fundsim_http_requests_total")
}

func TestServer_SimulateStream(t *testing.T) {
	sim := &fakeSimulator{steps: 3}
	s, _ := newTestServer(t, sim, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/portfolios/1/simulate/stream?start=2024-01-01"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var types []string
	for {
		var msg StreamMessage
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		types = append(types, msg.Type)
		if msg.Type == "period" {
			require.NotNil(t, msg.Period)
			assert.Equal(t, 100.0, msg.Period.TotalValue)
		}
		if msg.Type == "done" {
			require.NotNil(t, msg.Run)
			assert.Equal(t, 3, msg.Run.Periods)
			break
		}
	}
	assert.Equal(t, []string{"period", "period", "period", "done"}, types)
}

func TestServer_SimulateStreamError(t *testing.T) {
	s, _ := newTestServer(t, &fakeSimulator{err: analysis.ErrRunInProgress}, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/portfolios/1/simulate/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "already running")
}
