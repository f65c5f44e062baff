package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/modules/analysis"
	"github.com/aristath/fundsim/internal/modules/universe"
)

const dateLayout = "2006-01-02"

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "fundsim",
	}

	s.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data, s.log)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps domain errors to status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrPortfolioNotFound), errors.Is(err, analysis.ErrRunNotFound),
		errors.Is(err, universe.ErrInstrumentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, analysis.ErrRunInProgress):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// portfolioID parses the {id} URL parameter
func portfolioID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// parseDate parses an optional YYYY-MM-DD value, falling back to def when empty
func parseDate(value string, def time.Time) (time.Time, error) {
	if value == "" {
		return def, nil
	}
	return time.Parse(dateLayout, value)
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// handleListPortfolios handles GET /api/portfolios
func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.cfg.Portfolios.ListPortfolioSummaries(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

// PortfolioResponse is a portfolio with its positions marked as of a date
type PortfolioResponse struct {
	Portfolio *domain.Portfolio `json:"portfolio"`
	AsOf      string            `json:"as_of"`
	Positions []domain.Position `json:"positions"`
	Cash      domain.Cash       `json:"cash"`
}

// handleGetPortfolio handles GET /api/portfolios/{id}?date=YYYY-MM-DD
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	id, err := portfolioID(r)
	if err != nil {
		s.badRequest(w, "invalid portfolio id")
		return
	}
	asOf, err := parseDate(r.URL.Query().Get("date"), time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		s.badRequest(w, "invalid date, expected YYYY-MM-DD")
		return
	}

	p, err := s.cfg.Portfolios.GetPortfolio(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	positions, cash, err := s.cfg.Portfolios.ReadPositions(r.Context(), id, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, PortfolioResponse{
		Portfolio: p,
		AsOf:      asOf.Format(dateLayout),
		Positions: positions,
		Cash:      cash,
	})
}

// handleListTrades handles GET /api/portfolios/{id}/trades?limit=N
func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	id, err := portfolioID(r)
	if err != nil {
		s.badRequest(w, "invalid portfolio id")
		return
	}
	trades, err := s.cfg.Trades.ListByPortfolio(r.Context(), id, queryLimit(r, 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

// handleMonthlyTrades handles GET /api/portfolios/{id}/trades/monthly
func (s *Server) handleMonthlyTrades(w http.ResponseWriter, r *http.Request) {
	id, err := portfolioID(r)
	if err != nil {
		s.badRequest(w, "invalid portfolio id")
		return
	}
	counts, err := s.cfg.Trades.CountByMonth(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

// handleListRuns handles GET /api/portfolios/{id}/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id, err := portfolioID(r)
	if err != nil {
		s.badRequest(w, "invalid portfolio id")
		return
	}
	runs, err := s.cfg.Runs.ListByPortfolio(r.Context(), id, queryLimit(r, 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []analysis.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// handleGetRun handles GET /api/runs/{runID}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.cfg.Runs.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// SimulateRequest is the body of a simulate call. Empty dates use the configured window.
type SimulateRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) window(start, end string) (time.Time, time.Time, error) {
	from, err := parseDate(start, s.cfg.AnalysisStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate(end, s.cfg.AnalysisEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.IsZero() {
		return time.Time{}, time.Time{}, errors.New("start date is required")
	}
	if !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("end date is before start date")
	}
	return from, to, nil
}

// handleSimulate handles POST /api/portfolios/{id}/simulate
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	id, err := portfolioID(r)
	if err != nil {
		s.badRequest(w, "invalid portfolio id")
		return
	}

	var req SimulateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.badRequest(w, "invalid request body")
			return
		}
	}
	start, end, err := s.window(req.Start, req.End)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	run, err := s.cfg.Simulator.RunPortfolio(r.Context(), analysis.RunRequest{
		PortfolioID: id,
		Start:       start,
		End:         end,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleReset handles POST /api/portfolios/{id}/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id, err := portfolioID(r)
	if err != nil {
		s.badRequest(w, "invalid portfolio id")
		return
	}
	value, err := s.cfg.Simulator.ResetPortfolio(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolio_id": id,
		"value":        value,
	})
}

// handleRankings handles GET /api/rankings. The scheduled rankings are served
// unless ?refresh=true or none have been computed yet.
func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"

	if !refresh && s.cfg.Rankings != nil {
		if latest, at := s.cfg.Rankings.Latest(); latest != nil {
			s.writeJSON(w, http.StatusOK, map[string]interface{}{
				"computed_at": at,
				"rankings":    latest,
			})
			return
		}
	}

	start, end, err := s.window(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	rankings, err := s.cfg.Simulator.RunAll(r.Context(), start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"computed_at": time.Now().UTC(),
		"rankings":    rankings,
	})
}
