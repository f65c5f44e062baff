package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/modules/universe"
)

// HistoryResponse is the stored price history of one instrument
type HistoryResponse struct {
	Instrument *universe.Instrument `json:"instrument"`
	From       string               `json:"from"`
	To         string               `json:"to,omitempty"`
	Points     []domain.PricePoint  `json:"points"`
}

// handleListInstruments handles GET /api/instruments?sector=
func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.cfg.Instruments.List(r.Context(), r.URL.Query().Get("sector"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instruments)
}

// handleInstrumentHistory handles GET /api/instruments/{ticker}/history?from=&to=
// from defaults to the analysis start; an empty to is unbounded.
func (s *Server) handleInstrumentHistory(w http.ResponseWriter, r *http.Request) {
	from, err := parseDate(r.URL.Query().Get("from"), s.cfg.AnalysisStart)
	if err != nil {
		s.badRequest(w, "invalid from date, expected YYYY-MM-DD")
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"), time.Time{})
	if err != nil {
		s.badRequest(w, "invalid to date, expected YYYY-MM-DD")
		return
	}
	if !to.IsZero() && to.Before(from) {
		s.badRequest(w, "to must not be before from")
		return
	}

	inst, err := s.cfg.Instruments.GetByTicker(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	points, err := s.cfg.History.GetSeries(r.Context(), inst.ID, from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := HistoryResponse{
		Instrument: inst,
		From:       from.Format(dateLayout),
		Points:     points,
	}
	if !to.IsZero() {
		resp.To = to.Format(dateLayout)
	}
	s.writeJSON(w, http.StatusOK, resp)
}
