package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/fundsim/internal/modules/analysis"
	"github.com/aristath/fundsim/internal/modules/simulation"
)

const streamWriteTimeout = 5 * time.Second

// StreamMessage is one frame of the simulation progress stream
type StreamMessage struct {
	Type   string                 `json:"type"` // period, done or error
	Period *simulation.StepResult `json:"period,omitempty"`
	Run    *analysis.Run          `json:"run,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// handleSimulateStream handles GET /api/portfolios/{id}/simulate/stream?start=&end=
// It upgrades to a websocket and sends one message per committed period.
// Closing the socket cancels the run before its next period.
func (s *Server) handleSimulateStream(w http.ResponseWriter, r *http.Request) {
	id, err := portfolioID(r)
	if err != nil {
		s.badRequest(w, "invalid portfolio id")
		return
	}
	start, end, err := s.window(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	// The client only listens; any read ends the stream
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := func(msg StreamMessage) error {
		writeCtx, writeCancel := context.WithTimeout(ctx, streamWriteTimeout)
		defer writeCancel()
		return wsjson.Write(writeCtx, conn, msg)
	}

	log := s.log.With().Int64("portfolio_id", id).Logger()
	log.Info().Msg("Streaming simulation")

	run, err := s.cfg.Simulator.RunPortfolio(ctx, analysis.RunRequest{
		PortfolioID: id,
		Start:       start,
		End:         end,
		OnStep: func(step *simulation.StepResult) {
			if err := send(StreamMessage{Type: "period", Period: step}); err != nil {
				log.Debug().Err(err).Msg("Stream write failed, cancelling run")
				cancel()
			}
		},
	})
	if err != nil {
		if ctx.Err() == nil {
			_ = send(StreamMessage{Type: "error", Error: err.Error()})
			conn.Close(websocket.StatusNormalClosure, "simulation failed")
			return
		}
		log.Info().Err(err).Msg("Stream closed before the run completed")
		return
	}

	if err := send(StreamMessage{Type: "done", Run: run}); err != nil {
		log.Debug().Err(err).Msg("Failed to send final message")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
