// Package server provides the HTTP server and routing for fundsim.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/fundsim/internal/database"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/metrics"
	"github.com/aristath/fundsim/internal/modules/analysis"
	"github.com/aristath/fundsim/internal/modules/ledger"
	"github.com/aristath/fundsim/internal/modules/performance"
	"github.com/aristath/fundsim/internal/modules/universe"
)

// PortfolioQueries reads portfolios for the API
type PortfolioQueries interface {
	ListPortfolioSummaries(ctx context.Context) ([]domain.PortfolioSummary, error)
	GetPortfolio(ctx context.Context, portfolioID int64) (*domain.Portfolio, error)
	ReadPositions(ctx context.Context, portfolioID int64, asOf time.Time) ([]domain.Position, domain.Cash, error)
}

// TradeQueries reads the trade ledger
type TradeQueries interface {
	ListByPortfolio(ctx context.Context, portfolioID int64, limit int) ([]domain.Trade, error)
	CountByMonth(ctx context.Context, portfolioID int64) ([]ledger.MonthCount, error)
}

// RunQueries reads stored analysis runs
type RunQueries interface {
	ListByPortfolio(ctx context.Context, portfolioID int64, limit int) ([]analysis.Run, error)
	Get(ctx context.Context, id string) (*analysis.Run, error)
}

// Simulator runs and resets portfolio simulations
type Simulator interface {
	RunPortfolio(ctx context.Context, req analysis.RunRequest) (*analysis.Run, error)
	RunAll(ctx context.Context, start, end time.Time) (*performance.Rankings, error)
	ResetPortfolio(ctx context.Context, portfolioID int64) (float64, error)
}

// InstrumentQueries reads the instrument catalogue
type InstrumentQueries interface {
	GetByTicker(ctx context.Context, ticker string) (*universe.Instrument, error)
	List(ctx context.Context, sector string) ([]universe.Instrument, error)
}

// HistoryQueries reads stored price history
type HistoryQueries interface {
	GetSeries(ctx context.Context, instrumentID int64, from, to time.Time) ([]domain.PricePoint, error)
}

// RankingsSource serves the rankings computed by the scheduled job
type RankingsSource interface {
	Latest() (*performance.Rankings, time.Time)
}

// Config holds server configuration
type Config struct {
	Log        zerolog.Logger
	DB         *database.DB
	Port       int
	DevMode    bool
	Portfolios PortfolioQueries
	Trades     TradeQueries
	Runs       RunQueries
	Simulator  Simulator
	Rankings   RankingsSource // optional
	// Instrument catalogue and price history; both optional, routes are
	// registered only when both are set
	Instruments InstrumentQueries
	History     HistoryQueries
	// Default analysis window for simulate and rankings requests
	AnalysisStart time.Time
	AnalysisEnd   time.Time
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	cfg     Config
	started time.Time
	system  *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		cfg:     cfg,
		started: time.Now(),
	}
	s.system = NewSystemHandlers(cfg.DB, s.started, cfg.Log)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Simulations and the progress stream write for much longer than a plain request
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging and request metrics
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		// Quick reads
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/health", s.handleHealth)
			r.Get("/system/status", s.system.HandleSystemStatus)

			r.Get("/portfolios", s.handleListPortfolios)
			r.Route("/portfolios/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPortfolio)
				r.Get("/trades", s.handleListTrades)
				r.Get("/trades/monthly", s.handleMonthlyTrades)
				r.Get("/runs", s.handleListRuns)
				r.Post("/reset", s.handleReset)
			})
			r.Get("/runs/{runID}", s.handleGetRun)

			if s.cfg.Instruments != nil && s.cfg.History != nil {
				r.Get("/instruments", s.handleListInstruments)
				r.Get("/instruments/{ticker}/history", s.handleInstrumentHistory)
			}
		})

		// Simulations run as long as they need to
		r.Post("/portfolios/{id}/simulate", s.handleSimulate)
		r.Get("/portfolios/{id}/simulate/stream", s.handleSimulateStream)
		r.Get("/rankings", s.handleRankings)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests and counts them by route
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
