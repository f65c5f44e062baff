package di

import (
	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/server"
	"github.com/rs/zerolog"
)

// NewServer builds the HTTP server over the container's services
func NewServer(container *Container, jobs *JobInstances, cfg *config.Config, log zerolog.Logger) *server.Server {
	srvCfg := server.Config{
		Log:           log,
		DB:            container.FundDB,
		Port:          cfg.Port,
		DevMode:       cfg.DevMode,
		Portfolios:    container.PortfolioRepo,
		Trades:        container.TradeRepo,
		Runs:          container.RunRepo,
		Simulator:     container.RunService,
		Instruments:   container.InstrumentRepo,
		History:       container.HistoryRepo,
		AnalysisStart: cfg.AnalysisStart,
		AnalysisEnd:   cfg.AnalysisEnd,
	}
	// A nil *RankingJob must not become a non-nil interface
	if jobs != nil && jobs.Rankings != nil {
		srvCfg.Rankings = jobs.Rankings
	}
	return server.New(srvCfg)
}
