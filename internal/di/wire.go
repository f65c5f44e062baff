// Package di provides dependency injection wiring and initialization.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/database"
	"github.com/aristath/fundsim/internal/modules/analysis"
	"github.com/aristath/fundsim/internal/modules/historical"
	"github.com/aristath/fundsim/internal/modules/ledger"
	"github.com/aristath/fundsim/internal/modules/optimization"
	"github.com/aristath/fundsim/internal/modules/portfolio"
	"github.com/aristath/fundsim/internal/modules/rebalancing"
	"github.com/aristath/fundsim/internal/modules/universe"
	"github.com/aristath/fundsim/internal/reliability"
	"github.com/aristath/fundsim/internal/scheduler"
	"github.com/rs/zerolog"
)

const (
	walCheckpointSchedule = "0 */15 * * * *"
	rankingTimeout        = 2 * time.Hour
)

// Wire initializes all dependencies and returns a fully configured container
// Order of operations:
// 1. Initialize the database
// 2. Initialize repositories
// 3. Initialize services
// 4. Register jobs
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, *JobInstances, error) {
	// Step 1: Initialize database
	container, err := InitializeDatabase(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Step 2: Initialize repositories
	InitializeRepositories(container, cfg, log)

	// Step 3: Initialize services
	if err := InitializeServices(container, cfg, log); err != nil {
		container.FundDB.Close()
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Step 4: Register jobs
	jobs, err := RegisterJobs(container, cfg, log)
	if err != nil {
		container.FundDB.Close()
		return nil, nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, jobs, nil
}

// InitializeDatabase opens the fund database and applies its schema
func InitializeDatabase(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	profile, err := database.ParseProfile(cfg.DBProfile)
	if err != nil {
		return nil, err
	}

	fundDB, err := database.New(database.Config{
		Path:    cfg.DBPath(),
		Profile: profile,
		Name:    "fund",
	})
	if err != nil {
		return nil, err
	}

	if err := fundDB.Migrate(); err != nil {
		fundDB.Close()
		return nil, fmt.Errorf("failed to migrate fund database: %w", err)
	}

	log.Info().Str("path", cfg.DBPath()).Str("profile", string(profile)).Msg("Fund database ready")
	return &Container{FundDB: fundDB}, nil
}

// InitializeRepositories creates the data access layer
func InitializeRepositories(container *Container, cfg *config.Config, log zerolog.Logger) {
	conn := container.FundDB.Conn()

	container.InstrumentRepo = universe.NewInstrumentRepository(conn, log)
	container.HistoryRepo = historical.NewHistoryRepository(conn, cfg.Policy.TrailingWindow, log)
	container.TradeRepo = ledger.NewTradeRepository(conn, log)
	container.PortfolioRepo = portfolio.NewPortfolioRepository(conn, container.HistoryRepo, log)
	container.RunRepo = analysis.NewRunRepository(conn, log)
	container.UnitOfWork = portfolio.NewUnitOfWork(container.PortfolioRepo)
}

// InitializeServices creates the optimizer, policies, run service and backup service
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Optimizer = optimization.NewMVOptimizer(optimization.Options{
		RiskFreeRate:        cfg.Policy.RiskFreeRate,
		MaxWeight:           cfg.Policy.MaxWeight,
		AnnualizationFactor: cfg.Policy.AnnualizationFactor,
	}, log)

	container.Policies = rebalancing.NewRegistry(cfg.Policy, container.Optimizer, log)

	container.RunService = analysis.NewRunService(analysis.Deps{
		Portfolios: container.UnitOfWork,
		History:    container.HistoryRepo,
		Policies:   container.Policies,
		Runs:       container.RunRepo,
	}, analysis.Options{
		Policy:     cfg.Policy,
		DefaultEnd: cfg.AnalysisEnd,
		Workers:    cfg.Workers,
	}, log)

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Store(context.Background(), cfg.Backup, log)
		if err != nil {
			return err
		}
		container.BackupService = reliability.NewBackupService(container.FundDB, store, cfg.DataDir, log)
	}
	return nil
}

// RegisterJobs registers the background jobs with a new scheduler (not started)
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	sched := scheduler.New(log)
	jobs := &JobInstances{}

	jobs.WALCheckpoint = scheduler.NewWALCheckpointJob(container.FundDB, log)
	if err := sched.AddJob(walCheckpointSchedule, jobs.WALCheckpoint); err != nil {
		return nil, fmt.Errorf("failed to register wal_checkpoint job: %w", err)
	}

	if cfg.AnalysisSchedule != "" {
		jobs.Rankings = scheduler.NewRankingJob(container.RunService, cfg.AnalysisStart, cfg.AnalysisEnd, rankingTimeout, log)
		if err := sched.AddJob(cfg.AnalysisSchedule, jobs.Rankings); err != nil {
			return nil, fmt.Errorf("failed to register rank_portfolios job: %w", err)
		}
	}

	if cfg.MaintenanceSchedule != "" {
		jobs.Maintenance = reliability.NewMaintenanceJob(container.FundDB, cfg.DataDir, log)
		if err := sched.AddJob(cfg.MaintenanceSchedule, jobs.Maintenance); err != nil {
			return nil, fmt.Errorf("failed to register maintenance job: %w", err)
		}
	}

	if container.BackupService != nil {
		jobs.Backup = reliability.NewBackupJob(container.BackupService, cfg.Backup.RetentionDays, log)
		if err := sched.AddJob(cfg.Backup.Schedule, jobs.Backup); err != nil {
			return nil, fmt.Errorf("failed to register cloud_backup job: %w", err)
		}
	}

	container.Scheduler = sched
	return jobs, nil
}
