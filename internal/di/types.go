/**
 * Package di provides dependency injection type definitions.
 *
 * The Container holds every service instance of the simulator and is the
 * single source of truth handed to the HTTP server and CLI commands.
 */
package di

import (
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
)

// Container holds all dependencies for the application
type Container struct {
	// Database (single fund database, WAL mode)
	FundDB *database.DB

	// Repositories - Data access layer
	InstrumentRepo *universe.InstrumentRepository
	HistoryRepo    *historical.HistoryRepository
	TradeRepo      *ledger.TradeRepository
	PortfolioRepo  *portfolio.PortfolioRepository
	RunRepo        *analysis.RunRepository

	// Portfolio store used by simulations: commits positions and trades in one transaction
	UnitOfWork *portfolio.UnitOfWork

	// Services
	Optimizer  *optimization.MVOptimizer
	Policies   *rebalancing.Registry
	RunService *analysis.RunService

	// Off-site backups, nil unless a backup bucket is configured
	BackupService *reliability.BackupService

	// Background jobs
	Scheduler *scheduler.Scheduler
}

// JobInstances holds references to the registered jobs for manual triggering
type JobInstances struct {
	Rankings      *scheduler.RankingJob // nil when no analysis schedule is configured
	WALCheckpoint *scheduler.WALCheckpointJob
	Maintenance   *reliability.MaintenanceJob // nil when no maintenance schedule is configured
	Backup        *reliability.BackupJob      // nil when backups are disabled
}

// Close releases the container's resources
func (c *Container) Close() error {
	if c.FundDB != nil {
		return c.FundDB.Close()
	}
	return nil
}
