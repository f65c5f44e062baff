package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/fundsim/internal/database"
)

const (
	// Below this the job fails
	criticalFreeBytes = 500 * 1024 * 1024
	// Below this the job warns
	lowFreeBytes = 2 * 1024 * 1024 * 1024
)

// MaintenanceJob checks the fund database's integrity, truncates its WAL and
// verifies free disk space in the data directory
type MaintenanceJob struct {
	db      *database.DB
	dataDir string
	timeout time.Duration
	log     zerolog.Logger

	// replaced in tests
	usage func(path string) (*disk.UsageStat, error)
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(db *database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:      db,
		dataDir: dataDir,
		timeout: 5 * time.Minute,
		log:     log.With().Str("job", "maintenance").Logger(),
		usage:   disk.Usage,
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	// Step 1: Integrity check
	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("CRITICAL: Fund database failed integrity check")
		return err
	}

	// Step 2: WAL checkpoint (not critical)
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	// Step 3: Disk space
	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	// Step 4: Report size
	if stats, err := j.db.GetStats(); err == nil {
		j.log.Info().
			Int64("size_bytes", stats.SizeBytes).
			Int64("freelist_pages", stats.FreelistCount).
			Msg("Fund database size")
	}

	j.log.Info().Dur("duration_ms", time.Since(startTime)).Msg("Maintenance completed successfully")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	usage, err := j.usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	j.log.Debug().Uint64("free_bytes", usage.Free).Float64("used_percent", usage.UsedPercent).Msg("Disk space check")

	switch {
	case usage.Free < criticalFreeBytes:
		j.log.Error().Uint64("free_bytes", usage.Free).Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("only %d MB free in %s", usage.Free/1024/1024, j.dataDir)
	case usage.Free < lowFreeBytes:
		j.log.Warn().Uint64("free_bytes", usage.Free).Msg("Low disk space")
	}
	return nil
}

// BackupJob uploads a fresh backup and rotates old ones
type BackupJob struct {
	service       *BackupService
	retentionDays int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(service *BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service:       service,
		retentionDays: retentionDays,
		timeout:       30 * time.Minute,
		log:           log.With().Str("job", "cloud_backup").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "cloud_backup"
}

// Run executes the backup job. A rotation failure is logged but does not fail the job.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	if _, err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
