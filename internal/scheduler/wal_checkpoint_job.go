package scheduler

import (
	"github.com/aristath/fundsim/internal/database"
	"github.com/rs/zerolog"
)

// WALCheckpointJob truncates the fund database's write-ahead log after
// simulation bursts
type WALCheckpointJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewWALCheckpointJob creates a new WALCheckpointJob
func NewWALCheckpointJob(db *database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		db:  db,
		log: log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run executes the checkpoint
func (j *WALCheckpointJob) Run() error {
	before, _ := j.db.GetStats()
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		return err
	}

	if before != nil {
		j.log.Debug().
			Str("database", j.db.Name()).
			Int64("wal_bytes_before", before.WALSizeBytes).
			Msg("WAL checkpoint completed")
	}
	return nil
}
