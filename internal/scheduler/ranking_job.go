package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/fundsim/internal/modules/performance"
	"github.com/rs/zerolog"
)

// RankingRunner simulates every portfolio and ranks them
type RankingRunner interface {
	RunAll(ctx context.Context, start, end time.Time) (*performance.Rankings, error)
}

// RankingJob re-runs the full analysis and keeps the latest rankings in memory
type RankingJob struct {
	runner  RankingRunner
	start   time.Time
	end     time.Time
	timeout time.Duration
	log     zerolog.Logger

	mu       sync.RWMutex
	latest   *performance.Rankings
	computed time.Time
}

// NewRankingJob creates a ranking job over [start, end]. A zero timeout means none.
func NewRankingJob(runner RankingRunner, start, end time.Time, timeout time.Duration, log zerolog.Logger) *RankingJob {
	return &RankingJob{
		runner:  runner,
		start:   start,
		end:     end,
		timeout: timeout,
		log:     log.With().Str("job", "rank_portfolios").Logger(),
	}
}

// Name returns the job name
func (j *RankingJob) Name() string {
	return "rank_portfolios"
}

// Run executes the ranking analysis
func (j *RankingJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	started := time.Now()
	rankings, err := j.runner.RunAll(ctx, j.start, j.end)
	if err != nil {
		return err
	}

	j.mu.Lock()
	j.latest = rankings
	j.computed = time.Now()
	j.mu.Unlock()

	j.log.Info().
		Int("portfolios", len(rankings.Portfolios)).
		Dur("duration", time.Since(started)).
		Msg("Rankings refreshed")
	return nil
}

// Latest returns the last computed rankings and when they were computed.
// Nil until the job has run successfully once.
func (j *RankingJob) Latest() (*performance.Rankings, time.Time) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.latest, j.computed
}
