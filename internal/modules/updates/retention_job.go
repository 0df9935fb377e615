package updates

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RetentionDays is how long audit rows are kept
const RetentionDays = 90

// RetentionJob purges audit rows past the retention window.
// The purge itself is logged as one maintenance UpdateStat row recording
// how many rows were removed.
type RetentionJob struct {
	repo *Repository
	log  zerolog.Logger
}

// NewRetentionJob creates a new retention job
func NewRetentionJob(repo *Repository, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		repo: repo,
		log:  log.With().Str("job", "stats_retention").Logger(),
	}
}

// Name returns the job name for the scheduler
func (j *RetentionJob) Name() string {
	return "stats_retention"
}

// Run deletes audit rows older than the retention window and appends
// exactly one maintenance row describing the purge.
func (j *RetentionJob) Run() error {
	start := time.Now()
	cutoff := start.AddDate(0, 0, -RetentionDays)

	deleted, err := j.repo.DeleteOlderThan(cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge old update stats: %w", err)
	}

	_, err = j.repo.Record(UpdateStat{
		Kind:          KindMaintenance,
		TotalStocks:   0,
		SuccessCount:  int(deleted),
		ErrorCount:    0,
		Duration:      time.Since(start),
		TriggerSource: TriggerCron,
		TriggerReason: fmt.Sprintf("retention cleanup: purged %d rows older than %d days", deleted, RetentionDays),
		Metadata: map[string]interface{}{
			"purged_rows": deleted,
			"cutoff":      cutoff.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to record maintenance stat: %w", err)
	}

	j.log.Info().
		Int64("purged", deleted).
		Msg("Update stats retention cleanup completed")

	return nil
}
