package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/simonxinpan/Tag-Explorer/internal/modules/refresh"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/updates"
)

// refreshTimeout bounds one scheduled run end to end
const refreshTimeout = 30 * time.Minute

// RefreshJob triggers the daily standard refresh run
type RefreshJob struct {
	orchestrator *refresh.Orchestrator
	log          zerolog.Logger
}

// NewRefreshJob creates the daily standard refresh job
func NewRefreshJob(orchestrator *refresh.Orchestrator, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		orchestrator: orchestrator,
		log:          log.With().Str("job", "standard_refresh").Logger(),
	}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return "standard_refresh"
}

// Run executes one standard refresh. An already-running refresh is not
// an error; the scheduled slot is simply skipped.
func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	result, err := j.orchestrator.Run(ctx, updates.KindStandard, updates.TriggerCron, "scheduled daily refresh")
	if err != nil {
		if errors.Is(err, refresh.ErrRunInProgress) {
			j.log.Warn().Msg("Skipping scheduled refresh, another run is in progress")
			return nil
		}
		return err
	}

	j.log.Info().
		Int("success", result.SuccessCount).
		Int("errors", result.ErrorCount).
		Msg("Scheduled refresh finished")

	return nil
}
