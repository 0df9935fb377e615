package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/simonxinpan/Tag-Explorer/internal/modules/health"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/refresh"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/updates"
)

// batchEscalationScore is the health score below which the hourly check
// escalates to a batch run
const batchEscalationScore = 60

// HealthCheckJob scores data health hourly and escalates to a batch
// refresh when the score drops below the threshold
type HealthCheckJob struct {
	scorer       *health.Scorer
	orchestrator *refresh.Orchestrator
	log          zerolog.Logger
}

// NewHealthCheckJob creates the hourly health check job
func NewHealthCheckJob(scorer *health.Scorer, orchestrator *refresh.Orchestrator, log zerolog.Logger) *HealthCheckJob {
	return &HealthCheckJob{
		scorer:       scorer,
		orchestrator: orchestrator,
		log:          log.With().Str("job", "health_check").Logger(),
	}
}

// Name returns the job name
func (j *HealthCheckJob) Name() string {
	return "health_check"
}

// Run scores the store and triggers a batch run on poor health
func (j *HealthCheckJob) Run() error {
	report, err := j.scorer.Compute()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	j.log.Info().
		Int("score", report.Score).
		Str("status", report.Status).
		Msg("Health check")

	if report.Score >= batchEscalationScore {
		return nil
	}

	j.log.Warn().
		Int("score", report.Score).
		Msg("Health score below threshold, escalating to batch refresh")

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	reason := fmt.Sprintf("health score %d below %d", report.Score, batchEscalationScore)
	if _, err := j.orchestrator.Run(ctx, updates.KindBatch, updates.TriggerHealthCheck, reason); err != nil {
		if errors.Is(err, refresh.ErrRunInProgress) {
			j.log.Warn().Msg("Batch escalation skipped, another run is in progress")
			return nil
		}
		return err
	}

	return nil
}
