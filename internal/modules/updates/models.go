// Package updates provides the immutable refresh-run audit trail.
package updates

import (
	"time"
)

// Update kinds
const (
	KindStandard    = "standard"
	KindBatch       = "batch"
	KindTagsOnly    = "tags_only"
	KindMaintenance = "maintenance"
)

// Trigger sources
const (
	TriggerManual      = "manual"
	TriggerCron        = "cron"
	TriggerHealthCheck = "health_check"
)

// UpdateStat is one immutable audit record of a refresh run. Created
// exactly once per run at the end, success or failure, never mutated.
type UpdateStat struct {
	ID                string                 `json:"id"`
	Kind              string                 `json:"update_kind"`
	TotalStocks       int                    `json:"total_stocks"`
	SuccessCount      int                    `json:"success_count"`
	ErrorCount        int                    `json:"error_count"`
	Duration          time.Duration          `json:"-"`
	DurationMS        int64                  `json:"duration_ms"`
	TriggerSource     string                 `json:"trigger_source"`
	TriggerReason     string                 `json:"trigger_reason"`
	HealthScoreBefore *int                   `json:"health_score_before"`
	HealthScoreAfter  *int                   `json:"health_score_after"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}
