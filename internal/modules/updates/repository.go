package updates

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository handles update_stats database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new update stats repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "updates").Logger(),
	}
}

// Record inserts one audit row. The id and creation time are assigned here;
// rows are never updated afterwards.
func (r *Repository) Record(stat UpdateStat) (string, error) {
	id := uuid.New().String()
	now := time.Now()

	var metadataJSON interface{}
	if len(stat.Metadata) > 0 {
		b, err := json.Marshal(stat.Metadata)
		if err != nil {
			return "", fmt.Errorf("failed to marshal stat metadata: %w", err)
		}
		metadataJSON = string(b)
	}

	_, err := r.db.Exec(`
		INSERT INTO update_stats
		(id, update_kind, total_stocks, success_count, error_count, duration_ms,
		 trigger_source, trigger_reason, health_score_before, health_score_after,
		 metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		stat.Kind,
		stat.TotalStocks,
		stat.SuccessCount,
		stat.ErrorCount,
		stat.Duration.Milliseconds(),
		stat.TriggerSource,
		nullStr(stat.TriggerReason),
		nullInt(stat.HealthScoreBefore),
		nullInt(stat.HealthScoreAfter),
		metadataJSON,
		now.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert update stat: %w", err)
	}

	r.log.Debug().
		Str("id", id).
		Str("kind", stat.Kind).
		Int("success", stat.SuccessCount).
		Int("errors", stat.ErrorCount).
		Msg("Update stat recorded")

	return id, nil
}

// GetRecent returns the most recent audit rows, newest first
func (r *Repository) GetRecent(limit int) ([]UpdateStat, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(`
		SELECT id, update_kind, total_stocks, success_count, error_count, duration_ms,
		       trigger_source, trigger_reason, health_score_before, health_score_after,
		       metadata, created_at
		FROM update_stats
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query update stats: %w", err)
	}
	defer rows.Close()

	var result []UpdateStat
	for rows.Next() {
		stat, err := scanStat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan update stat: %w", err)
		}
		result = append(result, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating update stats: %w", err)
	}

	return result, nil
}

// Count returns the total number of audit rows
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM update_stats").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count update stats: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes audit rows created before the cutoff and returns
// the number deleted
func (r *Repository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM update_stats WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old update stats: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}

	return deleted, nil
}

func scanStat(rows *sql.Rows) (UpdateStat, error) {
	var stat UpdateStat
	var reason, metadata sql.NullString
	var before, after sql.NullInt64
	var createdAt int64

	err := rows.Scan(
		&stat.ID, &stat.Kind, &stat.TotalStocks, &stat.SuccessCount, &stat.ErrorCount,
		&stat.DurationMS, &stat.TriggerSource, &reason, &before, &after,
		&metadata, &createdAt,
	)
	if err != nil {
		return stat, err
	}

	stat.Duration = time.Duration(stat.DurationMS) * time.Millisecond
	stat.TriggerReason = reason.String
	stat.CreatedAt = time.Unix(createdAt, 0).UTC()

	if before.Valid {
		v := int(before.Int64)
		stat.HealthScoreBefore = &v
	}
	if after.Valid {
		v := int(after.Int64)
		stat.HealthScoreAfter = &v
	}
	if metadata.Valid && metadata.String != "" {
		// Metadata is best-effort: a corrupt blob should not make the
		// audit trail unreadable
		_ = json.Unmarshal([]byte(metadata.String), &stat.Metadata)
	}

	return stat, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
