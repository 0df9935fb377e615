package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/simonxinpan/Tag-Explorer/internal/database"
	"github.com/simonxinpan/Tag-Explorer/internal/reliability"
)

// SystemHandlers exposes process and storage diagnostics plus the manual
// backup trigger
type SystemHandlers struct {
	db        *database.DB
	backups   *reliability.BackupService // nil when backups are not configured
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates the system handlers
func NewSystemHandlers(db *database.DB, backups *reliability.BackupService, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		db:        db,
		backups:   backups,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handlers").Logger(),
	}
}

// HandleStatus handles GET /api/system/status
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.systemStats()

	status := map[string]interface{}{
		"success":        true,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"system": map[string]interface{}{
			"cpu_percent": cpuPercent,
			"ram_percent": ramPercent,
			"goroutines":  runtime.NumGoroutine(),
			"go_version":  runtime.Version(),
		},
		"backups_enabled": h.backups != nil,
	}

	if stats, err := h.db.GetStats(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read database stats")
	} else {
		status["database"] = map[string]interface{}{
			"size_bytes":     stats.SizeBytes,
			"wal_size_bytes": stats.WALSizeBytes,
			"page_count":     stats.PageCount,
			"page_size":      stats.PageSize,
			"freelist_count": stats.FreelistCount,
		}
	}

	h.writeJSON(w, http.StatusOK, status)
}

// HandleBackup handles POST /api/system/backup
func (h *SystemHandlers) HandleBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"error":   "backups are not configured",
		})
		return
	}

	archive, err := h.backups.CreateAndUpload(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Manual backup failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"archive": archive,
	})
}

// systemStats samples CPU and memory usage; failures degrade to zero
func (h *SystemHandlers) systemStats() (float64, float64) {
	var cpuAvg float64
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to sample CPU usage")
	} else if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to sample memory usage")
		return cpuAvg, 0
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
