package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/simonxinpan/Tag-Explorer/internal/modules/health"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/refresh"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/stocks"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/tags"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/updates"
)

// recentUpdatesShown is how many audit rows the health payload includes
const recentUpdatesShown = 10

// Handlers exposes the refresh, health, and tag read endpoints
type Handlers struct {
	orchestrator *refresh.Orchestrator
	scorer       *health.Scorer
	stockRepo    *stocks.Repository
	tagRepo      *tags.Repository
	updatesRepo  *updates.Repository
	refreshToken string
	log          zerolog.Logger
}

// NewHandlers creates the API handlers
func NewHandlers(
	orchestrator *refresh.Orchestrator,
	scorer *health.Scorer,
	stockRepo *stocks.Repository,
	tagRepo *tags.Repository,
	updatesRepo *updates.Repository,
	refreshToken string,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		scorer:       scorer,
		stockRepo:    stockRepo,
		tagRepo:      tagRepo,
		updatesRepo:  updatesRepo,
		refreshToken: refreshToken,
		log:          log.With().Str("component", "handlers").Logger(),
	}
}

// RequireToken gates write-triggering endpoints behind the shared bearer
// token. No token configured means the endpoints stay locked.
func (h *Handlers) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.refreshToken == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(h.refreshToken)) != 1 {
			h.writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleRefreshStandard handles GET /api/refresh/standard
func (h *Handlers) HandleRefreshStandard(w http.ResponseWriter, r *http.Request) {
	h.runRefresh(w, r, updates.KindStandard, "manual standard refresh via api")
}

// HandleRefreshBatch handles GET /api/refresh/batch
func (h *Handlers) HandleRefreshBatch(w http.ResponseWriter, r *http.Request) {
	h.runRefresh(w, r, updates.KindBatch, "manual batch refresh via api")
}

// HandleRefreshTags handles GET /api/refresh/tags
func (h *Handlers) HandleRefreshTags(w http.ResponseWriter, r *http.Request) {
	h.runRefresh(w, r, updates.KindTagsOnly, "manual tags-only refresh via api")
}

// runRefresh executes one orchestrator run. Partial per-ticker failures
// still return 200; only a run-level failure is a 500.
func (h *Handlers) runRefresh(w http.ResponseWriter, r *http.Request, kind, reason string) {
	result, err := h.orchestrator.Run(r.Context(), kind, updates.TriggerManual, reason)
	if err != nil {
		if errors.Is(err, refresh.ErrRunInProgress) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.log.Error().Err(err).Str("kind", kind).Msg("Refresh run failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"summary": map[string]interface{}{
			"update_kind":         result.Kind,
			"total_stocks":        result.TotalStocks,
			"success_count":       result.SuccessCount,
			"error_count":         result.ErrorCount,
			"success_rate":        result.SuccessRate(),
			"tags_applied":        result.TagsApplied,
			"duration_seconds":    result.Duration.Seconds(),
			"health_score_before": result.HealthScoreBefore,
			"health_score_after":  result.HealthScoreAfter,
		},
		"errors": errs,
	})
}

// HandleHealth handles GET /api/health. Pure read, no auth.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.scorer.Compute()
	if err != nil {
		h.log.Error().Err(err).Msg("Health computation failed")
		h.writeError(w, http.StatusInternalServerError, "health computation failed")
		return
	}

	recent, err := h.updatesRepo.GetRecent(recentUpdatesShown)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to load recent updates for health payload")
		recent = []updates.UpdateStat{}
	}
	if recent == nil {
		recent = []updates.UpdateStat{}
	}

	metrics := map[string]interface{}{
		"data_completeness": report.Completeness,
		"data_freshness":    report.Freshness,
		"data_quality":      report.Quality,
		"tag_coverage":      report.TagCoverage,
	}
	if report.ChangeStats != nil {
		metrics["change_stats"] = report.ChangeStats
	}

	recommendations := report.Recommendations
	if recommendations == nil {
		recommendations = []string{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"summary": map[string]interface{}{
			"overall_health_score": report.Score,
			"health_status":        report.Status,
			"total_stocks":         report.TotalStocks,
			"anomalous_count":      report.AnomalousCount,
			"recommendations":      recommendations,
		},
		"metrics":        metrics,
		"recent_updates": recent,
		"weights":        health.Weights(),
	})
}

// HandleListTags handles GET /api/tags
func (h *Handlers) HandleListTags(w http.ResponseWriter, r *http.Request) {
	list, err := h.tagRepo.ListWithCounts()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list tags")
		h.writeError(w, http.StatusInternalServerError, "failed to list tags")
		return
	}
	if list == nil {
		list = []tags.TagWithCount{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(list),
		"tags":    list,
	})
}

// HandleStocksByTag handles GET /api/tags/{name}/stocks
func (h *Handlers) HandleStocksByTag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	tag, err := h.tagRepo.GetByName(name)
	if err != nil {
		h.log.Error().Err(err).Str("tag", name).Msg("Failed to look up tag")
		h.writeError(w, http.StatusInternalServerError, "failed to look up tag")
		return
	}
	if tag == nil {
		h.writeError(w, http.StatusNotFound, "tag not found: "+name)
		return
	}

	list, err := h.tagRepo.GetStocksByTagName(name)
	if err != nil {
		h.log.Error().Err(err).Str("tag", name).Msg("Failed to list stocks for tag")
		h.writeError(w, http.StatusInternalServerError, "failed to list stocks for tag")
		return
	}
	if list == nil {
		list = []tags.StockSummary{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tag":     tag,
		"count":   len(list),
		"stocks":  list,
	})
}

// HandleTagsForStock handles GET /api/stocks/{ticker}/tags
func (h *Handlers) HandleTagsForStock(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	stock, err := h.stockRepo.GetByTicker(ticker)
	if err != nil {
		h.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to look up stock")
		h.writeError(w, http.StatusInternalServerError, "failed to look up stock")
		return
	}
	if stock == nil {
		h.writeError(w, http.StatusNotFound, "stock not found: "+ticker)
		return
	}

	list, err := h.tagRepo.GetTagsForTicker(ticker)
	if err != nil {
		h.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to list tags for stock")
		h.writeError(w, http.StatusInternalServerError, "failed to list tags for stock")
		return
	}
	if list == nil {
		list = []tags.Tag{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"ticker":  stock.Ticker,
		"count":   len(list),
		"tags":    list,
	})
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
