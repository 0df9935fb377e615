// Package health computes the composite data-health score over the stock
// and tag tables. The computation is a pure read so it can run before and
// after a refresh without influencing it.
package health

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/simonxinpan/Tag-Explorer/internal/modules/stocks"
)

// Metric weights. Completeness and freshness dominate because stale or
// missing price data invalidates most tags.
const (
	WeightCompleteness = 0.30
	WeightFreshness    = 0.30
	WeightQuality      = 0.25
	WeightTagCoverage  = 0.15
)

// Per-metric recommendation thresholds (percent)
const (
	completenessFloor = 95.0
	freshnessFloor    = 80.0
	tagCoverageFloor  = 90.0
)

// FreshnessWindow bounds the freshness metric
const FreshnessWindow = 24 * time.Hour

// Health statuses
const (
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusFair      = "fair"
	StatusPoor      = "poor"
)

// Metric is one health dimension as a percentage of the stock universe
type Metric struct {
	Rate   float64 `json:"rate"`
	Status string  `json:"status"`
	Count  int     `json:"count"`
	Total  int     `json:"total"`
}

// ChangeStats summarizes the distribution of change_percent across the
// universe (diagnostic only, not part of the score)
type ChangeStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Count  int     `json:"count"`
}

// Report is the full health computation result
type Report struct {
	Score           int          `json:"overall_health_score"`
	Status          string       `json:"health_status"`
	TotalStocks     int          `json:"total_stocks"`
	AnomalousCount  int          `json:"anomalous_count"`
	Recommendations []string     `json:"recommendations"`
	Completeness    Metric       `json:"data_completeness"`
	Freshness       Metric       `json:"data_freshness"`
	Quality         Metric       `json:"data_quality"`
	TagCoverage     Metric       `json:"tag_coverage"`
	ChangeStats     *ChangeStats `json:"change_stats,omitempty"`
}

// Weights exposes the scoring weights for the health endpoint payload
func Weights() map[string]float64 {
	return map[string]float64{
		"completeness": WeightCompleteness,
		"freshness":    WeightFreshness,
		"quality":      WeightQuality,
		"tag_coverage": WeightTagCoverage,
	}
}

// Scorer computes health reports from store counters
type Scorer struct {
	stockRepo *stocks.Repository
	log       zerolog.Logger
}

// NewScorer creates a new health scorer
func NewScorer(stockRepo *stocks.Repository, log zerolog.Logger) *Scorer {
	return &Scorer{
		stockRepo: stockRepo,
		log:       log.With().Str("service", "health_scorer").Logger(),
	}
}

// Compute builds the weighted health report. An empty universe scores 0
// with status "poor"; no metric ever divides by zero.
func (s *Scorer) Compute() (*Report, error) {
	counts, err := s.stockRepo.GetHealthCounts(FreshnessWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to read health counts: %w", err)
	}

	report := BuildReport(counts)

	// Distribution summary is best-effort diagnostics
	if values, err := s.stockRepo.GetChangePercents(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to read change percents for distribution stats")
	} else if len(values) > 0 {
		report.ChangeStats = &ChangeStats{
			Mean:   stat.Mean(values, nil),
			StdDev: stat.StdDev(values, nil),
			Count:  len(values),
		}
	}

	return report, nil
}

// BuildReport derives the report from raw counters. Split out from Compute
// so boundary behavior is testable without a database.
func BuildReport(c stocks.HealthCounts) *Report {
	report := &Report{
		TotalStocks:    c.Total,
		AnomalousCount: c.Anomalous,
	}

	if c.Total == 0 {
		report.Status = StatusPoor
		report.Recommendations = []string{
			"run batch update to populate stock data",
			"check data source connectivity",
		}
		report.Completeness = Metric{Status: "low"}
		report.Freshness = Metric{Status: "low"}
		report.Quality = Metric{Status: "low"}
		report.TagCoverage = Metric{Status: "low"}
		return report
	}

	report.Completeness = buildMetric(c.Complete, c.Total, completenessFloor)
	report.Freshness = buildMetric(c.Fresh, c.Total, freshnessFloor)
	report.Quality = buildMetric(c.Total-c.Anomalous, c.Total, 0)
	report.TagCoverage = buildMetric(c.Tagged, c.Total, tagCoverageFloor)

	weighted := WeightCompleteness*report.Completeness.Rate +
		WeightFreshness*report.Freshness.Rate +
		WeightQuality*report.Quality.Rate +
		WeightTagCoverage*report.TagCoverage.Rate

	report.Score = clampScore(int(math.Round(weighted)))

	switch {
	case report.Score >= 90:
		report.Status = StatusExcellent
	case report.Score >= 75:
		report.Status = StatusGood
	case report.Score >= 60:
		report.Status = StatusFair
		report.Recommendations = append(report.Recommendations,
			"run batch update to improve data health")
	default:
		report.Status = StatusPoor
		report.Recommendations = append(report.Recommendations,
			"run batch update to improve data health",
			"check data source connectivity")
	}

	if report.Completeness.Rate < completenessFloor {
		report.Recommendations = append(report.Recommendations,
			"data completeness is low, some stocks have never been refreshed")
	}
	if report.Freshness.Rate < freshnessFloor {
		report.Recommendations = append(report.Recommendations,
			"data freshness is low, last refresh may have failed")
	}
	if report.TagCoverage.Rate < tagCoverageFloor {
		report.Recommendations = append(report.Recommendations,
			"tag coverage is low, consider a tags-only refresh")
	}
	if c.Anomalous > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%d stocks have anomalous values (non-positive price or extreme change)", c.Anomalous))
	}

	return report
}

func buildMetric(count, total int, floor float64) Metric {
	m := Metric{Count: count, Total: total}
	if total > 0 {
		m.Rate = float64(count) / float64(total) * 100
	}
	m.Status = "ok"
	if floor > 0 && m.Rate < floor {
		m.Status = "low"
	}
	return m
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
