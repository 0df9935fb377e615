package health

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonxinpan/Tag-Explorer/internal/modules/stocks"
)

func TestBuildReport_EmptyUniverse(t *testing.T) {
	report := BuildReport(stocks.HealthCounts{})

	assert.Equal(t, 0, report.Score)
	assert.Equal(t, StatusPoor, report.Status)
	assert.Equal(t, 0, report.TotalStocks)
	assert.Zero(t, report.Completeness.Rate)
	assert.Len(t, report.Recommendations, 2)
}

func TestBuildReport_PerfectData(t *testing.T) {
	report := BuildReport(stocks.HealthCounts{
		Total:     100,
		Complete:  100,
		Fresh:     100,
		Anomalous: 0,
		Tagged:    100,
	})

	assert.Equal(t, 100, report.Score)
	assert.Equal(t, StatusExcellent, report.Status)
	assert.Empty(t, report.Recommendations)
	assert.Equal(t, 100.0, report.Completeness.Rate)
	assert.Equal(t, "ok", report.Completeness.Status)
}

func TestBuildReport_WeightedScore(t *testing.T) {
	// 0.30*50 + 0.30*100 + 0.25*100 + 0.15*100 = 85
	report := BuildReport(stocks.HealthCounts{
		Total:     100,
		Complete:  50,
		Fresh:     100,
		Anomalous: 0,
		Tagged:    100,
	})

	assert.Equal(t, 85, report.Score)
	assert.Equal(t, StatusGood, report.Status)
	// Below the completeness floor, so one ad hoc recommendation
	require.Len(t, report.Recommendations, 1)
	assert.Contains(t, report.Recommendations[0], "completeness")
}

func TestBuildReport_StatusThresholds(t *testing.T) {
	// All four rates equal make the weighted score equal the shared rate
	buildUniform := func(pct int) *Report {
		return BuildReport(stocks.HealthCounts{
			Total:     100,
			Complete:  pct,
			Fresh:     pct,
			Anomalous: 100 - pct,
			Tagged:    pct,
		})
	}

	assert.Equal(t, StatusExcellent, buildUniform(90).Status)
	assert.Equal(t, StatusGood, buildUniform(89).Status)
	assert.Equal(t, StatusGood, buildUniform(75).Status)
	assert.Equal(t, StatusFair, buildUniform(74).Status)
	assert.Equal(t, StatusFair, buildUniform(60).Status)
	assert.Equal(t, StatusPoor, buildUniform(59).Status)
}

func TestBuildReport_FairAndPoorRecommendations(t *testing.T) {
	fair := BuildReport(stocks.HealthCounts{
		Total: 100, Complete: 70, Fresh: 70, Anomalous: 30, Tagged: 70,
	})
	assert.Equal(t, StatusFair, fair.Status)
	assert.Contains(t, fair.Recommendations[0], "batch update")

	poor := BuildReport(stocks.HealthCounts{
		Total: 100, Complete: 40, Fresh: 40, Anomalous: 60, Tagged: 40,
	})
	assert.Equal(t, StatusPoor, poor.Status)
	require.GreaterOrEqual(t, len(poor.Recommendations), 2)
	assert.Contains(t, poor.Recommendations[0], "batch update")
	assert.Contains(t, poor.Recommendations[1], "connectivity")
}

func TestBuildReport_AnomalousRecommendation(t *testing.T) {
	report := BuildReport(stocks.HealthCounts{
		Total: 100, Complete: 100, Fresh: 100, Anomalous: 3, Tagged: 100,
	})

	found := false
	for _, rec := range report.Recommendations {
		if strings.Contains(rec, "anomalous") {
			found = true
		}
	}
	assert.True(t, found, "anomalous stocks must surface a recommendation")
	assert.Equal(t, 3, report.AnomalousCount)
}

func TestBuildReport_MetricStatusFlags(t *testing.T) {
	report := BuildReport(stocks.HealthCounts{
		Total: 100, Complete: 94, Fresh: 79, Anomalous: 0, Tagged: 89,
	})

	assert.Equal(t, "low", report.Completeness.Status)
	assert.Equal(t, "low", report.Freshness.Status)
	assert.Equal(t, "ok", report.Quality.Status)
	assert.Equal(t, "low", report.TagCoverage.Status)
}

func TestWeights_SumToOne(t *testing.T) {
	var sum float64
	for _, w := range Weights() {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
