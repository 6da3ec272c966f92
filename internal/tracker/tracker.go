// Package tracker provides online filter-efficiency tracking over a stream
// of paired indoor/outdoor PM2.5 measurements.
package tracker

import (
	"time"

	"filtersense/internal/building"
	"filtersense/internal/domain"
	"filtersense/internal/physics"
)

// Tracker is the capability shared by efficiency-tracking strategies.
// Implementations own private mutable state and are not safe for concurrent
// calls; measurements must arrive in non-decreasing timestamp order from a
// single logical caller.
type Tracker interface {
	// AddMeasurement consumes one observation. Invalid measurements
	// (outdoor <= 0 or indoor < 0) are ignored.
	AddMeasurement(ts time.Time, indoorPM25, outdoorPM25 float64)

	// CurrentEfficiency returns the present estimate; ok is false before
	// the first accepted measurement.
	CurrentEfficiency() (efficiency float64, ok bool)

	// EfficiencyTrendPerMonth fits daily mean efficiency against elapsed
	// days over the trailing daysBack calendar days (all when daysBack <= 0).
	// ok is false with fewer than three daily points; fewer than two
	// distinct day offsets yields 0.
	EfficiencyTrendPerMonth(daysBack int) (perMonth float64, ok bool)

	// SummaryStats reports aggregate performance metrics.
	SummaryStats() SummaryStats

	// DailyData returns the finalized daily aggregates. The in-progress
	// day is excluded until its boundary is crossed.
	DailyData() []domain.DailyAggregate
}

// StateSnapshot records the tracker state after one measurement.
type StateSnapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	Efficiency      float64   `json:"efficiency"`
	PredictedIndoor float64   `json:"predicted_indoor"`
	ActualIndoor    float64   `json:"actual_indoor"`
	Outdoor         float64   `json:"outdoor"`
}

// SummaryStats aggregates tracker performance for reporting.
type SummaryStats struct {
	ModelType                 string  `json:"model_type"`
	TotalMeasurements         int     `json:"total_measurements"`
	TotalDays                 int     `json:"total_days"`
	CurrentEfficiencyPercent  float64 `json:"current_efficiency_percent"`
	EfficiencyUncertainty     float64 `json:"efficiency_uncertainty"`
	EfficiencyTrendPerMonth   float64 `json:"efficiency_trend_per_month"`
	BaselineEfficiencyPercent float64 `json:"baseline_efficiency_percent"`
	EfficiencyChangePercent   float64 `json:"efficiency_change_percent"`
	MeanPredictionError       float64 `json:"mean_prediction_error"`
	PredictionRMSE            float64 `json:"prediction_rmse"`
	Initialized               bool    `json:"initialized"`
}

// PredictIndoorPM25 predicts the steady-state indoor concentration for a
// building at the given outdoor level and filter efficiency. Shared across
// tracker implementations.
func PredictIndoorPM25(p building.Parameters, outdoorPM25, efficiency float64) float64 {
	return physics.SteadyStateIndoorWithERV(
		outdoorPM25,
		p.NaturalInfiltrationACH,
		p.ERVInfiltrationACH,
		p.FiltrationACH(),
		p.DepositionACH(),
		efficiency,
		0,
	)
}
