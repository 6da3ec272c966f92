// Package domain holds the data types shared between the trackers, the
// calibrator and the API surface.
package domain

import "time"

// Measurement is one paired indoor/outdoor PM2.5 observation, already
// converted from AQI upstream. Immutable once recorded.
type Measurement struct {
	Timestamp   time.Time `json:"timestamp"`
	IndoorPM25  float64   `json:"indoor_pm25"`
	OutdoorPM25 float64   `json:"outdoor_pm25"`
}

// DailyAggregate is one finalized record per completed calendar day.
// Aggregates are append-only and never rewritten once the day boundary has
// been crossed.
type DailyAggregate struct {
	Date                time.Time `json:"date"`
	MeanEfficiency      float64   `json:"mean_efficiency"`
	EfficiencyStd       float64   `json:"efficiency_std"`
	MeanPredictedIndoor float64   `json:"mean_predicted_indoor"`
	MeanActualIndoor    float64   `json:"mean_actual_indoor"`
	MeanOutdoor         float64   `json:"mean_outdoor"`
	MeanPredictionError float64   `json:"mean_prediction_error"`
	SampleCount         int       `json:"sample_count"`
}

// EfficiencyEstimate is the online tracker's current view, as served by the
// API.
type EfficiencyEstimate struct {
	Efficiency    float64 `json:"efficiency"`
	Lower95       float64 `json:"lower_95"`
	Upper95       float64 `json:"upper_95"`
	TrendPerMonth float64 `json:"trend_per_month"`
	Measurements  int     `json:"measurements"`
}

// FitResult is the outcome of one batch calibration run.
type FitResult struct {
	InfiltrationRateM3h float64   `json:"infiltration_rate_m3h"`
	InfiltrationACH     float64   `json:"infiltration_rate_ach"`
	Efficiency          float64   `json:"efficiency"`
	NoiseStd            float64   `json:"noise_std"`
	LogLikelihood       float64   `json:"log_likelihood"`
	RMSE                float64   `json:"rmse"`
	MAE                 float64   `json:"mae"`
	RSquared            float64   `json:"r_squared"`
	NPoints             int       `json:"n_points"`
	Converged           bool      `json:"optimization_converged"`
	FitTime             time.Time `json:"fit_timestamp"`
}

// Recommendation is the actionable output for a reporting layer.
type Recommendation struct {
	Status  string   `json:"status"`
	Alerts  []string `json:"alerts"`
	Actions []string `json:"actions"`
}
