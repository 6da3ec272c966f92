package tracker

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"filtersense/internal/building"
	"filtersense/internal/domain"
	"filtersense/internal/physics"
)

// KalmanConfig holds the tunable parameters of the online tracker.
type KalmanConfig struct {
	// InitialEfficiency is the prior state before the first measurement.
	InitialEfficiency float64
	// InitialVariance is the prior state variance.
	InitialVariance float64
	// ProcessNoise models slow filter degradation, per hour.
	ProcessNoise float64
	// MeasurementNoise is the sensor variance in (µg/m³)².
	MeasurementNoise float64

	// MinIndoorForLearning and MinOutdoorForLearning gate the update step:
	// below these levels the observation cannot disambiguate efficiency
	// from sensor noise.
	MinIndoorForLearning  float64
	MinOutdoorForLearning float64
	// MaxRatioForLearning skips updates when indoor/outdoor reaches this
	// ratio, which indicates an indoor particle source. <= 0 disables the
	// check.
	MaxRatioForLearning float64

	// DayConfidenceMultiplier and NightConfidenceMultiplier scale the
	// effective measurement noise by 1/multiplier. Night conditions
	// (sealed building) get a multiplier > 1 to favor learning; a
	// multiplier of 0 means the base measurement noise is used unscaled.
	DayConfidenceMultiplier   float64
	NightConfidenceMultiplier float64
	// Night window in local hours, inclusive on both ends. The default
	// 22..8 wraps midnight.
	NightStartHour int
	NightEndHour   int

	// KeepDays bounds the retained state history and daily aggregates.
	KeepDays int
}

// DefaultKalmanConfig returns the default tracker tuning.
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{
		InitialEfficiency:         0.8,
		InitialVariance:           0.1,
		ProcessNoise:              1e-6,
		MeasurementNoise:          25.0, // ~5 µg/m³ sensor std
		MinIndoorForLearning:      10.0,
		MinOutdoorForLearning:     30.0,
		MaxRatioForLearning:       1.0,
		DayConfidenceMultiplier:   0.5,
		NightConfidenceMultiplier: 2.0,
		NightStartHour:            22,
		NightEndHour:              8,
		KeepDays:                  180,
	}
}

const (
	minVariance = 1e-8
	minDtHours  = 0.01
	maxDtHours  = 24.0

	initialEfficiencyFloor = 0.1
	initialEfficiencyCeil  = 0.95
)

// KalmanTracker tracks filter efficiency as a single slowly-varying state
// with scalar variance. The observation function is the steady-state mass
// balance, extended with an exponential relaxation term between samples.
//
// The tracker is not safe for concurrent use; it expects measurements in
// non-decreasing timestamp order from one logical caller.
type KalmanTracker struct {
	cfg    KalmanConfig
	params building.Parameters
	log    zerolog.Logger

	efficiency  float64
	variance    float64
	initialized bool

	// Fixed ACH rates cached at construction.
	infiltrationACH float64
	filtrationACH   float64
	depositionACH   float64

	prevIndoor float64
	prevTime   time.Time
	hasPrev    bool

	measurements []domain.Measurement
	states       []StateSnapshot

	daily      []domain.DailyAggregate
	currentDay time.Time
	dayScratch []StateSnapshot
}

var _ Tracker = (*KalmanTracker)(nil)

// NewKalmanTracker constructs a tracker for one building/filter session.
// Re-deriving building parameters means starting a new session, never
// mutating an existing tracker.
func NewKalmanTracker(params building.Parameters, cfg KalmanConfig, log zerolog.Logger) *KalmanTracker {
	return &KalmanTracker{
		cfg:             cfg,
		params:          params,
		log:             log,
		efficiency:      cfg.InitialEfficiency,
		variance:        cfg.InitialVariance,
		infiltrationACH: params.TotalInfiltrationACH(),
		filtrationACH:   params.FiltrationACH(),
		depositionACH:   params.DepositionACH(),
	}
}

// totalACH is the decay constant of the relaxation toward steady state.
// It is fixed at construction, not re-derived from the current efficiency
// estimate.
func (t *KalmanTracker) totalACH() float64 {
	return t.infiltrationACH + t.filtrationACH + t.depositionACH
}

// AddMeasurement runs one predict/update cycle. Measurements with
// outdoor <= 0 or indoor < 0 are rejected without touching state.
func (t *KalmanTracker) AddMeasurement(ts time.Time, indoorPM25, outdoorPM25 float64) {
	if outdoorPM25 <= 0 || indoorPM25 < 0 {
		t.log.Debug().
			Time("ts", ts).
			Float64("indoor", indoorPM25).
			Float64("outdoor", outdoorPM25).
			Msg("measurement rejected")
		return
	}

	var dtHours float64
	if t.hasPrev {
		dtHours = ts.Sub(t.prevTime).Hours()
		dtHours = math.Max(minDtHours, math.Min(maxDtHours, dtHours))
	} else {
		dtHours = 1.0
		// Initialize the state from this single observation instead of
		// the prior: invert the observed indoor/outdoor ratio.
		ratio := indoorPM25 / outdoorPM25
		eff := physics.SolveEfficiencyFromRatio(ratio, t.infiltrationACH, t.filtrationACH, t.depositionACH)
		t.efficiency = math.Max(initialEfficiencyFloor, math.Min(initialEfficiencyCeil, eff))
	}

	predicted := t.predict(dtHours, outdoorPM25)

	if t.sufficientSignal(indoorPM25, outdoorPM25) {
		t.update(indoorPM25, outdoorPM25, predicted, dtHours, t.confidenceMultiplier(ts))
	}
	// Weak-signal ticks carry the estimate forward unchanged but still
	// advance time and are recorded below.

	t.measurements = append(t.measurements, domain.Measurement{
		Timestamp:   ts,
		IndoorPM25:  indoorPM25,
		OutdoorPM25: outdoorPM25,
	})
	snap := StateSnapshot{
		Timestamp:       ts,
		Efficiency:      t.efficiency,
		PredictedIndoor: predicted,
		ActualIndoor:    indoorPM25,
		Outdoor:         outdoorPM25,
	}
	t.states = append(t.states, snap)
	t.rollDay(ts, snap)
	t.prune(ts)

	t.prevIndoor = indoorPM25
	t.prevTime = ts
	t.hasPrev = true
	t.initialized = true
}

// predict inflates the variance by the elapsed-time process noise and
// returns the predicted indoor concentration. With a previous reading the
// prediction relaxes from it toward steady state with decay exp(-λ·dt).
func (t *KalmanTracker) predict(dtHours, outdoorPM25 float64) float64 {
	t.variance += t.cfg.ProcessNoise * dtHours

	steady := t.steadyState(outdoorPM25)
	if !t.hasPrev {
		return steady
	}
	decay := math.Exp(-t.totalACH() * dtHours)
	return steady + (t.prevIndoor-steady)*decay
}

func (t *KalmanTracker) steadyState(outdoorPM25 float64) float64 {
	return physics.SteadyStateIndoor(outdoorPM25, t.infiltrationACH, t.filtrationACH, t.depositionACH, t.efficiency, 0)
}

// update applies the scalar Kalman gain for the efficiency state.
func (t *KalmanTracker) update(indoorPM25, outdoorPM25, predicted, dtHours, confidence float64) {
	innovation := indoorPM25 - predicted

	// Jacobian of the prediction w.r.t. efficiency: the steady-state
	// partial, scaled by how much of the relaxation completes within dt.
	jacobian := physics.EfficiencyGradient(outdoorPM25, t.infiltrationACH, t.filtrationACH, t.depositionACH, t.efficiency)
	if t.hasPrev {
		jacobian *= 1 - math.Exp(-t.totalACH()*dtHours)
	}

	noise := t.cfg.MeasurementNoise
	if confidence > 0 {
		noise = t.cfg.MeasurementNoise / confidence
	}

	innovationVar := jacobian*t.variance*jacobian + noise
	if innovationVar > 0 {
		gain := t.variance * jacobian / innovationVar
		t.efficiency += gain * innovation
		t.variance = (1 - gain*jacobian) * t.variance
	}

	t.efficiency = physics.ClampEfficiency(t.efficiency)
	t.variance = math.Max(minVariance, t.variance)
}

func (t *KalmanTracker) sufficientSignal(indoorPM25, outdoorPM25 float64) bool {
	if indoorPM25 < t.cfg.MinIndoorForLearning || outdoorPM25 < t.cfg.MinOutdoorForLearning {
		return false
	}
	if t.cfg.MaxRatioForLearning > 0 && indoorPM25/outdoorPM25 >= t.cfg.MaxRatioForLearning {
		// Indoor source suspected; the mass balance without generation
		// cannot explain this observation.
		return false
	}
	return true
}

// confidenceMultiplier widens or narrows the effective measurement noise by
// local time of day: sealed-building night hours are trusted more.
func (t *KalmanTracker) confidenceMultiplier(ts time.Time) float64 {
	if inNightWindow(ts.Hour(), t.cfg.NightStartHour, t.cfg.NightEndHour) {
		return t.cfg.NightConfidenceMultiplier
	}
	return t.cfg.DayConfidenceMultiplier
}

func inNightWindow(hour, start, end int) bool {
	if start > end { // wraps midnight, e.g. 22..8
		return hour >= start || hour <= end
	}
	return hour >= start && hour <= end
}

// rollDay finalizes the previous day's aggregate the first time a new
// calendar day is observed. Days with fewer than three samples stay scratch
// and never surface.
func (t *KalmanTracker) rollDay(ts time.Time, snap StateSnapshot) {
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	if t.currentDay.IsZero() {
		t.currentDay = day
	} else if !day.Equal(t.currentDay) {
		t.finalizeDay()
		t.currentDay = day
	}
	t.dayScratch = append(t.dayScratch, snap)
}

func (t *KalmanTracker) finalizeDay() {
	if len(t.dayScratch) < 3 {
		t.dayScratch = t.dayScratch[:0]
		return
	}

	n := float64(len(t.dayScratch))
	var effSum, effSqSum, predSum, actSum, outSum, errSum float64
	for _, s := range t.dayScratch {
		effSum += s.Efficiency
		effSqSum += s.Efficiency * s.Efficiency
		predSum += s.PredictedIndoor
		actSum += s.ActualIndoor
		outSum += s.Outdoor
		errSum += math.Abs(s.ActualIndoor - s.PredictedIndoor)
	}
	meanEff := effSum / n

	t.daily = append(t.daily, domain.DailyAggregate{
		Date:                t.currentDay,
		MeanEfficiency:      meanEff,
		EfficiencyStd:       math.Sqrt(math.Max(0, effSqSum/n-meanEff*meanEff)),
		MeanPredictedIndoor: predSum / n,
		MeanActualIndoor:    actSum / n,
		MeanOutdoor:         outSum / n,
		MeanPredictionError: errSum / n,
		SampleCount:         len(t.dayScratch),
	})
	t.dayScratch = t.dayScratch[:0]
}

// prune enforces the bounded-retention policy relative to the newest
// measurement.
func (t *KalmanTracker) prune(now time.Time) {
	if t.cfg.KeepDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -t.cfg.KeepDays)

	for len(t.states) > 0 && t.states[0].Timestamp.Before(cutoff) {
		t.states = t.states[1:]
	}
	for len(t.measurements) > 0 && t.measurements[0].Timestamp.Before(cutoff) {
		t.measurements = t.measurements[1:]
	}
	for len(t.daily) > 0 && t.daily[0].Date.Before(cutoff) {
		t.daily = t.daily[1:]
	}
}

// CurrentEfficiency returns the current estimate; ok is false before the
// first accepted measurement.
func (t *KalmanTracker) CurrentEfficiency() (float64, bool) {
	return t.efficiency, t.initialized
}

// Variance returns the current state variance.
func (t *KalmanTracker) Variance() float64 {
	return t.variance
}

// ConfidenceInterval returns the efficiency interval for 0.95 or 0.99
// confidence, clamped to [0, 1]. Before initialization the interval is the
// full range.
func (t *KalmanTracker) ConfidenceInterval(confidence float64) (lower, upper float64) {
	if !t.initialized {
		return 0, 1
	}
	z := 1.96
	if confidence == 0.99 {
		z = 2.576
	}
	std := math.Sqrt(t.variance)
	return math.Max(0, t.efficiency-z*std), math.Min(1, t.efficiency+z*std)
}

// EfficiencyTrendPerMonth fits daily mean efficiency against elapsed days.
func (t *KalmanTracker) EfficiencyTrendPerMonth(daysBack int) (float64, bool) {
	data := t.daily
	if daysBack > 0 && len(data) > 0 {
		// Trailing calendar days relative to the newest aggregate; with
		// sparse data this keeps fewer aggregates than daysBack.
		cutoff := data[len(data)-1].Date.AddDate(0, 0, -daysBack)
		i := 0
		for i < len(data) && !data[i].Date.After(cutoff) {
			i++
		}
		data = data[i:]
	}
	if len(data) < 3 {
		return 0, false
	}

	days := make([]float64, len(data))
	effs := make([]float64, len(data))
	distinct := make(map[float64]struct{}, len(data))
	for i, d := range data {
		days[i] = d.Date.Sub(data[0].Date).Hours() / 24
		effs[i] = d.MeanEfficiency
		distinct[days[i]] = struct{}{}
	}
	if len(distinct) < 2 {
		return 0, true
	}

	_, slope := stat.LinearRegression(days, effs, nil, false)
	return slope * 30, true
}

// DailyData returns a copy of the finalized daily aggregates.
func (t *KalmanTracker) DailyData() []domain.DailyAggregate {
	out := make([]domain.DailyAggregate, len(t.daily))
	copy(out, t.daily)
	return out
}

// History returns a copy of the per-measurement state snapshots.
func (t *KalmanTracker) History() []StateSnapshot {
	out := make([]StateSnapshot, len(t.states))
	copy(out, t.states)
	return out
}

// MeasurementCount returns how many measurements have been accepted.
func (t *KalmanTracker) MeasurementCount() int {
	return len(t.measurements)
}

// SummaryStats reports aggregate filter and prediction performance.
func (t *KalmanTracker) SummaryStats() SummaryStats {
	s := SummaryStats{
		ModelType:         "kalman",
		TotalMeasurements: len(t.measurements),
		TotalDays:         len(t.daily),
		Initialized:       t.initialized,
	}
	if t.initialized {
		s.CurrentEfficiencyPercent = t.efficiency * 100
		s.EfficiencyUncertainty = math.Sqrt(t.variance) * 100
	}
	if trend, ok := t.EfficiencyTrendPerMonth(0); ok {
		s.EfficiencyTrendPerMonth = trend
	}

	if len(t.daily) > 0 {
		baseline := t.daily
		if len(baseline) > 7 {
			baseline = baseline[:7]
		}
		var baseSum float64
		for _, d := range baseline {
			baseSum += d.MeanEfficiency
		}
		baseEff := baseSum / float64(len(baseline))
		s.BaselineEfficiencyPercent = baseEff * 100
		s.EfficiencyChangePercent = (t.efficiency - baseEff) * 100

		recent := t.daily
		if len(recent) > 7 {
			recent = recent[len(recent)-7:]
		}
		var errSum, errSqSum float64
		for _, d := range recent {
			errSum += d.MeanPredictionError
			errSqSum += d.MeanPredictionError * d.MeanPredictionError
		}
		s.MeanPredictionError = errSum / float64(len(recent))
		s.PredictionRMSE = math.Sqrt(errSqSum / float64(len(recent)))
	}
	return s
}
