// Package service wires the estimators behind a concurrency-safe facade for
// the MQTT ingest path and the HTTP API.
package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"filtersense/internal/building"
	"filtersense/internal/calibrate"
	"filtersense/internal/config"
	"filtersense/internal/domain"
	"filtersense/internal/tracker"
)

type Services struct {
	Tracking    *TrackingService
	Calibration *CalibrationService
}

func New(cfg *config.Config, log zerolog.Logger) *Services {
	params := building.Derive(cfg)

	tracking := &TrackingService{
		params:     params,
		tracker:    tracker.NewKalmanTracker(params, kalmanConfigFrom(cfg), log),
		nightStart: cfg.Kalman.NightStartHour,
		nightEnd:   cfg.Kalman.NightEndHour,
		windowDays: cfg.Analysis.WindowDays,
		log:        log,
	}

	calibration := &CalibrationService{
		calibrator: calibrate.New(params, calibrateConfigFrom(cfg), log),
		tracking:   tracking,
		windowDays: cfg.Analysis.WindowDays,
	}

	return &Services{Tracking: tracking, Calibration: calibration}
}

func kalmanConfigFrom(cfg *config.Config) tracker.KalmanConfig {
	kc := tracker.DefaultKalmanConfig()
	kc.MinIndoorForLearning = cfg.Kalman.MinIndoorPM25ForLearning
	kc.MinOutdoorForLearning = cfg.Kalman.MinOutdoorPM25ForLearning
	kc.MaxRatioForLearning = cfg.Kalman.MaxRatioForLearning
	kc.DayConfidenceMultiplier = cfg.Kalman.DayConfidenceMultiplier
	kc.NightConfidenceMultiplier = cfg.Kalman.NightConfidenceMultiplier
	kc.NightStartHour = cfg.Kalman.NightStartHour
	kc.NightEndHour = cfg.Kalman.NightEndHour
	kc.KeepDays = cfg.Analysis.KeepResultsDays
	return kc
}

func calibrateConfigFrom(cfg *config.Config) calibrate.Config {
	cc := calibrate.DefaultConfig()
	cc.MinDataPoints = cfg.Analysis.MinDataPoints
	cc.MinConfidence = cfg.Alerts.MinConfidence
	cc.KeepDays = cfg.Analysis.KeepResultsDays
	cc.Thresholds = calibrate.Thresholds{
		Excellent: cfg.Alerts.EfficiencyThresholds.Excellent,
		Good:      cfg.Alerts.EfficiencyThresholds.Good,
		Declining: cfg.Alerts.EfficiencyThresholds.Declining,
		Poor:      cfg.Alerts.EfficiencyThresholds.Poor,
	}
	return cc
}

// TrackingService feeds measurements to the online tracker and buffers the
// night-window subset for batch calibration. The tracker itself is not
// concurrency-safe, so every access goes through the mutex.
type TrackingService struct {
	mu      sync.Mutex
	params  building.Parameters
	tracker *tracker.KalmanTracker

	nightStart int
	nightEnd   int
	windowDays int
	night      []nightPoint

	log zerolog.Logger
}

type nightPoint struct {
	ts      time.Time
	indoor  float64
	outdoor float64
}

// Ingest consumes one measurement. A zero timestamp is stamped with the
// current time.
func (s *TrackingService) Ingest(m domain.Measurement) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracker.AddMeasurement(m.Timestamp, m.IndoorPM25, m.OutdoorPM25)

	if m.OutdoorPM25 > 0 && m.IndoorPM25 >= 0 && s.isNight(m.Timestamp) {
		s.night = append(s.night, nightPoint{ts: m.Timestamp, indoor: m.IndoorPM25, outdoor: m.OutdoorPM25})
		s.pruneNight(m.Timestamp)
	}
}

// FromMQTT decodes a measurement payload and ingests it.
func (s *TrackingService) FromMQTT(topic string, payload []byte) error {
	var m domain.Measurement
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	s.log.Debug().Str("topic", topic).Time("ts", m.Timestamp).Msg("measurement received")
	s.Ingest(m)
	return nil
}

func (s *TrackingService) isNight(ts time.Time) bool {
	h := ts.Hour()
	if s.nightStart <= s.nightEnd {
		return h >= s.nightStart && h <= s.nightEnd
	}
	return h >= s.nightStart || h <= s.nightEnd
}

func (s *TrackingService) pruneNight(now time.Time) {
	if s.windowDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -s.windowDays)
	i := 0
	for i < len(s.night) && s.night[i].ts.Before(cutoff) {
		i++
	}
	s.night = s.night[i:]
}

// NightWindow returns copies of the buffered night-time series.
func (s *TrackingService) NightWindow() (indoor, outdoor []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	indoor = make([]float64, len(s.night))
	outdoor = make([]float64, len(s.night))
	for i, p := range s.night {
		indoor[i] = p.indoor
		outdoor[i] = p.outdoor
	}
	return indoor, outdoor
}

func (s *TrackingService) Parameters() building.Parameters {
	return s.params
}

// Efficiency reports the current estimate with a 95% confidence interval.
func (s *TrackingService) Efficiency() (domain.EfficiencyEstimate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eff, ok := s.tracker.CurrentEfficiency()
	if !ok {
		return domain.EfficiencyEstimate{}, false
	}
	lower, upper := s.tracker.ConfidenceInterval(0.95)
	trend, _ := s.tracker.EfficiencyTrendPerMonth(0)
	return domain.EfficiencyEstimate{
		Efficiency:    eff,
		Lower95:       lower,
		Upper95:       upper,
		TrendPerMonth: trend,
		Measurements:  s.tracker.MeasurementCount(),
	}, true
}

func (s *TrackingService) Summary() tracker.SummaryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.SummaryStats()
}

func (s *TrackingService) Daily() []domain.DailyAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.DailyData()
}

// CalibrationService runs batch fits over the tracking service's night
// window and serves the resulting recommendations.
type CalibrationService struct {
	mu         sync.Mutex
	calibrator *calibrate.Calibrator
	tracking   *TrackingService
	windowDays int
}

// Run fits the model to the buffered night window.
func (s *CalibrationService) Run() (*domain.FitResult, error) {
	indoor, outdoor := s.tracking.NightWindow()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibrator.Fit(indoor, outdoor)
}

func (s *CalibrationService) CurrentFit() (*domain.FitResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibrator.CurrentFit()
}

func (s *CalibrationService) Recommendations() domain.Recommendation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibrator.Recommendations()
}

// DegradationRate reports the fitted efficiency decline per day over the
// analysis window.
func (s *CalibrationService) DegradationRate() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibrator.DegradationRate(s.windowDays)
}
