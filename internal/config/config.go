// Package config loads and validates the application configuration from an
// optional YAML file plus environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	APIAddr    string `mapstructure:"api_addr"`
	MQTTBroker string `mapstructure:"mqtt_broker"`
	MQTTTopic  string `mapstructure:"mqtt_topic"`

	Building Building `mapstructure:"building"`
	HVAC     HVAC     `mapstructure:"hvac"`
	Kalman   Kalman   `mapstructure:"kalman"`
	Analysis Analysis `mapstructure:"analysis"`
	Alerts   Alerts   `mapstructure:"alerts"`
}

type Building struct {
	AreaSqFt        float64 `mapstructure:"area_sq_ft"`
	CeilingHeightFt float64 `mapstructure:"ceiling_height_ft"`
	// ConstructionType is one of "tight", "average" or "leaky"; used only
	// when InfiltrationACH is not set explicitly.
	ConstructionType string  `mapstructure:"construction_type"`
	AgeYears         float64 `mapstructure:"age_years"`
	// InfiltrationACH, when > 0, bypasses the construction/age heuristic.
	InfiltrationACH float64 `mapstructure:"infiltration_ach"`
}

type HVAC struct {
	FlowRateCFM           float64 `mapstructure:"flow_rate_cfm"`
	DepositionRatePercent float64 `mapstructure:"deposition_rate_percent"`
	ERVEnabled            bool    `mapstructure:"erv_enabled"`
	ERVFlowRateCFM        float64 `mapstructure:"erv_flow_rate_cfm"`
	ERVRuntimeFraction    float64 `mapstructure:"erv_runtime_fraction"`
}

type Kalman struct {
	MinIndoorPM25ForLearning  float64 `mapstructure:"min_indoor_pm25_for_learning"`
	MinOutdoorPM25ForLearning float64 `mapstructure:"min_outdoor_pm25_for_learning"`
	MaxRatioForLearning       float64 `mapstructure:"max_ratio_for_learning"`
	DayConfidenceMultiplier   float64 `mapstructure:"day_confidence_multiplier"`
	NightConfidenceMultiplier float64 `mapstructure:"night_confidence_multiplier"`
	NightStartHour            int     `mapstructure:"night_start_hour"`
	NightEndHour              int     `mapstructure:"night_end_hour"`
}

type Analysis struct {
	MinDataPoints   int `mapstructure:"min_data_points"`
	WindowDays      int `mapstructure:"window_days"`
	KeepResultsDays int `mapstructure:"keep_results_days"`
}

type Alerts struct {
	MinConfidence        float64    `mapstructure:"min_confidence"`
	EfficiencyThresholds Thresholds `mapstructure:"efficiency_thresholds"`
}

type Thresholds struct {
	Excellent float64 `mapstructure:"excellent"`
	Good      float64 `mapstructure:"good"`
	Declining float64 `mapstructure:"declining"`
	Poor      float64 `mapstructure:"poor"`
}

// Load reads configuration from the given YAML file (skipped when path is
// empty), applies environment overrides (e.g. BUILDING_AREA_SQ_FT) and
// returns the validated configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment. Used by tests and the simulator.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: defaults unmarshal: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_addr", ":8080")
	v.SetDefault("mqtt_broker", "tcp://localhost:1883")
	v.SetDefault("mqtt_topic", "air/measurements")

	v.SetDefault("building.area_sq_ft", 3000.0)
	v.SetDefault("building.ceiling_height_ft", 9.0)
	v.SetDefault("building.construction_type", "average")
	v.SetDefault("building.age_years", 20.0)
	v.SetDefault("building.infiltration_ach", 0.0)

	v.SetDefault("hvac.flow_rate_cfm", 1500.0)
	v.SetDefault("hvac.deposition_rate_percent", 2.0)
	v.SetDefault("hvac.erv_enabled", false)
	v.SetDefault("hvac.erv_flow_rate_cfm", 0.0)
	v.SetDefault("hvac.erv_runtime_fraction", 1.0)

	v.SetDefault("kalman.min_indoor_pm25_for_learning", 10.0)
	v.SetDefault("kalman.min_outdoor_pm25_for_learning", 30.0)
	v.SetDefault("kalman.max_ratio_for_learning", 1.0)
	v.SetDefault("kalman.day_confidence_multiplier", 0.5)
	v.SetDefault("kalman.night_confidence_multiplier", 2.0)
	v.SetDefault("kalman.night_start_hour", 22)
	v.SetDefault("kalman.night_end_hour", 8)

	v.SetDefault("analysis.min_data_points", 10)
	v.SetDefault("analysis.window_days", 14)
	v.SetDefault("analysis.keep_results_days", 180)

	v.SetDefault("alerts.min_confidence", 0.6)
	v.SetDefault("alerts.efficiency_thresholds.excellent", 0.85)
	v.SetDefault("alerts.efficiency_thresholds.good", 0.70)
	v.SetDefault("alerts.efficiency_thresholds.declining", 0.50)
	v.SetDefault("alerts.efficiency_thresholds.poor", 0.30)
}

// Validate checks the fields the estimators depend on. The building and HVAC
// sections must describe a physically plausible space; threshold ordering
// must match the status ladder.
func (c *Config) Validate() error {
	if c.Building.AreaSqFt <= 0 {
		return errors.New("config: building.area_sq_ft must be positive")
	}
	if c.Building.CeilingHeightFt <= 0 {
		return errors.New("config: building.ceiling_height_ft must be positive")
	}
	switch strings.ToLower(c.Building.ConstructionType) {
	case "tight", "average", "leaky":
	default:
		return fmt.Errorf("config: unknown construction_type %q", c.Building.ConstructionType)
	}
	if c.Building.AgeYears < 0 {
		return errors.New("config: building.age_years must not be negative")
	}
	if c.HVAC.FlowRateCFM <= 0 {
		return errors.New("config: hvac.flow_rate_cfm must be positive")
	}
	if c.HVAC.DepositionRatePercent < 0 {
		return errors.New("config: hvac.deposition_rate_percent must not be negative")
	}
	if c.HVAC.ERVEnabled && (c.HVAC.ERVRuntimeFraction < 0 || c.HVAC.ERVRuntimeFraction > 1) {
		return errors.New("config: hvac.erv_runtime_fraction must be in [0, 1]")
	}
	if c.Kalman.DayConfidenceMultiplier < 0 || c.Kalman.NightConfidenceMultiplier < 0 {
		return errors.New("config: kalman confidence multipliers must not be negative")
	}
	if h := c.Kalman.NightStartHour; h < 0 || h > 23 {
		return errors.New("config: kalman.night_start_hour must be in [0, 23]")
	}
	if h := c.Kalman.NightEndHour; h < 0 || h > 23 {
		return errors.New("config: kalman.night_end_hour must be in [0, 23]")
	}
	if c.Analysis.MinDataPoints < 2 {
		return errors.New("config: analysis.min_data_points must be at least 2")
	}
	th := c.Alerts.EfficiencyThresholds
	if !(th.Excellent > th.Good && th.Good > th.Declining && th.Declining > th.Poor) {
		return errors.New("config: efficiency_thresholds must be strictly ordered excellent > good > declining > poor")
	}
	return nil
}
