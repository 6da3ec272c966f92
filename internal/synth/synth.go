// Package synth generates synthetic measurement series from the
// mass-balance model, for exercising the trackers in tests and the
// simulator without real sensors.
package synth

import (
	"math"
	"math/rand"
	"time"

	"filtersense/internal/building"
	"filtersense/internal/domain"
	"filtersense/internal/physics"
)

// Outdoor concentration patterns.
const (
	PatternConstant   = "constant"
	PatternStep       = "step"
	PatternSinusoidal = "sinusoidal"
)

// Scenario describes a synthetic run: how outdoor PM2.5 evolves, the true
// filter efficiency the generated indoor values embed, and the sensor noise
// added on top.
type Scenario struct {
	// Start is the timestamp of the first sample.
	Start time.Time
	// Interval separates consecutive samples.
	Interval time.Duration
	// Samples is the number of measurements to generate.
	Samples int

	// Pattern selects the outdoor shape; PatternConstant when empty.
	Pattern string
	// OutdoorBase is the baseline outdoor concentration in µg/m³.
	OutdoorBase float64
	// OutdoorAmplitude is the swing: step height for PatternStep, sine
	// amplitude for PatternSinusoidal.
	OutdoorAmplitude float64
	// Period is the sinusoid period; 24h when zero.
	Period time.Duration

	// TrueEfficiency is the filter efficiency the indoor series reflects.
	TrueEfficiency float64
	// NoiseStd is the Gaussian sensor noise added to both channels.
	NoiseStd float64
	// Seed makes the run reproducible.
	Seed int64
}

// Generate produces the measurement series for a scenario. Indoor values
// follow the temporal-response model toward the steady state implied by the
// scenario's true efficiency, so step changes in outdoor air show the same
// lag a real building would.
func Generate(params building.Parameters, sc Scenario) []domain.Measurement {
	rng := rand.New(rand.NewSource(sc.Seed))

	infiltration := params.TotalInfiltrationM3h()
	lambda := params.TotalInfiltrationACH() + params.FiltrationACH()*sc.TrueEfficiency + params.DepositionACH()

	period := sc.Period
	if period <= 0 {
		period = 24 * time.Hour
	}

	var indoor float64
	out := make([]domain.Measurement, 0, sc.Samples)
	for i := 0; i < sc.Samples; i++ {
		elapsed := time.Duration(i) * sc.Interval
		ts := sc.Start.Add(elapsed)
		outdoor := outdoorAt(sc, elapsed, period)

		ss := physics.SteadyStateIndoor(outdoor, infiltration, params.FiltrationRateM3h, params.DepositionRateM3h, sc.TrueEfficiency, 0)
		if i == 0 {
			indoor = ss
		} else {
			decay := math.Exp(-lambda * sc.Interval.Hours())
			indoor = ss + (indoor-ss)*decay
		}

		out = append(out, domain.Measurement{
			Timestamp:   ts,
			IndoorPM25:  math.Max(0, indoor+rng.NormFloat64()*sc.NoiseStd),
			OutdoorPM25: math.Max(0, outdoor+rng.NormFloat64()*sc.NoiseStd),
		})
	}
	return out
}

func outdoorAt(sc Scenario, elapsed, period time.Duration) float64 {
	switch sc.Pattern {
	case PatternStep:
		// Step up for the middle third of the run.
		total := time.Duration(sc.Samples) * sc.Interval
		if elapsed >= total/3 && elapsed < 2*total/3 {
			return sc.OutdoorBase + sc.OutdoorAmplitude
		}
		return sc.OutdoorBase
	case PatternSinusoidal:
		phase := 2 * math.Pi * elapsed.Hours() / period.Hours()
		return sc.OutdoorBase + sc.OutdoorAmplitude*math.Sin(phase)
	default:
		return sc.OutdoorBase
	}
}
