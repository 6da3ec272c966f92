package calibrate

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"filtersense/internal/building"
	"filtersense/internal/domain"
	"filtersense/internal/physics"
)

func testParams() building.Parameters {
	return building.Parameters{
		VolumeM3:               500,
		FiltrationRateM3h:      2000,
		DepositionRateM3h:      50,
		NaturalInfiltrationACH: 0.6,
	}
}

func newTestCalibrator(params building.Parameters) *Calibrator {
	return New(params, DefaultConfig(), zerolog.Nop())
}

// syntheticNight generates paired night-time readings from the mass-balance
// model with known parameters plus Gaussian sensor noise.
func syntheticNight(params building.Parameters, trueEff, noiseStd float64, n int, seed int64) (indoor, outdoor []float64) {
	rng := rand.New(rand.NewSource(seed))
	infiltration := params.TotalInfiltrationM3h()
	for i := 0; i < n; i++ {
		out := 20 + 40*rng.Float64()
		in := physics.SteadyStateIndoor(out, infiltration, params.FiltrationRateM3h, params.DepositionRateM3h, trueEff, 0)
		in += rng.NormFloat64() * noiseStd
		indoor = append(indoor, math.Max(0, in))
		outdoor = append(outdoor, out)
	}
	return indoor, outdoor
}

func TestFit_LengthMismatch(t *testing.T) {
	c := newTestCalibrator(testParams())
	_, err := c.Fit([]float64{1, 2, 3}, []float64{1, 2})
	require.Error(t, err)
}

func TestFit_InsufficientData(t *testing.T) {
	c := newTestCalibrator(testParams())
	indoor, outdoor := syntheticNight(testParams(), 0.8, 1.0, 5, 1)
	_, err := c.Fit(indoor, outdoor)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestFit_RecoversKnownParameters(t *testing.T) {
	params := testParams()
	c := newTestCalibrator(params)

	indoor, outdoor := syntheticNight(params, 0.85, 1.0, 40, 42)
	res, err := c.Fit(indoor, outdoor)
	require.NoError(t, err)

	require.InDelta(t, 0.85, res.Efficiency, 0.25)
	require.InDelta(t, 0.6, res.InfiltrationACH, 0.5)
	require.Greater(t, res.RSquared, 0.8)
	require.Equal(t, 40, res.NPoints)
	require.False(t, res.FitTime.IsZero())
}

func TestFit_BoundsRespected(t *testing.T) {
	params := testParams()
	c := newTestCalibrator(params)

	// Pure noise with no indoor/outdoor relationship; the point estimate
	// must still land inside the parameter bounds.
	rng := rand.New(rand.NewSource(7))
	var indoor, outdoor []float64
	for i := 0; i < 30; i++ {
		indoor = append(indoor, 10+5*rng.Float64())
		outdoor = append(outdoor, 10+5*rng.Float64())
	}

	res, err := c.Fit(indoor, outdoor)
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Efficiency, 0.0)
	require.LessOrEqual(t, res.Efficiency, 1.0)
	require.GreaterOrEqual(t, res.InfiltrationACH, 0.01)
	require.LessOrEqual(t, res.InfiltrationACH, 5.0)
	require.GreaterOrEqual(t, res.NoiseStd, 0.01)
	require.LessOrEqual(t, res.NoiseStd, 20.0)
}

func TestLogPrior_SupportGuards(t *testing.T) {
	c := newTestCalibrator(testParams())

	require.True(t, math.IsInf(c.LogPrior([3]float64{-10, 0.5, 1}), -1))
	require.True(t, math.IsInf(c.LogPrior([3]float64{300, 1.5, 1}), -1))
	require.True(t, math.IsInf(c.LogPrior([3]float64{300, 0.5, -1}), -1))

	inSupport := c.LogPrior([3]float64{300, 0.8, 2})
	require.False(t, math.IsInf(inSupport, -1))
	require.False(t, math.IsNaN(inSupport))
}

func TestLogLikelihood_PrefersTrueParameters(t *testing.T) {
	params := testParams()
	c := newTestCalibrator(params)

	indoor, outdoor := syntheticNight(params, 0.85, 1.0, 60, 3)

	trueLL := c.LogLikelihood([3]float64{params.TotalInfiltrationM3h(), 0.85, 1.0}, indoor, outdoor)
	wrongLL := c.LogLikelihood([3]float64{params.TotalInfiltrationM3h(), 0.2, 1.0}, indoor, outdoor)
	require.Greater(t, trueLL, wrongLL)
}

func TestPredict(t *testing.T) {
	params := testParams()
	c := newTestCalibrator(params)

	_, err := c.Predict([]float64{30})
	require.Error(t, err)

	indoor, outdoor := syntheticNight(params, 0.85, 1.0, 40, 42)
	res, err := c.Fit(indoor, outdoor)
	require.NoError(t, err)

	preds, err := c.Predict([]float64{30})
	require.NoError(t, err)
	require.Len(t, preds, 1)

	want := physics.SteadyStateIndoor(30, res.InfiltrationRateM3h, params.FiltrationRateM3h, params.DepositionRateM3h, res.Efficiency, 0)
	require.InDelta(t, want, preds[0], 1e-9)
}

func TestDegradationRate(t *testing.T) {
	c := newTestCalibrator(testParams())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	_, ok := c.DegradationRate(30)
	require.False(t, ok, "no history yet")

	// Efficiency dropping 0.01 per day over ten days.
	for i := 0; i < 10; i++ {
		c.history = append(c.history, fitRecord{
			time:       base.AddDate(0, 0, -10+i),
			efficiency: 0.9 - 0.01*float64(i),
		})
	}

	rate, ok := c.DegradationRate(30)
	require.True(t, ok)
	require.InDelta(t, 0.01, rate, 1e-6)
}

func TestDegradationRate_FlooredAtZero(t *testing.T) {
	c := newTestCalibrator(testParams())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	// Improving filter: rate reports 0, not negative.
	for i := 0; i < 5; i++ {
		c.history = append(c.history, fitRecord{
			time:       base.AddDate(0, 0, -5+i),
			efficiency: 0.5 + 0.02*float64(i),
		})
	}

	rate, ok := c.DegradationRate(30)
	require.True(t, ok)
	require.Zero(t, rate)
}

func fitResultWith(eff, rSquared float64) *domain.FitResult {
	return &domain.FitResult{Efficiency: eff, RSquared: rSquared, Converged: true}
}

func TestRecommendations_StatusLadder(t *testing.T) {
	cases := []struct {
		name   string
		eff    float64
		status string
	}{
		{"excellent", 0.90, "excellent"},
		{"good", 0.75, "good"},
		{"declining", 0.60, "declining"},
		{"poor", 0.40, "poor"},
		{"below_poor", 0.20, "poor"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCalibrator(testParams())
			c.current = fitResultWith(tc.eff, 0.9)
			rec := c.Recommendations()
			require.Equal(t, tc.status, rec.Status)
			require.NotEmpty(t, rec.Actions)
			require.Empty(t, rec.Alerts)
		})
	}
}

func TestRecommendations_ProjectsReplacementWhileStillGood(t *testing.T) {
	c := newTestCalibrator(testParams())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	// Ten fits inside the degradation window, declining 0.01 per day.
	for i := 0; i < 10; i++ {
		c.history = append(c.history, fitRecord{
			time:       base.AddDate(0, 0, -10+i),
			efficiency: 0.84 - 0.01*float64(i),
		})
	}
	c.current = fitResultWith(0.75, 0.9)

	rec := c.Recommendations()
	require.Equal(t, "good", rec.Status)

	var projection string
	for _, a := range rec.Actions {
		if strings.HasPrefix(a, "Estimated ") {
			projection = a
		}
	}
	require.NotEmpty(t, projection, "degrading filter above the declining threshold should get a projection")

	// (0.75 - 0.50) / 0.01 per day.
	var days int
	_, err := fmt.Sscanf(projection, "Estimated %d days until replacement needed", &days)
	require.NoError(t, err)
	require.InDelta(t, 25, days, 1)
}

func TestRecommendations_NoProjectionBelowDecliningThreshold(t *testing.T) {
	c := newTestCalibrator(testParams())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		c.history = append(c.history, fitRecord{
			time:       base.AddDate(0, 0, -10+i),
			efficiency: 0.5 - 0.01*float64(i),
		})
	}
	c.current = fitResultWith(0.40, 0.9)

	rec := c.Recommendations()
	require.Equal(t, "poor", rec.Status)
	for _, a := range rec.Actions {
		require.NotContains(t, a, "days until replacement")
	}
}

func TestRecommendations_NoAnalysis(t *testing.T) {
	c := newTestCalibrator(testParams())
	rec := c.Recommendations()
	require.Equal(t, "no_analysis", rec.Status)
	require.NotEmpty(t, rec.Actions)
}

func TestRecommendations_LowConfidenceAlert(t *testing.T) {
	c := newTestCalibrator(testParams())
	c.current = fitResultWith(0.9, 0.3)
	rec := c.Recommendations()
	require.Equal(t, "excellent", rec.Status)
	require.NotEmpty(t, rec.Alerts)
}

func TestFitHistory_Pruned(t *testing.T) {
	params := testParams()
	c := newTestCalibrator(params)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	// One stale record well past the retention window.
	c.history = append(c.history, fitRecord{time: base.AddDate(0, 0, -200), efficiency: 0.9})

	indoor, outdoor := syntheticNight(params, 0.85, 1.0, 40, 42)
	_, err := c.Fit(indoor, outdoor)
	require.NoError(t, err)

	require.Len(t, c.history, 1)
	require.Equal(t, base, c.history[0].time)
}
