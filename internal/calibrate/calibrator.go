// Package calibrate fits filter efficiency and building infiltration
// jointly from a window of night-time measurements, by maximizing a Gaussian
// likelihood under informative priors.
package calibrate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"filtersense/internal/building"
	"filtersense/internal/domain"
	"filtersense/internal/physics"
)

// ErrInsufficientData is returned by Fit when fewer than the configured
// minimum number of points is supplied.
var ErrInsufficientData = errors.New("calibrate: insufficient data points")

// Config holds the calibration tuning.
type Config struct {
	// MinDataPoints is the smallest window Fit accepts.
	MinDataPoints int
	// MinConfidence is the R² below which fit-quality alerts are raised.
	MinConfidence float64
	// Thresholds is the efficiency status ladder.
	Thresholds Thresholds
	// KeepDays bounds the retained fit history.
	KeepDays int
	// MaxIterations bounds the optimizer so Fit always terminates.
	MaxIterations int
}

// Thresholds orders the filter status ladder: excellent > good > declining
// > poor.
type Thresholds struct {
	Excellent float64
	Good      float64
	Declining float64
	Poor      float64
}

// DefaultConfig returns the default calibration tuning.
func DefaultConfig() Config {
	return Config{
		MinDataPoints: 10,
		MinConfidence: 0.6,
		Thresholds:    Thresholds{Excellent: 0.85, Good: 0.70, Declining: 0.50, Poor: 0.30},
		KeepDays:      180,
		MaxIterations: 2000,
	}
}

// Priors, in the units the parameters are fitted in. Infiltration is
// expressed in ACH for its prior; gonum's Gamma takes a rate, so
// scale 0.3 becomes rate 1/0.3.
var (
	infiltrationPrior = distuv.Gamma{Alpha: 2, Beta: 1.0 / 0.3} // mean 0.6 ACH
	efficiencyPrior   = distuv.Beta{Alpha: 8, Beta: 2}          // favors high efficiency
	noisePrior        = distuv.Gamma{Alpha: 2, Beta: 0.5}       // scale 2 µg/m³
)

// Calibrator fits [infiltration m³/h, efficiency, noise std] to night-time
// windows. It holds no incremental measurement state; each Fit call is a
// pure CPU-bound computation over the slices passed in. The only mutable
// state is the current result and the append-only fit history used for
// degradation-trend estimation.
type Calibrator struct {
	cfg    Config
	params building.Parameters
	log    zerolog.Logger

	current *domain.FitResult
	history []fitRecord

	now func() time.Time
}

type fitRecord struct {
	time       time.Time
	efficiency float64
	ach        float64
	rSquared   float64
	nPoints    int
}

// New constructs a calibrator for a building.
func New(params building.Parameters, cfg Config, log zerolog.Logger) *Calibrator {
	return &Calibrator{
		cfg:    cfg,
		params: params,
		log:    log,
		now:    time.Now,
	}
}

// steadyState predicts indoor PM2.5 for candidate parameters, all rates in
// m³/h. A non-positive denominator means no filtering effect.
func (c *Calibrator) steadyState(outdoor, infiltrationM3h, efficiency float64) float64 {
	return physics.SteadyStateIndoor(outdoor, infiltrationM3h, c.params.FiltrationRateM3h, c.params.DepositionRateM3h, efficiency, 0)
}

// LogLikelihood sums Gaussian log-densities of the residuals between
// observed indoor values and the steady-state prediction. params is
// [infiltration m³/h, efficiency, noise std]; values outside the parameter
// support yield -Inf.
func (c *Calibrator) LogLikelihood(params [3]float64, indoor, outdoor []float64) float64 {
	infiltration, efficiency, noiseStd := params[0], params[1], params[2]
	if infiltration <= 0 || efficiency < 0 || efficiency > 1 || noiseStd <= 0 {
		return math.Inf(-1)
	}

	residual := distuv.Normal{Mu: 0, Sigma: noiseStd}
	var sum float64
	for i := range indoor {
		predicted := c.steadyState(outdoor[i], infiltration, efficiency)
		sum += residual.LogProb(indoor[i] - predicted)
	}
	return sum
}

// LogPrior evaluates the joint log-prior. The infiltration prior is placed
// on the rate in ACH, so the m³/h parameter is divided by the building
// volume first. Out-of-support parameters yield -Inf.
func (c *Calibrator) LogPrior(params [3]float64) float64 {
	infiltration, efficiency, noiseStd := params[0], params[1], params[2]

	ach := infiltration / c.params.VolumeM3
	if ach <= 0 {
		return math.Inf(-1)
	}
	if efficiency < 0 || efficiency > 1 {
		return math.Inf(-1)
	}
	if noiseStd <= 0 {
		return math.Inf(-1)
	}

	return infiltrationPrior.LogProb(ach) +
		efficiencyPrior.LogProb(efficiency) +
		noisePrior.LogProb(noiseStd)
}

// LogPosterior is the objective Fit maximizes.
func (c *Calibrator) LogPosterior(params [3]float64, indoor, outdoor []float64) float64 {
	prior := c.LogPrior(params)
	if math.IsInf(prior, -1) {
		return prior
	}
	return c.LogLikelihood(params, indoor, outdoor) + prior
}

// box maps one coordinate between the bounded parameter space and the
// unconstrained space the optimizer works in, via a logistic transform.
// gonum's Nelder-Mead has no native box constraints; searching the
// transformed space keeps every candidate inside the bounds.
type box struct{ lo, hi float64 }

func (b box) toBounded(z float64) float64 {
	return b.lo + (b.hi-b.lo)/(1+math.Exp(-z))
}

func (b box) toUnbounded(x float64) float64 {
	// Nudge boundary values inward so the transform stays finite.
	span := b.hi - b.lo
	x = math.Max(b.lo+1e-9*span, math.Min(b.hi-1e-9*span, x))
	return math.Log((x - b.lo) / (b.hi - x))
}

// Fit jointly estimates infiltration rate, filter efficiency and
// observation noise from paired night-time indoor/outdoor slices. It fails
// only on malformed input or too little data; optimizer non-convergence is
// surfaced as Converged=false on the result, with the best-effort point
// estimate still returned.
func (c *Calibrator) Fit(indoor, outdoor []float64) (*domain.FitResult, error) {
	if len(indoor) != len(outdoor) {
		return nil, fmt.Errorf("calibrate: indoor/outdoor length mismatch: %d vs %d", len(indoor), len(outdoor))
	}
	if len(indoor) < c.cfg.MinDataPoints {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(indoor), c.cfg.MinDataPoints)
	}

	volume := c.params.VolumeM3
	boxes := [3]box{
		{lo: 0.01 * volume, hi: 5 * volume}, // infiltration, 0.01–5 ACH
		{lo: 0, hi: 1},                      // efficiency
		{lo: 0.01, hi: 20},                  // noise std, µg/m³
	}
	start := [3]float64{0.5 * volume, 0.8, 2.0}

	z0 := make([]float64, 3)
	for i := range z0 {
		z0[i] = boxes[i].toUnbounded(start[i])
	}

	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			var p [3]float64
			for i := range p {
				p[i] = boxes[i].toBounded(z[i])
			}
			return -c.LogPosterior(p, indoor, outdoor)
		},
	}
	settings := &optimize.Settings{MajorIterations: c.cfg.MaxIterations}

	result, err := optimize.Minimize(problem, z0, settings, &optimize.NelderMead{})
	if result == nil {
		return nil, fmt.Errorf("calibrate: optimization failed: %w", err)
	}
	converged := err == nil && result.Status == optimize.FunctionConvergence
	if !converged {
		c.log.Warn().
			Stringer("status", result.Status).
			Err(err).
			Msg("calibration did not converge; returning best-effort estimate")
	}

	var fitted [3]float64
	for i := range fitted {
		fitted[i] = boxes[i].toBounded(result.X[i])
	}
	infiltration, efficiency, noiseStd := fitted[0], fitted[1], fitted[2]

	rmse, mae, rSquared := c.diagnostics(fitted, indoor, outdoor)

	res := &domain.FitResult{
		InfiltrationRateM3h: infiltration,
		InfiltrationACH:     infiltration / volume,
		Efficiency:          efficiency,
		NoiseStd:            noiseStd,
		LogLikelihood:       -result.F,
		RMSE:                rmse,
		MAE:                 mae,
		RSquared:            rSquared,
		NPoints:             len(indoor),
		Converged:           converged,
		FitTime:             c.now(),
	}

	c.current = res
	c.recordFit(res)

	c.log.Info().
		Float64("efficiency", efficiency).
		Float64("infiltration_ach", res.InfiltrationACH).
		Float64("r_squared", rSquared).
		Bool("converged", converged).
		Msg("calibration fitted")

	return res, nil
}

// diagnostics computes RMSE, MAE and R² of the fitted model over the fit
// window. R² can be strongly negative for very poor fits; a zero-variance
// indoor series yields 0 by convention.
func (c *Calibrator) diagnostics(params [3]float64, indoor, outdoor []float64) (rmse, mae, rSquared float64) {
	n := float64(len(indoor))

	var meanIndoor float64
	for _, v := range indoor {
		meanIndoor += v
	}
	meanIndoor /= n

	var ssRes, ssTot, absSum float64
	for i := range indoor {
		predicted := c.steadyState(outdoor[i], params[0], params[1])
		r := indoor[i] - predicted
		ssRes += r * r
		absSum += math.Abs(r)
		d := indoor[i] - meanIndoor
		ssTot += d * d
	}

	rmse = math.Sqrt(ssRes / n)
	mae = absSum / n
	if ssTot > 0 {
		rSquared = 1 - ssRes/ssTot
	}
	return rmse, mae, rSquared
}

// Predict returns the fitted model's indoor predictions for the given
// outdoor values. It requires a prior successful Fit.
func (c *Calibrator) Predict(outdoor []float64) ([]float64, error) {
	if c.current == nil {
		return nil, errors.New("calibrate: model not fitted")
	}
	out := make([]float64, len(outdoor))
	for i, v := range outdoor {
		out[i] = c.steadyState(v, c.current.InfiltrationRateM3h, c.current.Efficiency)
	}
	return out, nil
}

// CurrentFit returns the most recent fit result, if any.
func (c *Calibrator) CurrentFit() (*domain.FitResult, bool) {
	if c.current == nil {
		return nil, false
	}
	res := *c.current
	return &res, true
}

func (c *Calibrator) recordFit(res *domain.FitResult) {
	c.history = append(c.history, fitRecord{
		time:       res.FitTime,
		efficiency: res.Efficiency,
		ach:        res.InfiltrationACH,
		rSquared:   res.RSquared,
		nPoints:    res.NPoints,
	})

	if c.cfg.KeepDays > 0 {
		cutoff := c.now().AddDate(0, 0, -c.cfg.KeepDays)
		for len(c.history) > 0 && c.history[0].time.Before(cutoff) {
			c.history = c.history[1:]
		}
	}
}
