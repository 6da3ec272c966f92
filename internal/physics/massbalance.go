// Package physics implements the single-zone steady-state mass balance for
// indoor PM2.5:
//
//	C_in = (Q_inf * C_out + Q_gen) / (Q_inf + Q_filt * eta + Q_dep)
//
// Infiltration brings unfiltered outdoor air in, the HVAC filter removes
// particles from recirculated air at efficiency eta, and deposition settles
// particles out. All rate arguments must share units (either all m³/h or all
// ACH); mixing units is a caller error.
package physics

import "math"

// SteadyStateIndoor returns the steady-state indoor PM2.5 concentration for
// the given outdoor level, air exchange rates, filter efficiency and indoor
// generation rate. A non-positive denominator means no removal mechanism is
// active, in which case indoor air tracks outdoor air unchanged.
func SteadyStateIndoor(outdoor, infiltrationRate, filtrationRate, depositionRate, efficiency, indoorGeneration float64) float64 {
	denominator := infiltrationRate + filtrationRate*efficiency + depositionRate
	if denominator <= 0 {
		return outdoor
	}
	return (infiltrationRate*outdoor + indoorGeneration) / denominator
}

// IndoorOutdoorRatio returns the steady-state indoor/outdoor concentration
// ratio with no indoor generation. The result lies in (0, 1] for positive
// infiltration and non-negative filtration and deposition.
func IndoorOutdoorRatio(infiltrationRate, filtrationRate, depositionRate, efficiency float64) float64 {
	return infiltrationRate / (infiltrationRate + filtrationRate*efficiency + depositionRate)
}

// SolveEfficiencyFromRatio inverts the mass balance to recover filter
// efficiency from an observed indoor/outdoor ratio:
//
//	eta = (Q_inf - ratio * (Q_inf + Q_dep)) / (ratio * Q_filt)
//
// A non-positive effective denominator (ratio*Q_filt <= 0) occurs only at
// physically meaningless inputs such as zero filtration; it yields 0 rather
// than an error. The algebraic solution is clamped to [0, 1].
func SolveEfficiencyFromRatio(ratio, infiltrationRate, filtrationRate, depositionRate float64) float64 {
	denominator := ratio * filtrationRate
	if denominator <= 0 {
		return 0
	}
	efficiency := (infiltrationRate - ratio*(infiltrationRate+depositionRate)) / denominator
	return ClampEfficiency(efficiency)
}

// SteadyStateIndoorWithERV is SteadyStateIndoor with infiltration decomposed
// into a natural component and an ERV (energy-recovery ventilator)
// component. ERV supply air bypasses the HVAC filter, so it behaves as
// additional unfiltered infiltration. With zero ERV flow the result is
// numerically identical to the non-ERV form.
func SteadyStateIndoorWithERV(outdoor, naturalInfiltration, ervInfiltration, filtrationRate, depositionRate, efficiency, indoorGeneration float64) float64 {
	return SteadyStateIndoor(outdoor, naturalInfiltration+ervInfiltration, filtrationRate, depositionRate, efficiency, indoorGeneration)
}

// IndoorOutdoorRatioWithERV is IndoorOutdoorRatio with explicit ERV
// decomposition.
func IndoorOutdoorRatioWithERV(naturalInfiltration, ervInfiltration, filtrationRate, depositionRate, efficiency float64) float64 {
	return IndoorOutdoorRatio(naturalInfiltration+ervInfiltration, filtrationRate, depositionRate, efficiency)
}

// SolveEfficiencyFromRatioWithERV is SolveEfficiencyFromRatio with explicit
// ERV decomposition.
func SolveEfficiencyFromRatioWithERV(ratio, naturalInfiltration, ervInfiltration, filtrationRate, depositionRate float64) float64 {
	return SolveEfficiencyFromRatio(ratio, naturalInfiltration+ervInfiltration, filtrationRate, depositionRate)
}

// EfficiencyGradient returns the partial derivative of the steady-state
// indoor concentration with respect to filter efficiency,
// d(C_in)/d(eta) = -Q_inf * Q_filt * C_out / (Q_inf + Q_filt*eta + Q_dep)².
// It is the observation Jacobian for estimators that track efficiency.
func EfficiencyGradient(outdoor, infiltrationRate, filtrationRate, depositionRate, efficiency float64) float64 {
	denominator := infiltrationRate + filtrationRate*efficiency + depositionRate
	if denominator <= 0 {
		return 0
	}
	return -infiltrationRate * filtrationRate * outdoor / (denominator * denominator)
}

// ClampEfficiency clamps an efficiency value to the physical range [0, 1].
func ClampEfficiency(efficiency float64) float64 {
	return math.Min(1, math.Max(0, efficiency))
}
