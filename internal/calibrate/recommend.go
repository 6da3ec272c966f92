package calibrate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"filtersense/internal/domain"
)

// degradationWindowDays is the trailing window the replacement projection
// estimates the decline rate over.
const degradationWindowDays = 30

// DegradationRate estimates how fast efficiency is declining, in efficiency
// units per day, from the fit history inside the trailing window. The rate
// is floored at zero; an improving filter degrades at rate 0. The second
// return is false when fewer than two fits fall inside the window.
func (c *Calibrator) DegradationRate(windowDays int) (float64, bool) {
	cutoff := c.now().AddDate(0, 0, -windowDays)

	var days, effs []float64
	for _, rec := range c.history {
		if rec.time.Before(cutoff) {
			continue
		}
		days = append(days, rec.time.Sub(cutoff).Hours()/24)
		effs = append(effs, rec.efficiency)
	}
	if len(days) < 2 || days[0] == days[len(days)-1] {
		return 0, false
	}

	_, slope := stat.LinearRegression(days, effs, nil, false)
	return math.Max(0, -slope), true
}

// Recommendations maps the current fit onto an operator-facing status,
// alerts and suggested actions.
func (c *Calibrator) Recommendations() domain.Recommendation {
	if c.current == nil {
		return domain.Recommendation{
			Status:  "no_analysis",
			Actions: []string{"Collect more measurement data and run a calibration"},
		}
	}

	rec := domain.Recommendation{}
	eff := c.current.Efficiency
	th := c.cfg.Thresholds

	if c.current.RSquared < c.cfg.MinConfidence {
		rec.Alerts = append(rec.Alerts, fmt.Sprintf(
			"Low fit confidence (R²=%.2f); estimates may be unreliable", c.current.RSquared))
	}
	if !c.current.Converged {
		rec.Alerts = append(rec.Alerts, "Last calibration did not converge; treat estimates with caution")
	}

	switch {
	case eff >= th.Excellent:
		rec.Status = "excellent"
		rec.Actions = append(rec.Actions, "Filter performing well, no action needed")
	case eff >= th.Good:
		rec.Status = "good"
		rec.Actions = append(rec.Actions, "Filter in good condition, continue monitoring")
	case eff >= th.Declining:
		rec.Status = "declining"
		rec.Actions = append(rec.Actions, "Filter efficiency declining, plan replacement")
	default:
		rec.Status = "poor"
		rec.Actions = append(rec.Actions, "Replace filter soon")
	}

	// Project when the decline would cross the "declining" threshold, for
	// any filter still above it that is measurably degrading.
	rate, ok := c.DegradationRate(degradationWindowDays)
	if ok && rate > 0 && eff > th.Declining {
		days := int(math.Ceil((eff - th.Declining) / rate))
		rec.Actions = append(rec.Actions, fmt.Sprintf("Estimated %d days until replacement needed", days))
	}

	return rec
}
