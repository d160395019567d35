package fvp

import (
	"fmt"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
)

// Ordinal quality grades for a fitted profile.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
)

// classify grades a fitted profile from its goodness of fit, sample count
// and the number of negative-force points, and collects the human-readable
// warnings that go with a valid but shaky profile.
func classify(res *Result) (string, []sprint.Warning) {
	negative := 0
	for _, sp := range res.Samples {
		if sp.HorizontalForce < 0 {
			negative++
		}
	}
	n := len(res.Samples)

	var grade string
	switch {
	case res.Fit.R2 >= 0.95 && n >= 8 && negative == 0:
		grade = QualityExcellent
	case res.Fit.R2 >= 0.85 && n >= 5 && negative <= 1:
		grade = QualityGood
	case res.Fit.R2 >= 0.70 && n >= 4:
		grade = QualityFair
	default:
		grade = QualityPoor
	}

	var warnings []sprint.Warning
	if negative > 0 {
		warnings = append(warnings, sprint.Warning{
			Code:    sprint.WarnNegativeForce,
			Message: fmt.Sprintf("%d of %d samples have negative horizontal force; the athlete may be decelerating in view", negative, n),
		})
	}
	if res.Fit.R2 < 0.85 {
		warnings = append(warnings, sprint.Warning{
			Code:    sprint.WarnWeakRegressionFit,
			Message: fmt.Sprintf("force-velocity fit R² = %.2f; treat F0/V0 as indicative only", res.Fit.R2),
		})
	}
	if n < 5 {
		warnings = append(warnings, sprint.Warning{
			Code:    sprint.WarnFewRegressionSteps,
			Message: fmt.Sprintf("profile fitted on only %d steps", n),
		})
	}
	if res.V0 > 0 && res.PeakVelocity/res.V0 > 0.85 {
		warnings = append(warnings, sprint.Warning{
			Code:    sprint.WarnIncompleteAccel,
			Message: fmt.Sprintf("V0 %.2fm/s is close to the observed peak velocity %.2fm/s — acceleration phase may be incomplete", res.V0, res.PeakVelocity),
		})
	}
	return grade, warnings
}
