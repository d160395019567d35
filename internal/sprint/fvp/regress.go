package fvp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// RegressionError reports insufficient or numerically invalid
// force-velocity data. It is fatal only to the profile stage; the merged
// result it was derived from remains valid.
type RegressionError struct {
	Reason string
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("regression error: %s", e.Reason)
}

// RegressionFit is an ordinary least squares fit of horizontal force (y) on
// velocity (x).
type RegressionFit struct {
	Intercept float64 `json:"intercept"` // F0: force at v = 0
	Slope     float64 `json:"slope"`     // dF/dv, negative for a valid profile
	R2        float64 `json:"r2"`
}

// Regress fits force = intercept + slope*velocity by OLS. A degenerate or
// non-finite fit, or one whose extrapolated F0/V0 are not positive, returns
// a RegressionError rather than a nonsensical profile.
func Regress(velocities, forces []float64) (RegressionFit, error) {
	if len(velocities) < 3 || len(velocities) != len(forces) {
		return RegressionFit{}, &RegressionError{
			Reason: fmt.Sprintf("need at least 3 paired samples, got %d/%d", len(velocities), len(forces)),
		}
	}

	intercept, slope := stat.LinearRegression(velocities, forces, nil, false)
	if !isFinite(intercept) || !isFinite(slope) {
		return RegressionFit{}, &RegressionError{Reason: "non-finite regression coefficients"}
	}

	fit := RegressionFit{
		Intercept: intercept,
		Slope:     slope,
		R2:        stat.RSquared(velocities, forces, nil, intercept, slope),
	}

	if fit.Intercept <= 0 {
		return RegressionFit{}, &RegressionError{Reason: fmt.Sprintf("non-positive F0 %.2f", fit.Intercept)}
	}
	if fit.Slope >= 0 {
		return RegressionFit{}, &RegressionError{Reason: fmt.Sprintf("non-negative force-velocity slope %.2f", fit.Slope)}
	}
	v0 := fit.V0()
	if v0 <= 0 || !isFinite(v0) {
		return RegressionFit{}, &RegressionError{Reason: fmt.Sprintf("invalid V0 %.2f", v0)}
	}
	return fit, nil
}

// V0 is the theoretical maximum velocity, where extrapolated force is zero.
func (f RegressionFit) V0() float64 {
	return f.Intercept / -f.Slope
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
