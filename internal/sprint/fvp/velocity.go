package fvp

import "gonum.org/v1/gonum/stat"

// VelocityModel estimates per-step horizontal velocities from the merged
// step stream's timing and measured speeds. Two estimation heuristics exist
// in the field data this model was built against and they disagree under the
// same input; both are kept as independently selectable strategies rather
// than unified. Which one is correct for a given capture mode is an open
// question, so callers choose explicitly.
type VelocityModel interface {
	Name() string
	// Velocities maps cumulative step times and measured step speeds to the
	// velocity series used for force derivation. len(out) == len(speeds).
	Velocities(times, speeds []float64) []float64
	// Accelerations maps the same inputs to the per-step acceleration series.
	// Acceleration always derives from the measured speeds: a strategy that
	// differenced its own smoothed velocities would feed the force model a
	// series with no per-step structure left. len(out) == len(speeds).
	Accelerations(times, speeds []float64) []float64
}

// FiniteDifferenceVelocityModel takes each step's measured speed as the
// instantaneous velocity at that step. This is the default for fixed
// cameras, where per-step stride/time measurements are independent.
type FiniteDifferenceVelocityModel struct{}

func (FiniteDifferenceVelocityModel) Name() string { return "finite_difference" }

func (FiniteDifferenceVelocityModel) Velocities(times, speeds []float64) []float64 {
	out := make([]float64, len(speeds))
	copy(out, speeds)
	return out
}

func (FiniteDifferenceVelocityModel) Accelerations(times, speeds []float64) []float64 {
	return finiteDifference(times, speeds)
}

// ConstantAccelerationVelocityModel assumes the sprint accelerates uniformly
// across the observed window, as the panning-capture heuristic does: it fits
// v = v0 + a·t by least squares and returns the fitted velocities, smoothing
// out per-step measurement noise. Acceleration still comes from the measured
// speed intervals; the fitted line's slope is a single constant and carries
// no decline for the force regression to fit.
type ConstantAccelerationVelocityModel struct{}

func (ConstantAccelerationVelocityModel) Name() string { return "constant_acceleration" }

func (ConstantAccelerationVelocityModel) Velocities(times, speeds []float64) []float64 {
	out := make([]float64, len(speeds))
	if len(speeds) < 2 {
		copy(out, speeds)
		return out
	}
	v0, a := stat.LinearRegression(times, speeds, nil, false)
	for i, t := range times {
		out[i] = v0 + a*t
	}
	return out
}

func (ConstantAccelerationVelocityModel) Accelerations(times, speeds []float64) []float64 {
	return finiteDifference(times, speeds)
}

// finiteDifference estimates per-sample acceleration: central differences in
// the interior, one-sided at the edges.
func finiteDifference(times, velocities []float64) []float64 {
	n := len(velocities)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	for i := 0; i < n; i++ {
		lo, hi := i-1, i+1
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		dt := times[hi] - times[lo]
		if dt > 0 {
			out[i] = (velocities[hi] - velocities[lo]) / dt
		}
	}
	return out
}
