// Package geometry implements the planar image-to-world calibration used to
// convert foot pixel positions into track distances. A 3x3 projective
// transform is solved from four pixel/world correspondences via the Direct
// Linear Transform and applied to individual pixels.
package geometry

import (
	"fmt"
	"math"
)

// Numerical stability thresholds for the DLT solve and homography apply.
const (
	// PivotEpsilon is the minimum pivot magnitude during Gaussian
	// elimination. Anything below this indicates a degenerate point
	// configuration (collinear or duplicate correspondences).
	PivotEpsilon = 1e-9

	// HomogeneousEpsilon is the minimum |w| when dividing through the
	// homogeneous coordinate on apply.
	HomogeneousEpsilon = 1e-12

	// RoundTripTolerance is the maximum per-axis error (metres) allowed when
	// the solved homography is re-applied to its own calibration points.
	RoundTripTolerance = 1e-6
)

// Point is a 2-D coordinate, in pixels or metres depending on context.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CalibrationError reports a degenerate or numerically unusable calibration.
type CalibrationError struct {
	Reason string
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration error: %s", e.Reason)
}

// Homography is a row-major 3x3 projective transform with h33 fixed to 1.
type Homography [9]float64

// SolveHomography computes the homography H mapping pixel[i] -> world[i].
// The four correspondences define an 8x8 linear system in the eight free
// entries (h33 = 1), solved by Gaussian elimination with partial pivoting.
// Degenerate inputs return a CalibrationError rather than a near-singular
// matrix.
func SolveHomography(pixel, world [4]Point) (Homography, error) {
	var a [8][8]float64
	var b [8]float64
	for i := 0; i < 4; i++ {
		px, py := pixel[i].X, pixel[i].Y
		wx, wy := world[i].X, world[i].Y
		r := 2 * i

		// wx = (h11 px + h12 py + h13) / (h31 px + h32 py + 1)
		a[r][0] = px
		a[r][1] = py
		a[r][2] = 1
		a[r][6] = -px * wx
		a[r][7] = -py * wx
		b[r] = wx

		// wy = (h21 px + h22 py + h23) / (h31 px + h32 py + 1)
		a[r+1][3] = px
		a[r+1][4] = py
		a[r+1][5] = 1
		a[r+1][6] = -px * wy
		a[r+1][7] = -py * wy
		b[r+1] = wy
	}

	h, err := solveLinearSystem(a, b)
	if err != nil {
		return Homography{}, err
	}

	return Homography{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}, nil
}

// solveLinearSystem solves the 8x8 system a*x = b in place using Gaussian
// elimination with partial pivoting. A pivot magnitude below PivotEpsilon
// means the calibration points do not span the plane.
func solveLinearSystem(a [8][8]float64, b [8]float64) ([8]float64, error) {
	const n = 8
	for col := 0; col < n; col++ {
		// Partial pivot: bring the largest remaining entry into position.
		pivotRow := col
		maxAbs := math.Abs(a[col][col])
		for r := col + 1; r < n; r++ {
			if abs := math.Abs(a[r][col]); abs > maxAbs {
				maxAbs = abs
				pivotRow = r
			}
		}
		if maxAbs < PivotEpsilon {
			return [8]float64{}, &CalibrationError{
				Reason: fmt.Sprintf("near-singular system (pivot %.3e at column %d); calibration points may be collinear or duplicated", maxAbs, col),
			}
		}
		if pivotRow != col {
			a[col], a[pivotRow] = a[pivotRow], a[col]
			b[col], b[pivotRow] = b[pivotRow], b[col]
		}

		// Eliminate below the pivot.
		for r := col + 1; r < n; r++ {
			factor := a[r][col] / a[col][col]
			if factor == 0 {
				continue
			}
			for c := col; c < n; c++ {
				a[r][c] -= factor * a[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	// Back substitution.
	var x [8]float64
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, nil
}

// Apply maps a pixel point into world coordinates (metres). It returns an
// error if the homogeneous coordinate collapses, instead of letting a NaN
// leak into downstream distance series.
func (h Homography) Apply(p Point) (Point, error) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < HomogeneousEpsilon {
		return Point{}, &CalibrationError{
			Reason: fmt.Sprintf("homogeneous coordinate %.3e too small applying homography to (%.1f, %.1f)", w, p.X, p.Y),
		}
	}
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, nil
}

// roundTripError returns the largest per-axis deviation when applying h to
// each pixel point against its expected world point.
func (h Homography) roundTripError(pixel, world [4]Point) (float64, error) {
	var maxErr float64
	for i := 0; i < 4; i++ {
		got, err := h.Apply(pixel[i])
		if err != nil {
			return 0, err
		}
		if dx := math.Abs(got.X - world[i].X); dx > maxErr {
			maxErr = dx
		}
		if dy := math.Abs(got.Y - world[i].Y); dy > maxErr {
			maxErr = dy
		}
	}
	return maxErr, nil
}
