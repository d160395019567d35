package geometry

import (
	"fmt"
	"math"
)

// Calibration binds one camera segment's four pixel points to their world
// positions and carries the solved homography. Pixel points are expected in
// native video resolution; world X is metres along the track from the
// segment's first marker, world Y spans the lane width.
type Calibration struct {
	PixelPoints [4]Point   `json:"pixel_points"`
	WorldPoints [4]Point   `json:"world_points"`
	H           Homography `json:"homography"`

	// RoundTripErr is the worst per-axis reprojection error over the four
	// calibration points, recorded at solve time.
	RoundTripErr float64 `json:"round_trip_err"`

	solved bool
}

// WorldPointsForLane derives the four world points from the physical marker
// layout: near and far lane edges at each of two marker distances. Order
// matches the pixel point convention: near/far at the first marker, then
// near/far at the second.
func WorldPointsForLane(laneWidthM, firstMarkerM, secondMarkerM float64) [4]Point {
	return [4]Point{
		{X: firstMarkerM, Y: 0},
		{X: firstMarkerM, Y: laneWidthM},
		{X: secondMarkerM, Y: 0},
		{X: secondMarkerM, Y: laneWidthM},
	}
}

// NewCalibration solves and self-validates a calibration from four
// correspondences. The solved homography is checked by re-applying it to its
// own pixel points; a reprojection error above RoundTripTolerance is treated
// as a failed calibration.
func NewCalibration(pixel, world [4]Point) (*Calibration, error) {
	h, err := SolveHomography(pixel, world)
	if err != nil {
		return nil, err
	}
	rtErr, err := h.roundTripError(pixel, world)
	if err != nil {
		return nil, err
	}
	if rtErr > RoundTripTolerance {
		return nil, &CalibrationError{
			Reason: fmt.Sprintf("round-trip reprojection error %.3e exceeds tolerance %.1e", rtErr, RoundTripTolerance),
		}
	}
	return &Calibration{
		PixelPoints:  pixel,
		WorldPoints:  world,
		H:            h,
		RoundTripErr: rtErr,
		solved:       true,
	}, nil
}

// NewLaneCalibration is the common construction path: four pixel points
// plus the lane width and the two marker distances they were placed at.
func NewLaneCalibration(pixel [4]Point, laneWidthM, firstMarkerM, secondMarkerM float64) (*Calibration, error) {
	if laneWidthM <= 0 {
		return nil, &CalibrationError{Reason: fmt.Sprintf("lane width must be positive, got %.3f", laneWidthM)}
	}
	if firstMarkerM == secondMarkerM {
		return nil, &CalibrationError{Reason: "marker distances must differ"}
	}
	return NewCalibration(pixel, WorldPointsForLane(laneWidthM, firstMarkerM, secondMarkerM))
}

// Valid reports whether the calibration has a solved, finite homography.
func (c *Calibration) Valid() bool {
	if c == nil || !c.solved {
		return false
	}
	for _, v := range c.H {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Revalidate re-runs the round-trip check, marking the calibration solved if
// it passes. Used after a Calibration has been rebuilt from storage where the
// unexported solve flag is lost.
func (c *Calibration) Revalidate() error {
	if c == nil {
		return &CalibrationError{Reason: "no calibration"}
	}
	rtErr, err := c.H.roundTripError(c.PixelPoints, c.WorldPoints)
	if err != nil {
		return err
	}
	if rtErr > RoundTripTolerance {
		return &CalibrationError{
			Reason: fmt.Sprintf("stored homography round-trip error %.3e exceeds tolerance", rtErr),
		}
	}
	c.RoundTripErr = rtErr
	c.solved = true
	return nil
}

// Quality maps the round-trip error onto [0,1], 1 being an exact solve. It
// feeds boundary dedup candidate scoring and low-quality warnings.
func (c *Calibration) Quality() float64 {
	if !c.Valid() {
		return 0
	}
	q := 1 - c.RoundTripErr/RoundTripTolerance
	if q < 0 {
		return 0
	}
	return q
}

// WorldX projects a pixel and returns only the along-track distance.
func (c *Calibration) WorldX(p Point) (float64, error) {
	if !c.Valid() {
		return 0, &CalibrationError{Reason: "calibration missing or invalid"}
	}
	wp, err := c.H.Apply(p)
	if err != nil {
		return 0, err
	}
	return wp.X, nil
}
