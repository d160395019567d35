// Package fvp fits a Samozino-style force-velocity-power profile to a merged
// sprint step stream: per-step horizontal force from acceleration and air
// drag, an OLS force-on-velocity regression, and the derived mechanical
// parameters F0, V0, Pmax, RFmax and DRF.
package fvp

import (
	"fmt"
	"math"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/merge"
)

// Physical bounds and drag model defaults. The contact-angle bounds are
// empirical: ground-reaction force orientation moves from the steep early
// stance toward upright as velocity approaches its peak. The panning-capture
// heuristic uses the slightly steeper pair.
const (
	MaxAthleteMassKG  = 200
	MaxAthleteHeightM = 2.5

	DefaultAirDensity             = 1.225 // kg/m3 at sea level
	DefaultDragCoefficient        = 0.9
	DefaultFrontalAreaCoefficient = 0.266 // frontal area ~ coeff * height^2

	DefaultContactAngleStartDeg = 60
	DefaultContactAngleEndDeg   = 45

	PanningContactAngleStartDeg = 65
	PanningContactAngleEndDeg   = 48
)

// Reason codes carried by an insufficient/invalid-data result.
const (
	ReasonTooFewSteps   = "insufficient_steps"
	ReasonInvalidMass   = "invalid_mass"
	ReasonInvalidHeight = "invalid_height"
)

// Result status values.
const (
	StatusOK               = "ok"
	StatusInsufficientData = "insufficient_data"
)

// Options tunes the force model.
type Options struct {
	AirDensity             float64
	DragCoefficient        float64
	FrontalAreaCoefficient float64
	ContactAngleStartDeg   float64
	ContactAngleEndDeg     float64
	// Velocity selects the velocity estimation strategy; nil means
	// FiniteDifferenceVelocityModel.
	Velocity VelocityModel
}

// PanningOptions returns the option set matching the panning-capture
// heuristic: constant-acceleration velocity smoothing with its steeper
// contact-angle bounds.
func PanningOptions() Options {
	return Options{
		ContactAngleStartDeg: PanningContactAngleStartDeg,
		ContactAngleEndDeg:   PanningContactAngleEndDeg,
		Velocity:             ConstantAccelerationVelocityModel{},
	}
}

func (o Options) withDefaults() Options {
	if o.AirDensity == 0 {
		o.AirDensity = DefaultAirDensity
	}
	if o.DragCoefficient == 0 {
		o.DragCoefficient = DefaultDragCoefficient
	}
	if o.FrontalAreaCoefficient == 0 {
		o.FrontalAreaCoefficient = DefaultFrontalAreaCoefficient
	}
	if o.ContactAngleStartDeg == 0 {
		o.ContactAngleStartDeg = DefaultContactAngleStartDeg
	}
	if o.ContactAngleEndDeg == 0 {
		o.ContactAngleEndDeg = DefaultContactAngleEndDeg
	}
	if o.Velocity == nil {
		o.Velocity = FiniteDifferenceVelocityModel{}
	}
	return o
}

// SamplePoint is one step's derived force-velocity sample.
type SamplePoint struct {
	GlobalIndex     int     `json:"global_index"`
	Time            float64 `json:"time_s"`
	Velocity        float64 `json:"velocity_mps"`
	Acceleration    float64 `json:"acceleration_mps2"`
	DragForce       float64 `json:"drag_force_n"`
	HorizontalForce float64 `json:"horizontal_force_n"`
	VerticalForce   float64 `json:"vertical_force_n"`
	ResultantForce  float64 `json:"resultant_force_n"`
	Power           float64 `json:"power_w"`
	ForceRatio      float64 `json:"force_ratio_pct"`
	ContactAngleDeg float64 `json:"contact_angle_deg"`
}

// Result is the fitted profile. Status is StatusInsufficientData (with a
// reason code) when preconditions fail; in that case no parameters are
// populated. A numerically invalid regression is reported as a
// RegressionError from Model, not as a Result.
type Result struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`

	F0   float64 `json:"f0_n"`
	V0   float64 `json:"v0_mps"`
	Pmax float64 `json:"pmax_w"`
	// RFmax is the force ratio of the lowest-velocity sample, percent.
	RFmax float64 `json:"rfmax_pct"`
	// DRF is the decline rate of the force ratio across the velocity range.
	DRF float64 `json:"drf"`

	Fit RegressionFit `json:"fit"`

	// OptimalFV is the theoretically balanced optimum sqrt(4*Pmax) against
	// which both F0 and V0 are compared; the percentages express each side's
	// share of that optimum.
	OptimalFV    float64 `json:"optimal_fv"`
	F0PctOptimal float64 `json:"f0_pct_of_optimal"`
	V0PctOptimal float64 `json:"v0_pct_of_optimal"`

	PeakVelocity  float64 `json:"peak_velocity_mps"`
	VelocityModel string  `json:"velocity_model"`

	Samples  []SamplePoint    `json:"samples"`
	Quality  string           `json:"quality"`
	Warnings []sprint.Warning `json:"warnings,omitempty"`
}

// Model fits the force-velocity-power profile for one athlete over a merged
// step stream. Precondition violations return a Result with
// StatusInsufficientData; a regression that cannot produce a physically
// meaningful profile returns a nil Result and a RegressionError.
func Model(stream []merge.MergedStep, athlete sprint.Athlete, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	if athlete.MassKG <= 0 || athlete.MassKG > MaxAthleteMassKG {
		return insufficient(ReasonInvalidMass, fmt.Sprintf("mass %.1fkg outside (0, %d]", athlete.MassKG, MaxAthleteMassKG)), nil
	}
	if athlete.HeightM <= 0 || athlete.HeightM > MaxAthleteHeightM {
		return insufficient(ReasonInvalidHeight, fmt.Sprintf("height %.2fm outside (0, %.1f]", athlete.HeightM, MaxAthleteHeightM)), nil
	}

	usable := usableSteps(stream)
	if len(usable) < 3 {
		return insufficient(ReasonTooFewSteps, fmt.Sprintf("%d steps with positive speed and stride, need at least 3", len(usable))), nil
	}

	// Cumulative time and measured speed per usable step.
	times := make([]float64, len(usable))
	speeds := make([]float64, len(usable))
	var t float64
	for i, st := range usable {
		times[i] = t
		speeds[i] = st.Speed
		t += st.Duration()
	}

	velocities := opts.Velocity.Velocities(times, speeds)
	accels := opts.Velocity.Accelerations(times, speeds)

	peak := 0.0
	for _, v := range velocities {
		if v > peak {
			peak = v
		}
	}

	frontalArea := opts.FrontalAreaCoefficient * athlete.HeightM * athlete.HeightM
	samples := make([]SamplePoint, len(usable))
	for i := range usable {
		v := velocities[i]
		drag := 0.5 * opts.AirDensity * opts.DragCoefficient * frontalArea * v * v
		fh := athlete.MassKG*accels[i] + drag

		angle := contactAngle(v, peak, opts.ContactAngleStartDeg, opts.ContactAngleEndDeg)
		rad := angle * math.Pi / 180
		fv := fh * math.Tan(rad)
		fres := math.Hypot(fh, fv)

		sp := SamplePoint{
			GlobalIndex:     usable[i].GlobalIndex,
			Time:            times[i],
			Velocity:        v,
			Acceleration:    accels[i],
			DragForce:       drag,
			HorizontalForce: fh,
			VerticalForce:   fv,
			ResultantForce:  fres,
			Power:           fh * v,
			ContactAngleDeg: angle,
		}
		if fres > 0 {
			sp.ForceRatio = fh / fres * 100
		}
		samples[i] = sp
	}

	vels := make([]float64, len(samples))
	forces := make([]float64, len(samples))
	for i, sp := range samples {
		vels[i] = sp.Velocity
		forces[i] = sp.HorizontalForce
	}
	fit, err := Regress(vels, forces)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Status:        StatusOK,
		F0:            fit.Intercept,
		V0:            fit.V0(),
		Fit:           fit,
		PeakVelocity:  peak,
		VelocityModel: opts.Velocity.Name(),
		Samples:       samples,
	}
	res.Pmax = res.F0 * res.V0 / 4
	res.OptimalFV = math.Sqrt(4 * res.Pmax)
	if res.OptimalFV > 0 {
		res.F0PctOptimal = res.F0 / res.OptimalFV * 100
		res.V0PctOptimal = res.V0 / res.OptimalFV * 100
	}

	// RFmax comes from the slowest sample, where stance force is most
	// horizontal.
	slowest := samples[0]
	for _, sp := range samples[1:] {
		if sp.Velocity < slowest.Velocity {
			slowest = sp
		}
	}
	res.RFmax = slowest.ForceRatio
	res.DRF = res.RFmax / res.V0

	res.Quality, res.Warnings = classify(res)
	return res, nil
}

func insufficient(reason, msg string) *Result {
	return &Result{
		Status: StatusInsufficientData,
		Reason: reason,
		Warnings: []sprint.Warning{{
			Code:    reason,
			Message: msg,
		}},
	}
}

func usableSteps(stream []merge.MergedStep) []merge.MergedStep {
	var usable []merge.MergedStep
	for _, st := range stream {
		if st.Speed > 0 && st.StrideLength > 0 {
			usable = append(usable, st)
		}
	}
	return usable
}

// contactAngle interpolates the empirical stance angle between the two
// configured bounds as a function of the velocity fraction of peak.
func contactAngle(v, peak, startDeg, endDeg float64) float64 {
	if peak <= 0 {
		return startDeg
	}
	frac := v / peak
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return startDeg + (endDeg-startDeg)*frac
}
