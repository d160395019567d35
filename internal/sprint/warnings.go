package sprint

import "fmt"

// Warning codes shared by the analysis stages. Warnings are values carried
// alongside a still-valid result, never errors: they must always be reported
// but never block output.
const (
	WarnStrideAnomaly      = "stride_anomaly"
	WarnGapInterpolated    = "gap_interpolated"
	WarnStrideOutlier      = "stride_outlier"
	WarnLowCalibration     = "low_calibration_quality"
	WarnAmbiguousBoundary  = "ambiguous_boundary_group"
	WarnIncompleteAccel    = "acceleration_phase_incomplete"
	WarnNegativeForce      = "negative_force_points"
	WarnWeakRegressionFit  = "weak_regression_fit"
	WarnFewRegressionSteps = "few_regression_samples"
)

// Warning is a non-fatal validation finding attached to a result.
type Warning struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	SegmentID string `json:"segment_id,omitempty"`
	StepIndex int    `json:"step_index,omitempty"`
}

func (w Warning) String() string {
	if w.SegmentID != "" {
		return fmt.Sprintf("[%s] segment %s: %s", w.Code, w.SegmentID, w.Message)
	}
	return fmt.Sprintf("[%s] %s", w.Code, w.Message)
}
