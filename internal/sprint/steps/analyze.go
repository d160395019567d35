// Package steps derives per-segment step metrics from marked contact events.
// Each camera segment's contact/toe-off frames and foot pixel positions are
// converted into an ordered list of Step records, in metric ground truth via
// the segment's calibration, plus segment-level summary statistics.
package steps

import (
	"fmt"
	"sort"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
	"gonum.org/v1/gonum/stat"
)

// MinUsableSteps is the floor below which a segment cannot contribute to
// downstream modelling.
const MinUsableSteps = 3

// DefaultStrideAnomalyMultiplier flags strides outside this multiple (and
// its inverse) of the segment's median stride.
const DefaultStrideAnomalyMultiplier = 2.0

// Step is one footfall and the stride it begins: ground contact at
// ContactFrame, toe-off at ToeOffFrame, flight until the next contact.
// LocalDistance is metres from the segment's calibration origin.
type Step struct {
	Index         int     `json:"index"`
	ContactFrame  int     `json:"contact_frame"`
	ToeOffFrame   int     `json:"toe_off_frame"`
	ContactTime   float64 `json:"contact_time_s"`
	FlightTime    float64 `json:"flight_time_s"`
	LocalDistance float64 `json:"local_distance_m"`
	StrideLength  float64 `json:"stride_length_m"`
	Speed         float64 `json:"speed_mps"`
	Cadence       float64 `json:"cadence_spm"`
	Confidence    float64 `json:"confidence"`
}

// Duration is the full stride period: ground contact plus flight.
func (s Step) Duration() float64 {
	return s.ContactTime + s.FlightTime
}

// Summary aggregates one segment's step metrics.
type Summary struct {
	StepCount       int     `json:"step_count"`
	MeanContactTime float64 `json:"mean_contact_time_s"`
	MeanFlightTime  float64 `json:"mean_flight_time_s"`
	MeanStride      float64 `json:"mean_stride_m"`
	MedianStride    float64 `json:"median_stride_m"`
	MeanSpeed       float64 `json:"mean_speed_mps"`
	MeanCadence     float64 `json:"mean_cadence_spm"`
}

// Result is the completed analysis of one segment. Once produced it is
// treated as immutable input to the merge stage.
type Result struct {
	SegmentID string           `json:"segment_id"`
	Steps     []Step           `json:"steps"`
	Summary   Summary          `json:"summary"`
	Warnings  []sprint.Warning `json:"warnings,omitempty"`

	// CalibrationQuality is the segment calibration's [0,1] quality score,
	// recorded here so the merger can rank boundary candidates without
	// re-touching the calibration.
	CalibrationQuality float64 `json:"calibration_quality"`
}

// Options tunes the analyzer.
type Options struct {
	// StrideAnomalyMultiplier flags strides longer than multiplier*median or
	// shorter than median/multiplier. Zero means DefaultStrideAnomalyMultiplier.
	StrideAnomalyMultiplier float64
}

func (o Options) strideAnomalyMultiplier() float64 {
	if o.StrideAnomalyMultiplier > 0 {
		return o.StrideAnomalyMultiplier
	}
	return DefaultStrideAnomalyMultiplier
}

// Analyze turns a segment's contact marks into an ordered Step list and
// summary. It is fatal (DataError) when the calibration is missing/invalid,
// the frame timing is inconsistent, or fewer than MinUsableSteps steps come
// out; stride anomalies are warnings on a still-valid result.
func Analyze(seg *sprint.RunSegment, opts Options) (*Result, error) {
	if seg == nil {
		return nil, &sprint.DataError{Reason: "nil segment"}
	}
	if !seg.Calibration.Valid() {
		return nil, &sprint.DataError{SegmentID: seg.ID, Reason: "calibration missing or invalid"}
	}
	if seg.FPS <= 0 {
		return nil, &sprint.DataError{SegmentID: seg.ID, Reason: fmt.Sprintf("fps must be positive, got %.2f", seg.FPS)}
	}

	marks := make([]sprint.ContactMark, len(seg.Marks))
	copy(marks, seg.Marks)
	sort.SliceStable(marks, func(i, j int) bool { return marks[i].ContactFrame < marks[j].ContactFrame })

	// Project every contact to its along-track world distance first; a
	// projection failure poisons the whole segment.
	distances := make([]float64, len(marks))
	for i, m := range marks {
		if m.ToeOffFrame <= m.ContactFrame {
			return nil, &sprint.DataError{
				SegmentID: seg.ID,
				Reason:    fmt.Sprintf("mark %d: toe-off frame %d not after contact frame %d", i, m.ToeOffFrame, m.ContactFrame),
			}
		}
		d, err := seg.Calibration.WorldX(m.FootPixel)
		if err != nil {
			return nil, &sprint.DataError{
				SegmentID: seg.ID,
				Reason:    fmt.Sprintf("mark %d: %v", i, err),
			}
		}
		distances[i] = d
	}

	// One Step per completed stride: the footfall at mark i plus the flight
	// to mark i+1. The final contact closes the last stride but begins none.
	var list []Step
	for i := 0; i+1 < len(marks); i++ {
		cur, next := marks[i], marks[i+1]
		if next.ContactFrame < cur.ToeOffFrame {
			return nil, &sprint.DataError{
				SegmentID: seg.ID,
				Reason:    fmt.Sprintf("mark %d: next contact frame %d precedes toe-off %d", i, next.ContactFrame, cur.ToeOffFrame),
			}
		}
		contactTime := float64(cur.ToeOffFrame-cur.ContactFrame) / seg.FPS
		flightTime := float64(next.ContactFrame-cur.ToeOffFrame) / seg.FPS
		stride := distances[i+1] - distances[i]

		step := Step{
			Index:         i,
			ContactFrame:  cur.ContactFrame,
			ToeOffFrame:   cur.ToeOffFrame,
			ContactTime:   contactTime,
			FlightTime:    flightTime,
			LocalDistance: distances[i],
			StrideLength:  stride,
			Confidence:    markConfidence(cur, next),
		}
		if d := step.Duration(); d > 0 {
			step.Speed = stride / d
			step.Cadence = 60 / d
		}
		list = append(list, step)
	}

	if len(list) < MinUsableSteps {
		return nil, &sprint.DataError{
			SegmentID: seg.ID,
			Reason:    fmt.Sprintf("only %d usable steps, need at least %d", len(list), MinUsableSteps),
		}
	}

	res := &Result{
		SegmentID:          seg.ID,
		Steps:              list,
		Summary:            summarize(list, marks, seg.FPS),
		CalibrationQuality: seg.Calibration.Quality(),
	}
	res.Warnings = strideAnomalies(seg.ID, list, opts.strideAnomalyMultiplier())
	return res, nil
}

// markConfidence combines the two marks closing a stride; the weaker
// detection bounds how much we trust the stride.
func markConfidence(a, b sprint.ContactMark) float64 {
	ca, cb := a.Confidence, b.Confidence
	if ca == 0 {
		ca = 1
	}
	if cb == 0 {
		cb = 1
	}
	if cb < ca {
		return cb
	}
	return ca
}

func summarize(list []Step, marks []sprint.ContactMark, fps float64) Summary {
	n := len(list)
	contact := make([]float64, n)
	flight := make([]float64, n)
	strides := make([]float64, n)
	speeds := make([]float64, n)
	for i, s := range list {
		contact[i] = s.ContactTime
		flight[i] = s.FlightTime
		strides[i] = s.StrideLength
		speeds[i] = s.Speed
	}

	sum := Summary{
		StepCount:       n,
		MeanContactTime: stat.Mean(contact, nil),
		MeanFlightTime:  stat.Mean(flight, nil),
		MeanStride:      stat.Mean(strides, nil),
		MedianStride:    Median(strides),
		MeanSpeed:       stat.Mean(speeds, nil),
	}

	// Cadence over the segment window: steps per minute between the first
	// and last marked contacts.
	if len(marks) > 1 {
		window := float64(marks[len(marks)-1].ContactFrame-marks[0].ContactFrame) / fps
		if window > 0 {
			sum.MeanCadence = float64(n) / window * 60
		}
	}
	return sum
}

func strideAnomalies(segID string, list []Step, multiplier float64) []sprint.Warning {
	strides := make([]float64, len(list))
	for i, s := range list {
		strides[i] = s.StrideLength
	}
	median := Median(strides)
	if median <= 0 {
		return nil
	}

	var warnings []sprint.Warning
	for _, s := range list {
		if s.StrideLength > median*multiplier || s.StrideLength < median/multiplier {
			warnings = append(warnings, sprint.Warning{
				Code:      sprint.WarnStrideAnomaly,
				SegmentID: segID,
				StepIndex: s.Index,
				Message:   fmt.Sprintf("stride %.2fm deviates from segment median %.2fm", s.StrideLength, median),
			})
		}
	}
	return warnings
}

// Median returns the median of vals without mutating the input. Zero for an
// empty slice.
func Median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
