// Package sprint holds the core domain model for multi-camera sprint
// analysis: a Run covered by ordered RunSegments, the contact marks recorded
// per segment, and the lifecycle state machines both move through. The
// numerical stages live in the subpackages (geometry, steps, merge, fvp) and
// are driven by the pipeline package.
package sprint

import (
	"fmt"
	"sort"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/geometry"
	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a whole Run.
type RunStatus string

const (
	RunSetup     RunStatus = "setup"     // Segments being registered
	RunAnalyzing RunStatus = "analyzing" // Per-segment analysis in flight
	RunMerging   RunStatus = "merging"   // All segments analyzed, stitching
	RunComplete  RunStatus = "complete"  // Merged result available
	RunError     RunStatus = "error"     // Fatal error at any stage
)

// SegmentState is the lifecycle state of one camera segment.
type SegmentState string

const (
	SegmentPending    SegmentState = "pending"
	SegmentUploaded   SegmentState = "uploaded"
	SegmentCalibrated SegmentState = "calibrated"
	SegmentAnalyzed   SegmentState = "analyzed"
	SegmentMerged     SegmentState = "merged"
)

// DataError reports missing or insufficient input data. It is fatal to the
// stage that raises it: a segment without calibration or analysis aborts the
// whole merge rather than producing a partially stitched run.
type DataError struct {
	SegmentID string
	Reason    string
}

func (e *DataError) Error() string {
	if e.SegmentID != "" {
		return fmt.Sprintf("data error (segment %s): %s", e.SegmentID, e.Reason)
	}
	return fmt.Sprintf("data error: %s", e.Reason)
}

// ContactMark is one marked footfall: the frame the foot touches down, the
// frame it leaves the ground, and where the foot sits in the image at
// touchdown. Confidence carries the pose estimator's score for the landmark,
// 1.0 for manual marks.
type ContactMark struct {
	ContactFrame int            `json:"contact_frame"`
	ToeOffFrame  int            `json:"toe_off_frame"`
	FootPixel    geometry.Point `json:"foot_pixel"`
	Confidence   float64        `json:"confidence"`
}

// Athlete carries the anthropometrics the force-velocity model needs.
type Athlete struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	MassKG  float64 `json:"mass_kg"`
	HeightM float64 `json:"height_m"`
}

// RunSegment is one camera's coverage of a sub-interval of the run.
type RunSegment struct {
	ID            string                `json:"id"`
	OrderIndex    *int                  `json:"order_index,omitempty"`
	StartDistance float64               `json:"start_distance_m"`
	EndDistance   float64               `json:"end_distance_m"`
	FPS           float64               `json:"fps"`
	Calibration   *geometry.Calibration `json:"calibration,omitempty"`
	Marks         []ContactMark         `json:"marks"`
	State         SegmentState          `json:"state"`
}

// NewRunSegment creates a pending segment covering [startM, endM).
func NewRunSegment(startM, endM, fps float64) *RunSegment {
	return &RunSegment{
		ID:            uuid.NewString(),
		StartDistance: startM,
		EndDistance:   endM,
		FPS:           fps,
		State:         SegmentPending,
	}
}

// Run is a single physical sprint attempt.
type Run struct {
	ID            string        `json:"id"`
	Athlete       Athlete       `json:"athlete"`
	TotalDistance float64       `json:"total_distance_m"`
	Status        RunStatus     `json:"status"`
	Segments      []*RunSegment `json:"segments"`
}

// NewRun creates a Run in setup state.
func NewRun(athlete Athlete, totalDistanceM float64) *Run {
	return &Run{
		ID:            uuid.NewString(),
		Athlete:       athlete,
		TotalDistance: totalDistanceM,
		Status:        RunSetup,
	}
}

// Clone deep-copies the run so a pipeline execution can advance lifecycle
// states on its own snapshot without mutating the caller's graph.
// Calibrations are shared: they are immutable once solved.
func (r *Run) Clone() *Run {
	out := *r
	out.Segments = make([]*RunSegment, len(r.Segments))
	for i, s := range r.Segments {
		seg := *s
		seg.Marks = make([]ContactMark, len(s.Marks))
		copy(seg.Marks, s.Marks)
		out.Segments[i] = &seg
	}
	return &out
}

// OrderedSegments returns the segments in physical order: by explicit order
// index when every segment declares one, otherwise by start distance.
func (r *Run) OrderedSegments() []*RunSegment {
	out := make([]*RunSegment, len(r.Segments))
	copy(out, r.Segments)

	allIndexed := len(out) > 0
	for _, s := range out {
		if s.OrderIndex == nil {
			allIndexed = false
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if allIndexed {
			return *out[i].OrderIndex < *out[j].OrderIndex
		}
		return out[i].StartDistance < out[j].StartDistance
	})
	return out
}

// Boundaries returns the declared inner segment boundaries (metres) in
// increasing order. With N ordered segments there are N-1 boundaries, each at
// the start distance of the following segment.
func (r *Run) Boundaries() []float64 {
	ordered := r.OrderedSegments()
	if len(ordered) < 2 {
		return nil
	}
	bounds := make([]float64, 0, len(ordered)-1)
	for _, s := range ordered[1:] {
		bounds = append(bounds, s.StartDistance)
	}
	return bounds
}
