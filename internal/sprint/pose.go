package sprint

import "github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/geometry"

// Landmark names the analysis consumes from a pose estimator. Only the foot
// tip is required for distance derivation; the rest are accepted and ignored.
const (
	LandmarkFootTip = "foot_tip"
	LandmarkAnkle   = "ankle"
	LandmarkHip     = "hip"
)

// Pose is one frame's worth of estimated landmarks in pixel coordinates.
type Pose struct {
	Landmarks  map[string]geometry.Point
	Confidence float64
}

// PoseSource supplies per-frame landmark positions. Implementations wrap
// whatever pose-estimation runtime produced them; the core never touches
// video or model inference directly. PoseAt returns nil when no pose is
// available for the frame.
type PoseSource interface {
	PoseAt(frame int) *Pose
}

// ResolveFootPixels fills in missing foot pixel positions on the given marks
// from a PoseSource. Marks that already carry a non-zero pixel are left
// untouched. Marks that cannot be resolved are returned in the second slice
// by index so callers can report them.
func ResolveFootPixels(marks []ContactMark, src PoseSource) ([]ContactMark, []int) {
	if src == nil {
		return marks, nil
	}
	out := make([]ContactMark, len(marks))
	copy(out, marks)

	var unresolved []int
	for i := range out {
		if out[i].FootPixel != (geometry.Point{}) {
			continue
		}
		pose := src.PoseAt(out[i].ContactFrame)
		if pose == nil {
			unresolved = append(unresolved, i)
			continue
		}
		pt, ok := pose.Landmarks[LandmarkFootTip]
		if !ok {
			// Ankle is an acceptable stand-in when the estimator does not
			// expose a foot tip.
			pt, ok = pose.Landmarks[LandmarkAnkle]
		}
		if !ok {
			unresolved = append(unresolved, i)
			continue
		}
		out[i].FootPixel = pt
		if out[i].Confidence == 0 {
			out[i].Confidence = pose.Confidence
		}
	}
	return out, unresolved
}
