package sprint

import "fmt"

// TransitionError reports an attempted lifecycle transition that violates a
// guard, e.g. analyzing a segment that was never calibrated.
type TransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s: %s", e.Entity, e.From, e.To, e.Reason)
}

// segmentTransitions is the forward edge set of the segment state machine.
var segmentTransitions = map[SegmentState]SegmentState{
	SegmentPending:    SegmentUploaded,
	SegmentUploaded:   SegmentCalibrated,
	SegmentCalibrated: SegmentAnalyzed,
	SegmentAnalyzed:   SegmentMerged,
}

// Advance moves the segment to the next lifecycle state, enforcing the
// guards: calibration must be present and valid to enter calibrated, and a
// segment cannot be analyzed without being calibrated first.
func (s *RunSegment) Advance(to SegmentState) error {
	next, ok := segmentTransitions[s.State]
	if !ok || next != to {
		return &TransitionError{
			Entity: "segment", From: string(s.State), To: string(to),
			Reason: "states must advance pending -> uploaded -> calibrated -> analyzed -> merged",
		}
	}
	switch to {
	case SegmentCalibrated:
		if !s.Calibration.Valid() {
			return &TransitionError{
				Entity: "segment", From: string(s.State), To: string(to),
				Reason: "calibration missing or invalid",
			}
		}
	case SegmentAnalyzed:
		if s.State != SegmentCalibrated {
			return &TransitionError{
				Entity: "segment", From: string(s.State), To: string(to),
				Reason: "segment must be calibrated before analysis",
			}
		}
	}
	s.State = to
	return nil
}

// Transition moves the Run to a new status. RunError is reachable from any
// state; otherwise only the forward path is allowed, and merging requires
// every segment to have completed analysis.
func (r *Run) Transition(to RunStatus) error {
	if to == RunError {
		r.Status = RunError
		return nil
	}

	valid := map[RunStatus]RunStatus{
		RunSetup:     RunAnalyzing,
		RunAnalyzing: RunMerging,
		RunMerging:   RunComplete,
	}
	next, ok := valid[r.Status]
	if !ok || next != to {
		return &TransitionError{
			Entity: "run", From: string(r.Status), To: string(to),
			Reason: "states must advance setup -> analyzing -> merging -> complete",
		}
	}

	switch to {
	case RunAnalyzing:
		if len(r.Segments) == 0 {
			return &TransitionError{
				Entity: "run", From: string(r.Status), To: string(to),
				Reason: "run has no segments",
			}
		}
	case RunMerging:
		for _, s := range r.Segments {
			if s.State != SegmentAnalyzed && s.State != SegmentMerged {
				return &TransitionError{
					Entity: "run", From: string(r.Status), To: string(to),
					Reason: fmt.Sprintf("segment %s is %s, not analyzed", s.ID, s.State),
				}
			}
		}
	}
	r.Status = to
	return nil
}
