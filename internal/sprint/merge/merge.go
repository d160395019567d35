// Package merge stitches per-segment step analyses into one continuous,
// globally indexed run. Steps are placed on the run's distance axis,
// deduplicated around segment boundaries where adjacent cameras saw the same
// footfall, and gaps larger than the expected stride are filled with a single
// flagged interpolated step.
package merge

import (
	"fmt"
	"math"
	"sort"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/monitoring"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/steps"
	"gonum.org/v1/gonum/stat"
)

// Defaults for the merge tunables. Both are exposed through Config and the
// tuning file; these are the fallbacks.
const (
	DefaultOverlapWindowM          = 0.3
	DefaultGapStrideMultiplier     = 2.0
	DefaultLowCalibrationThreshold = 0.5
	DefaultStrideOutlierBand       = 2.0
)

// Quality tags assigned to merged steps.
const (
	QualityMeasured     = "measured"
	QualityInterpolated = "interpolated"
)

// Config tunes the merger.
type Config struct {
	// OverlapWindowM is the half-width (metres) of the dedup window around
	// each declared segment boundary.
	OverlapWindowM float64
	// GapStrideMultiplier: a distance gap between consecutive accepted steps
	// larger than this multiple of the run's median stride triggers
	// interpolation.
	GapStrideMultiplier float64
	// LowCalibrationThreshold: segments whose calibration quality falls below
	// this produce a warning.
	LowCalibrationThreshold float64
	// StrideOutlierBand: real steps whose stride exceeds band*median or falls
	// below median/band are flagged at run level.
	StrideOutlierBand float64
}

func (c Config) overlapWindow() float64 {
	if c.OverlapWindowM > 0 {
		return c.OverlapWindowM
	}
	return DefaultOverlapWindowM
}

func (c Config) gapMultiplier() float64 {
	if c.GapStrideMultiplier > 0 {
		return c.GapStrideMultiplier
	}
	return DefaultGapStrideMultiplier
}

func (c Config) lowCalibration() float64 {
	if c.LowCalibrationThreshold > 0 {
		return c.LowCalibrationThreshold
	}
	return DefaultLowCalibrationThreshold
}

func (c Config) strideBand() float64 {
	if c.StrideOutlierBand > 1 {
		return c.StrideOutlierBand
	}
	return DefaultStrideOutlierBand
}

// MergedStep is a Step placed on the run's global distance axis. Immutable
// once indexed.
type MergedStep struct {
	steps.Step
	SegmentID       string  `json:"segment_id"`
	GlobalDistance  float64 `json:"global_distance_m"`
	GlobalIndex     int     `json:"global_index"`
	IsInterpolated  bool    `json:"is_interpolated"`
	Quality         string  `json:"quality"`
	CandidateScore  float64 `json:"-"`
	segmentPosition int     // index of the owning segment in run order
}

// BoundaryGroup records how a boundary's candidate footfalls were resolved:
// exactly one accepted step, the rest logged as duplicates. The accepted copy
// carries the step's final global index; dropped duplicates never reach the
// indexed stream and carry -1.
type BoundaryGroup struct {
	BoundaryM  float64      `json:"boundary_m"`
	Candidates []MergedStep `json:"candidates"`
	Accepted   MergedStep   `json:"accepted"`
	Duplicates []MergedStep `json:"duplicates,omitempty"`
}

// Summary aggregates the merged run.
type Summary struct {
	TotalSteps        int     `json:"total_steps"`
	RealSteps         int     `json:"real_steps"`
	InterpolatedSteps int     `json:"interpolated_steps"`
	DuplicateSteps    int     `json:"duplicate_steps"`
	TotalDistance     float64 `json:"total_distance_m"`
	TotalTime         float64 `json:"total_time_s"`
	AvgSpeed          float64 `json:"avg_speed_mps"`
	MaxSpeed          float64 `json:"max_speed_mps"`
	MeanStride        float64 `json:"mean_stride_m"`
	MedianStride      float64 `json:"median_stride_m"`
	MeanCadence       float64 `json:"mean_cadence_spm"`
}

// Result is the stitched run: the global step stream, run-level summary, the
// boundary audit trail, and every non-fatal warning collected on the way.
type Result struct {
	RunID    string           `json:"run_id"`
	Steps    []MergedStep     `json:"steps"`
	Summary  Summary          `json:"summary"`
	Groups   []BoundaryGroup  `json:"boundary_groups,omitempty"`
	Warnings []sprint.Warning `json:"warnings,omitempty"`
}

// Merge combines the analyzed segments of a run into one continuous step
// stream. It is all-or-nothing: any segment lacking a valid calibration or a
// completed analysis aborts the merge, since a partially stitched distance
// series would be misleading.
func Merge(run *sprint.Run, analyses map[string]*steps.Result, cfg Config) (*Result, error) {
	if run == nil {
		return nil, &sprint.DataError{Reason: "nil run"}
	}
	ordered := run.OrderedSegments()
	if len(ordered) == 0 {
		return nil, &sprint.DataError{Reason: "run has no segments"}
	}

	res := &Result{RunID: run.ID}

	// Stage 1: global placement. Fatal checks happen here, before any
	// stitching, so a partial set never gets merged.
	var stream []MergedStep
	for pos, seg := range ordered {
		if !seg.Calibration.Valid() {
			return nil, &sprint.DataError{SegmentID: seg.ID, Reason: "segment has no valid calibration"}
		}
		analysis, ok := analyses[seg.ID]
		if !ok || analysis == nil {
			return nil, &sprint.DataError{SegmentID: seg.ID, Reason: "segment has no completed analysis"}
		}

		res.Warnings = append(res.Warnings, analysis.Warnings...)
		if q := analysis.CalibrationQuality; q < cfg.lowCalibration() {
			res.Warnings = append(res.Warnings, sprint.Warning{
				Code:      sprint.WarnLowCalibration,
				SegmentID: seg.ID,
				Message:   fmt.Sprintf("calibration quality %.2f below %.2f", q, cfg.lowCalibration()),
			})
		}

		for _, st := range analysis.Steps {
			stream = append(stream, MergedStep{
				Step:            st,
				SegmentID:       seg.ID,
				GlobalDistance:  seg.StartDistance + st.LocalDistance,
				Quality:         QualityMeasured,
				CandidateScore:  st.Confidence * analysis.CalibrationQuality,
				segmentPosition: pos,
			})
		}
	}

	// Stage 2: boundary deduplication.
	stream = res.dedupBoundaries(stream, run.Boundaries(), cfg.overlapWindow())

	sort.SliceStable(stream, func(i, j int) bool {
		return stream[i].GlobalDistance < stream[j].GlobalDistance
	})

	// Stage 3: gap interpolation against the run's median stride.
	stream = res.interpolateGaps(stream, cfg.gapMultiplier())

	// Stage 4: global indexing, increasing-distance order.
	sort.SliceStable(stream, func(i, j int) bool {
		return stream[i].GlobalDistance < stream[j].GlobalDistance
	})
	for i := range stream {
		stream[i].GlobalIndex = i
	}
	res.Steps = stream
	res.reindexGroups()

	// Stage 5: run-level aggregates.
	res.Summary = summarize(run, stream, len(res.duplicates()))
	res.flagStrideOutliers(cfg.strideBand())
	return res, nil
}

// dedupBoundaries gathers, for each declared boundary, the steps of the two
// adjacent segments whose global distance falls within the overlap window,
// and keeps exactly one of each group. Rejected candidates are recorded as
// duplicates and logged, never silently dropped.
func (res *Result) dedupBoundaries(stream []MergedStep, boundaries []float64, window float64) []MergedStep {
	drop := make(map[int]bool)
	for b, boundary := range boundaries {
		var idxs []int
		for i, st := range stream {
			if drop[i] {
				continue
			}
			// Adjacent segments only: the one ending at this boundary and
			// the one starting at it.
			if st.segmentPosition != b && st.segmentPosition != b+1 {
				continue
			}
			if math.Abs(st.GlobalDistance-boundary) <= window {
				idxs = append(idxs, i)
			}
		}
		if len(idxs) == 0 {
			continue
		}

		group := BoundaryGroup{BoundaryM: boundary}
		for _, i := range idxs {
			group.Candidates = append(group.Candidates, stream[i])
		}

		best := idxs[0]
		for _, i := range idxs[1:] {
			if better(stream[i], stream[best], boundary) {
				best = i
			}
		}
		group.Accepted = stream[best]
		for _, i := range idxs {
			if i == best {
				continue
			}
			drop[i] = true
			group.Duplicates = append(group.Duplicates, stream[i])
			monitoring.Logf("merge: boundary %.2fm duplicate step dropped: segment %s distance %.3fm (kept segment %s at %.3fm)",
				boundary, stream[i].SegmentID, stream[i].GlobalDistance, stream[best].SegmentID, stream[best].GlobalDistance)
		}
		if len(idxs) > 2 {
			res.Warnings = append(res.Warnings, sprint.Warning{
				Code:    sprint.WarnAmbiguousBoundary,
				Message: fmt.Sprintf("%d candidate steps within %.2fm of boundary %.2fm", len(idxs), window, boundary),
			})
		}
		res.Groups = append(res.Groups, group)
	}

	if len(drop) == 0 {
		return stream
	}
	kept := stream[:0]
	for i, st := range stream {
		if !drop[i] {
			kept = append(kept, st)
		}
	}
	return kept
}

// better reports whether a should be preferred over b as the boundary
// representative: higher calibration/pose confidence first, then smaller
// distance to the boundary.
func better(a, b MergedStep, boundary float64) bool {
	if a.CandidateScore != b.CandidateScore {
		return a.CandidateScore > b.CandidateScore
	}
	return math.Abs(a.GlobalDistance-boundary) < math.Abs(b.GlobalDistance-boundary)
}

// interpolateGaps walks the distance-sorted stream and fills each oversized
// gap with a single synthesized step at the evenly spaced expected position,
// inheriting timing from its neighbours.
func (res *Result) interpolateGaps(stream []MergedStep, multiplier float64) []MergedStep {
	if len(stream) < 2 {
		return stream
	}
	median := medianStride(stream)
	if median <= 0 {
		return stream
	}

	var out []MergedStep
	for i := 0; i < len(stream); i++ {
		out = append(out, stream[i])
		if i+1 >= len(stream) {
			break
		}
		prev, next := stream[i], stream[i+1]
		gap := next.GlobalDistance - prev.GlobalDistance
		if gap <= multiplier*median {
			continue
		}

		synth := MergedStep{
			Step: steps.Step{
				ContactTime:  (prev.ContactTime + next.ContactTime) / 2,
				FlightTime:   (prev.FlightTime + next.FlightTime) / 2,
				StrideLength: gap / 2,
				Speed:        (prev.Speed + next.Speed) / 2,
				Cadence:      (prev.Cadence + next.Cadence) / 2,
			},
			SegmentID:      prev.SegmentID,
			GlobalDistance: prev.GlobalDistance + gap/2,
			IsInterpolated: true,
			Quality:        QualityInterpolated,
		}
		out = append(out, synth)
		res.Warnings = append(res.Warnings, sprint.Warning{
			Code:      sprint.WarnGapInterpolated,
			SegmentID: prev.SegmentID,
			Message:   fmt.Sprintf("gap of %.2fm after %.2fm exceeds %.1fx median stride %.2fm; one step interpolated", gap, prev.GlobalDistance, multiplier, median),
		})
		monitoring.Logf("merge: interpolated step at %.3fm (gap %.3fm, median stride %.3fm)", synth.GlobalDistance, gap, median)
	}
	return out
}

// reindexGroups copies the final global indexes onto the boundary audit
// trail, which was recorded before indexing. Steps absent from the indexed
// stream get -1.
func (res *Result) reindexGroups() {
	type key struct {
		segmentID string
		distance  float64
	}
	indexed := make(map[key]int, len(res.Steps))
	for _, st := range res.Steps {
		if !st.IsInterpolated {
			indexed[key{st.SegmentID, st.GlobalDistance}] = st.GlobalIndex
		}
	}
	assign := func(st *MergedStep) {
		if i, ok := indexed[key{st.SegmentID, st.GlobalDistance}]; ok {
			st.GlobalIndex = i
			return
		}
		st.GlobalIndex = -1
	}
	for g := range res.Groups {
		assign(&res.Groups[g].Accepted)
		for i := range res.Groups[g].Candidates {
			assign(&res.Groups[g].Candidates[i])
		}
		for i := range res.Groups[g].Duplicates {
			assign(&res.Groups[g].Duplicates[i])
		}
	}
}

func (res *Result) duplicates() []MergedStep {
	var dups []MergedStep
	for _, g := range res.Groups {
		dups = append(dups, g.Duplicates...)
	}
	return dups
}

// flagStrideOutliers adds run-level warnings for real steps whose stride
// falls outside the configured band around the run median.
func (res *Result) flagStrideOutliers(band float64) {
	median := res.Summary.MedianStride
	if median <= 0 {
		return
	}
	for _, st := range res.Steps {
		if st.IsInterpolated {
			continue
		}
		if st.StrideLength > band*median || st.StrideLength < median/band {
			res.Warnings = append(res.Warnings, sprint.Warning{
				Code:      sprint.WarnStrideOutlier,
				SegmentID: st.SegmentID,
				StepIndex: st.GlobalIndex,
				Message:   fmt.Sprintf("stride %.2fm at %.2fm deviates from run median %.2fm", st.StrideLength, st.GlobalDistance, median),
			})
		}
	}
}

func medianStride(stream []MergedStep) float64 {
	strides := make([]float64, 0, len(stream))
	for _, st := range stream {
		if st.StrideLength > 0 {
			strides = append(strides, st.StrideLength)
		}
	}
	return steps.Median(strides)
}

func summarize(run *sprint.Run, stream []MergedStep, duplicates int) Summary {
	sum := Summary{
		TotalSteps:     len(stream),
		DuplicateSteps: duplicates,
	}
	if len(stream) == 0 {
		return sum
	}

	var strides, cadences []float64
	var totalTime float64
	for _, st := range stream {
		if st.IsInterpolated {
			sum.InterpolatedSteps++
		} else {
			sum.RealSteps++
			if st.Speed > sum.MaxSpeed {
				sum.MaxSpeed = st.Speed
			}
		}
		// Interpolated steps stand in for a missed footfall, so their
		// inherited duration counts toward elapsed time.
		totalTime += st.Duration()
		strides = append(strides, st.StrideLength)
		cadences = append(cadences, st.Cadence)
	}

	sum.TotalDistance = run.TotalDistance
	if sum.TotalDistance <= 0 {
		sum.TotalDistance = stream[len(stream)-1].GlobalDistance - stream[0].GlobalDistance
	}
	sum.TotalTime = totalTime
	if totalTime > 0 {
		sum.AvgSpeed = sum.TotalDistance / totalTime
	}
	sum.MeanStride = stat.Mean(strides, nil)
	sum.MedianStride = steps.Median(strides)
	sum.MeanCadence = stat.Mean(cadences, nil)
	return sum
}
