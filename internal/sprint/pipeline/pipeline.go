// Package pipeline orchestrates a run through its lifecycle: concurrent
// per-segment analysis, the merge barrier, and the force-velocity-power fit.
// The pipeline operates on an immutable snapshot of the run graph and drives
// the state machines explicitly; callers get back the advanced snapshot and
// the stage results.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/monitoring"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/fvp"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/merge"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/steps"
)

// DefaultWorkers is the per-run analysis parallelism when none is configured.
const DefaultWorkers = 4

// Config wires the stage tunables together.
type Config struct {
	// Workers caps concurrent segment analyses. Zero means DefaultWorkers.
	Workers int
	Analyze steps.Options
	Merge   merge.Config
	FVP     fvp.Options
	// Pose optionally resolves foot pixels for marks that lack them.
	Pose sprint.PoseSource
}

// Outcome is the completed run: the advanced lifecycle snapshot, the merged
// result, and the profile when one could be fitted. Profile is nil — absent,
// not defaulted — when its preconditions failed or the regression was
// invalid; ProfileAbsentReason says why. A run with a merged result and no
// profile is not an overall failure.
type Outcome struct {
	Run                 *sprint.Run
	Merged              *merge.Result
	Profile             *fvp.Result
	ProfileAbsentReason string
	Elapsed             time.Duration
}

// Pipeline executes runs. Safe for concurrent use; each Execute works on its
// own snapshot.
type Pipeline struct {
	cfg Config
}

func New(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Pipeline{cfg: cfg}
}

// segmentOutcome is the write-once analysis product of one segment.
type segmentOutcome struct {
	segID string
	res   *steps.Result
	err   error
}

// Execute runs the full pipeline over a snapshot of run. Any fatal
// per-segment error aborts the whole run (status error) rather than merging
// a partial set. The returned snapshot always reflects the terminal status.
func (p *Pipeline) Execute(ctx context.Context, run *sprint.Run) (*Outcome, error) {
	start := time.Now()
	snap := run.Clone()

	if err := snap.Transition(sprint.RunAnalyzing); err != nil {
		snap.Status = sprint.RunError
		return &Outcome{Run: snap}, err
	}

	analyses, err := p.analyzeSegments(ctx, snap)
	if err != nil {
		snap.Status = sprint.RunError
		return &Outcome{Run: snap}, err
	}

	if err := snap.Transition(sprint.RunMerging); err != nil {
		snap.Status = sprint.RunError
		return &Outcome{Run: snap}, err
	}
	merged, err := merge.Merge(snap, analyses, p.cfg.Merge)
	if err != nil {
		snap.Status = sprint.RunError
		return &Outcome{Run: snap}, err
	}
	for _, seg := range snap.Segments {
		if err := seg.Advance(sprint.SegmentMerged); err != nil {
			snap.Status = sprint.RunError
			return &Outcome{Run: snap}, err
		}
	}

	out := &Outcome{Run: snap, Merged: merged}

	// The profile stage never fails the run: an invalid regression or
	// unmet precondition just leaves the profile absent.
	profile, err := fvp.Model(merged.Steps, snap.Athlete, p.cfg.FVP)
	switch {
	case err != nil:
		out.ProfileAbsentReason = err.Error()
		monitoring.Logf("pipeline: run %s profile absent: %v", snap.ID, err)
	case profile.Status != fvp.StatusOK:
		out.ProfileAbsentReason = profile.Reason
		monitoring.Logf("pipeline: run %s profile absent: %s", snap.ID, profile.Reason)
	default:
		out.Profile = profile
	}

	if err := snap.Transition(sprint.RunComplete); err != nil {
		snap.Status = sprint.RunError
		return out, err
	}
	out.Elapsed = time.Since(start)
	monitoring.Logf("pipeline: run %s complete: %d steps (%d real, %d interpolated), profile=%v, %s",
		snap.ID, merged.Summary.TotalSteps, merged.Summary.RealSteps, merged.Summary.InterpolatedSteps,
		out.Profile != nil, out.Elapsed.Round(time.Millisecond))
	return out, nil
}

// analyzeSegments walks every segment to the analyzed state, fanning the
// numeric work out over a bounded worker pool. It acts as a barrier: it only
// returns a complete result set, never a partial one.
func (p *Pipeline) analyzeSegments(ctx context.Context, snap *sprint.Run) (map[string]*steps.Result, error) {
	segs := snap.OrderedSegments()

	// Lifecycle walking happens serially: it mutates segment state and must
	// observe guard violations deterministically before the fan-out.
	for _, seg := range segs {
		if err := p.prepareSegment(seg); err != nil {
			return nil, err
		}
	}

	jobs := make(chan *sprint.RunSegment)
	results := make(chan segmentOutcome, len(segs))

	var wg sync.WaitGroup
	workers := p.cfg.Workers
	if workers > len(segs) {
		workers = len(segs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range jobs {
				if ctx.Err() != nil {
					results <- segmentOutcome{segID: seg.ID, err: ctx.Err()}
					continue
				}
				res, err := steps.Analyze(seg, p.cfg.Analyze)
				results <- segmentOutcome{segID: seg.ID, res: res, err: err}
			}
		}()
	}
	for _, seg := range segs {
		jobs <- seg
	}
	close(jobs)
	wg.Wait()
	close(results)

	analyses := make(map[string]*steps.Result, len(segs))
	var firstErr error
	for out := range results {
		if out.err != nil {
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}
		analyses[out.segID] = out.res
	}
	if firstErr != nil {
		return nil, firstErr
	}

	for _, seg := range segs {
		if err := seg.Advance(sprint.SegmentAnalyzed); err != nil {
			return nil, err
		}
	}
	return analyses, nil
}

// prepareSegment advances a segment to calibrated, resolving foot pixels
// through the configured PoseSource on the way.
func (p *Pipeline) prepareSegment(seg *sprint.RunSegment) error {
	if seg.State == sprint.SegmentPending {
		if len(seg.Marks) == 0 {
			return &sprint.DataError{SegmentID: seg.ID, Reason: "no contact marks uploaded"}
		}
		if err := seg.Advance(sprint.SegmentUploaded); err != nil {
			return err
		}
	}
	if seg.State == sprint.SegmentUploaded {
		if err := seg.Advance(sprint.SegmentCalibrated); err != nil {
			return err
		}
	}
	if seg.State != sprint.SegmentCalibrated {
		return &sprint.DataError{
			SegmentID: seg.ID,
			Reason:    fmt.Sprintf("segment in state %s cannot be analyzed", seg.State),
		}
	}

	if p.cfg.Pose != nil {
		resolved, unresolved := sprint.ResolveFootPixels(seg.Marks, p.cfg.Pose)
		if len(unresolved) > 0 {
			return &sprint.DataError{
				SegmentID: seg.ID,
				Reason:    fmt.Sprintf("%d contact marks have no foot position and no pose available", len(unresolved)),
			}
		}
		seg.Marks = resolved
	}
	return nil
}
