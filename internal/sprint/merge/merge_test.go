package merge

import (
	"errors"
	"math"
	"testing"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/monitoring"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/geometry"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/steps"
	"github.com/google/go-cmp/cmp"
)

func init() {
	monitoring.SetLogger(nil)
}

func validCalibration(t *testing.T) *geometry.Calibration {
	t.Helper()
	pixel := [4]geometry.Point{
		{X: 0, Y: 0}, {X: 0, Y: 100},
		{X: 1000, Y: 0}, {X: 1000, Y: 100},
	}
	cal, err := geometry.NewLaneCalibration(pixel, 1.22, 0, 5)
	if err != nil {
		t.Fatalf("NewLaneCalibration failed: %v", err)
	}
	return cal
}

// syntheticSegment builds a calibrated, analyzed segment whose steps sit at
// the given local distances with the given per-step confidences.
func syntheticSegment(t *testing.T, startM, endM float64, locals []float64, confidences []float64) (*sprint.RunSegment, *steps.Result) {
	t.Helper()
	seg := sprint.NewRunSegment(startM, endM, 240)
	seg.Calibration = validCalibration(t)
	seg.State = sprint.SegmentAnalyzed

	res := &steps.Result{SegmentID: seg.ID, CalibrationQuality: 0.98}
	for i, d := range locals {
		conf := 0.9
		if confidences != nil {
			conf = confidences[i]
		}
		res.Steps = append(res.Steps, steps.Step{
			Index:         i,
			ContactTime:   0.1,
			FlightTime:    0.15,
			LocalDistance: d,
			StrideLength:  1.0,
			Speed:         4.0,
			Cadence:       240,
			Confidence:    conf,
		})
	}
	res.Summary.StepCount = len(res.Steps)
	return seg, res
}

func runWith(segs ...*sprint.RunSegment) *sprint.Run {
	run := sprint.NewRun(sprint.Athlete{Name: "test", MassKG: 75, HeightM: 1.8}, 0)
	run.Segments = segs
	return run
}

func TestMergeDisjointSegmentsComplete(t *testing.T) {
	seg1, res1 := syntheticSegment(t, 0, 5, []float64{0.5, 1.5, 2.5, 3.5}, nil)
	seg2, res2 := syntheticSegment(t, 5, 10, []float64{0.5, 1.5, 2.5, 3.5}, nil)
	seg3, res3 := syntheticSegment(t, 10, 15, []float64{0.5, 1.5, 2.5, 3.5}, nil)
	run := runWith(seg1, seg2, seg3)

	res, err := Merge(run, map[string]*steps.Result{
		seg1.ID: res1, seg2.ID: res2, seg3.ID: res3,
	}, Config{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if len(res.Steps) != 12 {
		t.Fatalf("merged %d steps, want 12 (sum of per-segment counts)", len(res.Steps))
	}
	for i := 1; i < len(res.Steps); i++ {
		if res.Steps[i].GlobalDistance < res.Steps[i-1].GlobalDistance {
			t.Fatalf("global distances decrease at index %d", i)
		}
		if res.Steps[i].GlobalIndex != i {
			t.Errorf("global index at %d = %d", i, res.Steps[i].GlobalIndex)
		}
	}
	if res.Summary.RealSteps != 12 || res.Summary.InterpolatedSteps != 0 {
		t.Errorf("real/interpolated = %d/%d, want 12/0", res.Summary.RealSteps, res.Summary.InterpolatedSteps)
	}

	wantDistances := []float64{0.5, 1.5, 2.5, 3.5, 5.5, 6.5, 7.5, 8.5, 10.5, 11.5, 12.5, 13.5}
	var got []float64
	for _, st := range res.Steps {
		got = append(got, st.GlobalDistance)
	}
	if diff := cmp.Diff(wantDistances, got); diff != "" {
		t.Errorf("global distances mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeBoundaryDedup(t *testing.T) {
	// One footfall near the 5m boundary seen by both cameras: 4.95m from the
	// first, 5.15m from the second. Higher-confidence candidate wins.
	seg1, res1 := syntheticSegment(t, 0, 5, []float64{2, 3, 4, 4.95}, []float64{0.9, 0.9, 0.9, 0.95})
	seg2, res2 := syntheticSegment(t, 5, 10, []float64{0.15, 1, 2, 3}, []float64{0.7, 0.9, 0.9, 0.9})
	run := runWith(seg1, seg2)

	res, err := Merge(run, map[string]*steps.Result{seg1.ID: res1, seg2.ID: res2}, Config{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if len(res.Steps) != 7 {
		t.Fatalf("merged %d steps, want 7", len(res.Steps))
	}
	if res.Summary.DuplicateSteps != 1 {
		t.Fatalf("duplicates = %d, want 1", res.Summary.DuplicateSteps)
	}
	if len(res.Groups) != 1 {
		t.Fatalf("boundary groups = %d, want 1", len(res.Groups))
	}

	g := res.Groups[0]
	if g.BoundaryM != 5 {
		t.Errorf("boundary = %v, want 5", g.BoundaryM)
	}
	if len(g.Candidates) != 2 || len(g.Duplicates) != 1 {
		t.Fatalf("candidates/duplicates = %d/%d, want 2/1", len(g.Candidates), len(g.Duplicates))
	}
	if g.Accepted.SegmentID != seg1.ID {
		t.Errorf("accepted from segment %s, want the higher-confidence %s", g.Accepted.SegmentID, seg1.ID)
	}
	if g.Duplicates[0].SegmentID != seg2.ID {
		t.Errorf("duplicate from segment %s, want %s", g.Duplicates[0].SegmentID, seg2.ID)
	}

	// The audit trail carries final indexing: the accepted copy points at its
	// place in the merged stream, the dropped duplicate at nothing.
	if g.Accepted.GlobalIndex != 3 {
		t.Errorf("accepted global index = %d, want 3", g.Accepted.GlobalIndex)
	}
	if res.Steps[g.Accepted.GlobalIndex].GlobalDistance != g.Accepted.GlobalDistance {
		t.Errorf("accepted index does not resolve to the accepted step")
	}
	if g.Duplicates[0].GlobalIndex != -1 {
		t.Errorf("duplicate global index = %d, want -1", g.Duplicates[0].GlobalIndex)
	}
	for _, c := range g.Candidates {
		want := -1
		if c.SegmentID == g.Accepted.SegmentID {
			want = g.Accepted.GlobalIndex
		}
		if c.GlobalIndex != want {
			t.Errorf("candidate from %s has global index %d, want %d", c.SegmentID, c.GlobalIndex, want)
		}
	}
}

func TestMergeBoundaryTieBreakByDistance(t *testing.T) {
	// Equal confidence: the candidate closer to the boundary wins.
	seg1, res1 := syntheticSegment(t, 0, 5, []float64{2, 3, 4, 4.8}, nil)
	seg2, res2 := syntheticSegment(t, 5, 10, []float64{0.1, 1, 2, 3}, nil)
	run := runWith(seg1, seg2)

	res, err := Merge(run, map[string]*steps.Result{seg1.ID: res1, seg2.ID: res2}, Config{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(res.Groups) != 1 {
		t.Fatalf("boundary groups = %d, want 1", len(res.Groups))
	}
	if got := res.Groups[0].Accepted.GlobalDistance; math.Abs(got-5.1) > 1e-9 {
		t.Errorf("accepted at %.2fm, want 5.10m (closer to boundary)", got)
	}
}

func TestMergeGapInterpolation(t *testing.T) {
	// Median stride 1m; a 3m hole between 3.5 and 6.5 triggers exactly one
	// synthesized step at the midpoint.
	seg1, res1 := syntheticSegment(t, 0, 5, []float64{0.5, 1.5, 2.5, 3.5}, nil)
	seg2, res2 := syntheticSegment(t, 5, 10, []float64{1.5, 2.5, 3.5, 4.5}, nil)
	run := runWith(seg1, seg2)

	res, err := Merge(run, map[string]*steps.Result{seg1.ID: res1, seg2.ID: res2}, Config{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if res.Summary.InterpolatedSteps != 1 {
		t.Fatalf("interpolated = %d, want 1", res.Summary.InterpolatedSteps)
	}
	if res.Summary.RealSteps != 8 {
		t.Errorf("real steps = %d, want 8", res.Summary.RealSteps)
	}
	if res.Summary.TotalSteps != 9 {
		t.Errorf("total steps = %d, want 9", res.Summary.TotalSteps)
	}

	var interp *MergedStep
	for i := range res.Steps {
		if res.Steps[i].IsInterpolated {
			if interp != nil {
				t.Fatal("more than one interpolated step")
			}
			interp = &res.Steps[i]
		}
	}
	if interp == nil {
		t.Fatal("no interpolated step found")
	}
	if math.Abs(interp.GlobalDistance-5.0) > 1e-9 {
		t.Errorf("interpolated at %.2fm, want 5.00m (gap midpoint)", interp.GlobalDistance)
	}
	if interp.Quality != QualityInterpolated {
		t.Errorf("quality = %q, want %q", interp.Quality, QualityInterpolated)
	}
	if math.Abs(interp.Speed-4.0) > 1e-9 {
		t.Errorf("interpolated speed = %v, want neighbour speed 4.0", interp.Speed)
	}

	found := false
	for _, w := range res.Warnings {
		if w.Code == sprint.WarnGapInterpolated {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s warning, got %v", sprint.WarnGapInterpolated, res.Warnings)
	}
}

func TestMergeExplicitOrderIndex(t *testing.T) {
	// Explicit indices override start-distance order. Declare the segments
	// out of physical order and rely on OrderIndex.
	seg2, res2 := syntheticSegment(t, 5, 10, []float64{0.5, 1.5, 2.5}, nil)
	seg1, res1 := syntheticSegment(t, 0, 5, []float64{0.5, 1.5, 2.5}, nil)
	i0, i1 := 0, 1
	seg1.OrderIndex = &i0
	seg2.OrderIndex = &i1
	run := runWith(seg2, seg1)

	res, err := Merge(run, map[string]*steps.Result{seg1.ID: res1, seg2.ID: res2}, Config{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if res.Steps[0].SegmentID != seg1.ID {
		t.Errorf("first merged step from segment %s, want %s", res.Steps[0].SegmentID, seg1.ID)
	}
}

func TestMergeFatalConditions(t *testing.T) {
	t.Run("missing calibration", func(t *testing.T) {
		seg1, res1 := syntheticSegment(t, 0, 5, []float64{1, 2, 3}, nil)
		seg2, res2 := syntheticSegment(t, 5, 10, []float64{1, 2, 3}, nil)
		seg2.Calibration = nil
		run := runWith(seg1, seg2)

		_, err := Merge(run, map[string]*steps.Result{seg1.ID: res1, seg2.ID: res2}, Config{})
		var dataErr *sprint.DataError
		if !errors.As(err, &dataErr) {
			t.Fatalf("error = %v, want *sprint.DataError", err)
		}
	})

	t.Run("missing analysis", func(t *testing.T) {
		seg1, res1 := syntheticSegment(t, 0, 5, []float64{1, 2, 3}, nil)
		seg2, _ := syntheticSegment(t, 5, 10, []float64{1, 2, 3}, nil)
		run := runWith(seg1, seg2)

		_, err := Merge(run, map[string]*steps.Result{seg1.ID: res1}, Config{})
		var dataErr *sprint.DataError
		if !errors.As(err, &dataErr) {
			t.Fatalf("error = %v, want *sprint.DataError", err)
		}
	})

	t.Run("no partial result on late failure", func(t *testing.T) {
		seg1, res1 := syntheticSegment(t, 0, 5, []float64{1, 2, 3}, nil)
		seg2, _ := syntheticSegment(t, 5, 10, []float64{1, 2, 3}, nil)
		run := runWith(seg1, seg2)

		res, err := Merge(run, map[string]*steps.Result{seg1.ID: res1}, Config{})
		if err == nil || res != nil {
			t.Fatalf("got (%v, %v), want nil result with error", res, err)
		}
	})
}

func TestMergeStrideOutlierBand(t *testing.T) {
	seg1, res1 := syntheticSegment(t, 0, 10, []float64{0.5, 1.5, 2.5, 3.5, 4.5}, nil)
	// Median stride 1.0m; one step far outside the default 2x band.
	res1.Steps[2].StrideLength = 2.6
	run := runWith(seg1)

	outliers := func(res *Result) []sprint.Warning {
		var out []sprint.Warning
		for _, w := range res.Warnings {
			if w.Code == sprint.WarnStrideOutlier {
				out = append(out, w)
			}
		}
		return out
	}

	res, err := Merge(run, map[string]*steps.Result{seg1.ID: res1}, Config{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	got := outliers(res)
	if len(got) != 1 {
		t.Fatalf("outlier warnings = %d, want 1: %v", len(got), got)
	}
	if got[0].StepIndex != 2 {
		t.Errorf("outlier step index = %d, want 2", got[0].StepIndex)
	}

	// A wider configured band absorbs the same stride.
	res, err = Merge(run, map[string]*steps.Result{seg1.ID: res1}, Config{StrideOutlierBand: 3})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if got := outliers(res); len(got) != 0 {
		t.Errorf("outlier warnings with 3x band = %d, want 0: %v", len(got), got)
	}
}

func TestMergeLowCalibrationWarning(t *testing.T) {
	seg1, res1 := syntheticSegment(t, 0, 5, []float64{1, 2, 3}, nil)
	res1.CalibrationQuality = 0.2
	run := runWith(seg1)

	res, err := Merge(run, map[string]*steps.Result{seg1.ID: res1}, Config{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	found := false
	for _, w := range res.Warnings {
		if w.Code == sprint.WarnLowCalibration && w.SegmentID == seg1.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s warning, got %v", sprint.WarnLowCalibration, res.Warnings)
	}
}

// TestMergeTwoCameraScenario is the full stitch: two segments covering
// 0-5m and 5-10m with four steps each, one footfall seen by both cameras at
// 5.00m and 5.15m.
func TestMergeTwoCameraScenario(t *testing.T) {
	seg1, res1 := syntheticSegment(t, 0, 5, []float64{2, 3, 4, 5}, []float64{0.9, 0.9, 0.9, 0.95})
	seg2, res2 := syntheticSegment(t, 5, 10, []float64{0.15, 1.15, 2.15, 3.15}, []float64{0.8, 0.9, 0.9, 0.9})
	run := runWith(seg1, seg2)
	run.TotalDistance = 10

	res, err := Merge(run, map[string]*steps.Result{seg1.ID: res1, seg2.ID: res2}, Config{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if len(res.Steps) != 7 {
		t.Errorf("unique steps = %d, want 7", len(res.Steps))
	}
	if res.Summary.DuplicateSteps != 1 {
		t.Errorf("duplicates = %d, want 1", res.Summary.DuplicateSteps)
	}
	if res.Summary.InterpolatedSteps != 0 {
		t.Errorf("interpolated = %d, want 0", res.Summary.InterpolatedSteps)
	}
	for i, st := range res.Steps {
		if st.GlobalIndex != i {
			t.Errorf("step %d has global index %d", i, st.GlobalIndex)
		}
	}
	if res.Summary.MeanStride <= 0 || res.Summary.MedianStride <= 0 {
		t.Errorf("stride aggregates not computed: %+v", res.Summary)
	}
}
