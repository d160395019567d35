package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/fvp"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/merge"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/steps"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/units"
)

func sampleResult() *merge.Result {
	mk := func(idx int, dist, speed float64, interp bool) merge.MergedStep {
		quality := merge.QualityMeasured
		if interp {
			quality = merge.QualityInterpolated
		}
		return merge.MergedStep{
			Step: steps.Step{
				Index: idx, ContactTime: 0.11, FlightTime: 0.14,
				StrideLength: 1.3, Speed: speed, Cadence: 240, Confidence: 0.9,
			},
			SegmentID: "seg-a", GlobalDistance: dist, GlobalIndex: idx,
			IsInterpolated: interp, Quality: quality,
		}
	}
	return &merge.Result{
		RunID: "run-1",
		Steps: []merge.MergedStep{
			mk(0, 1.0, 3.8, false),
			mk(1, 2.3, 4.4, false),
			mk(2, 3.6, 4.9, true),
			mk(3, 4.9, 5.3, false),
		},
		Summary: merge.Summary{
			TotalSteps: 4, RealSteps: 3, InterpolatedSteps: 1,
			TotalDistance: 10, TotalTime: 1.0, AvgSpeed: 4.6, MaxSpeed: 5.3,
			MeanStride: 1.3, MedianStride: 1.3, MeanCadence: 240,
		},
		Warnings: []sprint.Warning{
			{Code: sprint.WarnGapInterpolated, Message: "gap at 3.6m"},
		},
	}
}

func sampleProfile() *fvp.Result {
	return &fvp.Result{
		Status: fvp.StatusOK,
		F0:     600, V0: 9.5, Pmax: 1425, RFmax: 52, DRF: 5.5,
		Fit:           fvp.RegressionFit{Intercept: 600, Slope: -63.2, R2: 0.97},
		OptimalFV:     75.5,
		PeakVelocity:  5.3,
		VelocityModel: "finite_difference",
		Quality:       "good",
		Samples: []fvp.SamplePoint{
			{GlobalIndex: 0, Time: 0.25, Velocity: 3.8, HorizontalForce: 520, Power: 1976},
			{GlobalIndex: 1, Time: 0.5, Velocity: 4.4, HorizontalForce: 480, Power: 2112},
			{GlobalIndex: 3, Time: 1.0, Velocity: 5.3, HorizontalForce: 410, Power: 2173},
		},
	}
}

func sampleRun() *sprint.Run {
	run := sprint.NewRun(sprint.Athlete{ID: "a1", Name: "Test Runner", MassKG: 75, HeightM: 1.8}, 10)
	run.Segments = []*sprint.RunSegment{sprint.NewRunSegment(0, 10, 240)}
	return run
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	err := WriteText(&buf, sampleRun(), sampleResult(), sampleProfile(), units.MPS)
	if err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Test Runner",
		"4 (3 measured, 1 interpolated",
		"F0:    600 N",
		"V0:    9.50 m/s",
		"Pmax:  1425 W",
		"gap at 3.6m",
		"interpolated",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestWriteTextNoProfile(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, sampleRun(), sampleResult(), nil, units.KMPH); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Force-velocity profile: not available") {
		t.Errorf("expected missing-profile note:\n%s", out)
	}
	if !strings.Contains(out, "km/h") {
		t.Errorf("expected km/h speeds:\n%s", out)
	}
}

func TestWriteTextRequiresInput(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, nil, nil, nil, units.MPS); err == nil {
		t.Fatal("expected error for nil inputs")
	}
}

func TestRenderSpeedChart(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderSpeedChart(&buf, sampleResult(), units.MPS); err != nil {
		t.Fatalf("RenderSpeedChart: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "echarts") {
		t.Error("expected echarts markup in chart output")
	}
	if !strings.Contains(out, "interpolated") {
		t.Error("expected interpolated series in chart output")
	}

	if err := RenderSpeedChart(&buf, &merge.Result{}, units.MPS); err == nil {
		t.Error("expected error for empty result")
	}
}

func TestRenderProfileChart(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderProfileChart(&buf, sampleProfile()); err != nil {
		t.Fatalf("RenderProfileChart: %v", err)
	}
	if !strings.Contains(buf.String(), "echarts") {
		t.Error("expected echarts markup in chart output")
	}

	insufficient := &fvp.Result{Status: fvp.StatusInsufficientData}
	if err := RenderProfileChart(&buf, insufficient); err == nil {
		t.Error("expected error for unfitted profile")
	}
}

func TestSavePlots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	written, err := SavePlots(dir, sampleResult(), sampleProfile())
	if err != nil {
		t.Fatalf("SavePlots: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("expected 3 plot files, got %d: %v", len(written), written)
	}
	for _, path := range written {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("missing plot file %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Errorf("empty plot file %s", path)
		}
	}

	// no profile: only the two step plots
	written, err = SavePlots(filepath.Join(t.TempDir(), "plots2"), sampleResult(), nil)
	if err != nil {
		t.Fatalf("SavePlots: %v", err)
	}
	if len(written) != 2 {
		t.Errorf("expected 2 plot files without profile, got %d", len(written))
	}
}
