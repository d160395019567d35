package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/fvp"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/merge"
)

// SavePlots writes SVG plots for a run into outputDir: speed and stride
// against distance, plus the force-velocity fit when a profile exists.
// It returns the paths of the files written.
func SavePlots(outputDir string, res *merge.Result, profile *fvp.Result) ([]string, error) {
	if res == nil || len(res.Steps) == 0 {
		return nil, fmt.Errorf("no merged steps to plot")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	var written []string

	speedFile := filepath.Join(outputDir, "speed.svg")
	if err := saveStepPlot(speedFile, res, "Speed by distance", "Speed (m/s)",
		func(s merge.MergedStep) float64 { return s.Speed }); err != nil {
		return written, err
	}
	written = append(written, speedFile)

	strideFile := filepath.Join(outputDir, "stride.svg")
	if err := saveStepPlot(strideFile, res, "Stride length by distance", "Stride (m)",
		func(s merge.MergedStep) float64 { return s.StrideLength }); err != nil {
		return written, err
	}
	written = append(written, strideFile)

	if profile != nil && profile.Status == fvp.StatusOK {
		fvFile := filepath.Join(outputDir, "fv_profile.svg")
		if err := saveProfilePlot(fvFile, profile); err != nil {
			return written, err
		}
		written = append(written, fvFile)
	}

	return written, nil
}

func saveStepPlot(path string, res *merge.Result, title, yLabel string, value func(merge.MergedStep) float64) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Distance (m)"
	p.Y.Label.Text = yLabel

	pts := make(plotter.XYs, 0, len(res.Steps))
	interpPts := make(plotter.XYs, 0)
	for _, step := range res.Steps {
		xy := plotter.XY{X: step.GlobalDistance, Y: value(step)}
		pts = append(pts, xy)
		if step.IsInterpolated {
			interpPts = append(interpPts, xy)
		}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to build line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("steps", line)

	if len(interpPts) > 0 {
		interp, err := plotter.NewScatter(interpPts)
		if err != nil {
			return fmt.Errorf("failed to build scatter: %w", err)
		}
		interp.Color = color.RGBA{R: 220, G: 60, B: 60, A: 255}
		p.Add(interp)
		p.Legend.Add("interpolated", interp)
	}

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func saveProfilePlot(path string, profile *fvp.Result) error {
	p := plot.New()
	p.Title.Text = "Force-velocity profile"
	p.X.Label.Text = "Velocity (m/s)"
	p.Y.Label.Text = "Horizontal force (N)"

	samples := make(plotter.XYs, 0, len(profile.Samples))
	for _, sp := range profile.Samples {
		samples = append(samples, plotter.XY{X: sp.Velocity, Y: sp.HorizontalForce})
	}
	scatter, err := plotter.NewScatter(samples)
	if err != nil {
		return fmt.Errorf("failed to build scatter: %w", err)
	}
	p.Add(scatter)
	p.Legend.Add("step samples", scatter)

	fit := plotter.XYs{
		{X: 0, Y: profile.Fit.Intercept},
		{X: profile.V0, Y: profile.Fit.Intercept + profile.Fit.Slope*profile.V0},
	}
	line, err := plotter.NewLine(fit)
	if err != nil {
		return fmt.Errorf("failed to build line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 60, G: 120, B: 220, A: 255}
	p.Add(line)
	p.Legend.Add("linear fit", line)

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
