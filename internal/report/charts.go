package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/fvp"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/merge"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/units"
)

// RenderSpeedChart renders an HTML line chart of speed against distance for
// the merged step stream. Interpolated steps are carried in a second series
// so they stand out from measured ones.
func RenderSpeedChart(w io.Writer, res *merge.Result, speedUnits string) error {
	if res == nil || len(res.Steps) == 0 {
		return fmt.Errorf("no merged steps to chart")
	}

	measured := make([]opts.ScatterData, 0, len(res.Steps))
	interpolated := make([]opts.ScatterData, 0)
	line := make([]opts.LineData, 0, len(res.Steps))
	for _, step := range res.Steps {
		speed := units.ConvertSpeed(step.Speed, speedUnits)
		point := []interface{}{step.GlobalDistance, speed}
		line = append(line, opts.LineData{Value: point})
		if step.IsInterpolated {
			interpolated = append(interpolated, opts.ScatterData{Value: point})
		} else {
			measured = append(measured, opts.ScatterData{Value: point})
		}
	}

	chart := charts.NewLine()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Sprint Speed", Theme: "dark", Width: "1000px", Height: "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Speed by distance",
			Subtitle: fmt.Sprintf("run=%s steps=%d", res.RunID, len(res.Steps)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Distance (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: fmt.Sprintf("Speed (%s)", units.Label(speedUnits)), NameLocation: "middle", NameGap: 40}),
	)
	chart.AddSeries("speed", line)

	scatter := charts.NewScatter()
	scatter.AddSeries("measured", measured, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	if len(interpolated) > 0 {
		scatter.AddSeries("interpolated", interpolated, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	}
	chart.Overlap(scatter)

	if err := chart.Render(w); err != nil {
		return fmt.Errorf("failed to render speed chart: %w", err)
	}
	return nil
}

// RenderProfileChart renders an HTML chart of the force-velocity samples,
// the fitted linear profile, and the parabolic power curve it implies.
func RenderProfileChart(w io.Writer, profile *fvp.Result) error {
	if profile == nil || profile.Status != fvp.StatusOK {
		return fmt.Errorf("no fitted profile to chart")
	}

	samples := make([]opts.ScatterData, 0, len(profile.Samples))
	for _, sp := range profile.Samples {
		samples = append(samples, opts.ScatterData{
			Value: []interface{}{sp.Velocity, sp.HorizontalForce},
		})
	}

	// Fitted line F(v) = F0 + slope*v and power P(v) = v*F(v), sampled from
	// zero out to V0.
	const curvePoints = 50
	fitted := make([]opts.LineData, 0, curvePoints+1)
	power := make([]opts.LineData, 0, curvePoints+1)
	for i := 0; i <= curvePoints; i++ {
		v := profile.V0 * float64(i) / curvePoints
		f := profile.Fit.Intercept + profile.Fit.Slope*v
		fitted = append(fitted, opts.LineData{Value: []interface{}{v, f}})
		power = append(power, opts.LineData{Value: []interface{}{v, v * f}})
	}

	chart := charts.NewLine()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Force-Velocity Profile", Theme: "dark", Width: "1000px", Height: "700px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: "Force-velocity-power profile",
			Subtitle: fmt.Sprintf("F0=%.0fN V0=%.2fm/s Pmax=%.0fW R2=%.3f quality=%s",
				profile.F0, profile.V0, profile.Pmax, profile.Fit.R2, profile.Quality),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Velocity (m/s)", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Force (N) / Power (W)", NameLocation: "middle", NameGap: 45}),
	)
	chart.AddSeries("F-v fit", fitted)
	chart.AddSeries("power", power)

	scatter := charts.NewScatter()
	scatter.AddSeries("step samples", samples, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	chart.Overlap(scatter)

	if err := chart.Render(w); err != nil {
		return fmt.Errorf("failed to render profile chart: %w", err)
	}
	return nil
}
