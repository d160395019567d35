// Package report renders analysis output: a plain-text run summary, HTML
// charts for browser inspection, and SVG plots for archival output.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/fvp"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/merge"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/units"
)

// WriteText writes a human-readable run report. profile may be nil when no
// force-velocity model could be fitted.
func WriteText(w io.Writer, run *sprint.Run, res *merge.Result, profile *fvp.Result, speedUnits string) error {
	if run == nil || res == nil {
		return fmt.Errorf("report requires a run and a merge result")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Sprint report for %s\n", run.Athlete.Name))
	b.WriteString(fmt.Sprintf("Run %s, %.1f m, %d segments\n\n", run.ID, run.TotalDistance, len(run.Segments)))

	s := res.Summary
	b.WriteString("Summary\n")
	b.WriteString(fmt.Sprintf("  steps:         %d (%d measured, %d interpolated, %d duplicates removed)\n",
		s.TotalSteps, s.RealSteps, s.InterpolatedSteps, s.DuplicateSteps))
	b.WriteString(fmt.Sprintf("  total time:    %.2f s\n", s.TotalTime))
	b.WriteString(fmt.Sprintf("  avg speed:     %s\n", units.FormatSpeed(s.AvgSpeed, speedUnits)))
	b.WriteString(fmt.Sprintf("  max speed:     %s\n", units.FormatSpeed(s.MaxSpeed, speedUnits)))
	b.WriteString(fmt.Sprintf("  mean stride:   %.2f m (median %.2f m)\n", s.MeanStride, s.MedianStride))
	b.WriteString(fmt.Sprintf("  mean cadence:  %.0f steps/min\n", s.MeanCadence))

	b.WriteString("\nSteps\n")
	b.WriteString("  idx   dist(m)  stride(m)  speed      contact(s)  flight(s)  quality\n")
	for _, step := range res.Steps {
		b.WriteString(fmt.Sprintf("  %3d   %7.2f  %9.2f  %-9s  %10.3f  %9.3f  %s\n",
			step.GlobalIndex, step.GlobalDistance, step.StrideLength,
			units.FormatSpeed(step.Speed, speedUnits),
			step.ContactTime, step.FlightTime, step.Quality))
	}

	if profile != nil {
		b.WriteString("\nForce-velocity profile\n")
		if profile.Status == fvp.StatusOK {
			b.WriteString(fmt.Sprintf("  F0:    %.0f N\n", profile.F0))
			b.WriteString(fmt.Sprintf("  V0:    %.2f m/s\n", profile.V0))
			b.WriteString(fmt.Sprintf("  Pmax:  %.0f W\n", profile.Pmax))
			b.WriteString(fmt.Sprintf("  RFmax: %.1f %%\n", profile.RFmax))
			b.WriteString(fmt.Sprintf("  DRF:   %.2f %%/(m/s)\n", profile.DRF))
			b.WriteString(fmt.Sprintf("  fit:   R2=%.3f over %d steps (%s, quality %s)\n",
				profile.Fit.R2, len(profile.Samples), profile.VelocityModel, profile.Quality))
		} else {
			b.WriteString(fmt.Sprintf("  not available: %s\n", profile.Reason))
		}
	} else {
		b.WriteString("\nForce-velocity profile: not available\n")
	}

	warnings := res.Warnings
	if profile != nil {
		warnings = append(warnings[:len(warnings):len(warnings)], profile.Warnings...)
	}
	if len(warnings) > 0 {
		b.WriteString("\nWarnings\n")
		for _, warn := range warnings {
			b.WriteString("  " + warn.String() + "\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
