// Package config loads the analysis tuning parameters. All values are
// optional in the JSON file; the Get* accessors fall back to the stage
// defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/fvp"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/merge"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/pipeline"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/steps"
)

// TuningConfig is the root tuning schema. Pointer fields distinguish "not
// set" from zero so a file can override any subset of values.
type TuningConfig struct {
	// Merger params
	BoundaryOverlapWindowM  *float64 `json:"boundary_overlap_window_m,omitempty"`
	GapStrideMultiplier     *float64 `json:"gap_stride_multiplier,omitempty"`
	LowCalibrationThreshold *float64 `json:"low_calibration_threshold,omitempty"`
	StrideOutlierBand       *float64 `json:"stride_outlier_band,omitempty"`

	// Analyzer params
	StrideAnomalyMultiplier *float64 `json:"stride_anomaly_multiplier,omitempty"`

	// Force model params
	AirDensity             *float64 `json:"air_density,omitempty"`
	DragCoefficient        *float64 `json:"drag_coefficient,omitempty"`
	FrontalAreaCoefficient *float64 `json:"frontal_area_coefficient,omitempty"`
	ContactAngleStartDeg   *float64 `json:"contact_angle_start_deg,omitempty"`
	ContactAngleEndDeg     *float64 `json:"contact_angle_end_deg,omitempty"`
	// PanningMode selects the constant-acceleration velocity heuristic with
	// its steeper angle bounds.
	PanningMode *bool `json:"panning_mode,omitempty"`

	// Pipeline params
	AnalysisWorkers *int `json:"analysis_workers,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with every field unset, i.e. all
// defaults.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The path must have
// a .json extension and stay under the size cap; omitted fields keep their
// defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks set fields for physically sensible values.
func (c *TuningConfig) Validate() error {
	if c.BoundaryOverlapWindowM != nil && (*c.BoundaryOverlapWindowM <= 0 || *c.BoundaryOverlapWindowM > 2) {
		return fmt.Errorf("boundary_overlap_window_m must be in (0, 2], got %f", *c.BoundaryOverlapWindowM)
	}
	if c.GapStrideMultiplier != nil && *c.GapStrideMultiplier <= 1 {
		return fmt.Errorf("gap_stride_multiplier must be greater than 1, got %f", *c.GapStrideMultiplier)
	}
	if c.StrideAnomalyMultiplier != nil && *c.StrideAnomalyMultiplier <= 1 {
		return fmt.Errorf("stride_anomaly_multiplier must be greater than 1, got %f", *c.StrideAnomalyMultiplier)
	}
	if c.LowCalibrationThreshold != nil && (*c.LowCalibrationThreshold < 0 || *c.LowCalibrationThreshold > 1) {
		return fmt.Errorf("low_calibration_threshold must be within [0, 1], got %f", *c.LowCalibrationThreshold)
	}
	if c.StrideOutlierBand != nil && *c.StrideOutlierBand <= 1 {
		return fmt.Errorf("stride_outlier_band must be greater than 1, got %f", *c.StrideOutlierBand)
	}
	if c.AirDensity != nil && *c.AirDensity <= 0 {
		return fmt.Errorf("air_density must be positive, got %f", *c.AirDensity)
	}
	if c.DragCoefficient != nil && *c.DragCoefficient <= 0 {
		return fmt.Errorf("drag_coefficient must be positive, got %f", *c.DragCoefficient)
	}
	if c.FrontalAreaCoefficient != nil && *c.FrontalAreaCoefficient <= 0 {
		return fmt.Errorf("frontal_area_coefficient must be positive, got %f", *c.FrontalAreaCoefficient)
	}
	if c.ContactAngleStartDeg != nil && (*c.ContactAngleStartDeg <= 0 || *c.ContactAngleStartDeg >= 90) {
		return fmt.Errorf("contact_angle_start_deg must be in (0, 90), got %f", *c.ContactAngleStartDeg)
	}
	if c.ContactAngleEndDeg != nil && (*c.ContactAngleEndDeg <= 0 || *c.ContactAngleEndDeg >= 90) {
		return fmt.Errorf("contact_angle_end_deg must be in (0, 90), got %f", *c.ContactAngleEndDeg)
	}
	if c.AnalysisWorkers != nil && *c.AnalysisWorkers < 1 {
		return fmt.Errorf("analysis_workers must be at least 1, got %d", *c.AnalysisWorkers)
	}
	return nil
}

// GetBoundaryOverlapWindowM returns the boundary dedup half-window or the default.
func (c *TuningConfig) GetBoundaryOverlapWindowM() float64 {
	if c.BoundaryOverlapWindowM == nil {
		return merge.DefaultOverlapWindowM
	}
	return *c.BoundaryOverlapWindowM
}

// GetGapStrideMultiplier returns the gap interpolation multiplier or the default.
func (c *TuningConfig) GetGapStrideMultiplier() float64 {
	if c.GapStrideMultiplier == nil {
		return merge.DefaultGapStrideMultiplier
	}
	return *c.GapStrideMultiplier
}

// GetLowCalibrationThreshold returns the calibration warning threshold or the default.
func (c *TuningConfig) GetLowCalibrationThreshold() float64 {
	if c.LowCalibrationThreshold == nil {
		return merge.DefaultLowCalibrationThreshold
	}
	return *c.LowCalibrationThreshold
}

// GetStrideOutlierBand returns the run-level stride outlier band or the default.
func (c *TuningConfig) GetStrideOutlierBand() float64 {
	if c.StrideOutlierBand == nil {
		return merge.DefaultStrideOutlierBand
	}
	return *c.StrideOutlierBand
}

// GetStrideAnomalyMultiplier returns the stride anomaly multiplier or the default.
func (c *TuningConfig) GetStrideAnomalyMultiplier() float64 {
	if c.StrideAnomalyMultiplier == nil {
		return steps.DefaultStrideAnomalyMultiplier
	}
	return *c.StrideAnomalyMultiplier
}

// GetAirDensity returns the air density or the default.
func (c *TuningConfig) GetAirDensity() float64 {
	if c.AirDensity == nil {
		return fvp.DefaultAirDensity
	}
	return *c.AirDensity
}

// GetDragCoefficient returns the drag coefficient or the default.
func (c *TuningConfig) GetDragCoefficient() float64 {
	if c.DragCoefficient == nil {
		return fvp.DefaultDragCoefficient
	}
	return *c.DragCoefficient
}

// GetFrontalAreaCoefficient returns the frontal area coefficient or the default.
func (c *TuningConfig) GetFrontalAreaCoefficient() float64 {
	if c.FrontalAreaCoefficient == nil {
		return fvp.DefaultFrontalAreaCoefficient
	}
	return *c.FrontalAreaCoefficient
}

// GetContactAngleStartDeg returns the low-velocity stance angle bound. The
// default depends on panning mode.
func (c *TuningConfig) GetContactAngleStartDeg() float64 {
	if c.ContactAngleStartDeg != nil {
		return *c.ContactAngleStartDeg
	}
	if c.GetPanningMode() {
		return fvp.PanningContactAngleStartDeg
	}
	return fvp.DefaultContactAngleStartDeg
}

// GetContactAngleEndDeg returns the peak-velocity stance angle bound.
func (c *TuningConfig) GetContactAngleEndDeg() float64 {
	if c.ContactAngleEndDeg != nil {
		return *c.ContactAngleEndDeg
	}
	if c.GetPanningMode() {
		return fvp.PanningContactAngleEndDeg
	}
	return fvp.DefaultContactAngleEndDeg
}

// GetPanningMode reports whether the panning-capture heuristics are enabled.
func (c *TuningConfig) GetPanningMode() bool {
	if c.PanningMode == nil {
		return false
	}
	return *c.PanningMode
}

// GetAnalysisWorkers returns the analysis parallelism or the default.
func (c *TuningConfig) GetAnalysisWorkers() int {
	if c.AnalysisWorkers == nil {
		return pipeline.DefaultWorkers
	}
	return *c.AnalysisWorkers
}

// PipelineConfig assembles the stage configuration for the orchestrator.
func (c *TuningConfig) PipelineConfig() pipeline.Config {
	var velocity fvp.VelocityModel = fvp.FiniteDifferenceVelocityModel{}
	if c.GetPanningMode() {
		velocity = fvp.ConstantAccelerationVelocityModel{}
	}
	return pipeline.Config{
		Workers: c.GetAnalysisWorkers(),
		Analyze: steps.Options{
			StrideAnomalyMultiplier: c.GetStrideAnomalyMultiplier(),
		},
		Merge: merge.Config{
			OverlapWindowM:          c.GetBoundaryOverlapWindowM(),
			GapStrideMultiplier:     c.GetGapStrideMultiplier(),
			LowCalibrationThreshold: c.GetLowCalibrationThreshold(),
			StrideOutlierBand:       c.GetStrideOutlierBand(),
		},
		FVP: fvp.Options{
			AirDensity:             c.GetAirDensity(),
			DragCoefficient:        c.GetDragCoefficient(),
			FrontalAreaCoefficient: c.GetFrontalAreaCoefficient(),
			ContactAngleStartDeg:   c.GetContactAngleStartDeg(),
			ContactAngleEndDeg:     c.GetContactAngleEndDeg(),
			Velocity:               velocity,
		},
	}
}
