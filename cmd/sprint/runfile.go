package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/geometry"
)

// runFile is the on-disk description of a captured run: the athlete, the
// covered distance, and one entry per camera segment with its lane
// calibration and detected contact marks.
type runFile struct {
	Athlete        sprint.Athlete   `json:"athlete"`
	TotalDistanceM float64          `json:"total_distance_m"`
	Segments       []runFileSegment `json:"segments"`
}

type runFileSegment struct {
	OrderIndex     *int                 `json:"order_index,omitempty"`
	StartDistanceM float64              `json:"start_distance_m"`
	EndDistanceM   float64              `json:"end_distance_m"`
	FPS            float64              `json:"fps"`
	Calibration    runFileCalibration   `json:"calibration"`
	Marks          []sprint.ContactMark `json:"marks"`
}

type runFileCalibration struct {
	PixelPoints   [4]geometry.Point `json:"pixel_points"`
	LaneWidthM    float64           `json:"lane_width_m"`
	FirstMarkerM  float64           `json:"first_marker_m"`
	SecondMarkerM float64           `json:"second_marker_m"`
}

// loadRunFile reads a run description, solves each segment's calibration,
// and returns a run ready for the pipeline.
func loadRunFile(path string) (*sprint.Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}
	var rf runFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse run file %s: %w", path, err)
	}
	if rf.Athlete.Name == "" || rf.Athlete.MassKG <= 0 || rf.Athlete.HeightM <= 0 {
		return nil, fmt.Errorf("run file %s: athlete requires name, mass_kg and height_m", path)
	}
	if rf.TotalDistanceM <= 0 {
		return nil, fmt.Errorf("run file %s: total_distance_m must be positive", path)
	}
	if len(rf.Segments) == 0 {
		return nil, fmt.Errorf("run file %s: no segments", path)
	}

	run := sprint.NewRun(rf.Athlete, rf.TotalDistanceM)
	if run.Athlete.ID == "" {
		run.Athlete.ID = run.ID
	}
	for i, rs := range rf.Segments {
		if rs.EndDistanceM <= rs.StartDistanceM || rs.FPS <= 0 {
			return nil, fmt.Errorf("run file %s: segment %d requires start < end and positive fps", path, i)
		}
		seg := sprint.NewRunSegment(rs.StartDistanceM, rs.EndDistanceM, rs.FPS)
		seg.OrderIndex = rs.OrderIndex
		seg.Marks = rs.Marks

		calib, err := geometry.NewLaneCalibration(rs.Calibration.PixelPoints,
			rs.Calibration.LaneWidthM, rs.Calibration.FirstMarkerM, rs.Calibration.SecondMarkerM)
		if err != nil {
			return nil, fmt.Errorf("run file %s: segment %d calibration: %w", path, i, err)
		}
		seg.Calibration = calib
		run.Segments = append(run.Segments, seg)
	}
	return run, nil
}
