package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/fvp"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/geometry"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/merge"
)

// RunRecord is the list-view projection of a stored run.
type RunRecord struct {
	ID            string    `json:"id"`
	AthleteID     string    `json:"athlete_id"`
	AthleteName   string    `json:"athlete_name"`
	TotalDistance float64   `json:"total_distance_m"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// SaveAthlete inserts or updates an athlete.
func (db *DB) SaveAthlete(a sprint.Athlete) error {
	_, err := db.Exec(`
		INSERT INTO athletes (id, name, mass_kg, height_m)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			mass_kg = excluded.mass_kg,
			height_m = excluded.height_m
	`, a.ID, a.Name, a.MassKG, a.HeightM)
	if err != nil {
		return fmt.Errorf("failed to save athlete %s: %w", a.ID, err)
	}
	return nil
}

// GetAthlete looks up an athlete by id.
func (db *DB) GetAthlete(id string) (sprint.Athlete, error) {
	var a sprint.Athlete
	err := db.QueryRow(`
		SELECT id, name, mass_kg, height_m FROM athletes WHERE id = ?
	`, id).Scan(&a.ID, &a.Name, &a.MassKG, &a.HeightM)
	if err == sql.ErrNoRows {
		return sprint.Athlete{}, ErrNotFound
	}
	if err != nil {
		return sprint.Athlete{}, fmt.Errorf("failed to get athlete %s: %w", id, err)
	}
	return a, nil
}

// SaveRun stores a run, its athlete, and all of its segments. Existing
// segment rows for the run are replaced so the stored set always mirrors the
// in-memory run.
func (db *DB) SaveRun(run *sprint.Run) error {
	if run == nil {
		return fmt.Errorf("cannot save nil run")
	}
	if err := db.SaveAthlete(run.Athlete); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, athlete_id, total_distance_m, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			athlete_id = excluded.athlete_id,
			total_distance_m = excluded.total_distance_m,
			status = excluded.status
	`, run.ID, run.Athlete.ID, run.TotalDistance, string(run.Status))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM run_segments WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear segments for run %s: %w", run.ID, err)
	}

	for _, seg := range run.Segments {
		calibJSON, err := marshalCalibration(seg.Calibration)
		if err != nil {
			return fmt.Errorf("segment %s: %w", seg.ID, err)
		}
		marksJSON, err := json.Marshal(seg.Marks)
		if err != nil {
			return fmt.Errorf("segment %s: failed to encode marks: %w", seg.ID, err)
		}

		var orderIndex interface{}
		if seg.OrderIndex != nil {
			orderIndex = *seg.OrderIndex
		}

		_, err = tx.Exec(`
			INSERT INTO run_segments
				(id, run_id, order_index, start_distance_m, end_distance_m, fps, state, calibration, marks)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, seg.ID, run.ID, orderIndex, seg.StartDistance, seg.EndDistance, seg.FPS,
			string(seg.State), calibJSON, string(marksJSON))
		if err != nil {
			return fmt.Errorf("failed to save segment %s: %w", seg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads a run with its athlete and segments. Stored calibrations are
// revalidated so the homography is usable again after the round trip.
func (db *DB) GetRun(id string) (*sprint.Run, error) {
	run := &sprint.Run{ID: id}
	var status string
	err := db.QueryRow(`
		SELECT r.total_distance_m, r.status, a.id, a.name, a.mass_kg, a.height_m
		FROM runs r JOIN athletes a ON a.id = r.athlete_id
		WHERE r.id = ?
	`, id).Scan(&run.TotalDistance, &status,
		&run.Athlete.ID, &run.Athlete.Name, &run.Athlete.MassKG, &run.Athlete.HeightM)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	run.Status = sprint.RunStatus(status)

	rows, err := db.Query(`
		SELECT id, order_index, start_distance_m, end_distance_m, fps, state, calibration, marks
		FROM run_segments WHERE run_id = ?
		ORDER BY start_distance_m
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments for run %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		seg := &sprint.RunSegment{}
		var state string
		var orderIndex sql.NullInt64
		var calibJSON sql.NullString
		var marksJSON string
		if err := rows.Scan(&seg.ID, &orderIndex, &seg.StartDistance, &seg.EndDistance,
			&seg.FPS, &state, &calibJSON, &marksJSON); err != nil {
			return nil, fmt.Errorf("failed to scan segment for run %s: %w", id, err)
		}
		seg.State = sprint.SegmentState(state)
		if orderIndex.Valid {
			v := int(orderIndex.Int64)
			seg.OrderIndex = &v
		}
		if calibJSON.Valid && calibJSON.String != "" {
			calib := &geometry.Calibration{}
			if err := json.Unmarshal([]byte(calibJSON.String), calib); err != nil {
				return nil, fmt.Errorf("segment %s: failed to decode calibration: %w", seg.ID, err)
			}
			if err := calib.Revalidate(); err != nil {
				return nil, fmt.Errorf("segment %s: %w", seg.ID, err)
			}
			seg.Calibration = calib
		}
		if err := json.Unmarshal([]byte(marksJSON), &seg.Marks); err != nil {
			return nil, fmt.Errorf("segment %s: failed to decode marks: %w", seg.ID, err)
		}
		run.Segments = append(run.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate segments for run %s: %w", id, err)
	}

	return run, nil
}

// UpdateRunStatus sets the stored lifecycle status for a run.
func (db *DB) UpdateRunStatus(id string, status sprint.RunStatus) error {
	res, err := db.Exec(`UPDATE runs SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update status for run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns all stored runs, newest first.
func (db *DB) ListRuns() ([]RunRecord, error) {
	rows, err := db.Query(`
		SELECT r.id, a.id, a.name, r.total_distance_m, r.status, r.created_at
		FROM runs r JOIN athletes a ON a.id = r.athlete_id
		ORDER BY r.created_at DESC, r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.AthleteID, &rec.AthleteName,
			&rec.TotalDistance, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveMergeResult stores the merged step stream and the run-level summary.
// Boundary groups are debug artifacts and are not persisted.
func (db *DB) SaveMergeResult(res *merge.Result) error {
	if res == nil {
		return fmt.Errorf("cannot save nil merge result")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM merged_steps WHERE run_id = ?`, res.RunID); err != nil {
		return fmt.Errorf("failed to clear merged steps for run %s: %w", res.RunID, err)
	}

	for _, step := range res.Steps {
		interpolated := 0
		if step.IsInterpolated {
			interpolated = 1
		}
		_, err := tx.Exec(`
			INSERT INTO merged_steps
				(run_id, global_index, segment_id, step_index, global_distance_m,
				 stride_length_m, speed_mps, contact_time_s, flight_time_s,
				 cadence_spm, confidence, is_interpolated, quality)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, res.RunID, step.GlobalIndex, step.SegmentID, step.Index, step.GlobalDistance,
			step.StrideLength, step.Speed, step.ContactTime, step.FlightTime,
			step.Cadence, step.Confidence, interpolated, step.Quality)
		if err != nil {
			return fmt.Errorf("failed to save merged step %d for run %s: %w",
				step.GlobalIndex, res.RunID, err)
		}
	}

	warningsJSON, err := json.Marshal(warningsOrEmpty(res.Warnings))
	if err != nil {
		return fmt.Errorf("failed to encode warnings for run %s: %w", res.RunID, err)
	}
	s := res.Summary
	_, err = tx.Exec(`
		INSERT INTO run_summaries
			(run_id, total_steps, real_steps, interpolated_steps, duplicate_steps,
			 total_distance_m, total_time_s, avg_speed_mps, max_speed_mps,
			 mean_stride_m, median_stride_m, mean_cadence_spm, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			total_steps = excluded.total_steps,
			real_steps = excluded.real_steps,
			interpolated_steps = excluded.interpolated_steps,
			duplicate_steps = excluded.duplicate_steps,
			total_distance_m = excluded.total_distance_m,
			total_time_s = excluded.total_time_s,
			avg_speed_mps = excluded.avg_speed_mps,
			max_speed_mps = excluded.max_speed_mps,
			mean_stride_m = excluded.mean_stride_m,
			median_stride_m = excluded.median_stride_m,
			mean_cadence_spm = excluded.mean_cadence_spm,
			warnings = excluded.warnings
	`, res.RunID, s.TotalSteps, s.RealSteps, s.InterpolatedSteps, s.DuplicateSteps,
		s.TotalDistance, s.TotalTime, s.AvgSpeed, s.MaxSpeed,
		s.MeanStride, s.MedianStride, s.MeanCadence, string(warningsJSON))
	if err != nil {
		return fmt.Errorf("failed to save summary for run %s: %w", res.RunID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge result for run %s: %w", res.RunID, err)
	}
	return nil
}

// GetMergeResult loads the merged step stream and summary for a run.
func (db *DB) GetMergeResult(runID string) (*merge.Result, error) {
	res := &merge.Result{RunID: runID}
	var warningsJSON string
	s := &res.Summary
	err := db.QueryRow(`
		SELECT total_steps, real_steps, interpolated_steps, duplicate_steps,
		       total_distance_m, total_time_s, avg_speed_mps, max_speed_mps,
		       mean_stride_m, median_stride_m, mean_cadence_spm, warnings
		FROM run_summaries WHERE run_id = ?
	`, runID).Scan(&s.TotalSteps, &s.RealSteps, &s.InterpolatedSteps, &s.DuplicateSteps,
		&s.TotalDistance, &s.TotalTime, &s.AvgSpeed, &s.MaxSpeed,
		&s.MeanStride, &s.MedianStride, &s.MeanCadence, &warningsJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary for run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(warningsJSON), &res.Warnings); err != nil {
		return nil, fmt.Errorf("failed to decode warnings for run %s: %w", runID, err)
	}

	rows, err := db.Query(`
		SELECT global_index, segment_id, step_index, global_distance_m,
		       stride_length_m, speed_mps, contact_time_s, flight_time_s,
		       cadence_spm, confidence, is_interpolated, quality
		FROM merged_steps WHERE run_id = ?
		ORDER BY global_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query merged steps for run %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var step merge.MergedStep
		var interpolated int
		if err := rows.Scan(&step.GlobalIndex, &step.SegmentID, &step.Index,
			&step.GlobalDistance, &step.StrideLength, &step.Speed,
			&step.ContactTime, &step.FlightTime, &step.Cadence,
			&step.Confidence, &interpolated, &step.Quality); err != nil {
			return nil, fmt.Errorf("failed to scan merged step for run %s: %w", runID, err)
		}
		step.IsInterpolated = interpolated != 0
		res.Steps = append(res.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate merged steps for run %s: %w", runID, err)
	}

	return res, nil
}

// SaveProfile stores a force-velocity-power result for a run, including the
// insufficient-data case so that reruns can report why no profile exists.
func (db *DB) SaveProfile(runID string, res *fvp.Result) error {
	if res == nil {
		return fmt.Errorf("cannot save nil profile")
	}
	samplesJSON, err := json.Marshal(samplesOrEmpty(res.Samples))
	if err != nil {
		return fmt.Errorf("failed to encode samples for run %s: %w", runID, err)
	}
	warningsJSON, err := json.Marshal(warningsOrEmpty(res.Warnings))
	if err != nil {
		return fmt.Errorf("failed to encode warnings for run %s: %w", runID, err)
	}

	_, err = db.Exec(`
		INSERT INTO fvp_results
			(run_id, status, reason, f0_n, v0_mps, pmax_w, rfmax_pct, drf,
			 slope, r2, optimal_fv, peak_velocity_mps, velocity_model,
			 quality, samples, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			f0_n = excluded.f0_n,
			v0_mps = excluded.v0_mps,
			pmax_w = excluded.pmax_w,
			rfmax_pct = excluded.rfmax_pct,
			drf = excluded.drf,
			slope = excluded.slope,
			r2 = excluded.r2,
			optimal_fv = excluded.optimal_fv,
			peak_velocity_mps = excluded.peak_velocity_mps,
			velocity_model = excluded.velocity_model,
			quality = excluded.quality,
			samples = excluded.samples,
			warnings = excluded.warnings
	`, runID, res.Status, res.Reason, res.F0, res.V0, res.Pmax, res.RFmax, res.DRF,
		res.Fit.Slope, res.Fit.R2, res.OptimalFV, res.PeakVelocity, res.VelocityModel,
		res.Quality, string(samplesJSON), string(warningsJSON))
	if err != nil {
		return fmt.Errorf("failed to save profile for run %s: %w", runID, err)
	}
	return nil
}

// GetProfile loads a stored force-velocity-power result.
func (db *DB) GetProfile(runID string) (*fvp.Result, error) {
	res := &fvp.Result{}
	var reason sql.NullString
	var samplesJSON, warningsJSON string
	err := db.QueryRow(`
		SELECT status, reason, f0_n, v0_mps, pmax_w, rfmax_pct, drf,
		       slope, r2, optimal_fv, peak_velocity_mps, velocity_model,
		       quality, samples, warnings
		FROM fvp_results WHERE run_id = ?
	`, runID).Scan(&res.Status, &reason, &res.F0, &res.V0, &res.Pmax, &res.RFmax,
		&res.DRF, &res.Fit.Slope, &res.Fit.R2, &res.OptimalFV, &res.PeakVelocity,
		&res.VelocityModel, &res.Quality, &samplesJSON, &warningsJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile for run %s: %w", runID, err)
	}
	if reason.Valid {
		res.Reason = reason.String
	}
	res.Fit.Intercept = res.F0
	if res.OptimalFV > 0 {
		res.F0PctOptimal = res.F0 / res.OptimalFV * 100
		res.V0PctOptimal = res.V0 / res.OptimalFV * 100
	}
	if err := json.Unmarshal([]byte(samplesJSON), &res.Samples); err != nil {
		return nil, fmt.Errorf("failed to decode samples for run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(warningsJSON), &res.Warnings); err != nil {
		return nil, fmt.Errorf("failed to decode warnings for run %s: %w", runID, err)
	}
	return res, nil
}

func marshalCalibration(c *geometry.Calibration) (interface{}, error) {
	if c == nil {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode calibration: %w", err)
	}
	return string(data), nil
}

func warningsOrEmpty(w []sprint.Warning) []sprint.Warning {
	if w == nil {
		return []sprint.Warning{}
	}
	return w
}

func samplesOrEmpty(s []fvp.SamplePoint) []fvp.SamplePoint {
	if s == nil {
		return []fvp.SamplePoint{}
	}
	return s
}
