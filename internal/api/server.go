// Package api exposes the run lifecycle over HTTP: registering runs and
// segments, uploading calibration and contact marks, triggering analysis, and
// retrieving merged results, profiles, and debug charts.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/db"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/httputil"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/report"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/fvp"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/geometry"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/pipeline"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/units"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db       *db.DB
	pipeline *pipeline.Pipeline
	units    string
}

func NewServer(database *db.DB, pl *pipeline.Pipeline, speedUnits string) *Server {
	if !units.IsValid(speedUnits) {
		speedUnits = units.MPS
	}
	return &Server{
		db:       database,
		pipeline: pl,
		units:    speedUnits,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/run", s.handleRun)
	mux.HandleFunc("/api/segment_marks", s.handleSegmentMarks)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/result", s.handleResult)
	mux.HandleFunc("/api/profile", s.handleProfile)
	mux.HandleFunc("/debug/speed_chart", s.handleSpeedChart)
	mux.HandleFunc("/debug/fvp_chart", s.handleProfileChart)
	return mux
}

type createSegmentRequest struct {
	OrderIndex     *int    `json:"order_index,omitempty"`
	StartDistanceM float64 `json:"start_distance_m"`
	EndDistanceM   float64 `json:"end_distance_m"`
	FPS            float64 `json:"fps"`
}

type createRunRequest struct {
	Athlete        sprint.Athlete         `json:"athlete"`
	TotalDistanceM float64                `json:"total_distance_m"`
	Segments       []createSegmentRequest `json:"segments"`
}

// handleRuns serves POST (create) and GET (list) on /api/runs.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		records, err := s.db.ListRuns()
		if err != nil {
			log.Printf("list runs: %v", err)
			httputil.InternalServerError(w, "failed to list runs")
			return
		}
		if records == nil {
			records = []db.RunRecord{}
		}
		httputil.WriteJSON(w, http.StatusOK, records)

	case http.MethodPost:
		var req createRunRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if req.Athlete.Name == "" || req.Athlete.MassKG <= 0 || req.Athlete.HeightM <= 0 {
			httputil.BadRequest(w, "athlete requires name, mass_kg and height_m")
			return
		}
		if req.TotalDistanceM <= 0 {
			httputil.BadRequest(w, "total_distance_m must be positive")
			return
		}
		if len(req.Segments) == 0 {
			httputil.BadRequest(w, "at least one segment is required")
			return
		}

		run := sprint.NewRun(req.Athlete, req.TotalDistanceM)
		if run.Athlete.ID == "" {
			run.Athlete.ID = run.ID
		}
		for _, sr := range req.Segments {
			if sr.EndDistanceM <= sr.StartDistanceM || sr.FPS <= 0 {
				httputil.BadRequest(w, "segments require start < end and positive fps")
				return
			}
			seg := sprint.NewRunSegment(sr.StartDistanceM, sr.EndDistanceM, sr.FPS)
			seg.OrderIndex = sr.OrderIndex
			run.Segments = append(run.Segments, seg)
		}

		if err := s.db.SaveRun(run); err != nil {
			log.Printf("save run: %v", err)
			httputil.InternalServerError(w, "failed to save run")
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, run)

	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleRun serves GET /api/run?id=<run_id>.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	run, ok := s.loadRun(w, r.URL.Query().Get("id"))
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, run)
}

type laneCalibrationRequest struct {
	PixelPoints   [4]geometry.Point `json:"pixel_points"`
	LaneWidthM    float64           `json:"lane_width_m"`
	FirstMarkerM  float64           `json:"first_marker_m"`
	SecondMarkerM float64           `json:"second_marker_m"`
}

type segmentMarksRequest struct {
	Calibration laneCalibrationRequest `json:"calibration"`
	Marks       []sprint.ContactMark   `json:"marks"`
}

// handleSegmentMarks serves POST /api/segment_marks?run_id=...&segment_id=...
// It stores the segment's lane calibration and contact marks and walks the
// segment to the calibrated state.
func (s *Server) handleSegmentMarks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	run, ok := s.loadRun(w, r.URL.Query().Get("run_id"))
	if !ok {
		return
	}
	segID := r.URL.Query().Get("segment_id")
	var seg *sprint.RunSegment
	for _, candidate := range run.Segments {
		if candidate.ID == segID {
			seg = candidate
			break
		}
	}
	if seg == nil {
		httputil.NotFound(w, "segment not found")
		return
	}

	var req segmentMarksRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(req.Marks) == 0 {
		httputil.BadRequest(w, "at least one contact mark is required")
		return
	}

	calib, err := geometry.NewLaneCalibration(req.Calibration.PixelPoints,
		req.Calibration.LaneWidthM, req.Calibration.FirstMarkerM, req.Calibration.SecondMarkerM)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	seg.Marks = req.Marks
	seg.Calibration = calib
	if seg.State == sprint.SegmentPending {
		if err := seg.Advance(sprint.SegmentUploaded); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	if seg.State == sprint.SegmentUploaded {
		if err := seg.Advance(sprint.SegmentCalibrated); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}

	if err := s.db.SaveRun(run); err != nil {
		log.Printf("save run %s: %v", run.ID, err)
		httputil.InternalServerError(w, "failed to save run")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, seg)
}

type analyzeResponse struct {
	Run                 *sprint.Run `json:"run"`
	Summary             interface{} `json:"summary"`
	ProfileStatus       string      `json:"profile_status"`
	ProfileAbsentReason string      `json:"profile_absent_reason,omitempty"`
	ElapsedMS           float64     `json:"elapsed_ms"`
}

// handleAnalyze serves POST /api/analyze?run_id=... It executes the full
// pipeline and persists the merged stream and profile.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	run, ok := s.loadRun(w, r.URL.Query().Get("run_id"))
	if !ok {
		return
	}

	outcome, err := s.pipeline.Execute(r.Context(), run)
	if err != nil {
		// record the failed status before reporting
		if outcome != nil && outcome.Run != nil {
			if dbErr := s.db.SaveRun(outcome.Run); dbErr != nil {
				log.Printf("save failed run %s: %v", run.ID, dbErr)
			}
		}
		var dataErr *sprint.DataError
		if errors.As(err, &dataErr) {
			httputil.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		log.Printf("analyze run %s: %v", run.ID, err)
		httputil.InternalServerError(w, "analysis failed")
		return
	}

	if err := s.db.SaveRun(outcome.Run); err != nil {
		log.Printf("save run %s: %v", run.ID, err)
		httputil.InternalServerError(w, "failed to save run")
		return
	}
	if err := s.db.SaveMergeResult(outcome.Merged); err != nil {
		log.Printf("save merge result %s: %v", run.ID, err)
		httputil.InternalServerError(w, "failed to save results")
		return
	}

	profile := outcome.Profile
	profileStatus := fvp.StatusOK
	if profile == nil {
		profileStatus = fvp.StatusInsufficientData
		profile = &fvp.Result{
			Status: fvp.StatusInsufficientData,
			Reason: outcome.ProfileAbsentReason,
		}
	}
	if err := s.db.SaveProfile(run.ID, profile); err != nil {
		log.Printf("save profile %s: %v", run.ID, err)
		httputil.InternalServerError(w, "failed to save profile")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, analyzeResponse{
		Run:                 outcome.Run,
		Summary:             outcome.Merged.Summary,
		ProfileStatus:       profileStatus,
		ProfileAbsentReason: outcome.ProfileAbsentReason,
		ElapsedMS:           float64(outcome.Elapsed.Nanoseconds()) / 1e6,
	})
}

// handleResult serves GET /api/result?run_id=... Speeds are converted to the
// server's configured display units.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	res, err := s.db.GetMergeResult(r.URL.Query().Get("run_id"))
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "no result for run")
		return
	}
	if err != nil {
		log.Printf("get result: %v", err)
		httputil.InternalServerError(w, "failed to load result")
		return
	}
	for i := range res.Steps {
		res.Steps[i].Speed = units.ConvertSpeed(res.Steps[i].Speed, s.units)
	}
	res.Summary.AvgSpeed = units.ConvertSpeed(res.Summary.AvgSpeed, s.units)
	res.Summary.MaxSpeed = units.ConvertSpeed(res.Summary.MaxSpeed, s.units)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"units":  s.units,
		"result": res,
	})
}

// handleProfile serves GET /api/profile?run_id=...
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	profile, err := s.db.GetProfile(r.URL.Query().Get("run_id"))
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "no profile for run")
		return
	}
	if err != nil {
		log.Printf("get profile: %v", err)
		httputil.InternalServerError(w, "failed to load profile")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

// handleSpeedChart renders a quick HTML chart of speed against distance.
// This is a debugging-only endpoint (no auth) to inspect a merged run
// without a frontend.
func (s *Server) handleSpeedChart(w http.ResponseWriter, r *http.Request) {
	res, err := s.db.GetMergeResult(r.URL.Query().Get("run_id"))
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "no result for run")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to load result")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderSpeedChart(w, res, s.units); err != nil {
		log.Printf("render speed chart: %v", err)
	}
}

// handleProfileChart renders the force-velocity-power chart for a run.
func (s *Server) handleProfileChart(w http.ResponseWriter, r *http.Request) {
	profile, err := s.db.GetProfile(r.URL.Query().Get("run_id"))
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "no profile for run")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to load profile")
		return
	}
	if profile.Status != fvp.StatusOK {
		httputil.WriteJSONError(w, http.StatusConflict, "profile not fitted: "+profile.Reason)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderProfileChart(w, profile); err != nil {
		log.Printf("render profile chart: %v", err)
	}
}

// loadRun fetches a run by id, writing the HTTP error itself when it cannot.
func (s *Server) loadRun(w http.ResponseWriter, id string) (*sprint.Run, bool) {
	if id == "" {
		httputil.BadRequest(w, "run id is required")
		return nil, false
	}
	run, err := s.db.GetRun(id)
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "run not found")
		return nil, false
	}
	if err != nil {
		log.Printf("get run %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load run")
		return nil, false
	}
	return run, true
}
