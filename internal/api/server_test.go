package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/db"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/fvp"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/geometry"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/merge"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/pipeline"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/units"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api_test.db")
	database, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.MigrateUp("../../db/migrations"))
	return NewServer(database, pipeline.New(pipeline.Config{}), units.MPS)
}

func doJSON(t *testing.T, mux *http.ServeMux, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// createTestRun posts a two-segment run and returns the decoded run.
func createTestRun(t *testing.T, mux *http.ServeMux) *sprint.Run {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/api/runs", createRunRequest{
		Athlete:        sprint.Athlete{Name: "Test Runner", MassKG: 75, HeightM: 1.8},
		TotalDistanceM: 10,
		Segments: []createSegmentRequest{
			{StartDistanceM: 0, EndDistanceM: 5, FPS: 240},
			{StartDistanceM: 5, EndDistanceM: 10, FPS: 240},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := &sprint.Run{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), run))
	require.Len(t, run.Segments, 2)
	return run
}

// uploadMarks posts calibration and evenly spaced marks for one segment.
// Pixel X runs 200 px per metre of segment-local distance.
func uploadMarks(t *testing.T, mux *http.ServeMux, runID, segID string, localDistances []float64) {
	t.Helper()
	marks := make([]sprint.ContactMark, len(localDistances))
	for i, d := range localDistances {
		marks[i] = sprint.ContactMark{
			ContactFrame: i * 60,
			ToeOffFrame:  i*60 + 24,
			FootPixel:    geometry.Point{X: 100 + 200*d, Y: 700},
			Confidence:   0.9,
		}
	}
	rec := doJSON(t, mux, http.MethodPost,
		fmt.Sprintf("/api/segment_marks?run_id=%s&segment_id=%s", runID, segID),
		segmentMarksRequest{
			Calibration: laneCalibrationRequest{
				PixelPoints: [4]geometry.Point{
					{X: 100, Y: 500}, {X: 100, Y: 900},
					{X: 1100, Y: 500}, {X: 1100, Y: 900},
				},
				LaneWidthM:    2,
				FirstMarkerM:  0,
				SecondMarkerM: 5,
			},
			Marks: marks,
		})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateListAndGetRun(t *testing.T) {
	mux := newTestServer(t).ServeMux()
	run := createTestRun(t, mux)

	rec := doJSON(t, mux, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []db.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, run.ID, records[0].ID)

	rec = doJSON(t, mux, http.MethodGet, "/api/run?id="+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := &sprint.Run{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), got))
	assert.Equal(t, sprint.RunSetup, got.Status)
	assert.Equal(t, sprint.SegmentPending, got.Segments[0].State)

	rec = doJSON(t, mux, http.MethodGet, "/api/run?id=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRunValidation(t *testing.T) {
	mux := newTestServer(t).ServeMux()

	cases := []createRunRequest{
		{}, // empty
		{Athlete: sprint.Athlete{Name: "X", MassKG: 75, HeightM: 1.8}, TotalDistanceM: 10},
		{Athlete: sprint.Athlete{Name: "X", MassKG: 75, HeightM: 1.8}, TotalDistanceM: 10,
			Segments: []createSegmentRequest{{StartDistanceM: 5, EndDistanceM: 5, FPS: 240}}},
		{Athlete: sprint.Athlete{Name: "X", MassKG: 75, HeightM: 1.8}, TotalDistanceM: -1,
			Segments: []createSegmentRequest{{StartDistanceM: 0, EndDistanceM: 5, FPS: 240}}},
	}
	for i, req := range cases {
		rec := doJSON(t, mux, http.MethodPost, "/api/runs", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "case %d", i)
	}

	rec := doJSON(t, mux, http.MethodDelete, "/api/runs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSegmentMarksAdvancesState(t *testing.T) {
	mux := newTestServer(t).ServeMux()
	run := createTestRun(t, mux)

	uploadMarks(t, mux, run.ID, run.Segments[0].ID, []float64{0.5, 1.5, 2.5, 3.5, 4.5})

	rec := doJSON(t, mux, http.MethodGet, "/api/run?id="+run.ID, nil)
	got := &sprint.Run{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), got))
	assert.Equal(t, sprint.SegmentCalibrated, got.Segments[0].State)
	assert.Equal(t, sprint.SegmentPending, got.Segments[1].State)
	assert.Len(t, got.Segments[0].Marks, 5)
}

func TestSegmentMarksErrors(t *testing.T) {
	mux := newTestServer(t).ServeMux()
	run := createTestRun(t, mux)

	rec := doJSON(t, mux, http.MethodPost,
		"/api/segment_marks?run_id="+run.ID+"&segment_id=missing",
		segmentMarksRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// no marks
	rec = doJSON(t, mux, http.MethodPost,
		fmt.Sprintf("/api/segment_marks?run_id=%s&segment_id=%s", run.ID, run.Segments[0].ID),
		segmentMarksRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// degenerate calibration points
	rec = doJSON(t, mux, http.MethodPost,
		fmt.Sprintf("/api/segment_marks?run_id=%s&segment_id=%s", run.ID, run.Segments[0].ID),
		segmentMarksRequest{
			Calibration: laneCalibrationRequest{LaneWidthM: 2, SecondMarkerM: 5},
			Marks:       []sprint.ContactMark{{ContactFrame: 0, ToeOffFrame: 24}},
		})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeEndToEnd(t *testing.T) {
	mux := newTestServer(t).ServeMux()
	run := createTestRun(t, mux)

	uploadMarks(t, mux, run.ID, run.Segments[0].ID, []float64{0.5, 1.5, 2.5, 3.5, 4.5})
	uploadMarks(t, mux, run.ID, run.Segments[1].ID, []float64{0.3, 1.3, 2.3, 3.3, 4.3})

	rec := doJSON(t, mux, http.MethodPost, "/api/analyze?run_id="+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, sprint.RunComplete, resp.Run.Status)
	// constant speed cannot support a force-velocity fit
	assert.Equal(t, fvp.StatusInsufficientData, resp.ProfileStatus)
	assert.NotEmpty(t, resp.ProfileAbsentReason)

	// merged result is persisted and retrievable
	rec = doJSON(t, mux, http.MethodGet, "/api/result?run_id="+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wrapped struct {
		Units  string        `json:"units"`
		Result *merge.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wrapped))
	assert.Equal(t, units.MPS, wrapped.Units)
	assert.Equal(t, 8, wrapped.Result.Summary.TotalSteps)
	assert.Equal(t, 0, wrapped.Result.Summary.InterpolatedSteps)

	// profile is persisted with its absence reason
	rec = doJSON(t, mux, http.MethodGet, "/api/profile?run_id="+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile fvp.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, fvp.StatusInsufficientData, profile.Status)

	// speed chart renders, profile chart reports the unfitted profile
	rec = doJSON(t, mux, http.MethodGet, "/debug/speed_chart?run_id="+run.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "echarts")

	rec = doJSON(t, mux, http.MethodGet, "/debug/fvp_chart?run_id="+run.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAnalyzeRejectsUncalibratedRun(t *testing.T) {
	mux := newTestServer(t).ServeMux()
	run := createTestRun(t, mux)

	// only one segment has marks; the other is still pending without
	// calibration, which is a data error rather than a server fault
	uploadMarks(t, mux, run.ID, run.Segments[0].ID, []float64{0.5, 1.5, 2.5, 3.5, 4.5})

	rec := doJSON(t, mux, http.MethodPost, "/api/analyze?run_id="+run.ID, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	// the failed status was recorded
	rec = doJSON(t, mux, http.MethodGet, "/api/run?id="+run.ID, nil)
	got := &sprint.Run{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), got))
	assert.Equal(t, sprint.RunError, got.Status)
}

func TestResultNotFound(t *testing.T) {
	mux := newTestServer(t).ServeMux()
	rec := doJSON(t, mux, http.MethodGet, "/api/result?run_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, mux, http.MethodGet, "/api/profile?run_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnitConversionInResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_units_test.db")
	database, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.MigrateUp("../../db/migrations"))
	server := NewServer(database, pipeline.New(pipeline.Config{}), units.KMPH)
	mux := server.ServeMux()

	run := createTestRun(t, mux)
	uploadMarks(t, mux, run.ID, run.Segments[0].ID, []float64{0.5, 1.5, 2.5, 3.5, 4.5})
	uploadMarks(t, mux, run.ID, run.Segments[1].ID, []float64{0.3, 1.3, 2.3, 3.3, 4.3})

	rec := doJSON(t, mux, http.MethodPost, "/api/analyze?run_id="+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, mux, http.MethodGet, "/api/result?run_id="+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wrapped struct {
		Units  string        `json:"units"`
		Result *merge.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wrapped))
	assert.Equal(t, units.KMPH, wrapped.Units)
	// 4 m/s steps read as 14.4 km/h
	assert.InDelta(t, 14.4, wrapped.Result.Steps[0].Speed, 0.01)
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
