package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goptt/pkg/bp"
	"github.com/itohio/goptt/pkg/config"
	"github.com/itohio/goptt/pkg/metrics"
	"github.com/itohio/goptt/pkg/synth"
)

type testServer struct {
	engine *bp.Monitor
	reg    *prometheus.Registry
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	engine := bp.New(config.Default(), nil)
	require.NoError(t, engine.Begin())
	reg := prometheus.NewRegistry()
	return &testServer{
		engine: engine,
		reg:    reg,
		router: NewHandler(engine).Router(reg),
	}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// record feeds seconds of a clean 70 BPM waveform with a 180 ms PTT.
func (s *testServer) record(seconds int) {
	sampler := synth.Sampler{
		Waveform: synth.Waveform{
			HeartRate:    70,
			PTT:          180,
			ECGAmplitude: 1,
			PPGAmplitude: 2000,
			PPGBaseline:  50000,
			Noise:        0.002,
		},
		ECGRate: 200,
		PPGRate: 100,
	}
	for i := 1; i <= seconds; i++ {
		sampler.Until(float64(i*1000), func(ev synth.Event) {
			switch ev.Kind {
			case synth.ECG:
				s.engine.AddECGSample(float32(ev.Value), ev.Timestamp)
			case synth.PPG:
				s.engine.AddPPGSample(float32(ev.Value), float32(ev.Value)*0.8, ev.Timestamp)
			}
		})
		s.engine.Process()
	}
}

func TestStatus_Fresh(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "uninitialized", st.State)
	assert.Equal(t, "default", st.Calibration)
	assert.Empty(t, st.Category)
	assert.False(t, st.Ready)
	assert.Equal(t, 30, st.Profile.Age)
}

func TestStatus_AfterRecording(t *testing.T) {
	s := newTestServer(t)
	s.record(30)
	d := s.engine.CalculateBloodPressure()
	require.True(t, d.ValidReading)

	rec := s.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "active", st.State)
	assert.True(t, st.Reading.ValidReading)
	assert.InDelta(t, 180, st.Reading.PulseTransitTime, 10)
	assert.NotEmpty(t, st.Category)
	assert.Positive(t, st.Stats.MatchedBeats)
}

func TestCalibration(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/calibration", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/calibration", `{"systolic":120,"diastolic":80}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "no PTT yet")
	assert.Contains(t, rec.Body.String(), "no pulse transit time")

	s.record(20)
	rec = s.do(http.MethodPost, "/calibration", `{"systolic":80,"diastolic":90}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/calibration", `{"systolic":125,"diastolic":82}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, s.engine.CalibrationCount())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "offset-only", resp["calibration"])

	rec = s.do(http.MethodDelete, "/calibration", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, s.engine.CalibrationCount())
}

func TestCalibrationStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{bp.ErrInvalidReference, http.StatusBadRequest},
		{bp.ErrNoPTT, http.StatusConflict},
		{bp.ErrCalibrationFull, http.StatusConflict},
		{bp.ErrDegenerateCalibration, http.StatusUnprocessableEntity},
		{fmt.Errorf("point 120/80: %w", bp.ErrCalibrationFull), http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calibrationStatus(tt.err), "%v", tt.err)
	}
}

func TestReset(t *testing.T) {
	s := newTestServer(t)
	s.record(5)
	require.Positive(t, s.engine.Stats().ProcessedECG)

	rec := s.do(http.MethodPost, "/reset", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, s.engine.Stats().ProcessedECG)
}

func TestProfile(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPut, "/profile", `{"age":65,"height_cm":185,"is_male":false,"auto_calibrate":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, bp.UserProfile{Age: 65, HeightCm: 185, IsMale: false}, s.engine.Profile())
	assert.True(t, s.engine.Calibration().Auto)

	rec = s.do(http.MethodPut, "/profile", `{"age":0,"height_cm":185}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 65, s.engine.Profile().Age)

	rec = s.do(http.MethodPut, "/profile", `[]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiagnostics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/diagnostics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rec.Body.String(), "State:")
	assert.Contains(t, rec.Body.String(), "Calibration:")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	m := metrics.New(s.reg)
	s.record(5)
	estimateOnce(s.engine, m)

	rec := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ptt_samples_processed_total")
	assert.Contains(t, body, "ptt_calculation_duration_seconds_count 1")
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/reset", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
