package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itohio/goptt/pkg/bp"
)

// Handler serves the debug HTTP surface of one engine.
type Handler struct {
	engine *bp.Monitor
}

// NewHandler creates a new handler.
func NewHandler(engine *bp.Monitor) *Handler {
	return &Handler{engine: engine}
}

// Router wires the routes. gatherer backs /metrics.
func (h *Handler) Router(gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/diagnostics", h.DiagnosticsHandler).Methods(http.MethodGet)
	router.HandleFunc("/calibration", h.AddCalibrationHandler).Methods(http.MethodPost)
	router.HandleFunc("/calibration", h.ClearCalibrationHandler).Methods(http.MethodDelete)
	router.HandleFunc("/reset", h.ResetHandler).Methods(http.MethodPost)
	router.HandleFunc("/profile", h.ProfileHandler).Methods(http.MethodPut)

	router.Use(loggingMiddleware)
	return router
}

// Status is the /status response.
type Status struct {
	State        string                `json:"state"`
	Ready        bool                  `json:"ready"`
	Reading      Reading               `json:"reading"`
	Category     string                `json:"category,omitempty"`
	Calibration  string                `json:"calibration"`
	Coefficients bp.Coefficients       `json:"coefficients"`
	Points       []bp.CalibrationPoint `json:"points"`
	Profile      bp.UserProfile        `json:"profile"`
	Stats        bp.Stats              `json:"stats"`
}

// Reading is the JSON form of bp.BloodPressureData.
type Reading struct {
	Systolic             float32 `json:"systolic"`
	Diastolic            float32 `json:"diastolic"`
	MeanArterialPressure float32 `json:"map"`
	PulseTransitTime     float32 `json:"ptt_ms"`
	PulseWaveVelocity    float32 `json:"pwv"`
	HeartRateVariability float32 `json:"hrv_ms"`
	HeartRate            float32 `json:"heart_rate"`
	ValidReading         bool    `json:"valid"`
	NeedsCalibration     bool    `json:"needs_calibration"`
	Timestamp            uint32  `json:"timestamp"`
	SignalQuality        int     `json:"signal_quality"`
	CorrelationCoeff     int     `json:"correlation"`
	RhythmRegular        bool    `json:"rhythm_regular"`
}

func newReading(d bp.BloodPressureData) Reading {
	return Reading{
		Systolic:             d.Systolic,
		Diastolic:            d.Diastolic,
		MeanArterialPressure: d.MeanArterialPressure,
		PulseTransitTime:     d.PulseTransitTime,
		PulseWaveVelocity:    d.PulseWaveVelocity,
		HeartRateVariability: d.HeartRateVariability,
		HeartRate:            d.HeartRate,
		ValidReading:         d.ValidReading,
		NeedsCalibration:     d.NeedsCalibration,
		Timestamp:            d.Timestamp,
		SignalQuality:        d.SignalQuality,
		CorrelationCoeff:     d.CorrelationCoeff,
		RhythmRegular:        d.RhythmRegular,
	}
}

// StatusHandler handles GET /status with the last reading and engine state.
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	last := h.engine.LastReading()
	st := Status{
		State:        h.engine.State().String(),
		Ready:        h.engine.IsReadyForMeasurement(),
		Reading:      newReading(last),
		Calibration:  h.engine.Calibration().String(),
		Coefficients: h.engine.Coefficients(),
		Points:       h.engine.CalibrationPoints(),
		Profile:      h.engine.Profile(),
		Stats:        h.engine.Stats(),
	}
	if last.Systolic > 0 {
		st.Category = bp.InterpretReading(last.Systolic, last.Diastolic).String()
	}
	respondJSON(w, st, http.StatusOK)
}

// DiagnosticsHandler handles GET /diagnostics with the text dump.
func (h *Handler) DiagnosticsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := h.engine.PrintDiagnostics(w); err != nil {
		slog.Error("writing diagnostics", "err", err)
	}
}

type calibrationRequest struct {
	Systolic  float32 `json:"systolic"`
	Diastolic float32 `json:"diastolic"`
}

// AddCalibrationHandler handles POST /calibration with a cuff reading taken now.
func (h *Handler) AddCalibrationHandler(w http.ResponseWriter, r *http.Request) {
	var req calibrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.engine.AddCalibrationPoint(req.Systolic, req.Diastolic); err != nil {
		respondError(w, err.Error(), calibrationStatus(err))
		return
	}

	slog.Info("calibration point added", "systolic", req.Systolic, "diastolic", req.Diastolic)
	respondJSON(w, map[string]any{
		"calibration":  h.engine.Calibration().String(),
		"coefficients": h.engine.Coefficients(),
	}, http.StatusCreated)
}

// calibrationStatus maps engine errors to HTTP status codes.
func calibrationStatus(err error) int {
	switch {
	case errors.Is(err, bp.ErrInvalidReference):
		return http.StatusBadRequest
	case errors.Is(err, bp.ErrNoPTT), errors.Is(err, bp.ErrCalibrationFull):
		return http.StatusConflict
	case errors.Is(err, bp.ErrDegenerateCalibration):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// ClearCalibrationHandler handles DELETE /calibration.
func (h *Handler) ClearCalibrationHandler(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearCalibration()
	slog.Info("calibration cleared")
	w.WriteHeader(http.StatusNoContent)
}

// ResetHandler handles POST /reset. Calibration is kept.
func (h *Handler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	h.engine.Reset()
	slog.Info("engine reset")
	w.WriteHeader(http.StatusNoContent)
}

type profileRequest struct {
	Age           int     `json:"age"`
	HeightCm      float32 `json:"height_cm"`
	IsMale        bool    `json:"is_male"`
	AutoCalibrate bool    `json:"auto_calibrate"`
}

// ProfileHandler handles PUT /profile.
func (h *Handler) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Age <= 0 || req.Age > 120 || req.HeightCm <= 0 || req.HeightCm > 250 {
		respondError(w, "age and height_cm must be positive and plausible", http.StatusBadRequest)
		return
	}

	h.engine.SetPersonalParameters(req.Age, req.HeightCm, req.IsMale)
	auto := h.engine.Calibration().Auto
	if req.AutoCalibrate && !auto {
		auto = h.engine.PerformAutoCalibration()
	}

	respondJSON(w, map[string]any{
		"profile":     h.engine.Profile(),
		"calibration": h.engine.Calibration().String(),
		"auto":        auto,
	}, http.StatusOK)
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "err", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
