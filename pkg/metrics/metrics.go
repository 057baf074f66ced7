// Package metrics exports engine readings and counters to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/itohio/goptt/pkg/bp"
)

const namespace = "ptt"

// Metrics holds the collectors of one engine.
type Metrics struct {
	Systolic      prometheus.Gauge
	Diastolic     prometheus.Gauge
	MAP           prometheus.Gauge
	PTT           prometheus.Gauge
	PWV           prometheus.Gauge
	HRV           prometheus.Gauge
	HeartRate     prometheus.Gauge
	Quality       prometheus.Gauge
	Correlation   prometheus.Gauge
	RhythmRegular prometheus.Gauge
	NeedsCal      prometheus.Gauge
	Valid         prometheus.Gauge
	Thresholds    *prometheus.GaugeVec
	Clipping      *prometheus.GaugeVec
	CalPoints     prometheus.Gauge
	State         *prometheus.GaugeVec

	Dropped  *prometheus.CounterVec
	Overruns *prometheus.CounterVec
	Samples  *prometheus.CounterVec
	Beats    *prometheus.CounterVec
	Readings *prometheus.CounterVec

	CalculationLatency prometheus.Histogram

	mu   sync.Mutex
	prev bp.Stats
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	return &Metrics{
		Systolic:      gauge("systolic_mmhg", "Systolic pressure of the last reading"),
		Diastolic:     gauge("diastolic_mmhg", "Diastolic pressure of the last reading"),
		MAP:           gauge("mean_arterial_pressure_mmhg", "Mean arterial pressure of the last reading"),
		PTT:           gauge("pulse_transit_time_ms", "Rolling mean pulse transit time"),
		PWV:           gauge("pulse_wave_velocity_mps", "Pulse wave velocity"),
		HRV:           gauge("hrv_rmssd_ms", "Heart rate variability (RMSSD); 0 when unknown"),
		HeartRate:     gauge("heart_rate_bpm", "Heart rate"),
		Quality:       gauge("signal_quality", "Signal quality score 0-100"),
		Correlation:   gauge("correlation", "ECG/PPG correlation -100..100"),
		RhythmRegular: gauge("rhythm_regular", "1 when the R-R rhythm is regular"),
		NeedsCal:      gauge("needs_calibration", "1 when fewer than two calibration points are stored"),
		Valid:         gauge("valid_reading", "1 when the last reading passed the quality gate"),
		Thresholds: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detector_threshold",
			Help:      "Current detector threshold (ECG in mV, PPG slope in counts/ms)",
		}, []string{"channel"}),
		Clipping: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clipping_ratio",
			Help:      "Fraction of clipped samples in the last adaptation block",
		}, []string{"channel"}),
		CalPoints: gauge("calibration_points", "Stored calibration points"),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_state",
			Help:      "1 for the current engine state",
		}, []string{"state"}),

		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Samples dropped on ingestion",
		}, []string{"reason"}),
		Overruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ring_overruns_total",
			Help:      "Samples overwritten before processing",
		}, []string{"channel"}),
		Samples: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_processed_total",
			Help:      "Samples processed by the detectors",
		}, []string{"channel"}),
		Beats: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beats_total",
			Help:      "Detected beat events",
		}, []string{"event"}),
		Readings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Blood pressure calculations",
		}, []string{"valid"}),

		CalculationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calculation_duration_seconds",
			Help:      "CalculateBloodPressure latency in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05},
		}),
	}
}

var states = []bp.State{bp.Uninitialized, bp.Collecting, bp.Active, bp.Degraded}

// Update publishes one reading and the engine counters.
func (m *Metrics) Update(data bp.BloodPressureData, st bp.Stats, state bp.State) {
	m.Systolic.Set(float64(data.Systolic))
	m.Diastolic.Set(float64(data.Diastolic))
	m.MAP.Set(float64(data.MeanArterialPressure))
	m.PTT.Set(float64(data.PulseTransitTime))
	m.PWV.Set(float64(data.PulseWaveVelocity))
	m.HRV.Set(float64(data.HeartRateVariability))
	m.HeartRate.Set(float64(data.HeartRate))
	m.Quality.Set(float64(data.SignalQuality))
	m.Correlation.Set(float64(data.CorrelationCoeff))
	m.RhythmRegular.Set(boolValue(data.RhythmRegular))
	m.NeedsCal.Set(boolValue(data.NeedsCalibration))
	m.Valid.Set(boolValue(data.ValidReading))

	m.Thresholds.WithLabelValues("ecg").Set(float64(st.ECGThreshold))
	m.Thresholds.WithLabelValues("ppg").Set(float64(st.PPGThreshold))
	m.Clipping.WithLabelValues("ecg").Set(float64(st.ECGClipping))
	m.Clipping.WithLabelValues("ppg").Set(float64(st.PPGClipping))
	m.CalPoints.Set(float64(st.Calibration.Points))
	for _, s := range states {
		m.State.WithLabelValues(s.String()).Set(boolValue(s == state))
	}

	if data.ValidReading {
		m.Readings.WithLabelValues("true").Inc()
	} else {
		m.Readings.WithLabelValues("false").Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.prev
	m.prev = st

	m.Dropped.WithLabelValues("early").Add(delta(prev.DroppedEarly, st.DroppedEarly))
	m.Dropped.WithLabelValues("ecg").Add(delta(prev.DroppedECG, st.DroppedECG))
	m.Dropped.WithLabelValues("ppg").Add(delta(prev.DroppedPPG, st.DroppedPPG))
	m.Dropped.WithLabelValues("red").Add(delta(prev.DroppedRed, st.DroppedRed))
	m.Overruns.WithLabelValues("ecg").Add(delta(prev.OverrunsECG, st.OverrunsECG))
	m.Overruns.WithLabelValues("ppg").Add(delta(prev.OverrunsPPG, st.OverrunsPPG))
	m.Samples.WithLabelValues("ecg").Add(delta(prev.ProcessedECG, st.ProcessedECG))
	m.Samples.WithLabelValues("ppg").Add(delta(prev.ProcessedPPG, st.ProcessedPPG))
	m.Beats.WithLabelValues("r_peak").Add(delta(prev.RPeaks, st.RPeaks))
	m.Beats.WithLabelValues("onset").Add(delta(prev.Onsets, st.Onsets))
	m.Beats.WithLabelValues("matched").Add(delta(prev.MatchedBeats, st.MatchedBeats))
	m.Beats.WithLabelValues("missed").Add(delta(prev.MissedBeats, st.MissedBeats))
}

// ObserveCalculation records the latency of one calculation.
func (m *Metrics) ObserveCalculation(d time.Duration) {
	m.CalculationLatency.Observe(d.Seconds())
}

// delta returns the counter increase. Engine counters restart at zero on
// Reset; the new value then counts as the increase.
func delta(prev, cur uint64) float64 {
	if cur < prev {
		return float64(cur)
	}
	return float64(cur - prev)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
