package bp

import (
	"bytes"
	"fmt"
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goptt/pkg/config"
	"github.com/itohio/goptt/pkg/ring"
	"github.com/itohio/goptt/pkg/synth"
)

// recording feeds a synthetic waveform into a monitor one second at a time.
type recording struct {
	m       *Monitor
	s       synth.Sampler
	t       float64
	ecgOnly bool
}

func newRecording(m *Monitor, hr, ptt float64) *recording {
	return &recording{
		m: m,
		s: synth.Sampler{
			Waveform: synth.Waveform{
				HeartRate:    hr,
				PTT:          ptt,
				ECGAmplitude: 1,
				PPGAmplitude: 2000,
				PPGBaseline:  50000,
				Noise:        0.002,
			},
			ECGRate: 200,
			PPGRate: 100,
		},
	}
}

func (r *recording) second() {
	r.t += 1000
	r.s.Until(r.t, func(ev synth.Event) {
		switch ev.Kind {
		case synth.ECG:
			r.m.AddECGSample(float32(ev.Value), ev.Timestamp)
		case synth.PPG:
			if !r.ecgOnly {
				r.m.AddPPGSample(float32(ev.Value), float32(ev.Value)*0.8, ev.Timestamp)
			}
		}
	})
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m := New(config.Default(), nil)
	require.NoError(t, m.Begin())
	return m
}

func assertFinite(t *testing.T, data BloodPressureData) {
	t.Helper()
	for name, v := range map[string]float32{
		"systolic":  data.Systolic,
		"diastolic": data.Diastolic,
		"map":       data.MeanArterialPressure,
		"ptt":       data.PulseTransitTime,
		"pwv":       data.PulseWaveVelocity,
		"hrv":       data.HeartRateVariability,
		"hr":        data.HeartRate,
	} {
		assert.False(t, math32.IsNaN(v) || math32.IsInf(v, 0), "%s is %v", name, v)
	}
}

func TestMonitor_ConvergesToSyntheticPTT(t *testing.T) {
	m := newTestMonitor(t)
	rec := newRecording(m, 70, 180)

	for i := 0; i < 30; i++ {
		rec.second()
		data := m.CalculateBloodPressure()
		assertFinite(t, data)
		if data.ValidReading {
			assert.Greater(t, data.Systolic, data.Diastolic)
		}
	}

	data := m.CalculateBloodPressure()
	require.True(t, data.ValidReading, "quality %d, correlation %d", data.SignalQuality, data.CorrelationCoeff)
	assert.InDelta(t, 180, data.PulseTransitTime, 10)
	assert.InDelta(t, 70, data.HeartRate, 3)
	assert.Greater(t, data.Systolic, data.Diastolic)
	assert.GreaterOrEqual(t, data.SignalQuality, 60)
	assert.GreaterOrEqual(t, data.CorrelationCoeff, 20)
	assert.True(t, data.RhythmRegular)
	assert.True(t, data.NeedsCalibration)
	assert.InDelta(t, 0.4*1.7/0.18, data.PulseWaveVelocity, 0.5)
	assert.Equal(t, uint32(29995), data.Timestamp)

	assert.True(t, m.IsReadyForMeasurement())
	assert.Equal(t, Active, m.State())

	st := m.Stats()
	assert.Zero(t, st.DroppedECG)
	assert.Zero(t, st.DroppedPPG)
	assert.Zero(t, st.OverrunsECG)
	assert.Zero(t, st.OverrunsPPG)
	assert.GreaterOrEqual(t, st.MatchedBeats, uint64(20))
	assert.True(t, st.ECGDetectorOn)
	assert.True(t, st.PPGDetectorOn)
}

func TestMonitor_TracksPTTChange(t *testing.T) {
	for _, ptt := range []float64{120, 250} {
		m := newTestMonitor(t)
		rec := newRecording(m, 75, ptt)
		for i := 0; i < 25; i++ {
			rec.second()
			m.Process()
		}
		data := m.CalculateBloodPressure()
		assert.InDelta(t, ptt, data.PulseTransitTime, 10, "ptt %v", ptt)
	}
}

func TestMonitor_ECGOnlyIsInvalid(t *testing.T) {
	m := newTestMonitor(t)
	rec := newRecording(m, 70, 180)
	rec.ecgOnly = true

	for i := 0; i < 20; i++ {
		rec.second()
		m.Process()
	}
	data := m.CalculateBloodPressure()

	assert.False(t, data.ValidReading)
	assert.Less(t, data.SignalQuality, 60)
	assert.Zero(t, data.CorrelationCoeff)
	assert.Zero(t, data.PulseTransitTime)
	assertFinite(t, data)
	assert.Equal(t, Collecting, m.State())
	assert.False(t, m.IsReadyForMeasurement())

	st := m.Stats()
	assert.Greater(t, st.RPeaks, uint64(10))
	assert.Greater(t, st.MissedBeats, uint64(5))
	assert.Zero(t, st.MatchedBeats)

	assert.False(t, math32.IsNaN(m.EstimateArterialStiffness()))
	assert.False(t, math32.IsNaN(m.CalculateCardiacOutput()))
}

func TestMonitor_DropsSamplesBeforeBegin(t *testing.T) {
	m := New(config.Default(), nil)

	m.AddECGSample(0.5, 10)
	m.AddPPGSample(1000, 1000, 10)

	assert.Equal(t, uint64(2), m.Stats().DroppedEarly)
	assert.Equal(t, Uninitialized, m.State())

	require.NoError(t, m.Begin())
	assert.Equal(t, Uninitialized, m.State())
	m.AddECGSample(0.5, 20)
	assert.Equal(t, Collecting, m.State())
}

func TestMonitor_DropsInvalidSamples(t *testing.T) {
	m := newTestMonitor(t)

	m.AddECGSample(float32(math.NaN()), 1)
	m.AddECGSample(float32(math.Inf(1)), 2)
	m.AddECGSample(100, 3)
	m.AddECGSample(0.1, 4)
	m.AddPPGSample(-1, 100, 5)
	m.AddPPGSample(1000, float32(math.NaN()), 6)
	m.AddPPGSample(1000, 1000, 7)
	m.Process()

	st := m.Stats()
	assert.Equal(t, uint64(3), st.DroppedECG)
	assert.Equal(t, uint64(1), st.DroppedPPG)
	assert.Equal(t, uint64(1), st.DroppedRed)
	assert.Equal(t, uint64(1), st.ProcessedECG)
	assert.Equal(t, uint64(2), st.ProcessedPPG)
}

func TestMonitor_ResetKeepsCalibration(t *testing.T) {
	m := newTestMonitor(t)
	rec := newRecording(m, 70, 180)
	for i := 0; i < 20; i++ {
		rec.second()
		m.Process()
	}

	require.NoError(t, m.AddCalibrationPoint(125, 82))
	coef := m.Coefficients()
	assert.Equal(t, OffsetOnly, m.Calibration().Mode)

	m.Reset()

	data := m.CalculateBloodPressure()
	assert.False(t, data.ValidReading)
	assert.Zero(t, data.Systolic)
	assert.Zero(t, data.PulseTransitTime)
	assert.Equal(t, coef, m.Coefficients())
	assert.Equal(t, 1, m.CalibrationCount())
	assert.Equal(t, Uninitialized, m.State())
	assert.False(t, m.IsReadyForMeasurement())
	assert.Zero(t, m.Stats().RPeaks)
}

func TestMonitor_InvalidReadingKeepsLastGoodValues(t *testing.T) {
	m := newTestMonitor(t)
	rec := newRecording(m, 70, 180)
	for i := 0; i < 25; i++ {
		rec.second()
		m.Process()
	}
	good := m.CalculateBloodPressure()
	require.True(t, good.ValidReading)

	// PPG disappears: matching fails and quality drops.
	rec.ecgOnly = true
	for i := 0; i < 25; i++ {
		rec.second()
		m.Process()
	}
	data := m.CalculateBloodPressure()

	assert.False(t, data.ValidReading)
	assert.Equal(t, good.Systolic, data.Systolic)
	assert.Equal(t, good.Diastolic, data.Diastolic)
	assert.Equal(t, good.PulseTransitTime, data.PulseTransitTime)
	assert.Greater(t, data.Timestamp, good.Timestamp)
}

func TestMonitor_AddCalibrationPointWithoutPTT(t *testing.T) {
	m := newTestMonitor(t)
	err := m.AddCalibrationPoint(120, 80)
	assert.ErrorIs(t, err, ErrNoPTT)
	assert.Zero(t, m.CalibrationCount())
}

func TestMonitor_AutoCalibrationFollowsProfile(t *testing.T) {
	m := newTestMonitor(t)
	before := m.Coefficients()

	m.SetPersonalParameters(65, 185, false)
	require.True(t, m.PerformAutoCalibration())

	after := m.Coefficients()
	assert.InDelta(t, before.SystolicSlope*1.1, after.SystolicSlope, 1e-4)
	assert.InDelta(t, before.SystolicIntercept-5+3, after.SystolicIntercept, 1e-4)
	assert.True(t, m.Calibration().Auto)

	m.SetPersonalParameters(30, 170, true)
	assert.Equal(t, before, m.Coefficients())
}

func TestMonitor_FixedThresholds(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Adaptive = false
	cfg.Engine.ECGThreshold = 0.5
	cfg.Engine.PPGSlope = 8
	m := New(cfg, nil)
	require.NoError(t, m.Begin())

	st := m.Stats()
	assert.True(t, st.ECGDetectorOn)
	assert.InDelta(t, 0.5, st.ECGThreshold, 1e-6)

	rec := newRecording(m, 70, 180)
	for i := 0; i < 10; i++ {
		rec.second()
		m.Process()
	}
	st = m.Stats()
	assert.InDelta(t, 0.5, st.ECGThreshold, 1e-6, "fixed threshold must not adapt")
	assert.GreaterOrEqual(t, st.RPeaks, uint64(9))
	assert.GreaterOrEqual(t, st.MatchedBeats, uint64(8))
}

func TestMonitor_SnapshotAndDiagnostics(t *testing.T) {
	m := newTestMonitor(t)
	rec := newRecording(m, 70, 180)
	for i := 0; i < 5; i++ {
		rec.second()
	}
	m.CalculateBloodPressure()

	var snap Snapshot
	m.Snapshot(&snap)
	assert.Len(t, snap.ECG, 1000)
	assert.Len(t, snap.PPG, 500)
	assert.NotEmpty(t, snap.RPeaks)
	assert.NotEmpty(t, snap.Onsets)

	var buf bytes.Buffer
	require.NoError(t, m.PrintDiagnostics(&buf))
	out := buf.String()
	assert.Contains(t, out, "State:")
	assert.Contains(t, out, "Calibration:")
	assert.Contains(t, out, "Vascular health:")
	assert.Equal(t, out, m.SystemStatus())
}

func TestMonitor_SelfTestRejectsBadRates(t *testing.T) {
	cfg := config.Default()
	m := New(cfg, nil)
	m.cfg.Engine.PPGRate = 0

	err := m.Begin()
	assert.ErrorIs(t, err, ErrSelfTest)
	assert.Equal(t, Uninitialized, m.State())
}

func TestMonitor_ConfigurationSetters(t *testing.T) {
	m := newTestMonitor(t)
	assert.False(t, m.Stats().ECGDetectorOn, "adaptive detectors wait for the first block")

	m.SetAdaptiveMode(false)
	st := m.Stats()
	assert.True(t, st.ECGDetectorOn)
	assert.True(t, st.PPGDetectorOn)
	assert.InDelta(t, 0.5, st.ECGThreshold, 1e-6)
	assert.InDelta(t, 5, st.PPGThreshold, 1e-6)

	history := m.odet.history.Cap()
	m.SetSampleRates(250, 0)
	assert.Equal(t, 250, m.cfg.Engine.ECGRate)
	assert.Equal(t, 100, m.cfg.Engine.PPGRate, "non-positive rate is ignored")

	m.SetSampleRates(0, config.MaxPPGRate)
	assert.Equal(t, config.MaxPPGRate, m.cfg.Engine.PPGRate)
	m.SetSampleRates(0, config.MaxPPGRate+1)
	assert.Equal(t, config.MaxPPGRate, m.cfg.Engine.PPGRate, "rate above the maximum is ignored")
	assert.Equal(t, history, m.odet.history.Cap(), "onset history is not reallocated")

	m.SetPersonalParameters(45, 180, false)
	assert.Equal(t, UserProfile{Age: 45, HeightCm: 180, IsMale: false}, m.Profile())
}

// runLagged feeds 30 s of a 70 BPM / 180 ms recording with PPG delivered
// lag ms behind ECG, processing after every second.
func runLagged(t *testing.T, lag float64) (BloodPressureData, Stats) {
	t.Helper()
	m := newTestMonitor(t)
	ecg := newRecording(m, 70, 180).s
	ppg := ecg

	for sec := 1; sec <= 30; sec++ {
		end := float64(sec * 1000)
		ecg.Until(end, func(ev synth.Event) {
			if ev.Kind == synth.ECG {
				m.AddECGSample(float32(ev.Value), ev.Timestamp)
			}
		})
		if end > lag {
			ppg.Until(end-lag, func(ev synth.Event) {
				if ev.Kind == synth.PPG {
					m.AddPPGSample(float32(ev.Value), float32(ev.Value)*0.8, ev.Timestamp)
				}
			})
		}
		m.Process()
	}
	return m.CalculateBloodPressure(), m.Stats()
}

func TestMonitor_MatchesLatePPG(t *testing.T) {
	_, base := runLagged(t, 0)
	require.GreaterOrEqual(t, base.MatchedBeats, uint64(20))

	for _, lag := range []float64{500, 1300, 2000, 4000} {
		t.Run(fmt.Sprintf("lag %.0f ms", lag), func(t *testing.T) {
			data, st := runLagged(t, lag)

			require.True(t, data.ValidReading, "quality %d, correlation %d", data.SignalQuality, data.CorrelationCoeff)
			assert.InDelta(t, 180, data.PulseTransitTime, 10)
			assert.LessOrEqual(t, st.MissedBeats, base.MissedBeats+1)
			// Beats whose PPG has not arrived yet are still pending.
			assert.GreaterOrEqual(t, st.MatchedBeats+uint64(lag/500)+2, base.MatchedBeats)
		})
	}
}

func TestMonitor_StalePPGReleasesPeaks(t *testing.T) {
	m := newTestMonitor(t)
	rec := newRecording(m, 70, 180)
	for i := 0; i < 10; i++ {
		rec.second()
		m.Process()
	}
	missed := m.Stats().MissedBeats

	rec.ecgOnly = true
	for i := 0; i < 3; i++ {
		rec.second()
		m.Process()
	}
	assert.Equal(t, missed, m.Stats().MissedBeats, "PPG within the allowed skew may still arrive")

	for i := 0; i < 5; i++ {
		rec.second()
		m.Process()
	}
	assert.Greater(t, m.Stats().MissedBeats, missed)
}

// emptyThenData mimics a ring whose first read lost every copied slot.
type emptyThenData struct {
	reads int
}

func (r *emptyThenData) Written() uint64 { return 12 }

func (r *emptyThenData) Read(from uint64, dst []ring.Sample) ([]ring.Sample, uint64, uint64) {
	r.reads++
	if r.reads == 1 {
		return dst[:0], from + 4, 4
	}
	n := copy(dst, []ring.Sample{{Value: 1, Timestamp: 40}, {Value: 2, Timestamp: 45}})
	return dst[:n], 12, 0
}

func TestDrain_ContinuesPastEmptyRead(t *testing.T) {
	r := &emptyThenData{}
	next := uint64(6)
	var got []ring.Sample

	lost := drain(r, &next, make([]ring.Sample, 4), func(s ring.Sample) {
		got = append(got, s)
	})

	assert.Equal(t, uint64(4), lost)
	assert.Equal(t, uint64(12), next)
	assert.Equal(t, 2, r.reads)
	assert.Len(t, got, 2)
}

func TestDrain_ReadsPastBufferSize(t *testing.T) {
	r := ring.NewSamples(16)
	for i := 0; i < 10; i++ {
		r.Push(float32(i), uint32(i*5))
	}
	next := uint64(0)
	n := 0

	lost := drain(r, &next, make([]ring.Sample, 3), func(ring.Sample) { n++ })

	assert.Zero(t, lost)
	assert.Equal(t, 10, n)
	assert.Equal(t, uint64(10), next)
}
