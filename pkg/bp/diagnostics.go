package bp

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/itohio/goptt/pkg/ring"
	"github.com/itohio/goptt/pkg/synth"
)

const selfTestSeconds = 8

// SelfTest checks the sample ring and runs both detectors and the matcher on
// a synthetic recording using a private engine with the same configuration.
func (m *Monitor) SelfTest() error {
	if err := ringSelfTest(); err != nil {
		return fmt.Errorf("%w: ring: %v", ErrSelfTest, err)
	}

	cfg := m.cfg
	e := &cfg.Engine
	if e.ECGRate <= 0 || e.PPGRate <= 0 {
		return fmt.Errorf("%w: sample rates %d/%d Hz", ErrSelfTest, e.ECGRate, e.PPGRate)
	}
	e.Adaptive = true

	probe := New(&cfg, nil)
	probe.began.Store(true)

	span := e.PPGRange[1] - e.PPGRange[0]
	s := synth.Sampler{
		Waveform: synth.Waveform{
			HeartRate:    72,
			PTT:          200,
			ECGAmplitude: min(1, e.ECGRange[1]/2),
			PPGAmplitude: span * 0.02,
			PPGBaseline:  e.PPGRange[0] + span*0.25,
		},
		ECGRate: e.ECGRate,
		PPGRate: e.PPGRate,
	}
	for sec := 1; sec <= selfTestSeconds; sec++ {
		s.Until(float64(sec*1000), func(ev synth.Event) {
			switch ev.Kind {
			case synth.ECG:
				probe.AddECGSample(float32(ev.Value), ev.Timestamp)
			case synth.PPG:
				probe.AddPPGSample(float32(ev.Value), float32(ev.Value), ev.Timestamp)
			}
		})
		probe.Process()
	}

	st := probe.Stats()
	switch {
	case st.RPeaks < 3:
		return fmt.Errorf("%w: %d R-peaks detected on synthetic ECG", ErrSelfTest, st.RPeaks)
	case st.Onsets < 3:
		return fmt.Errorf("%w: %d onsets detected on synthetic PPG", ErrSelfTest, st.Onsets)
	case st.MatchedBeats < 1:
		return fmt.Errorf("%w: no synthetic beat matched", ErrSelfTest)
	}
	return nil
}

func ringSelfTest() error {
	r := ring.NewSamples(4)
	for i := 0; i < 6; i++ {
		r.Push(float32(i), uint32(i*10))
	}
	out, next, lost := r.Read(0, make([]ring.Sample, 4))
	if len(out) != 4 || next != 6 || lost != 2 {
		return fmt.Errorf("read %d samples, next %d, lost %d after wrap", len(out), next, lost)
	}
	for i, s := range out {
		if s.Value != float32(i+2) || s.Timestamp != uint32((i+2)*10) {
			return errors.New("samples out of order after wrap")
		}
	}
	return nil
}

// SystemStatus returns a one-screen summary of the engine.
func (m *Monitor) SystemStatus() string {
	var b strings.Builder
	_ = m.PrintDiagnostics(&b)
	return b.String()
}

// PrintDiagnostics writes the engine state, counters, detector thresholds,
// calibration and the last reading to w.
func (m *Monitor) PrintDiagnostics(w io.Writer) error {
	state := m.State()
	st := m.Stats()
	data := m.LastReading()
	coef := m.Coefficients()
	profile := m.Profile()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", state)
	fmt.Fprintf(tw, "Ready:\t%v\n", m.IsReadyForMeasurement())
	fmt.Fprintf(tw, "Processed:\tECG %d, PPG %d\n", st.ProcessedECG, st.ProcessedPPG)
	fmt.Fprintf(tw, "Dropped:\tearly %d, ECG %d, PPG %d, red %d\n", st.DroppedEarly, st.DroppedECG, st.DroppedPPG, st.DroppedRed)
	fmt.Fprintf(tw, "Overruns:\tECG %d, PPG %d\n", st.OverrunsECG, st.OverrunsPPG)
	fmt.Fprintf(tw, "Beats:\tR %d, onsets %d, matched %d, missed %d, RR %d\n",
		st.RPeaks, st.Onsets, st.MatchedBeats, st.MissedBeats, st.RRIntervals)
	fmt.Fprintf(tw, "Thresholds:\tECG %.3f (%s), PPG slope %.3f/ms (%s)\n",
		st.ECGThreshold, onOff(st.ECGDetectorOn), st.PPGThreshold, onOff(st.PPGDetectorOn))
	fmt.Fprintf(tw, "Clipping:\tECG %.1f%%, PPG %.1f%%\n", st.ECGClipping*100, st.PPGClipping*100)
	fmt.Fprintf(tw, "Calibration:\t%s\n", st.Calibration)
	fmt.Fprintf(tw, "Coefficients:\tsys %.3f*PTT%+.1f, dia %.3f*PTT%+.1f\n",
		coef.SystolicSlope, coef.SystolicIntercept, coef.DiastolicSlope, coef.DiastolicIntercept)
	fmt.Fprintf(tw, "Profile:\tage %d, height %.0f cm, male %v\n", profile.Age, profile.HeightCm, profile.IsMale)
	fmt.Fprintf(tw, "Reading:\t%.0f/%.0f mmHg (MAP %.0f), valid %v\n",
		data.Systolic, data.Diastolic, data.MeanArterialPressure, data.ValidReading)
	fmt.Fprintf(tw, "PTT/PWV:\t%.1f ms, %.2f m/s\n", data.PulseTransitTime, data.PulseWaveVelocity)
	fmt.Fprintf(tw, "HR/HRV:\t%.0f BPM, RMSSD %.1f ms, regular %v\n", data.HeartRate, data.HeartRateVariability, data.RhythmRegular)
	fmt.Fprintf(tw, "Quality:\t%d, correlation %d\n", data.SignalQuality, data.CorrelationCoeff)
	fmt.Fprintf(tw, "Category:\t%s\n", InterpretReading(data.Systolic, data.Diastolic))
	fmt.Fprintf(tw, "Stiffness:\t%.1f kPa\n", m.EstimateArterialStiffness())
	fmt.Fprintf(tw, "Cardiac output:\t%.2f L/min\n", m.CalculateCardiacOutput())
	fmt.Fprintf(tw, "Vascular health:\t%s\n", m.VascularHealthIndex())
	return tw.Flush()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
