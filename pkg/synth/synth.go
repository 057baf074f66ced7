// Package synth generates deterministic ECG and PPG waveforms with a known
// heart rate and pulse transit time. It backs the mock sensor, the engine
// self-test and the tests.
//
// ECG: baseline wander plus gaussian P, Q, R, S and T waves per cycle, with
// the R wave at 32% of the cycle.
//
// PPG: every beat starts a pulse at R + PTT (the foot). The upstroke is a
// quarter sine, so the steepest slope sits at the foot and the
// intersecting-tangent foot coincides with the configured PTT. The pulse then
// decays exponentially into the next beat.
package synth

import "math"

const (
	rPhase = 0.32

	defaultRise  = 120.0 // ms
	defaultDecay = 250.0 // ms
)

// Waveform describes a synthetic ECG/PPG pair. Times are in milliseconds.
type Waveform struct {
	HeartRate    float64 // BPM
	PTT          float64 // ms, R-peak to PPG foot
	ECGAmplitude float64 // R-wave amplitude
	PPGAmplitude float64 // pulsatile amplitude
	PPGBaseline  float64 // DC level
	Noise        float64 // noise as a fraction of the channel amplitude
	Rise         float64 // PPG upstroke duration, ms (default 120)
	Decay        float64 // PPG decay constant, ms (default 250)
}

// Period returns the R-R interval in ms.
func (w Waveform) Period() float64 {
	if w.HeartRate <= 0 {
		return math.Inf(1)
	}
	return 60000 / w.HeartRate
}

// RPeak returns the time of the k-th R-peak.
func (w Waveform) RPeak(k int) float64 {
	p := w.Period()
	return float64(k)*p + rPhase*p
}

// ECG returns the ECG value at t.
func (w Waveform) ECG(t float64) float64 {
	p := w.Period()
	if math.IsInf(p, 1) {
		return w.noise(t, 1) * w.ECGAmplitude
	}
	phase := t/p - math.Floor(t/p)

	baseline := 0.05 * math.Sin(2*math.Pi*t/3000)
	pw := 0.08 * gauss(phase, 0.18, 0.03)
	q := -0.12 * gauss(phase, 0.30, 0.01)
	r := 1.00 * gauss(phase, rPhase, 0.008)
	s := -0.25 * gauss(phase, 0.35, 0.012)
	tw := 0.25 * gauss(phase, 0.60, 0.06)

	return w.ECGAmplitude * (baseline + pw + q + r + s + tw + w.noise(t, 1))
}

// PPG returns the PPG value at t.
func (w Waveform) PPG(t float64) float64 {
	p := w.Period()
	v := w.PPGBaseline + w.PPGAmplitude*w.noise(t, 2)
	if math.IsInf(p, 1) {
		return v
	}

	rise, decay := w.Rise, w.Decay
	if rise <= 0 {
		rise = defaultRise
	}
	if decay <= 0 {
		decay = defaultDecay
	}

	// The newest foot at or before t, then a few older beats still decaying.
	k := int(math.Floor((t - w.PTT - rPhase*p) / p))
	for i := 0; i < 4; i++ {
		u := t - (w.RPeak(k-i) + w.PTT)
		if u < 0 {
			continue
		}
		if u < rise {
			v += w.PPGAmplitude * math.Sin(math.Pi/2*u/rise)
		} else {
			v += w.PPGAmplitude * math.Exp(-(u-rise)/decay)
		}
	}
	return v
}

// noise is a cheap deterministic pseudo-random value in [-Noise, Noise].
func (w Waveform) noise(t float64, channel float64) float64 {
	if w.Noise == 0 {
		return 0
	}
	x := math.Sin(t*12.9898+channel*78.233) * 43758.5453
	return w.Noise * (2*(x-math.Floor(x)) - 1)
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

// Sampler emits interleaved ECG/PPG samples at fixed rates, in time order.
type Sampler struct {
	Waveform Waveform
	ECGRate  int // Hz
	PPGRate  int // Hz
	Start    float64

	ecgN, ppgN int
}

// Kind tells which channel a sampler event belongs to.
type Kind int

const (
	ECG Kind = iota
	PPG
)

// Event is one sample produced by a Sampler.
type Event struct {
	Kind      Kind
	Timestamp uint32
	Value     float64
}

// Next returns the next sample in time order. ECG wins ties.
func (s *Sampler) Next() Event {
	te := s.Start + float64(s.ecgN)*1000/float64(s.ECGRate)
	tp := s.Start + float64(s.ppgN)*1000/float64(s.PPGRate)
	if te <= tp {
		s.ecgN++
		return Event{Kind: ECG, Timestamp: uint32(math.Round(te)), Value: s.Waveform.ECG(te)}
	}
	s.ppgN++
	return Event{Kind: PPG, Timestamp: uint32(math.Round(tp)), Value: s.Waveform.PPG(tp)}
}

// Until calls fn for every sample up to and excluding end (ms since Start).
func (s *Sampler) Until(end float64, fn func(Event)) {
	for {
		te := s.Start + float64(s.ecgN)*1000/float64(s.ECGRate)
		tp := s.Start + float64(s.ppgN)*1000/float64(s.PPGRate)
		if math.Min(te, tp) >= s.Start+end {
			return
		}
		fn(s.Next())
	}
}
