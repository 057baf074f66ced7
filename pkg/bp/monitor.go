// Package bp estimates blood pressure from the pulse transit time between
// ECG R-peaks and PPG pulse onsets.
//
// Samples are pushed by a single producer (AddECGSample, AddPPGSample) into
// lock-free rings and never block. Everything else runs on the consumer side
// under one mutex the producer never takes: Process drains the rings, detects
// beats and matches them; CalculateBloodPressure additionally assesses the
// signal and assembles a reading.
package bp

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/goptt/pkg/config"
	"github.com/itohio/goptt/pkg/ring"
)

const (
	peakHistory     = 20
	rrHistory       = 50
	amplitudeWindow = 10
	rhythmIntervals = 10

	minRR = 300  // ms
	maxRR = 2000 // ms

	// ECG-only fallback for resolving peaks when PPG is absent or stale.
	ecgSettle = 1000 // ms
	// How far one stream may trail the other before it counts as stale.
	maxSkew = 5000 // ms
)

var _ Sink = (*Monitor)(nil)

// Sink accepts samples from the producer side.
type Sink interface {
	AddECGSample(value float32, ts uint32)
	AddPPGSample(ir, red float32, ts uint32)
}

// Monitor is the blood pressure engine.
type Monitor struct {
	cfg config.Config
	log *slog.Logger

	// Producer side. Only atomics and immutable fields.
	began        atomic.Bool
	ecg          *ring.Samples
	ppg          *ring.Samples
	ecgRange     [2]float32
	ppgRange     [2]float32
	droppedEarly atomic.Uint64
	droppedECG   atomic.Uint64
	droppedPPG   atomic.Uint64
	droppedRed   atomic.Uint64
	ready        atomic.Bool

	// Consumer side, guarded by mu.
	mu sync.Mutex

	ecgNext, ppgNext uint64
	ecgBuf, ppgBuf   []ring.Sample

	ecgSmooth, ppgSmooth *smoother
	ecgBlock, ppgBlock   blockStats
	ecgClip, ppgClip     float32
	hasECGClip           bool
	hasPPGClip           bool
	rdet                 rPeakDetector
	odet                 *onsetDetector
	ppgPrev              ring.Sample
	hasPPGPrev           bool

	rPeaks     *ring.Fixed[Peak]
	onsets     *ring.Fixed[Peak]
	rr         *ring.Fixed[RRInterval]
	rrScratch  []RRInterval
	amplitudes *ring.Window
	ptts       *ring.Window

	lastR           Peak
	hasLastR        bool
	lastAcceptedEnd uint32
	hasAccepted     bool
	lastOnset       uint32
	hasMatched      bool

	ecgLatest, ppgLatest uint32
	hasECG, hasPPG       bool

	corr correlationScratch

	cal     *Calibrator
	profile UserProfile

	lastGood    BloodPressureData
	hasLastGood bool
	lastResult  BloodPressureData

	overrunsECG, overrunsPPG   uint64
	processedECG, processedPPG uint64
	rPeakCount, onsetCount     uint64
	matchedCount, missedCount  uint64
}

// New allocates every buffer the engine will use. Ingestion is armed by Begin.
func New(cfg *config.Config, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	e := cfg.Engine

	m := &Monitor{
		cfg:        *cfg,
		log:        log,
		ecg:        ring.NewSamples(e.ECGBuffer),
		ppg:        ring.NewSamples(e.PPGBuffer),
		ecgRange:   [2]float32{float32(e.ECGRange[0]), float32(e.ECGRange[1])},
		ppgRange:   [2]float32{float32(e.PPGRange[0]), float32(e.PPGRange[1])},
		ecgBuf:     make([]ring.Sample, e.ECGBuffer),
		ppgBuf:     make([]ring.Sample, e.PPGBuffer),
		ecgSmooth:  newSmoother(e.SmoothingTaps),
		ppgSmooth:  newSmoother(e.SmoothingTaps),
		odet:       newOnsetDetector(historySize(e.FootLookback, max(e.PPGRate, config.MaxPPGRate))),
		rPeaks:     ring.NewFixed[Peak](peakHistory),
		onsets:     ring.NewFixed[Peak](peakHistory),
		rr:         ring.NewFixed[RRInterval](rrHistory),
		rrScratch:  make([]RRInterval, 0, rrHistory),
		amplitudes: ring.NewWindow(amplitudeWindow),
		ptts:       ring.NewWindow(e.PTTAverageBeats),
		corr:       newCorrelationScratch(e.ECGBuffer, e.PPGBuffer),
		cal:        NewCalibrator(CoefficientsFromConfig(cfg.Population), cfg.Calibration.Eviction),
		profile: UserProfile{
			Age:      cfg.Profile.Age,
			HeightCm: float32(cfg.Profile.HeightCm),
			IsMale:   cfg.Profile.IsMale,
		},
	}
	m.configureDetectors()
	return m
}

func historySize(lookback time.Duration, rate int) int {
	n := int(lookback.Seconds()*float64(rate)) + 4
	if n < 8 {
		n = 8
	}
	return n
}

func ms(d time.Duration) int32 {
	return int32(d / time.Millisecond)
}

func (m *Monitor) configureDetectors() {
	e := &m.cfg.Engine
	m.rdet.refractory = ms(e.ECGRefractory)
	m.rdet.maxWidth = ms(e.QRSMaxWidth)
	m.odet.refractory = ms(e.PPGRefractory)
	m.odet.lookback = ms(e.FootLookback)

	if e.Adaptive {
		// Disabled until the first block has been seen.
		m.rdet.enabled = false
		m.odet.enabled = false
		return
	}
	m.rdet.threshold = float32(e.ECGThreshold)
	m.rdet.enabled = true
	m.odet.threshold = float32(e.PPGSlope)
	m.odet.enabled = true
}

// Begin runs the self-test and arms ingestion. Samples pushed before Begin
// are dropped and counted.
func (m *Monitor) Begin() error {
	if err := m.SelfTest(); err != nil {
		m.log.Error("self-test failed", "error", err)
		return fmt.Errorf("begin: %w", err)
	}
	m.began.Store(true)
	m.log.Info("engine armed",
		"ecg_rate", m.cfg.Engine.ECGRate,
		"ppg_rate", m.cfg.Engine.PPGRate,
		"adaptive", m.cfg.Engine.Adaptive,
		"calibration", m.Calibration().String())
	return nil
}

// AddECGSample pushes one ECG sample (mV). Never blocks.
func (m *Monitor) AddECGSample(value float32, ts uint32) {
	if !m.began.Load() {
		m.droppedEarly.Add(1)
		return
	}
	if !inRange(value, m.ecgRange) {
		m.droppedECG.Add(1)
		return
	}
	m.ecg.Push(value, ts)
}

// AddPPGSample pushes one PPG sample. Only IR feeds detection; red is
// range-checked and counted when invalid. Never blocks.
func (m *Monitor) AddPPGSample(ir, red float32, ts uint32) {
	if !m.began.Load() {
		m.droppedEarly.Add(1)
		return
	}
	if !inRange(red, m.ppgRange) {
		m.droppedRed.Add(1)
	}
	if !inRange(ir, m.ppgRange) {
		m.droppedPPG.Add(1)
		return
	}
	m.ppg.Push(ir, ts)
}

func inRange(v float32, r [2]float32) bool {
	if math32.IsNaN(v) || math32.IsInf(v, 0) {
		return false
	}
	return v >= r[0] && v <= r[1]
}

// IsReadyForMeasurement reports whether enough matched beats were seen for a
// reading. It does not take the consumer lock.
func (m *Monitor) IsReadyForMeasurement() bool {
	return m.ready.Load()
}

// Process drains both rings, detects beats and matches them.
func (m *Monitor) Process() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.process()
}

func (m *Monitor) process() {
	if lost := drain(m.ecg, &m.ecgNext, m.ecgBuf, m.processECG); lost > 0 {
		m.overrunsECG += lost
		m.log.Warn("ECG samples overwritten before processing", "lost", lost)
	}
	if lost := drain(m.ppg, &m.ppgNext, m.ppgBuf, m.processPPG); lost > 0 {
		m.overrunsPPG += lost
		m.log.Warn("PPG samples overwritten before processing", "lost", lost)
	}

	m.matchPeaks()
	m.ready.Store(m.ptts.Count() > 0 && m.matchedRecent() >= m.cfg.Engine.MinMatchedBeats)
}

// sampleReader is the consumer side of a sample ring.
type sampleReader interface {
	Written() uint64
	Read(from uint64, dst []ring.Sample) (out []ring.Sample, next uint64, lost uint64)
}

// drain passes every sample written before the call to fn, advancing *next.
// A read can come back empty when the producer overwrote every copied slot,
// so the loop follows the cursor, not the length of the result.
func drain(r sampleReader, next *uint64, buf []ring.Sample, fn func(ring.Sample)) (lost uint64) {
	end := r.Written()
	for *next < end {
		out, n, l := r.Read(*next, buf)
		lost += l
		if n <= *next {
			break
		}
		*next = n
		for _, s := range out {
			fn(s)
		}
	}
	return lost
}

func (m *Monitor) processECG(s ring.Sample) {
	m.ecgLatest = s.Timestamp
	m.hasECG = true
	m.processedECG++
	m.ecgBlock.addRaw(s.Value)

	sm, ok := m.ecgSmooth.push(s.Value, s.Timestamp)
	if !ok {
		return
	}
	m.ecgBlock.add(sm)
	if m.ecgBlock.due(sm.Timestamp, ms(m.cfg.Engine.AdaptInterval)) {
		m.adaptECG()
	}
	if p, ok := m.rdet.push(sm); ok {
		m.addRPeak(p)
	}
}

func (m *Monitor) processPPG(s ring.Sample) {
	m.ppgLatest = s.Timestamp
	m.hasPPG = true
	m.processedPPG++
	m.ppgBlock.addRaw(s.Value)

	sm, ok := m.ppgSmooth.push(s.Value, s.Timestamp)
	if !ok {
		return
	}

	var slope float32
	if m.hasPPGPrev {
		if dt := elapsed(m.ppgPrev.Timestamp, sm.Timestamp); dt > 0 {
			slope = (sm.Value - m.ppgPrev.Value) / float32(dt)
		}
	}
	m.ppgPrev = sm
	m.hasPPGPrev = true

	m.ppgBlock.add(sm)
	m.ppgBlock.addSlope(slope)
	if m.ppgBlock.due(sm.Timestamp, ms(m.cfg.Engine.AdaptInterval)) {
		m.adaptPPG()
	}
	if p, ok := m.odet.push(sm, slope); ok {
		m.onsetCount++
		m.onsets.Push(p)
	}
}

// adaptECG closes the current ECG block and, in adaptive mode, derives the
// R-peak threshold from it.
func (m *Monitor) adaptECG() {
	b := &m.ecgBlock
	m.ecgClip = b.clipFraction()
	m.hasECGClip = true

	mean := b.mean()
	m.rdet.baseline = mean
	if m.cfg.Engine.Adaptive {
		if b.max-mean <= flatEpsilon {
			if m.rdet.enabled {
				m.log.Debug("ECG block is flat, R-peak detection paused")
			}
			m.rdet.enabled = false
		} else {
			m.rdet.threshold = mean + float32(m.cfg.Engine.ECGThresholdRatio)*(b.max-mean)
			m.rdet.enabled = true
		}
	}
	b.restart()
}

// adaptPPG closes the current PPG block and, in adaptive mode, derives the
// upstroke slope threshold from it.
func (m *Monitor) adaptPPG() {
	b := &m.ppgBlock
	m.ppgClip = b.clipFraction()
	m.hasPPGClip = true

	if m.cfg.Engine.Adaptive {
		if b.maxSlope <= flatEpsilon {
			if m.odet.enabled {
				m.log.Debug("PPG block is flat, onset detection paused")
			}
			m.odet.enabled = false
		} else {
			m.odet.threshold = float32(m.cfg.Engine.PPGSlopeRatio) * b.maxSlope
			m.odet.enabled = true
		}
	}
	b.restart()
}

func (m *Monitor) addRPeak(p Peak) {
	m.rPeakCount++

	if m.hasLastR {
		interval := float32(elapsed(m.lastR.Timestamp, p.Timestamp))
		if m.acceptInterval(interval, m.lastR.Amplitude, p.Amplitude) {
			follows := m.hasAccepted && m.lastAcceptedEnd == m.lastR.Timestamp
			m.rr.Push(RRInterval{Ms: interval, Follows: follows})
			m.lastAcceptedEnd = p.Timestamp
			m.hasAccepted = true
		}
	}
	m.amplitudes.Add(p.Amplitude)
	m.lastR = p
	m.hasLastR = true

	p.Status = Pending
	m.rPeaks.Push(p)
}

// acceptInterval checks the interval range and that both flanking peaks are
// within 50% of the running R amplitude.
func (m *Monitor) acceptInterval(interval, a, b float32) bool {
	if interval < minRR || interval > maxRR {
		return false
	}
	if m.amplitudes.Count() < 3 {
		return true
	}
	mean := m.amplitudes.Mean()
	limit := 0.5 * math32.Abs(mean)
	return math32.Abs(a-mean) <= limit && math32.Abs(b-mean) <= limit
}

// matchPeaks pairs pending ECG peaks, oldest first, with the earliest unused
// PPG onset inside the PTT window. A peak whose window lies behind the
// resolution horizon becomes Unmatched. Matching stops at the first peak that
// can still receive an onset.
func (m *Monitor) matchPeaks() {
	e := &m.cfg.Engine
	pttMin, pttMax := ms(e.PTTMin), ms(e.PTTMax)
	horizon, hasHorizon := m.horizon()

	for i := 0; i < m.rPeaks.Len(); i++ {
		p := m.rPeaks.Ptr(i)
		if p.Status != Pending {
			continue
		}

		matched := false
		for j := 0; j < m.onsets.Len(); j++ {
			o := m.onsets.Ptr(j)
			if o.Status != Pending {
				continue
			}
			if m.hasMatched && elapsed(m.lastOnset, o.Timestamp) <= 0 {
				continue
			}
			d := elapsed(p.Timestamp, o.Timestamp)
			if d < pttMin {
				continue
			}
			if d > pttMax {
				break
			}

			p.Status = Matched
			p.PTT = float32(d)
			o.Status = Matched
			m.lastOnset = o.Timestamp
			m.hasMatched = true
			m.ptts.Add(p.PTT)
			m.matchedCount++
			matched = true
			break
		}
		if matched {
			continue
		}

		if !hasHorizon || elapsed(p.Timestamp, horizon) <= pttMax {
			break
		}
		p.Status = Unmatched
		m.missedCount++
	}
}

// horizon is the latest R-peak time whose PTT window is certainly complete,
// shifted by ptt_max. PPG onsets are only known a look-back after the foot,
// so the PPG stream settles by foot_lookback. The streams are clocked
// independently and PPG may arrive late, so the ECG stream only resolves
// peaks when PPG is absent or has fallen more than maxSkew behind.
func (m *Monitor) horizon() (uint32, bool) {
	switch {
	case m.hasPPG && (!m.hasECG || elapsed(m.ppgLatest, m.ecgLatest) <= maxSkew):
		return m.ppgLatest - uint32(ms(m.cfg.Engine.FootLookback)), true
	case m.hasECG:
		return m.ecgLatest - ecgSettle, true
	}
	return 0, false
}

// matchedRecent counts matched peaks among the stored ECG peaks.
func (m *Monitor) matchedRecent() int {
	n := 0
	for i := 0; i < m.rPeaks.Len(); i++ {
		if m.rPeaks.Ptr(i).Status == Matched {
			n++
		}
	}
	return n
}

// coveredUntil is the latest time both streams have delivered. A stream
// trailing by more than maxSkew is stale and does not hold the other back.
func (m *Monitor) coveredUntil() uint32 {
	if m.hasECG && m.hasPPG {
		skew := elapsed(m.ppgLatest, m.ecgLatest)
		switch {
		case skew > 0 && skew <= maxSkew:
			return m.ppgLatest
		case skew < 0 && -skew <= maxSkew:
			return m.ecgLatest
		}
	}
	return m.latestTimestamp()
}

func (m *Monitor) latestTimestamp() uint32 {
	switch {
	case m.hasECG && m.hasPPG:
		if elapsed(m.ecgLatest, m.ppgLatest) > 0 {
			return m.ppgLatest
		}
		return m.ecgLatest
	case m.hasECG:
		return m.ecgLatest
	case m.hasPPG:
		return m.ppgLatest
	}
	return 0
}

// CalculateBloodPressure processes pending samples and assembles a reading.
func (m *Monitor) CalculateBloodPressure() BloodPressureData {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.process()
	return m.assemble()
}

func (m *Monitor) assemble() BloodPressureData {
	e := &m.cfg.Engine
	data := BloodPressureData{
		NeedsCalibration: m.cal.NeedsCalibration(),
		Timestamp:        m.latestTimestamp(),
		SignalQuality:    m.assessSignalQuality(),
		CorrelationCoeff: m.calculateCorrelation(),
		RhythmRegular:    m.checkRhythmRegularity(),
	}

	valid := false
	var cur BloodPressureData
	if m.ptts.Count() > 0 {
		ptt := m.ptts.Mean()
		sys, dia := m.cal.Estimate(ptt)

		m.rrScratch = m.rr.AppendTo(m.rrScratch[:0])
		hrv, _ := RMSSD(m.rrScratch)

		cur = BloodPressureData{
			Systolic:             sys,
			Diastolic:            dia,
			MeanArterialPressure: MeanArterialPressure(sys, dia),
			PulseTransitTime:     ptt,
			PulseWaveVelocity:    PulseWaveVelocity(ptt, m.profile.HeightCm),
			HeartRateVariability: hrv,
			HeartRate:            m.heartRate(),
		}

		valid = float64(data.SignalQuality) >= e.MinQuality &&
			float64(data.CorrelationCoeff) >= e.MinCorrelation &&
			m.matchedRecent() >= e.MinMatchedBeats &&
			plausible(sys, dia) &&
			ptt >= float32(ms(e.PTTMin)) && ptt <= float32(ms(e.PTTMax))
	}

	if valid {
		setMeasurements(&data, cur)
		data.ValidReading = true
		m.lastGood = data
		m.hasLastGood = true
	} else if m.hasLastGood {
		setMeasurements(&data, m.lastGood)
	}
	m.lastResult = data

	m.log.Debug("blood pressure calculated",
		"valid", data.ValidReading,
		"systolic", data.Systolic,
		"diastolic", data.Diastolic,
		"ptt", data.PulseTransitTime,
		"quality", data.SignalQuality,
		"correlation", data.CorrelationCoeff)
	return data
}

func setMeasurements(dst *BloodPressureData, src BloodPressureData) {
	dst.Systolic = src.Systolic
	dst.Diastolic = src.Diastolic
	dst.MeanArterialPressure = src.MeanArterialPressure
	dst.PulseTransitTime = src.PulseTransitTime
	dst.PulseWaveVelocity = src.PulseWaveVelocity
	dst.HeartRateVariability = src.HeartRateVariability
	dst.HeartRate = src.HeartRate
}

func plausible(sys, dia float32) bool {
	if math32.IsNaN(sys) || math32.IsNaN(dia) {
		return false
	}
	return sys > dia &&
		sys >= MinSystolic && sys <= MaxSystolic &&
		dia >= MinDiastolic && dia <= MaxDiastolic
}

// heartRate returns the heart rate from the recent R-R intervals, 0 if none.
func (m *Monitor) heartRate() float32 {
	n := m.rr.Len()
	if n == 0 {
		return 0
	}
	from := n - rhythmIntervals
	if from < 0 {
		from = 0
	}
	var sum float32
	for i := from; i < n; i++ {
		sum += m.rr.At(i).Ms
	}
	mean := sum / float32(n-from)
	if mean <= 0 {
		return 0
	}
	return 60000 / mean
}

// LastReading returns the result of the last calculation.
func (m *Monitor) LastReading() BloodPressureData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// State derives the lifecycle state from the engine contents.
func (m *Monitor) State() State {
	if !m.began.Load() {
		return Uninitialized
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := &m.cfg.Engine
	if !m.hasECG && !m.hasPPG && m.ecg.Len() == 0 && m.ppg.Len() == 0 {
		return Uninitialized
	}
	if m.matchedRecent() < e.MinMatchedBeats {
		return Collecting
	}
	if float64(m.assessSignalQuality()) < e.MinQuality || float64(m.calculateCorrelation()) < e.MinCorrelation {
		return Degraded
	}
	return Active
}

// Reset clears samples, beats and history. Calibration is kept.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ecg.Clear()
	m.ppg.Clear()
	m.ecgSmooth.reset()
	m.ppgSmooth.reset()
	m.ecgBlock = blockStats{}
	m.ppgBlock = blockStats{}
	m.ecgClip, m.ppgClip = 0, 0
	m.hasECGClip, m.hasPPGClip = false, false
	m.rdet.reset()
	m.odet.reset()
	m.hasPPGPrev = false
	m.configureDetectors()

	m.rPeaks.Clear()
	m.onsets.Clear()
	m.rr.Clear()
	m.amplitudes.Reset()
	m.ptts.Reset()
	m.hasLastR = false
	m.hasAccepted = false
	m.hasMatched = false
	m.hasECG, m.hasPPG = false, false

	m.lastGood = BloodPressureData{}
	m.hasLastGood = false
	m.lastResult = BloodPressureData{}
	m.ready.Store(false)

	m.droppedEarly.Store(0)
	m.droppedECG.Store(0)
	m.droppedPPG.Store(0)
	m.droppedRed.Store(0)
	m.overrunsECG, m.overrunsPPG = 0, 0
	m.processedECG, m.processedPPG = 0, 0
	m.rPeakCount, m.onsetCount = 0, 0
	m.matchedCount, m.missedCount = 0, 0

	m.log.Info("engine reset", "calibration", m.cal.State().String())
}

// AddCalibrationPoint stores a reference reading against the current PTT and
// refits the coefficients. A degenerate refit is reported, the point stays.
func (m *Monitor) AddCalibrationPoint(systolic, diastolic float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ptts.Count() == 0 {
		return fmt.Errorf("calibration point %.0f/%.0f: %w", systolic, diastolic, ErrNoPTT)
	}
	p := CalibrationPoint{
		PTT:       m.ptts.Mean(),
		Systolic:  systolic,
		Diastolic: diastolic,
		Timestamp: m.latestTimestamp(),
	}
	if err := m.cal.Add(p); err != nil {
		return err
	}
	m.log.Info("calibration point added",
		"systolic", systolic, "diastolic", diastolic, "ptt", p.PTT, "points", m.cal.Len())

	if err := m.cal.Update(); err != nil {
		m.log.Warn("calibration not updated", "error", err)
		return err
	}
	return nil
}

// UpdateCalibration refits the coefficients from the stored points.
func (m *Monitor) UpdateCalibration() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cal.Update()
}

// PerformAutoCalibration applies profile-adjusted population coefficients
// when fewer than two manual points exist.
func (m *Monitor) PerformAutoCalibration() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok := m.cal.AutoCalibrate(m.profile)
	if ok {
		m.log.Info("auto calibration applied", "age", m.profile.Age, "height", m.profile.HeightCm, "male", m.profile.IsMale)
	}
	return ok
}

// ClearCalibration drops every calibration point.
func (m *Monitor) ClearCalibration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cal.Clear()
	m.log.Info("calibration cleared")
}

func (m *Monitor) CalibrationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cal.Len()
}

func (m *Monitor) Calibration() CalibrationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cal.State()
}

func (m *Monitor) CalibrationPoints() []CalibrationPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cal.Points()
}

func (m *Monitor) Coefficients() Coefficients {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cal.Coefficients()
}

// SetSampleRates updates the nominal sample rates. Non-positive rates and PPG
// rates above config.MaxPPGRate are ignored. Nothing is reallocated.
func (m *Monitor) SetSampleRates(ecgHz, ppgHz int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &m.cfg.Engine
	if ecgHz > 0 {
		e.ECGRate = ecgHz
	}
	switch {
	case ppgHz > config.MaxPPGRate:
		m.log.Warn("PPG rate above the supported maximum, ignored", "rate", ppgHz, "max", config.MaxPPGRate)
	case ppgHz > 0:
		// The onset history was sized for MaxPPGRate; the look-back is in ms.
		e.PPGRate = ppgHz
	}

	window := e.CorrelationWindow + e.PTTMax
	if need := int(window.Seconds() * float64(e.ECGRate)); need > m.ecg.Cap() {
		m.log.Warn("ECG buffer shorter than the correlation window", "need", need, "capacity", m.ecg.Cap())
	}
	if need := int(e.CorrelationWindow.Seconds() * float64(e.PPGRate)); need > m.ppg.Cap() {
		m.log.Warn("PPG buffer shorter than the correlation window", "need", need, "capacity", m.ppg.Cap())
	}
}

// SetPersonalParameters updates the user profile. Active auto calibration is
// re-derived for the new profile.
func (m *Monitor) SetPersonalParameters(age int, heightCm float32, isMale bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profile = UserProfile{Age: age, HeightCm: heightCm, IsMale: isMale}
	if m.cal.State().Auto {
		m.cal.AutoCalibrate(m.profile)
	}
}

func (m *Monitor) Profile() UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// SetAdaptiveMode switches between adaptive and fixed detection thresholds.
func (m *Monitor) SetAdaptiveMode(enable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.Engine.Adaptive == enable {
		return
	}
	m.cfg.Engine.Adaptive = enable
	if !enable {
		m.configureDetectors()
	}
}

// Stats returns the engine counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		DroppedEarly:  m.droppedEarly.Load(),
		DroppedECG:    m.droppedECG.Load(),
		DroppedPPG:    m.droppedPPG.Load(),
		DroppedRed:    m.droppedRed.Load(),
		OverrunsECG:   m.overrunsECG,
		OverrunsPPG:   m.overrunsPPG,
		ProcessedECG:  m.processedECG,
		ProcessedPPG:  m.processedPPG,
		RPeaks:        m.rPeakCount,
		Onsets:        m.onsetCount,
		MatchedBeats:  m.matchedCount,
		MissedBeats:   m.missedCount,
		RRIntervals:   m.rr.Len(),
		Calibration:   m.cal.State(),
		ECGThreshold:  m.rdet.threshold,
		PPGThreshold:  m.odet.threshold,
		ECGClipping:   m.ecgClipFraction(),
		PPGClipping:   m.ppgClipFraction(),
		ECGDetectorOn: m.rdet.enabled,
		PPGDetectorOn: m.odet.enabled,
	}
}

// Snapshot holds copies of the recent signals and beats for display.
type Snapshot struct {
	ECG    []ring.Sample
	PPG    []ring.Sample
	RPeaks []Peak
	Onsets []Peak
}

// Snapshot fills s with the buffered samples and stored beats, reusing its slices.
func (m *Monitor) Snapshot(s *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.ECG = m.ecg.Last(grow(s.ECG, m.ecg.Cap()))
	s.PPG = m.ppg.Last(grow(s.PPG, m.ppg.Cap()))
	s.RPeaks = m.rPeaks.AppendTo(s.RPeaks[:0])
	s.Onsets = m.onsets.AppendTo(s.Onsets[:0])
}

func grow(buf []ring.Sample, n int) []ring.Sample {
	if cap(buf) < n {
		return make([]ring.Sample, n)
	}
	return buf[:n]
}

// EstimateArterialStiffness returns the stiffness (kPa) for the last reading.
func (m *Monitor) EstimateArterialStiffness() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ArterialStiffness(m.lastResult, m.profile)
}

// CalculateCardiacOutput returns the cardiac output (L/min) for the last reading.
func (m *Monitor) CalculateCardiacOutput() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CardiacOutput(m.lastResult)
}

// VascularHealthIndex grades the last reading.
func (m *Monitor) VascularHealthIndex() HealthIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return VascularHealth(m.lastResult, m.profile)
}
