package bp

import (
	"github.com/chewxy/math32"

	"github.com/itohio/goptt/pkg/ring"
)

const (
	maxAmplitudeCV = 0.5  // CV at which amplitude consistency scores zero
	maxClipping    = 0.05 // clipped fraction at which a channel scores zero

	energyHalfWidth = 40 // ms, box smoothing of the ECG derivative energy
	lagStep         = 10 // ms
	lagExtra        = 100
	maxPairGap      = 20 // ms, largest ECG sample gap accepted for a lagged pair
)

// assessSignalQuality scores the current data 0..100.
//
//	30: amplitude consistency of R-peaks and PPG upstrokes (15 each)
//	40: fraction of resolved R-peaks that were matched to a PPG onset
//	30: absence of clipping, 15 per channel with data
func (m *Monitor) assessSignalQuality() int {
	var score float32

	score += 15 * consistency(m.rPeaks)
	score += 15 * consistency(m.onsets)

	matched, resolved := 0, 0
	for i := 0; i < m.rPeaks.Len(); i++ {
		switch m.rPeaks.Ptr(i).Status {
		case Matched:
			matched++
			resolved++
		case Unmatched:
			resolved++
		}
	}
	if resolved > 0 {
		score += 40 * float32(matched) / float32(resolved)
	}

	if m.hasECG {
		score += 15 * (1 - math32.Min(1, m.ecgClipFraction()/maxClipping))
	}
	if m.hasPPG {
		score += 15 * (1 - math32.Min(1, m.ppgClipFraction()/maxClipping))
	}

	q := int(math32.Round(score))
	if q < 0 {
		q = 0
	}
	if q > 100 {
		q = 100
	}
	return q
}

// consistency maps the amplitude CV of the stored peaks to 0..1.
// Fewer than three peaks score zero.
func consistency(peaks *ring.Fixed[Peak]) float32 {
	n := peaks.Len()
	if n < 3 {
		return 0
	}
	var mean float32
	for i := 0; i < n; i++ {
		mean += peaks.Ptr(i).Amplitude
	}
	mean /= float32(n)
	if mean == 0 {
		return 0
	}
	var ss float32
	for i := 0; i < n; i++ {
		d := peaks.Ptr(i).Amplitude - mean
		ss += d * d
	}
	cv := math32.Sqrt(ss/float32(n-1)) / math32.Abs(mean)
	return clamp01(1 - cv/maxAmplitudeCV)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ecgClipFraction uses the last completed block, or the running one before
// the first block completes.
func (m *Monitor) ecgClipFraction() float32 {
	if m.hasECGClip {
		return m.ecgClip
	}
	return m.ecgBlock.clipFraction()
}

func (m *Monitor) ppgClipFraction() float32 {
	if m.hasPPGClip {
		return m.ppgClip
	}
	return m.ppgBlock.clipFraction()
}

// checkRhythmRegularity reports false for fewer than three intervals or when
// the CV of the last ten exceeds the irregularity limit.
func (m *Monitor) checkRhythmRegularity() bool {
	n := m.rr.Len()
	if n < 3 {
		return false
	}
	from := n - rhythmIntervals
	if from < 0 {
		from = 0
	}
	count := float32(n - from)

	var mean float32
	for i := from; i < n; i++ {
		mean += m.rr.At(i).Ms
	}
	mean /= count
	if mean <= 0 {
		return false
	}
	var ss float32
	for i := from; i < n; i++ {
		d := m.rr.At(i).Ms - mean
		ss += d * d
	}
	cv := math32.Sqrt(ss/(count-1)) / mean
	return cv <= float32(m.cfg.Engine.IrregularCV)
}

type correlationScratch struct {
	ecg    []ring.Sample
	ppg    []ring.Sample
	energy []float32
	prefix []float32
	rect   []float32
	xs     []float32
	ys     []float32
}

func newCorrelationScratch(ecgSize, ppgSize int) correlationScratch {
	return correlationScratch{
		ecg:    make([]ring.Sample, ecgSize),
		ppg:    make([]ring.Sample, ppgSize),
		energy: make([]float32, ecgSize),
		prefix: make([]float32, ecgSize+1),
		rect:   make([]float32, ppgSize),
		xs:     make([]float32, ppgSize),
		ys:     make([]float32, ppgSize),
	}
}

// calculateCorrelation returns the best Pearson correlation (x100) between the
// smoothed ECG derivative energy and the rectified PPG derivative, searching
// lags from 0 to ptt_max+100 ms over the correlation window.
func (m *Monitor) calculateCorrelation() int {
	e := &m.cfg.Engine
	c := &m.corr

	ecg := m.ecg.Last(c.ecg)
	ppg := m.ppg.Last(c.ppg)
	if len(ecg) < 3 || len(ppg) < 3 {
		return 0
	}

	end := m.coveredUntil()
	window := ms(e.CorrelationWindow)
	maxLag := ms(e.PTTMax) + lagExtra
	ppg = since(ppg, end-uint32(window))
	ecg = since(ecg, end-uint32(window+maxLag))
	if len(ecg) < 3 || len(ppg) < 3 {
		return 0
	}

	// ECG derivative energy, box smoothed.
	energy := c.energy[:len(ecg)]
	energy[0] = 0
	for i := 1; i < len(ecg); i++ {
		d := ecg[i].Value - ecg[i-1].Value
		energy[i] = d * d
	}
	prefix := c.prefix[:len(ecg)+1]
	prefix[0] = 0
	for i, v := range energy {
		prefix[i+1] = prefix[i] + v
	}
	lo, hi := 0, 0
	for i := range ecg {
		for lo < i && elapsed(ecg[lo].Timestamp, ecg[i].Timestamp) > energyHalfWidth {
			lo++
		}
		if hi < i {
			hi = i
		}
		for hi+1 < len(ecg) && elapsed(ecg[i].Timestamp, ecg[hi+1].Timestamp) <= energyHalfWidth {
			hi++
		}
		energy[i] = (prefix[hi+1] - prefix[lo]) / float32(hi-lo+1)
	}

	// Rectified PPG derivative.
	rect := c.rect[:len(ppg)]
	rect[0] = 0
	for j := 1; j < len(ppg); j++ {
		rect[j] = 0
		if dt := elapsed(ppg[j-1].Timestamp, ppg[j].Timestamp); dt > 0 {
			if d := (ppg[j].Value - ppg[j-1].Value) / float32(dt); d > 0 {
				rect[j] = d
			}
		}
	}

	best := float32(0)
	found := false
	for lag := int32(0); lag <= maxLag; lag += lagStep {
		n := 0
		k := 0
		for j := 1; j < len(ppg); j++ {
			target := ppg[j].Timestamp - uint32(lag)
			if elapsed(ecg[0].Timestamp, target) < 0 {
				continue
			}
			for k+1 < len(ecg) && elapsed(ecg[k+1].Timestamp, target) >= 0 {
				k++
			}
			if elapsed(ecg[k].Timestamp, target) > maxPairGap {
				continue
			}
			c.xs[n] = energy[k]
			c.ys[n] = rect[j]
			n++
		}
		if r, ok := pearson(c.xs[:n], c.ys[:n]); ok && (!found || r > best) {
			best = r
			found = true
		}
	}
	if !found {
		return 0
	}

	r := int(math32.Round(best * 100))
	if r > 100 {
		r = 100
	}
	if r < -100 {
		r = -100
	}
	return r
}

// since drops the samples older than from. Samples are in time order.
func since(s []ring.Sample, from uint32) []ring.Sample {
	for i := range s {
		if elapsed(from, s[i].Timestamp) >= 0 {
			return s[i:]
		}
	}
	return s[:0]
}

// pearson computes the correlation coefficient in two passes. ok is false
// for fewer than three pairs or a constant series.
func pearson(x, y []float32) (float32, bool) {
	n := len(x)
	if n < 3 || len(y) != n {
		return 0, false
	}
	var mx, my float32
	for i := 0; i < n; i++ {
		mx += x[i]
		my += y[i]
	}
	mx /= float32(n)
	my /= float32(n)

	var sxx, syy, sxy float32
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		dy := y[i] - my
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	if sxx <= 0 || syy <= 0 {
		return 0, false
	}
	return sxy / math32.Sqrt(sxx*syy), true
}
