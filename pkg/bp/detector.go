package bp

import (
	"github.com/chewxy/math32"

	"github.com/itohio/goptt/pkg/ring"
)

const flatEpsilon = 1e-6

// blockStats accumulates statistics of one adaptation block.
type blockStats struct {
	started bool
	start   uint32

	n        int
	sum      float32
	max      float32
	maxSlope float32

	raw      int
	clipped  int
	run      int
	last     float32
	haveLast bool

	// Raw extremes of this block, and of the previous one as a seed.
	rawMin, rawMax   float32
	haveRaw          bool
	seedMin, seedMax float32
	haveSeed         bool
}

// addRaw tracks clipping: runs of three or more identical raw values sitting
// at the signal extremes (flat tops and bottoms).
func (b *blockStats) addRaw(v float32) {
	if !b.haveRaw || v > b.rawMax {
		b.rawMax = v
	}
	if !b.haveRaw || v < b.rawMin {
		b.rawMin = v
	}
	b.haveRaw = true

	if b.haveLast && v == b.last {
		b.run++
		if b.atRail(v) {
			switch {
			case b.run == 2:
				b.clipped += 3
			case b.run > 2:
				b.clipped++
			}
		}
	} else {
		b.run = 0
	}
	b.last = v
	b.haveLast = true
	b.raw++
}

func (b *blockStats) atRail(v float32) bool {
	lo, hi := b.rawMin, b.rawMax
	if b.haveSeed {
		lo = min(lo, b.seedMin)
		hi = max(hi, b.seedMax)
	}
	return v <= lo || v >= hi
}

func (b *blockStats) add(s ring.Sample) {
	if !b.started {
		b.started = true
		b.start = s.Timestamp
	}
	if b.n == 0 || s.Value > b.max {
		b.max = s.Value
	}
	b.sum += s.Value
	b.n++
}

func (b *blockStats) addSlope(slope float32) {
	if slope > b.maxSlope {
		b.maxSlope = slope
	}
}

// due reports whether the block spans at least interval ms of sample time.
func (b *blockStats) due(ts uint32, interval int32) bool {
	return b.started && elapsed(b.start, ts) >= interval
}

func (b *blockStats) mean() float32 {
	if b.n == 0 {
		return 0
	}
	return b.sum / float32(b.n)
}

func (b *blockStats) clipFraction() float32 {
	if b.raw == 0 {
		return 0
	}
	return float32(b.clipped) / float32(b.raw)
}

// restart begins a new block. The clipping run carries over so a run that
// straddles two blocks is still recognized.
func (b *blockStats) restart() {
	next := blockStats{
		last:     b.last,
		run:      b.run,
		haveLast: b.haveLast,
		seedMin:  b.seedMin,
		seedMax:  b.seedMax,
		haveSeed: b.haveSeed,
	}
	if b.haveRaw {
		next.seedMin, next.seedMax, next.haveSeed = b.rawMin, b.rawMax, true
	}
	*b = next
}

// rPeakDetector finds R-peaks as the maxima of supra-threshold excursions.
type rPeakDetector struct {
	threshold  float32
	baseline   float32
	enabled    bool
	refractory int32
	maxWidth   int32

	active  bool
	valid   bool
	start   uint32
	cand    ring.Sample
	last    uint32
	hasLast bool
}

func (d *rPeakDetector) push(s ring.Sample) (Peak, bool) {
	if !d.enabled {
		d.active = false
		return Peak{}, false
	}

	if s.Value > d.threshold {
		if !d.active {
			d.active = true
			d.start = s.Timestamp
			d.cand = s
			d.valid = !d.hasLast || elapsed(d.last, s.Timestamp) >= d.refractory
		} else if s.Value > d.cand.Value {
			d.cand = s
		}
		return Peak{}, false
	}

	if !d.active {
		return Peak{}, false
	}
	d.active = false
	if !d.valid || elapsed(d.start, s.Timestamp) > d.maxWidth {
		return Peak{}, false
	}

	d.last = d.cand.Timestamp
	d.hasLast = true
	return Peak{
		Timestamp: d.cand.Timestamp,
		Value:     d.cand.Value,
		Amplitude: d.cand.Value - d.baseline,
	}, true
}

func (d *rPeakDetector) reset() {
	d.active = false
	d.hasLast = false
}

// onsetDetector finds PPG pulse onsets with the intersecting-tangent method:
// the tangent at the steepest point of the upstroke is extended back to the
// minimum level found in the look-back window before it.
type onsetDetector struct {
	threshold  float32 // slope, units/ms
	enabled    bool
	refractory int32
	lookback   int32

	history *ring.Fixed[ring.Sample]

	active    bool
	valid     bool
	best      ring.Sample
	bestSlope float32
	foot      float32
	last      uint32
	hasLast   bool
}

func newOnsetDetector(historySize int) *onsetDetector {
	return &onsetDetector{history: ring.NewFixed[ring.Sample](historySize)}
}

// push feeds a smoothed sample together with the slope leading to it.
func (d *onsetDetector) push(s ring.Sample, slope float32) (Peak, bool) {
	d.history.Push(s)
	if !d.enabled {
		d.active = false
		return Peak{}, false
	}

	if slope > d.threshold {
		if !d.active {
			d.active = true
			d.bestSlope = 0
			d.valid = !d.hasLast || elapsed(d.last, s.Timestamp) >= d.refractory
		}
		if slope > d.bestSlope {
			d.best = s
			d.bestSlope = slope
			d.foot = d.footLevel(s.Timestamp)
		}
		return Peak{}, false
	}

	if !d.active {
		return Peak{}, false
	}
	d.active = false
	if !d.valid {
		return Peak{}, false
	}

	rise := d.best.Value - d.foot
	if rise < 0 {
		rise = 0
	}
	back := rise / d.bestSlope
	if back > float32(d.lookback) {
		back = float32(d.lookback)
	}
	onset := d.best.Timestamp - uint32(math32.Round(back))

	d.last = onset
	d.hasLast = true
	return Peak{
		Timestamp: onset,
		Value:     d.foot,
		Amplitude: d.bestSlope,
	}, true
}

// footLevel returns the minimum of the look-back window ending at ts.
func (d *onsetDetector) footLevel(ts uint32) float32 {
	foot := math32.Inf(1)
	for i := d.history.Len() - 1; i >= 0; i-- {
		h := d.history.At(i)
		age := elapsed(h.Timestamp, ts)
		if age < 0 {
			continue
		}
		if age > d.lookback {
			break
		}
		if h.Value < foot {
			foot = h.Value
		}
	}
	return foot
}

func (d *onsetDetector) reset() {
	d.history.Clear()
	d.active = false
	d.hasLast = false
}
