// Package scope is a Fyne widget drawing the ECG and PPG traces with the
// detected beats.
package scope

import (
	"image/color"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/goptt/pkg/bp"
	"github.com/itohio/goptt/pkg/ring"
	"github.com/itohio/goptt/pkg/sample"
)

const minWindowMs = 5000

// trace is one channel prepared for display.
type trace struct {
	samples    []ring.Sample
	yMin, yMax float32
}

// ScopeWidget is a custom Fyne widget that displays ECG above PPG with
// R-peak and onset markers.
type ScopeWidget struct {
	widget.BaseWidget

	mu      sync.RWMutex
	ecg     trace
	ppg     trace
	rPeaks  []bp.Peak
	onsets  []bp.Peak
	reading bp.BloodPressureData

	// Time axis, bridge clock ms
	xMin, xMax uint32

	maxDisplayPoints int
}

// New creates a new ScopeWidget instance.
func New() *ScopeWidget {
	s := &ScopeWidget{
		ecg:              trace{samples: make([]ring.Sample, 0, 1000), yMax: 1},
		ppg:              trace{samples: make([]ring.Sample, 0, 1000), yMax: 1},
		xMax:             minWindowMs,
		maxDisplayPoints: 1000,
	}
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// UpdateData replaces the displayed data with an engine snapshot.
// Call it on the Fyne thread (fyne.Do).
func (s *ScopeWidget) UpdateData(snap *bp.Snapshot, reading bp.BloodPressureData) {
	s.mu.Lock()

	s.ecg.samples = sample.Downsample(s.ecg.samples, snap.ECG, s.maxDisplayPoints)
	s.ppg.samples = sample.Downsample(s.ppg.samples, snap.PPG, s.maxDisplayPoints)
	s.ecg.yMin, s.ecg.yMax = autoScale(s.ecg.samples)
	s.ppg.yMin, s.ppg.yMax = autoScale(s.ppg.samples)
	s.rPeaks = append(s.rPeaks[:0], snap.RPeaks...)
	s.onsets = append(s.onsets[:0], snap.Onsets...)
	s.reading = reading
	s.xMin, s.xMax = timeRange(snap.ECG, snap.PPG)

	s.mu.Unlock()

	s.Refresh()
}

// autoScale returns the value range of samples with a 10% margin.
func autoScale(samples []ring.Sample) (float32, float32) {
	if len(samples) == 0 {
		return 0, 1
	}
	lo, hi := samples[0].Value, samples[0].Value
	for _, s := range samples {
		lo = min(lo, s.Value)
		hi = max(hi, s.Value)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	return lo - span*0.1, hi + span*0.1
}

// timeRange spans both channels and is at least minWindowMs wide. Timestamps
// are compared by their distance, so the range survives clock wrap.
func timeRange(ecg, ppg []ring.Sample) (uint32, uint32) {
	var first, last uint32
	have := false
	for _, ch := range [][]ring.Sample{ecg, ppg} {
		if len(ch) == 0 {
			continue
		}
		f, l := ch[0].Timestamp, ch[len(ch)-1].Timestamp
		if !have {
			first, last, have = f, l, true
			continue
		}
		if int32(f-first) < 0 {
			first = f
		}
		if int32(l-last) > 0 {
			last = l
		}
	}
	if last-first < minWindowMs {
		last = first + minWindowMs
	}
	return first, last
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	grid := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &scopeRenderer{
		scope:   s,
		grid:    grid,
		objects: []fyne.CanvasObject{grid},
	}
}
