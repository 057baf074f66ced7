package scope

import (
	"fmt"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"

	"github.com/itohio/goptt/pkg/bp"
)

var (
	gridColor      = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor     = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	ecgColor       = color.RGBA{R: 80, G: 220, B: 120, A: 255}
	ppgColor       = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	matchedColor   = color.RGBA{R: 100, G: 200, B: 255, A: 255}
	pendingColor   = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	unmatchedColor = color.RGBA{R: 220, G: 60, B: 60, A: 255}
)

// pane is a plot area in widget coordinates.
type pane struct {
	x, y, w, h float32
}

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope *ScopeWidget

	grid    *canvas.Rectangle
	objects []fyne.CanvasObject

	lastSize fyne.Size
}

// MinSize returns the minimum size of the widget.
func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

// Layout arranges the widget components.
func (r *scopeRenderer) Layout(size fyne.Size) {
	r.grid.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh rebuilds all canvas objects from the widget data.
func (r *scopeRenderer) Refresh() {
	s := r.scope
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.Size()
	r.objects = []fyne.CanvasObject{r.grid}
	if size.Width == 0 || size.Height == 0 {
		return
	}

	const (
		marginLeft   = 60
		marginRight  = 20
		marginTop    = 24
		marginBottom = 30
		gap          = 16
	)
	plotW := size.Width - marginLeft - marginRight
	paneH := (size.Height - marginTop - marginBottom - gap) / 2
	ecgPane := pane{x: marginLeft, y: marginTop, w: plotW, h: paneH}
	ppgPane := pane{x: marginLeft, y: marginTop + paneH + gap, w: plotW, h: paneH}

	r.drawGrid(ecgPane, s.ecg, "mV", false)
	r.drawGrid(ppgPane, s.ppg, "", true)
	r.drawTrace(ecgPane, s.ecg, ecgColor)
	r.drawTrace(ppgPane, s.ppg, ppgColor)
	r.drawPeaks(ecgPane, s.ecg, s.rPeaks, true)
	r.drawPeaks(ppgPane, s.ppg, s.onsets, false)
	r.drawReading(s.reading)
}

func (r *scopeRenderer) xPos(p pane, ts uint32) float32 {
	span := float32(r.scope.xMax - r.scope.xMin)
	return p.x + float32(int32(ts-r.scope.xMin))/span*p.w
}

func yPos(p pane, t trace, v float32) float32 {
	return p.y + p.h - (v-t.yMin)/(t.yMax-t.yMin)*p.h
}

func (r *scopeRenderer) inside(p pane, x float32) bool {
	return x >= p.x && x <= p.x+p.w
}

func (r *scopeRenderer) line(c color.Color, width float32, x1, y1, x2, y2 float32) {
	l := canvas.NewLine(c)
	l.Position1 = fyne.NewPos(x1, y1)
	l.Position2 = fyne.NewPos(x2, y2)
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

func (r *scopeRenderer) text(s string, c color.Color, size float32, align fyne.TextAlign, x, y float32) {
	t := canvas.NewText(s, c)
	t.TextSize = size
	t.Alignment = align
	t.Move(fyne.NewPos(x, y))
	r.objects = append(r.objects, t)
}

// drawGrid draws the oscilloscope-style grid of one pane.
func (r *scopeRenderer) drawGrid(p pane, t trace, unit string, timeLabels bool) {
	const numHLines = 4
	for i := range numHLines + 1 {
		y := p.y + float32(i)*p.h/numHLines
		r.line(gridColor, 1, p.x, y, p.x+p.w, y)

		v := t.yMax - float32(i)*(t.yMax-t.yMin)/numHLines
		r.text(formatValue(v, unit), labelColor, 10, fyne.TextAlignTrailing, p.x-5, y-6)
	}

	const numVLines = 10
	span := r.scope.xMax - r.scope.xMin
	for i := range numVLines + 1 {
		x := p.x + float32(i)*p.w/numVLines
		r.line(gridColor, 1, x, p.y, x, p.y+p.h)

		if timeLabels {
			ms := uint32(i) * span / numVLines
			r.text(formatSeconds(ms), labelColor, 10, fyne.TextAlignCenter, x-20, p.y+p.h+5)
		}
	}
}

// drawTrace draws the connected samples of one channel.
func (r *scopeRenderer) drawTrace(p pane, t trace, c color.Color) {
	if len(t.samples) < 2 {
		return
	}
	prevX := r.xPos(p, t.samples[0].Timestamp)
	prevY := yPos(p, t, t.samples[0].Value)
	for _, s := range t.samples[1:] {
		x, y := r.xPos(p, s.Timestamp), yPos(p, t, s.Value)
		r.line(c, 1.5, prevX, prevY, x, y)
		prevX, prevY = x, y
	}
}

// drawPeaks marks peaks with vertical lines colored by match status. Matched
// R-peaks carry their PTT.
func (r *scopeRenderer) drawPeaks(p pane, t trace, peaks []bp.Peak, labels bool) {
	for _, pk := range peaks {
		x := r.xPos(p, pk.Timestamp)
		if !r.inside(p, x) {
			continue
		}
		r.line(statusColor(pk.Status), 1, x, p.y, x, p.y+p.h)

		if labels && pk.Status == bp.Matched {
			y := yPos(p, t, pk.Value) - 15
			r.text(fmt.Sprintf("%.0f ms", pk.PTT), matchedColor, 11, fyne.TextAlignCenter, x-20, max(y, p.y))
		}
	}
}

func statusColor(s bp.Status) color.Color {
	switch s {
	case bp.Matched:
		return matchedColor
	case bp.Unmatched:
		return unmatchedColor
	}
	return pendingColor
}

// drawReading prints the latest reading above the ECG pane.
func (r *scopeRenderer) drawReading(d bp.BloodPressureData) {
	c := color.Color(labelColor)
	if d.ValidReading {
		c = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	}
	r.text(formatReading(d), c, 12, fyne.TextAlignLeading, 60, 4)
}

// Objects returns all canvas objects for rendering.
func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *scopeRenderer) Destroy() {}

func formatValue(v float32, unit string) string {
	if unit == "" {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f%s", v, unit)
}

func formatSeconds(ms uint32) string {
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

func formatReading(d bp.BloodPressureData) string {
	if d.Systolic == 0 {
		return fmt.Sprintf("collecting  Q %d  C %d", d.SignalQuality, d.CorrelationCoeff)
	}
	s := fmt.Sprintf("%.0f/%.0f mmHg  PTT %.0f ms  HR %.0f  Q %d  C %d",
		d.Systolic, d.Diastolic, d.PulseTransitTime, d.HeartRate, d.SignalQuality, d.CorrelationCoeff)
	if !d.ValidReading {
		s += "  (stale)"
	}
	return s
}

