package ring

import "github.com/chewxy/math32"

// Window keeps running statistics over the last size values.
type Window struct {
	values []float32
	index  int
	count  int
	sum    float32
	sumSq  float32
}

// NewWindow creates a sliding window of the given size.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{values: make([]float32, size)}
}

// Add pushes a value, dropping the oldest one when the window is full.
func (w *Window) Add(v float32) {
	if w.count >= len(w.values) {
		old := w.values[w.index]
		w.sum -= old
		w.sumSq -= old * old
	} else {
		w.count++
	}

	w.values[w.index] = v
	w.sum += v
	w.sumSq += v * v

	w.index = (w.index + 1) % len(w.values)
}

// Count returns the number of values in the window.
func (w *Window) Count() int { return w.count }

// Mean returns the rolling average, 0 for an empty window.
func (w *Window) Mean() float32 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float32(w.count)
}

// StdDev returns the sample standard deviation.
func (w *Window) StdDev() float32 {
	if w.count < 2 {
		return 0
	}
	n := float32(w.count)
	variance := (w.sumSq - w.sum*w.sum/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math32.Sqrt(variance)
}

// CV returns the coefficient of variation, 0 when the mean is 0.
func (w *Window) CV() float32 {
	mean := w.Mean()
	if mean == 0 {
		return 0
	}
	return w.StdDev() / math32.Abs(mean)
}

// Reset empties the window.
func (w *Window) Reset() {
	for i := range w.values {
		w.values[i] = 0
	}
	w.index = 0
	w.count = 0
	w.sum = 0
	w.sumSq = 0
}
