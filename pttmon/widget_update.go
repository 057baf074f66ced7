package main

import (
	"fmt"
	"log/slog"
	"time"

	"fyne.io/fyne/v2"

	"github.com/itohio/goptt/pkg/bp"
)

const displayInterval = 100 * time.Millisecond

// runEstimation drains the engine for display and computes a reading every
// monitor interval until stop is closed. Widget updates are scheduled on the
// Fyne thread; each update gets its own snapshot.
func runEstimation(state *appState, engine *bp.Monitor, stop <-chan struct{}) {
	display := time.NewTicker(displayInterval)
	defer display.Stop()
	estimate := time.NewTicker(state.cfg.Monitor.Interval)
	defer estimate.Stop()

	reading := engine.LastReading()
	for {
		select {
		case <-stop:
			return
		case <-estimate.C:
			reading = engine.CalculateBloodPressure()
			slog.Debug("reading",
				"valid", reading.ValidReading,
				"sys", reading.Systolic,
				"dia", reading.Diastolic,
				"ptt", reading.PulseTransitTime,
				"quality", reading.SignalQuality)
			text := resultText(reading, engine.State())
			fyne.Do(func() {
				state.resultLabel.SetText(text)
			})
		case <-display.C:
			engine.Process()
			snap := &bp.Snapshot{}
			engine.Snapshot(snap)
			r := reading
			fyne.Do(func() {
				state.scopeWidget.UpdateData(snap, r)
			})
		}
	}
}

// resultText formats the status line under the scope.
func resultText(d bp.BloodPressureData, s bp.State) string {
	if d.Systolic == 0 {
		return fmt.Sprintf("%s: Q %d, C %d", s, d.SignalQuality, d.CorrelationCoeff)
	}
	cat := bp.InterpretReading(d.Systolic, d.Diastolic)
	text := fmt.Sprintf("%s: %.0f/%.0f mmHg (MAP %.0f) %s | PTT %.0f ms, PWV %.1f m/s | HR %.0f, HRV %.0f ms | Q %d, C %d",
		s, d.Systolic, d.Diastolic, d.MeanArterialPressure, cat,
		d.PulseTransitTime, d.PulseWaveVelocity, d.HeartRate, d.HeartRateVariability,
		d.SignalQuality, d.CorrelationCoeff)
	if d.NeedsCalibration {
		text += " | needs calibration"
	}
	if !d.ValidReading {
		text += " | stale"
	}
	return text
}
