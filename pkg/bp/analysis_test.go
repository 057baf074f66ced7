package bp

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestRMSSD(t *testing.T) {
	tests := []struct {
		name      string
		intervals []RRInterval
		want      float32
		ok        bool
	}{
		{
			name:      "constant",
			intervals: []RRInterval{{800, false}, {800, true}, {800, true}, {800, true}},
			want:      0,
			ok:        true,
		},
		{
			name:      "alternating",
			intervals: []RRInterval{{800, false}, {900, true}, {800, true}, {900, true}, {800, true}},
			want:      100,
			ok:        true,
		},
		{
			name:      "single interval",
			intervals: []RRInterval{{800, false}},
			ok:        false,
		},
		{
			name:      "no consecutive pair",
			intervals: []RRInterval{{800, false}, {1200, false}, {700, false}},
			ok:        false,
		},
		{
			name:      "gaps are skipped",
			intervals: []RRInterval{{800, false}, {850, true}, {1500, false}, {1450, true}},
			want:      50,
			ok:        true,
		},
		{
			name: "empty",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RMSSD(tt.intervals)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-3)
		})
	}
}

func TestInterpretReading(t *testing.T) {
	tests := []struct {
		sys, dia float32
		want     Category
	}{
		{115, 75, Normal},
		{125, 75, Elevated},
		{135, 75, Stage1},
		{118, 84, Stage1},
		{145, 85, Stage2},
		{125, 95, Stage2},
		{185, 100, Crisis},
		{150, 125, Crisis},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InterpretReading(tt.sys, tt.dia), "%v/%v", tt.sys, tt.dia)
	}
	assert.Equal(t, "Stage 2 Hypertension", Stage2.String())
}

func TestBPHelpers(t *testing.T) {
	assert.True(t, IsHypertensive(130, 70))
	assert.True(t, IsHypertensive(120, 80))
	assert.False(t, IsHypertensive(129, 79))
	assert.Equal(t, float32(40), PulsePressure(120, 80))
	assert.InDelta(t, 93.333, MeanArterialPressure(120, 80), 1e-3)

	assert.InDelta(t, 100, CompensateForAge(100, 30), 1e-4)
	assert.InDelta(t, 110, CompensateForAge(100, 50), 1e-4)
	assert.InDelta(t, 95, CompensateForAge(100, 20), 1e-4)
	assert.InDelta(t, 102, CompensateForGender(100, true), 1e-4)
	assert.InDelta(t, 100, CompensateForGender(100, false), 1e-4)
}

func TestDerivedMetrics_Fallbacks(t *testing.T) {
	profile := UserProfile{Age: 40, HeightCm: 175, IsMale: true}
	var empty BloodPressureData

	stiffness := ArterialStiffness(empty, profile)
	assert.False(t, math32.IsNaN(stiffness))
	assert.InDelta(t, 1.06*7.5*7.5, stiffness, 1e-3)

	co := CardiacOutput(empty)
	assert.False(t, math32.IsNaN(co))
	// SV = 350*40/200 = 70 mL at 70 BPM.
	assert.InDelta(t, 4.9, co, 1e-3)

	h := VascularHealth(empty, profile)
	// 120/80 is already stage 1.
	assert.Equal(t, 20+20+15, h.Score)
	assert.Equal(t, "Fair", h.Grade)
	assert.Equal(t, "Fair (55/100)", h.String())

	assert.Zero(t, PulseWaveVelocity(0, 170))
	assert.Zero(t, PulseWaveVelocity(180, 0))
}

func TestDerivedMetrics_Measured(t *testing.T) {
	profile := UserProfile{Age: 30, HeightCm: 170, IsMale: true}
	data := BloodPressureData{
		Systolic:             118,
		Diastolic:            76,
		PulseWaveVelocity:    PulseWaveVelocity(170, 170),
		HeartRateVariability: 60,
		HeartRate:            60,
	}

	assert.InDelta(t, 4.0, data.PulseWaveVelocity, 1e-4)
	assert.InDelta(t, 1.06*16, ArterialStiffness(data, profile), 1e-3)
	assert.InDelta(t, 60*350*42.0/194/1000, CardiacOutput(data), 1e-4)

	h := VascularHealth(data, profile)
	assert.Equal(t, 100, h.Score)
	assert.Equal(t, "Excellent", h.Grade)

	data.PulseWaveVelocity = 12
	data.HeartRateVariability = 20
	data.Systolic, data.Diastolic = 150, 95
	h = VascularHealth(data, profile)
	assert.Equal(t, 15, h.Score)
	assert.Equal(t, "Poor", h.Grade)
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "collecting", Collecting.String())
	assert.Equal(t, "matched", Matched.String())
	assert.Equal(t, "State(9)", State(9).String())
}
