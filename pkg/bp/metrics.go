package bp

import "fmt"

const (
	bloodDensity = 1.06 // g/cm³, so PWV² (m²/s²) × ρ gives kPa

	fallbackSystolic  = 120
	fallbackDiastolic = 80
	fallbackHeartRate = 70
)

// PulseWaveVelocity returns the heart to finger PWV in m/s. The arterial path
// is estimated as 40% of body height.
func PulseWaveVelocity(pttMs, heightCm float32) float32 {
	if pttMs <= 0 || heightCm <= 0 {
		return 0
	}
	path := heightCm * 0.4 / 100
	return path / (pttMs / 1000)
}

// ExpectedPWV is a rough age-expected PWV (m/s) used when none was measured.
func ExpectedPWV(age int) float32 {
	if age <= 0 {
		age = 30
	}
	return 0.1*float32(age) + 3.5
}

// ArterialStiffness estimates the elastic modulus (kPa) with the
// Moens-Korteweg relation E·h/d ≈ ρ·PWV². Without a measured PWV the
// age-expected value is used.
func ArterialStiffness(data BloodPressureData, profile UserProfile) float32 {
	pwv := data.PulseWaveVelocity
	if pwv <= 0 {
		pwv = ExpectedPWV(profile.Age)
	}
	return bloodDensity * pwv * pwv
}

// CardiacOutput estimates cardiac output in L/min from the Liljestrand-Zander
// stroke volume SV = 350·PP/(sys+dia) mL. Missing pressures or heart rate fall
// back to 120/80 mmHg and 70 BPM.
func CardiacOutput(data BloodPressureData) float32 {
	sys, dia := data.Systolic, data.Diastolic
	if sys <= 0 || dia <= 0 || sys <= dia {
		sys, dia = fallbackSystolic, fallbackDiastolic
	}
	hr := data.HeartRate
	if hr <= 0 {
		hr = fallbackHeartRate
	}
	sv := 350 * PulsePressure(sys, dia) / (sys + dia)
	return hr * sv / 1000
}

// HealthIndex is a coarse vascular health score.
type HealthIndex struct {
	Score int // 0..100
	Grade string
}

func (h HealthIndex) String() string {
	return fmt.Sprintf("%s (%d/100)", h.Grade, h.Score)
}

// VascularHealth scores PWV, HRV and the blood pressure category, each worth
// a third of the total. Missing inputs score as moderate.
func VascularHealth(data BloodPressureData, profile UserProfile) HealthIndex {
	score := 0

	pwv := data.PulseWaveVelocity
	if pwv <= 0 {
		pwv = ExpectedPWV(profile.Age)
	}
	switch {
	case pwv < 7:
		score += 34
	case pwv < 10:
		score += 20
	default:
		score += 5
	}

	switch hrv := data.HeartRateVariability; {
	case hrv > 50:
		score += 33
	case hrv > 30 || hrv <= 0:
		score += 20
	default:
		score += 5
	}

	sys, dia := data.Systolic, data.Diastolic
	if sys <= 0 || dia <= 0 {
		sys, dia = fallbackSystolic, fallbackDiastolic
	}
	switch InterpretReading(sys, dia) {
	case Normal:
		score += 33
	case Elevated:
		score += 25
	case Stage1:
		score += 15
	case Stage2:
		score += 5
	}

	h := HealthIndex{Score: score}
	switch {
	case score >= 80:
		h.Grade = "Excellent"
	case score >= 60:
		h.Grade = "Good"
	case score >= 40:
		h.Grade = "Fair"
	default:
		h.Grade = "Poor"
	}
	return h
}
