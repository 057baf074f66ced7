package bp

// Category is a blood pressure classification.
type Category int

const (
	Normal Category = iota
	Elevated
	Stage1
	Stage2
	Crisis
)

func (c Category) String() string {
	switch c {
	case Normal:
		return "Normal"
	case Elevated:
		return "Elevated"
	case Stage1:
		return "Stage 1 Hypertension"
	case Stage2:
		return "Stage 2 Hypertension"
	case Crisis:
		return "Hypertensive Crisis"
	}
	return "Unknown"
}

// InterpretReading classifies a reading. The higher of the two pressures'
// categories wins.
func InterpretReading(systolic, diastolic float32) Category {
	switch {
	case systolic >= 180 || diastolic >= 120:
		return Crisis
	case systolic >= 140 || diastolic >= 90:
		return Stage2
	case systolic >= 130 || diastolic >= 80:
		return Stage1
	case systolic >= 120:
		return Elevated
	}
	return Normal
}

func IsHypertensive(systolic, diastolic float32) bool {
	return systolic >= 130 || diastolic >= 80
}

func PulsePressure(systolic, diastolic float32) float32 {
	return systolic - diastolic
}

// MeanArterialPressure approximates MAP as diastolic plus a third of the pulse pressure.
func MeanArterialPressure(systolic, diastolic float32) float32 {
	return diastolic + (systolic-diastolic)/3
}

// CompensateForAge scales a pressure by 0.5% per year relative to age 30.
func CompensateForAge(pressure float32, age int) float32 {
	return pressure * (1 + float32(age-30)*0.005)
}

// CompensateForGender raises male pressures by 2%.
func CompensateForGender(pressure float32, isMale bool) float32 {
	if isMale {
		return pressure * 1.02
	}
	return pressure
}
