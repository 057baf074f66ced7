package bp

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/itohio/goptt/pkg/config"
)

// MaxCalibrationPoints is the size of the calibration table.
const MaxCalibrationPoints = 5

// CalibrationPoint pairs a reference cuff reading with the PTT measured at
// the time it was taken.
type CalibrationPoint struct {
	PTT       float32 // ms
	Systolic  float32 // mmHg
	Diastolic float32 // mmHg
	Timestamp uint32  // ms
}

// Coefficients map PTT (ms) to pressure: BP = slope*PTT + intercept.
type Coefficients struct {
	SystolicSlope      float32
	SystolicIntercept  float32
	DiastolicSlope     float32
	DiastolicIntercept float32
}

// Estimate returns systolic and diastolic pressure for the given PTT.
func (c Coefficients) Estimate(ptt float32) (float32, float32) {
	return c.SystolicSlope*ptt + c.SystolicIntercept, c.DiastolicSlope*ptt + c.DiastolicIntercept
}

// CoefficientsFromConfig converts the population model from the config.
func CoefficientsFromConfig(p config.PopulationConfig) Coefficients {
	return Coefficients{
		SystolicSlope:      float32(p.SystolicSlope),
		SystolicIntercept:  float32(p.SystolicIntercept),
		DiastolicSlope:     float32(p.DiastolicSlope),
		DiastolicIntercept: float32(p.DiastolicIntercept),
	}
}

// CalibrationMode tells which model produces estimates.
type CalibrationMode int

const (
	DefaultCalibration CalibrationMode = iota
	OffsetOnly
	Personalized
)

// CalibrationState describes the calibration table.
type CalibrationState struct {
	Mode   CalibrationMode
	Points int
	Auto   bool // profile-adjusted population coefficients in use
}

func (s CalibrationState) String() string {
	var str string
	switch s.Mode {
	case OffsetOnly:
		str = "offset-only"
	case Personalized:
		str = fmt.Sprintf("personalized(%d)", s.Points)
	default:
		str = "default"
	}
	if s.Auto {
		str += ", auto"
	}
	return str
}

// Calibrator holds the calibration table and the active coefficients.
// It is not safe for concurrent use.
type Calibrator struct {
	points   [MaxCalibrationPoints]CalibrationPoint
	n        int
	eviction string

	population Coefficients
	base       Coefficients // population, or profile-adjusted population
	coef       Coefficients

	auto    bool
	profile UserProfile
}

// NewCalibrator creates a calibrator starting from the population model.
func NewCalibrator(population Coefficients, eviction string) *Calibrator {
	if eviction == "" {
		eviction = config.EvictReject
	}
	return &Calibrator{
		eviction:   eviction,
		population: population,
		base:       population,
		coef:       population,
	}
}

// ValidatePoint checks a reference reading against the physiological limits.
func ValidatePoint(p CalibrationPoint) error {
	if p.PTT <= 0 || math32.IsNaN(p.PTT) || math32.IsInf(p.PTT, 0) {
		return ErrNoPTT
	}
	if p.Systolic <= p.Diastolic ||
		p.Systolic < MinSystolic || p.Systolic > MaxSystolic ||
		p.Diastolic < MinDiastolic || p.Diastolic > MaxDiastolic {
		return fmt.Errorf("%.0f/%.0f mmHg: %w", p.Systolic, p.Diastolic, ErrInvalidReference)
	}
	return nil
}

// Add stores a calibration point. A full table rejects the point or evicts
// the oldest one, depending on the eviction policy. Coefficients are not
// updated until Update is called.
func (c *Calibrator) Add(p CalibrationPoint) error {
	if err := ValidatePoint(p); err != nil {
		return err
	}

	if c.n == len(c.points) {
		if c.eviction != config.EvictOldest {
			return fmt.Errorf("%d points stored: %w", c.n, ErrCalibrationFull)
		}
		copy(c.points[:], c.points[1:])
		c.n--
	}
	c.points[c.n] = p
	c.n++
	return nil
}

// Update recomputes the coefficients from the stored points.
//
// No points: base coefficients. One point: base slopes with intercepts shifted
// through the point. Two or more: least-squares fit of each pressure on PTT.
// A degenerate set keeps the previous coefficients.
func (c *Calibrator) Update() error {
	switch c.n {
	case 0:
		c.coef = c.base
		return nil
	case 1:
		p := c.points[0]
		c.coef = Coefficients{
			SystolicSlope:      c.base.SystolicSlope,
			SystolicIntercept:  p.Systolic - c.base.SystolicSlope*p.PTT,
			DiastolicSlope:     c.base.DiastolicSlope,
			DiastolicIntercept: p.Diastolic - c.base.DiastolicSlope*p.PTT,
		}
		return nil
	}

	var meanPTT, meanSys, meanDia float32
	for _, p := range c.points[:c.n] {
		meanPTT += p.PTT
		meanSys += p.Systolic
		meanDia += p.Diastolic
	}
	n := float32(c.n)
	meanPTT /= n
	meanSys /= n
	meanDia /= n

	var sxx, sxs, sxd float32
	for _, p := range c.points[:c.n] {
		dx := p.PTT - meanPTT
		sxx += dx * dx
		sxs += dx * (p.Systolic - meanSys)
		sxd += dx * (p.Diastolic - meanDia)
	}
	if sxx < flatEpsilon {
		return fmt.Errorf("%d points at PTT %.1f ms: %w", c.n, meanPTT, ErrDegenerateCalibration)
	}

	sysSlope := sxs / sxx
	diaSlope := sxd / sxx
	c.coef = Coefficients{
		SystolicSlope:      sysSlope,
		SystolicIntercept:  meanSys - sysSlope*meanPTT,
		DiastolicSlope:     diaSlope,
		DiastolicIntercept: meanDia - diaSlope*meanPTT,
	}
	return nil
}

// AutoCalibrate switches the base coefficients to the population model
// adjusted for the profile. It does nothing and returns false once two or
// more manual points exist.
func (c *Calibrator) AutoCalibrate(profile UserProfile) bool {
	if c.n >= 2 {
		return false
	}

	base := c.population
	if profile.Age > 60 {
		base.SystolicSlope *= 1.10
		base.DiastolicSlope *= 1.05
	}
	if !profile.IsMale {
		base.SystolicIntercept -= 5
		base.DiastolicIntercept -= 3
	}
	switch {
	case profile.HeightCm > 180:
		base.SystolicIntercept += 3
	case profile.HeightCm > 0 && profile.HeightCm < 160:
		base.SystolicIntercept -= 3
	}

	c.base = base
	c.auto = true
	c.profile = profile
	// Update cannot fail with fewer than two points.
	_ = c.Update()
	return true
}

// Estimate returns systolic and diastolic pressure for the given PTT.
// Without manual points, auto-calibrated estimates are compensated for age
// and gender.
func (c *Calibrator) Estimate(ptt float32) (float32, float32) {
	sys, dia := c.coef.Estimate(ptt)
	if c.auto && c.n == 0 {
		sys = CompensateForGender(CompensateForAge(sys, c.profile.Age), c.profile.IsMale)
		dia = CompensateForGender(CompensateForAge(dia, c.profile.Age), c.profile.IsMale)
	}
	return sys, dia
}

// Clear drops all points and returns to the population model.
func (c *Calibrator) Clear() {
	c.points = [MaxCalibrationPoints]CalibrationPoint{}
	c.n = 0
	c.auto = false
	c.base = c.population
	c.coef = c.population
}

func (c *Calibrator) Len() int { return c.n }

// Points returns a copy of the stored points, oldest first.
func (c *Calibrator) Points() []CalibrationPoint {
	return append([]CalibrationPoint(nil), c.points[:c.n]...)
}

func (c *Calibrator) Coefficients() Coefficients { return c.coef }

// NeedsCalibration reports whether fewer than two manual points exist.
func (c *Calibrator) NeedsCalibration() bool { return c.n < 2 }

func (c *Calibrator) State() CalibrationState {
	s := CalibrationState{Points: c.n, Auto: c.auto}
	switch {
	case c.n == 1:
		s.Mode = OffsetOnly
	case c.n >= 2:
		s.Mode = Personalized
	}
	return s
}
