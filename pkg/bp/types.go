package bp

import (
	"errors"
	"fmt"
)

var (
	ErrCalibrationFull       = errors.New("calibration table is full")
	ErrNoPTT                 = errors.New("no pulse transit time available")
	ErrInvalidReference      = errors.New("invalid reference pressure")
	ErrDegenerateCalibration = errors.New("degenerate calibration: all points share one PTT")
	ErrSelfTest              = errors.New("self-test failed")
)

// Physiological limits for reference and estimated pressures (mmHg).
const (
	MinSystolic  = 60
	MaxSystolic  = 260
	MinDiastolic = 30
	MaxDiastolic = 160
)

// Status is the match state of an ECG peak or PPG onset.
type Status uint8

const (
	Pending   Status = iota // not yet resolved
	Matched                 // paired with a beat on the other channel
	Unmatched               // its match window passed without a partner
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Matched:
		return "matched"
	case Unmatched:
		return "unmatched"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Peak is a detected ECG R-peak or PPG onset (foot).
type Peak struct {
	Timestamp uint32  // ms
	Value     float32 // smoothed signal value at the peak / foot level of an onset
	Amplitude float32 // R height above the baseline, or upstroke slope (units/ms) of an onset
	Status    Status
	PTT       float32 // ms, set on matched ECG peaks
}

// RRInterval is an accepted beat-to-beat interval.
type RRInterval struct {
	Ms      float32
	Follows bool // directly follows the previously accepted interval
}

// UserProfile is supplied by the caller and used for PWV and compensation.
type UserProfile struct {
	Age      int
	HeightCm float32
	IsMale   bool
}

// BloodPressureData is the result of one calculation.
//
// When ValidReading is false the pressure, PTT, PWV, HRV and heart rate fields
// carry the last valid values (zero if there never was one). The quality
// fields always describe the current data.
type BloodPressureData struct {
	Systolic             float32 // mmHg
	Diastolic            float32 // mmHg
	MeanArterialPressure float32 // mmHg
	PulseTransitTime     float32 // ms
	PulseWaveVelocity    float32 // m/s
	HeartRateVariability float32 // RMSSD, ms
	HeartRate            float32 // BPM

	ValidReading     bool
	NeedsCalibration bool
	Timestamp        uint32 // ms, latest processed sample

	SignalQuality    int // 0..100
	CorrelationCoeff int // -100..100
	RhythmRegular    bool
}

// State is the engine lifecycle state, derived from its contents.
type State int

const (
	Uninitialized State = iota
	Collecting
	Active
	Degraded
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Collecting:
		return "collecting"
	case Active:
		return "active"
	case Degraded:
		return "degraded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stats are engine counters since the last reset.
type Stats struct {
	DroppedEarly  uint64 // samples received before Begin
	DroppedECG    uint64 // invalid or out of range ECG samples
	DroppedPPG    uint64 // invalid or out of range PPG samples
	DroppedRed    uint64 // invalid red values; the IR sample is still used
	OverrunsECG   uint64 // samples overwritten before the consumer read them
	OverrunsPPG   uint64
	ProcessedECG  uint64
	ProcessedPPG  uint64
	RPeaks        uint64
	Onsets        uint64
	MatchedBeats  uint64
	MissedBeats   uint64
	RRIntervals   int
	Calibration   CalibrationState
	ECGThreshold  float32
	PPGThreshold  float32 // slope, units/ms
	ECGClipping   float32 // fraction of clipped samples in the last block
	PPGClipping   float32
	ECGDetectorOn bool
	PPGDetectorOn bool
}

// elapsed returns to-from in milliseconds, correct across uint32 wrap.
func elapsed(from, to uint32) int32 {
	return int32(to - from)
}
