package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/goptt/pkg/bp"
	"github.com/itohio/goptt/pkg/ring"
)

func TestAutoScale(t *testing.T) {
	lo, hi := autoScale(nil)
	assert.Equal(t, float32(0), lo)
	assert.Equal(t, float32(1), hi)

	lo, hi = autoScale([]ring.Sample{{Value: -1}, {Value: 1}, {Value: 0.5}})
	assert.InDelta(t, -1.2, lo, 1e-6)
	assert.InDelta(t, 1.2, hi, 1e-6)

	lo, hi = autoScale([]ring.Sample{{Value: 3}, {Value: 3}})
	assert.InDelta(t, 2.9, lo, 1e-6)
	assert.InDelta(t, 3.1, hi, 1e-6)
}

func TestTimeRange(t *testing.T) {
	ecg := []ring.Sample{{Timestamp: 1000}, {Timestamp: 9000}}
	ppg := []ring.Sample{{Timestamp: 990}, {Timestamp: 8990}}
	first, last := timeRange(ecg, ppg)
	assert.Equal(t, uint32(990), first)
	assert.Equal(t, uint32(9000), last)

	// Short recordings still get the minimum window.
	first, last = timeRange([]ring.Sample{{Timestamp: 100}, {Timestamp: 200}}, nil)
	assert.Equal(t, uint32(100), first)
	assert.Equal(t, uint32(100+minWindowMs), last)

	// Across clock wrap.
	first, last = timeRange([]ring.Sample{{Timestamp: 0xFFFFF000}, {Timestamp: 0x2000}}, nil)
	assert.Equal(t, uint32(0xFFFFF000), first)
	assert.Equal(t, uint32(0x2000), last)
}

func TestFormatReading(t *testing.T) {
	assert.Equal(t, "collecting  Q 10  C 0", formatReading(bp.BloodPressureData{SignalQuality: 10}))

	d := bp.BloodPressureData{
		Systolic: 121.4, Diastolic: 79.2, PulseTransitTime: 181.6, HeartRate: 70.2,
		SignalQuality: 90, CorrelationCoeff: 65, ValidReading: true,
	}
	assert.Equal(t, "121/79 mmHg  PTT 182 ms  HR 70  Q 90  C 65", formatReading(d))

	d.ValidReading = false
	assert.Contains(t, formatReading(d), "(stale)")
}
