package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goptt/pkg/ring"
)

func TestDownsample_NoDownsampling(t *testing.T) {
	samples := []ring.Sample{
		{Value: 1.0, Timestamp: 0},
		{Value: 1.1, Timestamp: 5},
		{Value: 1.2, Timestamp: 10},
	}

	result := Downsample(nil, samples, 10)
	assert.Equal(t, samples, result)

	// Reuses dst with sufficient capacity.
	dst := make([]ring.Sample, 0, 10)
	result = Downsample(dst, samples, 10)
	assert.Equal(t, samples, result)
	assert.Equal(t, cap(dst), cap(result))

	// Copies, never aliases src.
	result[0].Value = 42
	assert.Equal(t, float32(1.0), samples[0].Value)
}

func TestDownsample_WithDownsampling(t *testing.T) {
	samples := make([]ring.Sample, 100)
	for i := range samples {
		samples[i] = ring.Sample{Value: float32(i), Timestamp: uint32(i * 5)}
	}

	result := Downsample(nil, samples, 10)
	require.Len(t, result, 10)
	for i, s := range result {
		assert.Equal(t, float32(i*10), s.Value)
	}

	dst := make([]ring.Sample, 0, 20)
	result = Downsample(dst, samples, 10)
	require.Len(t, result, 10)
	assert.Equal(t, 20, cap(result))
}

func TestDownsample_UnevenStep(t *testing.T) {
	src := []float64{0, 1, 2, 3, 4, 5, 6}
	assert.Equal(t, []float64{0, 2, 4}, Downsample(nil, src, 3))
}

func TestDownsample_ZeroPoints(t *testing.T) {
	assert.Empty(t, Downsample(nil, []int{1, 2, 3}, 0))
}
