package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamples_PushRead(t *testing.T) {
	r := NewSamples(4)
	dst := make([]Sample, 4)

	r.Push(1.5, 10)
	r.Push(2.5, 20)

	out, next, lost := r.Read(0, dst)
	require.Len(t, out, 2)
	assert.Equal(t, Sample{Value: 1.5, Timestamp: 10}, out[0])
	assert.Equal(t, Sample{Value: 2.5, Timestamp: 20}, out[1])
	assert.Equal(t, uint64(2), next)
	assert.Zero(t, lost)

	out, next, _ = r.Read(next, dst)
	assert.Empty(t, out)
	assert.Equal(t, uint64(2), next)
}

func TestSamples_WrapAround(t *testing.T) {
	r := NewSamples(3)
	dst := make([]Sample, 3)

	for i := 0; i < 5; i++ {
		r.Push(float32(i), uint32(i*5))
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, uint64(5), r.Written())

	out, next, lost := r.Read(0, dst)
	require.Len(t, out, 3)
	assert.Equal(t, uint64(2), lost, "two samples were overwritten before the read")
	assert.Equal(t, uint64(5), next)
	for i, s := range out {
		assert.Equal(t, float32(i+2), s.Value)
		assert.Equal(t, uint32((i+2)*5), s.Timestamp)
	}
}

func TestSamples_ReadIntoSmallDestination(t *testing.T) {
	r := NewSamples(8)
	for i := 0; i < 6; i++ {
		r.Push(float32(i), uint32(i))
	}

	dst := make([]Sample, 4)
	out, next, _ := r.Read(0, dst)
	require.Len(t, out, 4)
	assert.Equal(t, uint64(4), next)

	out, next, _ = r.Read(next, dst)
	require.Len(t, out, 2)
	assert.Equal(t, float32(4), out[0].Value)
	assert.Equal(t, uint64(6), next)
}

func TestSamples_ClearHidesOldSamples(t *testing.T) {
	r := NewSamples(4)
	r.Push(1, 1)
	r.Push(2, 2)

	r.Clear()
	assert.Equal(t, 0, r.Len())

	out, _, _ := r.Read(0, make([]Sample, 4))
	assert.Empty(t, out)

	r.Push(3, 3)
	out, _, _ = r.Read(0, make([]Sample, 4))
	require.Len(t, out, 1)
	assert.Equal(t, float32(3), out[0].Value)
}

func TestSamples_Last(t *testing.T) {
	r := NewSamples(5)
	for i := 0; i < 7; i++ {
		r.Push(float32(i), uint32(i))
	}

	out := r.Last(make([]Sample, 3))
	require.Len(t, out, 3)
	assert.Equal(t, []float32{4, 5, 6}, []float32{out[0].Value, out[1].Value, out[2].Value})

	out = r.Last(make([]Sample, 10))
	assert.Len(t, out, 5)
}

func TestSamples_NegativeValuesSurvivePacking(t *testing.T) {
	r := NewSamples(2)
	r.Push(-0.75, 0xFFFFFFFF)

	out := r.Last(make([]Sample, 1))
	require.Len(t, out, 1)
	assert.Equal(t, float32(-0.75), out[0].Value)
	assert.Equal(t, uint32(0xFFFFFFFF), out[0].Timestamp)
}

func TestSamples_ConcurrentProducerConsumer(t *testing.T) {
	const total = 20000
	r := NewSamples(64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			r.Push(float32(i), uint32(i))
		}
	}()

	dst := make([]Sample, 64)
	var next, lost, seen uint64
	last := int64(-1)
	for next < total {
		var out []Sample
		var l uint64
		out, next, l = r.Read(next, dst)
		lost += l
		for _, s := range out {
			// Samples come out strictly in order and untorn
			assert.Greater(t, int64(s.Timestamp), last)
			assert.Equal(t, float32(s.Timestamp), s.Value)
			last = int64(s.Timestamp)
			seen++
		}
	}
	wg.Wait()

	assert.Equal(t, uint64(total), seen+lost)
}

func TestFixed_EvictsOldest(t *testing.T) {
	f := NewFixed[int](3)

	assert.False(t, f.Push(1))
	assert.False(t, f.Push(2))
	assert.False(t, f.Push(3))
	assert.True(t, f.Push(4))

	assert.Equal(t, 3, f.Len())
	assert.Equal(t, []int{2, 3, 4}, f.AppendTo(nil))
	assert.Equal(t, 2, f.At(0))

	last, ok := f.Last()
	assert.True(t, ok)
	assert.Equal(t, 4, last)

	*f.Ptr(0) = 20
	assert.Equal(t, 20, f.At(0))

	f.Clear()
	assert.Equal(t, 0, f.Len())
	_, ok = f.Last()
	assert.False(t, ok)
	assert.Panics(t, func() { f.At(0) })
}

func TestWindow_RollingBehavior(t *testing.T) {
	w := NewWindow(3)

	w.Add(10)
	w.Add(20)
	w.Add(30)
	assert.InDelta(t, 20, w.Mean(), 1e-4)
	assert.InDelta(t, 10, w.StdDev(), 1e-3)
	assert.InDelta(t, 0.5, w.CV(), 1e-4)

	w.Add(40)
	assert.Equal(t, 3, w.Count())
	assert.InDelta(t, 30, w.Mean(), 1e-4)

	w.Reset()
	assert.Equal(t, 0, w.Count())
	assert.Zero(t, w.Mean())
	assert.Zero(t, w.StdDev())
	assert.Zero(t, w.CV())
}

func TestWindow_ConstantValues(t *testing.T) {
	w := NewWindow(5)
	for i := 0; i < 8; i++ {
		w.Add(180)
	}
	assert.InDelta(t, 180, w.Mean(), 1e-3)
	assert.InDelta(t, 0, w.StdDev(), 0.5)
}
