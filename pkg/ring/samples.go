// Package ring provides the fixed-capacity buffers used by the BP engine.
//
// Nothing in this package grows after construction. Samples is the
// single-producer/single-consumer sample buffer shared between the sensor feed
// and the estimation task; Fixed and Window are consumer-side helpers.
package ring

import (
	"math"
	"sync/atomic"
)

// Sample is a single timestamped reading.
type Sample struct {
	Value     float32
	Timestamp uint32 // milliseconds, wraps after ~49 days
}

// Samples is a lock-free ring buffer of samples.
//
// Memory-ordering contract: the producer stores the slot, then publishes the
// new write count with an atomic store. A consumer that loads the write count
// observes every slot below it. Each slot is a single atomic word, so a slot
// overwritten while the consumer copies it is never torn; Read detects and
// discards such slots by re-loading the write count after copying.
//
// Push must only be called from one goroutine. Read, Last, Len and Clear
// must only be called from one (other) goroutine.
type Samples struct {
	slots []atomic.Uint64
	size  uint64
	head  atomic.Uint64 // total samples written, producer-owned
	floor atomic.Uint64 // consumer-owned, hides samples written before Clear
}

// NewSamples creates a sample ring with the given capacity.
func NewSamples(capacity int) *Samples {
	if capacity <= 0 {
		capacity = 1
	}
	return &Samples{
		slots: make([]atomic.Uint64, capacity),
		size:  uint64(capacity),
	}
}

// Cap returns the capacity of the ring.
func (r *Samples) Cap() int {
	return int(r.size)
}

// Push appends a sample, overwriting the oldest one when full.
// Never blocks and never allocates.
func (r *Samples) Push(value float32, timestamp uint32) {
	i := r.head.Load()
	r.slots[i%r.size].Store(pack(value, timestamp))
	r.head.Store(i + 1)
}

// Written returns the total number of samples pushed since creation.
func (r *Samples) Written() uint64 {
	return r.head.Load()
}

// Len returns the number of readable samples.
func (r *Samples) Len() int {
	head := r.head.Load()
	n := head - r.floor.Load()
	if n > r.size {
		n = r.size
	}
	return int(n)
}

// Clear hides every sample written so far. It does not touch the producer's
// write counter, so it is safe while the producer keeps pushing.
func (r *Samples) Clear() {
	r.floor.Store(r.head.Load())
}

// Read copies samples with sequence numbers >= from into dst, oldest first.
// It returns the copied samples (a prefix-trimmed view of dst), the sequence
// number to continue from and the number of samples that were lost because
// the producer overwrote them before they could be read.
func (r *Samples) Read(from uint64, dst []Sample) (out []Sample, next uint64, lost uint64) {
	head := r.head.Load()
	if floor := r.floor.Load(); from < floor {
		from = floor
	}
	if head > r.size && from < head-r.size {
		lost = head - r.size - from
		from = head - r.size
	}

	count := head - from
	if count > uint64(len(dst)) {
		count = uint64(len(dst))
	}
	for i := uint64(0); i < count; i++ {
		dst[i] = unpack(r.slots[(from+i)%r.size].Load())
	}

	// Anything the producer reached while we copied may have been replaced.
	skip := uint64(0)
	if after := r.head.Load(); after > r.size && after-r.size > from {
		skip = after - r.size - from
		if skip > count {
			skip = count
		}
		lost += skip
	}

	return dst[skip:count], from + count, lost
}

// Last copies up to len(dst) of the most recent samples into dst, oldest first.
func (r *Samples) Last(dst []Sample) []Sample {
	head := r.head.Load()
	n := uint64(len(dst))
	if avail := uint64(r.Len()); n > avail {
		n = avail
	}
	out, _, _ := r.Read(head-n, dst[:n])
	return out
}

func pack(value float32, timestamp uint32) uint64 {
	return uint64(math.Float32bits(value))<<32 | uint64(timestamp)
}

func unpack(v uint64) Sample {
	return Sample{
		Value:     math.Float32frombits(uint32(v >> 32)),
		Timestamp: uint32(v),
	}
}
