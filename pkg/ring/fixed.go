package ring

// Fixed is a bounded FIFO that evicts its oldest element on overflow.
// It is not safe for concurrent use.
type Fixed[T any] struct {
	buf   []T
	start int
	n     int
}

// NewFixed creates a ring holding at most capacity elements.
func NewFixed[T any](capacity int) *Fixed[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Fixed[T]{buf: make([]T, capacity)}
}

// Push appends v and reports whether the oldest element was evicted.
func (f *Fixed[T]) Push(v T) bool {
	if f.n < len(f.buf) {
		f.buf[(f.start+f.n)%len(f.buf)] = v
		f.n++
		return false
	}
	f.buf[f.start] = v
	f.start = (f.start + 1) % len(f.buf)
	return true
}

// Len returns the number of stored elements.
func (f *Fixed[T]) Len() int { return f.n }

// Cap returns the capacity.
func (f *Fixed[T]) Cap() int { return len(f.buf) }

// At returns the i-th element, 0 being the oldest.
func (f *Fixed[T]) At(i int) T {
	return *f.Ptr(i)
}

// Ptr returns a pointer to the i-th element for in-place updates.
// It panics if i is out of range.
func (f *Fixed[T]) Ptr(i int) *T {
	if i < 0 || i >= f.n {
		panic("ring: index out of range")
	}
	return &f.buf[(f.start+i)%len(f.buf)]
}

// Last returns the newest element.
func (f *Fixed[T]) Last() (T, bool) {
	if f.n == 0 {
		var zero T
		return zero, false
	}
	return f.At(f.n - 1), true
}

// Clear drops all elements without releasing memory.
func (f *Fixed[T]) Clear() {
	var zero T
	for i := range f.buf {
		f.buf[i] = zero
	}
	f.start = 0
	f.n = 0
}

// AppendTo appends the elements oldest first to dst.
func (f *Fixed[T]) AppendTo(dst []T) []T {
	for i := 0; i < f.n; i++ {
		dst = append(dst, f.buf[(f.start+i)%len(f.buf)])
	}
	return dst
}
