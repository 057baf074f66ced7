package bp

import "github.com/itohio/goptt/pkg/ring"

// smoother is a moving average over a fixed odd number of taps. The output
// carries the timestamp of the center tap, which removes the filter's group
// delay from every peak derived from it.
type smoother struct {
	taps []ring.Sample
	next int
	n    int
}

func newSmoother(taps int) *smoother {
	if taps < 1 {
		taps = 1
	}
	if taps%2 == 0 {
		taps++
	}
	return &smoother{taps: make([]ring.Sample, taps)}
}

// push adds a raw sample and returns the smoothed sample once the filter is full.
func (s *smoother) push(v float32, ts uint32) (ring.Sample, bool) {
	size := len(s.taps)
	s.taps[s.next] = ring.Sample{Value: v, Timestamp: ts}
	s.next = (s.next + 1) % size
	if s.n < size {
		s.n++
		if s.n < size {
			return ring.Sample{}, false
		}
	}

	var sum float32
	for _, t := range s.taps {
		sum += t.Value
	}
	// s.next is the oldest tap now
	center := s.taps[(s.next+size/2)%size]
	return ring.Sample{Value: sum / float32(size), Timestamp: center.Timestamp}, true
}

func (s *smoother) reset() {
	s.next = 0
	s.n = 0
}
