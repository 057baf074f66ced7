package bp

import "github.com/chewxy/math32"

// RMSSD returns the root mean square of successive differences over pairs of
// consecutive intervals. ok is false when no such pair exists, which means
// "no HRV" rather than zero variability.
func RMSSD(intervals []RRInterval) (rmssd float32, ok bool) {
	var sum float32
	n := 0
	for i := 1; i < len(intervals); i++ {
		if !intervals[i].Follows {
			continue
		}
		d := intervals[i].Ms - intervals[i-1].Ms
		sum += d * d
		n++
	}
	if n == 0 {
		return 0, false
	}
	return math32.Sqrt(sum / float32(n)), true
}
