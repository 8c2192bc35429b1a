// sampler.go implements the per-record probabilistic reporting gate.

package jstrack

import (
	"math"
	"math/rand/v2"
)

// ShouldReport returns true with probability rate. A NaN rate or one outside
// [0,1] is treated as 1: a missing or invalid rate never suppresses records.
func ShouldReport(rate float64) bool {
	return shouldReport(rate, rand.Float64)
}

// shouldReport draws once from draw, which must return values in [0,1).
func shouldReport(rate float64, draw func() float64) bool {
	return draw() < normalizeRate(rate)
}

func normalizeRate(rate float64) float64 {
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return 1
	}
	return rate
}
