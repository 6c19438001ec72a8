package gen

import (
	"math"
	"slices"
	"time"
)

// EstimateRate returns the number of events per second, given a set of consecutive
// intervals between events. We use the median interval, so that a single hiccup
// doesn't distort the result. Returns 0 if there is nothing to measure.
func EstimateRate(intervals []time.Duration) float64 {
	if len(intervals) == 0 {
		return 0
	}
	sorted := slices.Clone(intervals)
	slices.Sort(sorted)
	mid := sorted[len(sorted)/2]
	if mid <= 0 {
		return 0
	}
	return float64(time.Second) / float64(mid)
}

// RoundFPS rounds a measured frame rate to what a camera is likely configured for.
// Cameras can be configured for less than 1 FPS, typically 1/2, 1/4, 1/8 or 1/16.
func RoundFPS(fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	if fps >= 0.9 {
		return math.Round(fps)
	}
	return 1 / math.Round(1/fps)
}
