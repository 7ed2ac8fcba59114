// Package analysis derives display data from session snapshots: the recent
// window, R-peak detection and heart rate estimated from peak spacing.
package analysis

import "math"

// WindowSize returns the number of samples covering windowSeconds at rateHz.
// NaN and non-positive products give 0; products past math.MaxInt saturate.
func WindowSize(windowSeconds, rateHz float64) int {
	n := math.Round(rateHz * windowSeconds)
	switch {
	case math.IsNaN(n) || n <= 0:
		return 0
	case n >= math.MaxInt:
		return math.MaxInt
	}
	return int(n)
}

// Recent returns the trailing WindowSize(windowSeconds, rateHz) elements of
// xs, or xs unchanged when it is not longer than that. The result aliases xs.
func Recent[T any](xs []T, windowSeconds, rateHz float64) []T {
	n := WindowSize(windowSeconds, rateHz)
	if len(xs) > n {
		return xs[len(xs)-n:]
	}
	return xs
}
