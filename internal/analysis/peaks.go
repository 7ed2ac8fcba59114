package analysis

import (
	"math"
	"sort"
)

// Default peak detection factors.
const (
	DefaultDistanceFactor   = 0.3
	DefaultProminenceFactor = 0.5
)

// PeakParams tunes DetectPeaks.
type PeakParams struct {
	SamplingRate float64
	// DistanceFactor times SamplingRate is the minimum spacing, in samples,
	// between accepted peaks.
	DistanceFactor float64
	// ProminenceFactor times the population standard deviation of the input
	// is the minimum prominence of an accepted peak.
	ProminenceFactor float64
}

// DefaultPeakParams returns the default factors for rateHz.
func DefaultPeakParams(rateHz float64) PeakParams {
	return PeakParams{
		SamplingRate:     rateHz,
		DistanceFactor:   DefaultDistanceFactor,
		ProminenceFactor: DefaultProminenceFactor,
	}
}

// MinDistance returns the minimum peak spacing in whole samples.
func (p PeakParams) MinDistance() int {
	d := math.Ceil(p.DistanceFactor * p.SamplingRate)
	switch {
	case math.IsNaN(d) || d < 1:
		return 1
	case d >= math.MaxInt:
		return math.MaxInt
	}
	return int(d)
}

// DetectPeaks returns the ascending indices of local maxima in amplitudes
// that are at least MinDistance apart and whose prominence reaches
// ProminenceFactor standard deviations. The result is deterministic for a
// given input and parameters.
func DetectPeaks(amplitudes []int32, p PeakParams) []int {
	if len(amplitudes) == 0 {
		return []int{}
	}
	x := make([]float64, len(amplitudes))
	for i, a := range amplitudes {
		x[i] = float64(a)
	}

	peaks := localMaxima(x)
	peaks = selectByDistance(x, peaks, p.MinDistance())

	minProm := p.ProminenceFactor * stddev(x)
	out := make([]int, 0, len(peaks))
	for _, pk := range peaks {
		if prominence(x, pk) >= minProm {
			out = append(out, pk)
		}
	}
	return out
}

// localMaxima finds samples strictly higher than both neighbours. A flat
// top counts once, at its midpoint (rounded down). Boundary samples are
// never peaks.
func localMaxima(x []float64) []int {
	var peaks []int
	iMax := len(x) - 1
	for i := 1; i < iMax; i++ {
		if x[i-1] >= x[i] {
			continue
		}
		ahead := i + 1
		for ahead < iMax && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] < x[i] {
			peaks = append(peaks, (i+ahead-1)/2)
			i = ahead
		}
	}
	return peaks
}

// selectByDistance keeps the highest peaks first and drops any neighbour
// closer than distance. Equal heights favour the earlier index.
func selectByDistance(x []float64, peaks []int, distance int) []int {
	n := len(peaks)
	if n < 2 || distance <= 1 {
		return peaks
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x[peaks[order[a]]] > x[peaks[order[b]]]
	})

	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}
	for _, j := range order {
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < n && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}

	out := make([]int, 0, n)
	for i, pk := range peaks {
		if keep[i] {
			out = append(out, pk)
		}
	}
	return out
}

// prominence is the height of x[peak] above the higher of the two minima
// reached walking outwards until a strictly higher sample or the boundary.
func prominence(x []float64, peak int) float64 {
	h := x[peak]

	leftMin := h
	for i := peak; i >= 0 && x[i] <= h; i-- {
		if x[i] < leftMin {
			leftMin = x[i]
		}
	}
	rightMin := h
	for i := peak; i < len(x) && x[i] <= h; i++ {
		if x[i] < rightMin {
			rightMin = x[i]
		}
	}
	return h - math.Max(leftMin, rightMin)
}

// stddev is the population standard deviation.
func stddev(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v
	}
	mean := sum / float64(len(x))
	var ss float64
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(x)))
}
