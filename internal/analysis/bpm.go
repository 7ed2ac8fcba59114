package analysis

// EstimateBPM converts the mean R-R interval of consecutive peaks into beats
// per minute. It reports false when fewer than two peaks are available.
func EstimateBPM(peaks []int, rateHz float64) (float64, bool) {
	rr := RRIntervals(peaks, rateHz)
	if len(rr) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range rr {
		sum += v
	}
	if sum <= 0 {
		return 0, false
	}
	return 60 * float64(len(rr)) / sum, true
}

// RRIntervals returns the seconds between consecutive peaks.
func RRIntervals(peaks []int, rateHz float64) []float64 {
	if len(peaks) < 2 || rateHz <= 0 {
		return nil
	}
	out := make([]float64, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		out[i-1] = float64(peaks[i]-peaks[i-1]) / rateHz
	}
	return out
}
