package audio

import "math"

// EnergyDB returns the RMS level of samples in dBFS, floored at -100.
func EnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}

// IsSilent reports whether the whole clip stays below thresholdDB.
func IsSilent(samples []float32, thresholdDB float64) bool {
	return EnergyDB(samples) < thresholdDB
}
