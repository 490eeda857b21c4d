package harness

import (
	"math"
	"slices"
	"time"
)

// Summary holds the reductions of one timing series
type Summary struct {
	Count  int
	Mean   time.Duration
	StdDev time.Duration
	Median time.Duration
	Min    time.Duration
	Max    time.Duration
}

// Summarize reduces samples. An empty slice yields the zero Summary.
func Summarize(samples []time.Duration) Summary {
	if len(samples) == 0 {
		return Summary{}
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	mean := calculateMean(sorted)
	variance := calculateVariance(sorted, mean)

	return Summary{
		Count:  len(sorted),
		Mean:   time.Duration(mean),
		StdDev: time.Duration(math.Sqrt(variance)),
		Median: percentile(sorted, 0.5),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}

func calculateMean(samples []time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	return sum / float64(len(samples))
}

// calculateVariance calculates the population variance of samples.
func calculateVariance(samples []time.Duration, mean float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquaredDiff float64
	for _, s := range samples {
		diff := float64(s) - mean
		sumSquaredDiff += diff * diff
	}
	return sumSquaredDiff / float64(len(samples))
}

// percentile interpolates linearly between neighbours of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}

	fraction := index - float64(lower)
	return time.Duration(float64(sorted[lower])*(1-fraction) + float64(sorted[upper])*fraction)
}
