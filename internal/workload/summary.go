package workload

import (
	"slices"
	"time"
)

// Summary describes the distribution of result durations.
type Summary struct {
	Count  int
	Mean   time.Duration
	Median time.Duration
	P95    time.Duration
	P99    time.Duration
	Min    time.Duration
	Max    time.Duration
}

// Summarize computes a Summary over durations. The input is not modified.
func Summarize(durations []time.Duration) Summary {
	if len(durations) == 0 {
		return Summary{}
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	return Summary{
		Count:  len(sorted),
		Mean:   total / time.Duration(len(sorted)),
		Median: sorted[len(sorted)/2],
		P95:    sorted[int(float64(len(sorted))*0.95)],
		P99:    sorted[int(float64(len(sorted))*0.99)],
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}
