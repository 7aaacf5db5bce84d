package baseline

import (
	"errors"
	"math"
	"sort"
)

// ErrNoRuns is returned when a per-signal profile is built from zero
// clean runs.
var ErrNoRuns = errors.New("baseline: at least one clean run is required")

// SignalStats summarizes one signal's activity across clean runs.
type SignalStats struct {
	// Mean of the pooled toggle counts.
	Mean float64

	// Std is the sample standard deviation of the pooled counts (N-1
	// divisor when N >= 2, zero otherwise).
	Std float64

	// Threshold is the robust outlier bound Q3 + 1.5*(Q3-Q1) over the
	// pooled counts.
	Threshold float64

	// Samples are the pooled per-run counts this summary was built from.
	Samples []float64
}

// SignalProfile aggregates per-signal clean activity from one or more
// independent clean runs. A signal with no entry was never observed
// clean; Lookup substitutes zeroed stats for it, which is the explicit
// mechanism for flagging signals that exist only in a modified design.
type SignalProfile struct {
	stats  map[string]SignalStats
	totals []float64
}

// BuildSignalProfile pools per-signal toggle counts across clean runs.
// A signal contributes one sample per run it appears in.
func BuildSignalProfile(runs []map[string]int) (*SignalProfile, error) {
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}

	pooled := make(map[string][]float64)
	totals := make([]float64, 0, len(runs))

	for _, run := range runs {
		total := 0.0
		for sig, count := range run {
			pooled[sig] = append(pooled[sig], float64(count))
			total += float64(count)
		}
		totals = append(totals, total)
	}

	stats := make(map[string]SignalStats, len(pooled))
	for sig, samples := range pooled {
		sorted := append([]float64(nil), samples...)
		sort.Float64s(sorted)

		mean := meanOf(sorted)
		q1, q3 := quartiles(sorted)
		stats[sig] = SignalStats{
			Mean:      mean,
			Std:       sampleStd(sorted, mean),
			Threshold: q3 + 1.5*(q3-q1),
			Samples:   sorted,
		}
	}

	return &SignalProfile{stats: stats, totals: totals}, nil
}

// Lookup returns the clean statistics for a signal. A signal never
// observed clean yields zeroed stats and ok == false.
func (p *SignalProfile) Lookup(signal string) (SignalStats, bool) {
	s, ok := p.stats[signal]
	if !ok {
		return SignalStats{}, false
	}
	return s, true
}

// Signals returns all profiled signal paths in sorted order.
func (p *SignalProfile) Signals() []string {
	return sortedKeys(p.stats)
}

// Len returns the number of profiled signals.
func (p *SignalProfile) Len() int { return len(p.stats) }

// TotalMean returns the mean total toggle count per clean run, the
// reference level for the global-activity override.
func (p *SignalProfile) TotalMean() float64 {
	return meanOf(p.totals)
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStd computes the N-1 standard deviation; zero for fewer than
// two samples.
func sampleStd(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// quartiles splits the sorted samples at the midpoint, keeping the
// median element in the lower half when the count is odd, and returns
// the medians of the two halves. For [9 10 10 10 11] this yields
// Q1=10, Q3=10.5.
func quartiles(sorted []float64) (q1, q3 float64) {
	n := len(sorted)
	if n == 0 {
		return 0, 0
	}
	if n == 1 {
		return sorted[0], sorted[0]
	}
	upper := n / 2
	q1 = medianOf(sorted[:n-upper])
	q3 = medianOf(sorted[n-upper:])
	return q1, q3
}

// medianOf expects sorted input.
func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
