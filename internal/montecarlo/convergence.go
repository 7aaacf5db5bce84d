// Package montecarlo estimates baseline switching activity by repeated
// simulation sampling with online convergence tracking.
package montecarlo

import (
	"errors"
	"fmt"
	"math"
)

// Tracker errors.
var (
	// ErrTooFewSamples is returned by Variance with fewer than two samples.
	ErrTooFewSamples = errors.New("montecarlo: variance requires at least two samples")
)

// Tracker accumulates online mean and variance for a stream of scalar
// observations (Welford's single-pass update) and decides when the
// running statistics have stabilized across consecutive checks.
//
// A Tracker is single-owner: it lives for one sampling session and is
// not safe for concurrent mutation. Workers sampling in parallel each
// own a private Tracker and combine them with Merge.
type Tracker struct {
	meanEps        float64
	varEps         float64
	stableRequired int

	count int
	mean  float64
	m2    float64 // sum of squared deviations

	hasCheckpoint bool
	prevMean      float64
	prevVariance  float64
	stableCount   int
}

// Status is a point-in-time snapshot of a Tracker.
type Status struct {
	Samples       int
	Mean          float64
	Variance      float64
	VarianceKnown bool
	StableBatches int
	StableNeeded  int
}

// NewTracker constructs a Tracker. All three parameters must be
// positive; violations are configuration errors raised here, never at
// update time.
func NewTracker(meanEps, varEps float64, stableBatches int) (*Tracker, error) {
	if meanEps <= 0 || varEps <= 0 {
		return nil, fmt.Errorf("montecarlo: convergence tolerances must be positive (mean_eps=%v, var_eps=%v)", meanEps, varEps)
	}
	if stableBatches <= 0 {
		return nil, fmt.Errorf("montecarlo: stable_batches must be positive (got %d)", stableBatches)
	}
	return &Tracker{meanEps: meanEps, varEps: varEps, stableRequired: stableBatches}, nil
}

// Update incorporates one new observation in O(1).
func (t *Tracker) Update(value float64) {
	t.count++
	delta := value - t.mean
	t.mean += delta / float64(t.count)
	t.m2 += delta * (value - t.mean)
}

// Count returns the number of observations seen so far.
func (t *Tracker) Count() int { return t.count }

// Mean returns the running mean.
func (t *Tracker) Mean() float64 { return t.mean }

// Variance returns the running sample variance (N-1 divisor). It fails
// with ErrTooFewSamples when fewer than two observations exist, since
// the estimate is undefined there.
func (t *Tracker) Variance() (float64, error) {
	if t.count < 2 {
		return 0, ErrTooFewSamples
	}
	return t.m2 / float64(t.count-1), nil
}

// CheckConvergence compares the current mean and variance against the
// values recorded at the previous call. Both deltas inside tolerance
// extend the stability streak; either outside resets it to zero. It
// reports true once the streak reaches the configured batch count.
//
// The first call never converges: with no prior checkpoint it only
// seeds one.
func (t *Tracker) CheckConvergence() bool {
	if t.count < 2 {
		return false
	}

	variance, _ := t.Variance()

	if !t.hasCheckpoint {
		t.hasCheckpoint = true
		t.prevMean = t.mean
		t.prevVariance = variance
		t.stableCount = 0
		return false
	}

	if math.Abs(t.mean-t.prevMean) < t.meanEps && math.Abs(variance-t.prevVariance) < t.varEps {
		t.stableCount++
	} else {
		t.stableCount = 0
	}

	t.prevMean = t.mean
	t.prevVariance = variance

	return t.stableCount >= t.stableRequired
}

// Merge folds another tracker's accumulated statistics into t using the
// parallel variant of the online algorithm, so per-worker accumulators
// combine exactly as if every sample had been fed to one tracker.
// Convergence checkpoints are not merged; convergence is evaluated only
// on the combined tracker.
func (t *Tracker) Merge(other *Tracker) {
	if other == nil || other.count == 0 {
		return
	}
	if t.count == 0 {
		t.count = other.count
		t.mean = other.mean
		t.m2 = other.m2
		return
	}

	n := t.count + other.count
	delta := other.mean - t.mean
	t.m2 += other.m2 + delta*delta*float64(t.count)*float64(other.count)/float64(n)
	t.mean += delta * float64(other.count) / float64(n)
	t.count = n
}

// Status returns the current statistics and streak state.
func (t *Tracker) Status() Status {
	s := Status{
		Samples:       t.count,
		Mean:          t.mean,
		StableBatches: t.stableCount,
		StableNeeded:  t.stableRequired,
	}
	if v, err := t.Variance(); err == nil {
		s.Variance = v
		s.VarianceKnown = true
	}
	return s
}
