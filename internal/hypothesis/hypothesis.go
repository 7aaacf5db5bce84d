// Package hypothesis evaluates statistical consistency of observed
// switching activity against a baseline distribution. It computes
// deviation and confidence measures but never declares detection
// outcomes; that is the decision policy's job.
package hypothesis

import (
	"errors"
	"fmt"
	"math"

	"gatewitness/internal/baseline"
)

// ErrNonPositiveVariance is returned when a z-score is requested
// against a zero- or negative-variance baseline. Zero-variance signals
// must be handled upstream via the zero-baseline substitution, never by
// silently reporting z = 0.
var ErrNonPositiveVariance = errors.New("hypothesis: baseline variance must be positive for z-score")

// Evaluation is the full audit record of one hypothesis test.
type Evaluation struct {
	Observed   float64
	Mean       float64
	Variance   float64
	ZScore     float64
	Confidence float64
}

// ZScore standardizes an observation against the baseline:
// z = (observed - mean) / sqrt(variance).
func ZScore(observed float64, b *baseline.Global) (float64, error) {
	return zScore(observed, b.Mean(), b.Variance())
}

func zScore(observed, mean, variance float64) (float64, error) {
	if variance <= 0 {
		return 0, fmt.Errorf("%w (got %v)", ErrNonPositiveVariance, variance)
	}
	return (observed - mean) / math.Sqrt(variance), nil
}

// Confidence converts a z-score into two-sided normal confidence:
// 1 - erfc(|z|/sqrt(2)), in [0, 1) and strictly increasing in |z|.
func Confidence(z float64) float64 {
	return 1.0 - math.Erfc(math.Abs(z)/math.Sqrt2)
}

// Evaluate runs the hypothesis test of one observation against a
// baseline and returns the complete evidence record.
func Evaluate(observed float64, b *baseline.Global) (Evaluation, error) {
	z, err := ZScore(observed, b)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{
		Observed:   observed,
		Mean:       b.Mean(),
		Variance:   b.Variance(),
		ZScore:     z,
		Confidence: Confidence(z),
	}, nil
}
