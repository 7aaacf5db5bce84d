package hypothesis

import (
	"errors"
	"fmt"

	"gatewitness/internal/baseline"
)

// False-positive estimation errors.
var (
	ErrNonPositiveThreshold = errors.New("hypothesis: z-score threshold must be positive")
	ErrNoObservations       = errors.New("hypothesis: no observations provided")
)

// FalsePositiveReport quantifies false-alarm behavior of the detector
// for a given threshold: clean observations evaluated against a clean
// baseline.
type FalsePositiveReport struct {
	Threshold         float64
	TotalObservations int
	FalsePositives    int
	Rate              float64
	MaxZ              float64
	MeanZ             float64
}

// EstimateFalsePositiveRate evaluates each clean observation against
// the baseline and counts how many exceed the |z| threshold.
func EstimateFalsePositiveRate(observations []float64, b *baseline.Global, zThreshold float64) (FalsePositiveReport, error) {
	if zThreshold <= 0 {
		return FalsePositiveReport{}, fmt.Errorf("%w (got %v)", ErrNonPositiveThreshold, zThreshold)
	}
	if len(observations) == 0 {
		return FalsePositiveReport{}, ErrNoObservations
	}

	report := FalsePositiveReport{
		Threshold:         zThreshold,
		TotalObservations: len(observations),
	}

	sum := 0.0
	for _, obs := range observations {
		eval, err := Evaluate(obs, b)
		if err != nil {
			return FalsePositiveReport{}, err
		}

		z := eval.ZScore
		if z < 0 {
			z = -z
		}
		sum += z
		if z > report.MaxZ {
			report.MaxZ = z
		}
		if z > zThreshold {
			report.FalsePositives++
		}
	}

	report.Rate = float64(report.FalsePositives) / float64(len(observations))
	report.MeanZ = sum / float64(len(observations))
	return report, nil
}
