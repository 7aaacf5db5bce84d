package hypothesis

import (
	"errors"
	"math"
	"testing"

	"gatewitness/internal/baseline"
)

func mustGlobal(t *testing.T, mean, variance float64) *baseline.Global {
	t.Helper()
	g, err := baseline.NewGlobal(mean, variance, 100, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestZScore(t *testing.T) {
	b := mustGlobal(t, 10, 4)

	tests := []struct {
		observed float64
		want     float64
	}{
		{10, 0},
		{12, 1},
		{8, -1},
		{16, 3},
		{4, -3},
	}

	for _, tt := range tests {
		z, err := ZScore(tt.observed, b)
		if err != nil {
			t.Fatalf("ZScore(%v): %v", tt.observed, err)
		}
		if math.Abs(z-tt.want) > 1e-12 {
			t.Errorf("ZScore(%v) = %v, want %v", tt.observed, z, tt.want)
		}
	}
}

func TestZScoreRejectsZeroVariance(t *testing.T) {
	b := mustGlobal(t, 10, 0)
	if _, err := ZScore(15, b); !errors.Is(err, ErrNonPositiveVariance) {
		t.Fatalf("got %v, want ErrNonPositiveVariance", err)
	}
}

func TestConfidence(t *testing.T) {
	// Two-sided normal confidence at well-known z values.
	tests := []struct {
		z    float64
		want float64
	}{
		{0, 0},
		{1.0, 0.6827},
		{1.96, 0.9500},
		{2.576, 0.9900},
		{3.0, 0.9973},
	}

	for _, tt := range tests {
		if got := Confidence(tt.z); math.Abs(got-tt.want) > 5e-4 {
			t.Errorf("Confidence(%v) = %v, want ~%v", tt.z, got, tt.want)
		}
	}
}

func TestConfidenceProperties(t *testing.T) {
	// Symmetric in sign, strictly increasing in |z|, bounded in [0, 1).
	prev := -1.0
	for z := 0.0; z <= 8; z += 0.25 {
		c := Confidence(z)
		if c != Confidence(-z) {
			t.Fatalf("Confidence not symmetric at z=%v", z)
		}
		if c <= prev {
			t.Fatalf("Confidence not increasing at z=%v (%v <= %v)", z, c, prev)
		}
		if c < 0 || c >= 1 {
			t.Fatalf("Confidence(%v) = %v out of [0, 1)", z, c)
		}
		prev = c
	}
}

func TestEvaluate(t *testing.T) {
	b := mustGlobal(t, 12, 0.64)

	eval, err := Evaluate(15.2, b)
	if err != nil {
		t.Fatal(err)
	}

	if eval.Observed != 15.2 || eval.Mean != 12 || eval.Variance != 0.64 {
		t.Errorf("evaluation does not echo inputs: %+v", eval)
	}
	if want := 4.0; math.Abs(eval.ZScore-want) > 1e-9 {
		t.Errorf("z = %v, want %v", eval.ZScore, want)
	}
	if eval.Confidence <= 0.999 {
		t.Errorf("confidence at z=4 should exceed 0.999, got %v", eval.Confidence)
	}
}

func TestEstimateFalsePositiveRate(t *testing.T) {
	b := mustGlobal(t, 10, 1)

	// |z| = 0.5, 1, 2, 4: with threshold 1.5, two exceed.
	obs := []float64{10.5, 11, 12, 14}

	report, err := EstimateFalsePositiveRate(obs, b, 1.5)
	if err != nil {
		t.Fatal(err)
	}

	if report.FalsePositives != 2 {
		t.Errorf("FalsePositives = %d, want 2", report.FalsePositives)
	}
	if report.Rate != 0.5 {
		t.Errorf("Rate = %v, want 0.5", report.Rate)
	}
	if report.MaxZ != 4 {
		t.Errorf("MaxZ = %v, want 4", report.MaxZ)
	}
	if want := (0.5 + 1 + 2 + 4) / 4; math.Abs(report.MeanZ-want) > 1e-12 {
		t.Errorf("MeanZ = %v, want %v", report.MeanZ, want)
	}
}

func TestEstimateFalsePositiveRateValidation(t *testing.T) {
	b := mustGlobal(t, 10, 1)

	if _, err := EstimateFalsePositiveRate([]float64{10}, b, 0); !errors.Is(err, ErrNonPositiveThreshold) {
		t.Fatalf("got %v, want ErrNonPositiveThreshold", err)
	}
	if _, err := EstimateFalsePositiveRate(nil, b, 2); !errors.Is(err, ErrNoObservations) {
		t.Fatalf("got %v, want ErrNoObservations", err)
	}
}
