package montecarlo

import (
	"errors"
	"math"
	"testing"
)

func TestNewTrackerRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name          string
		meanEps       float64
		varEps        float64
		stableBatches int
	}{
		{"zero mean eps", 0, 0.1, 3},
		{"negative mean eps", -0.5, 0.1, 3},
		{"zero var eps", 0.1, 0, 3},
		{"negative var eps", 0.1, -1, 3},
		{"zero stable batches", 0.1, 0.1, 0},
		{"negative stable batches", 0.1, 0.1, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTracker(tt.meanEps, tt.varEps, tt.stableBatches); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestTrackerMatchesTwoPassStatistics(t *testing.T) {
	sequences := [][]float64{
		{10, 10, 11, 9, 10},
		{1.5, 2.5},
		{0, 0, 0, 0},
		{-3, 7, 12.25, -0.5, 100, 2},
		{1e6, 1e6 + 1, 1e6 + 2, 1e6 - 1},
	}

	for _, seq := range sequences {
		tr, err := NewTracker(0.01, 0.01, 2)
		if err != nil {
			t.Fatal(err)
		}
		for _, v := range seq {
			tr.Update(v)
		}

		wantMean, wantVar := twoPass(seq)

		if got := tr.Mean(); math.Abs(got-wantMean) > 1e-9 {
			t.Errorf("mean for %v: got %v, want %v", seq, got, wantMean)
		}
		gotVar, err := tr.Variance()
		if err != nil {
			t.Fatalf("variance: %v", err)
		}
		if math.Abs(gotVar-wantVar) > 1e-9 {
			t.Errorf("variance for %v: got %v, want %v", seq, gotVar, wantVar)
		}
	}
}

func TestVarianceRequiresTwoSamples(t *testing.T) {
	tr, err := NewTracker(0.01, 0.01, 2)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tr.Variance(); !errors.Is(err, ErrTooFewSamples) {
		t.Fatalf("no samples: got %v, want ErrTooFewSamples", err)
	}

	tr.Update(5)
	if _, err := tr.Variance(); !errors.Is(err, ErrTooFewSamples) {
		t.Fatalf("one sample: got %v, want ErrTooFewSamples", err)
	}

	tr.Update(6)
	if _, err := tr.Variance(); err != nil {
		t.Fatalf("two samples: unexpected error %v", err)
	}
}

func TestCheckConvergenceStreak(t *testing.T) {
	tr, err := NewTracker(0.5, 0.5, 2)
	if err != nil {
		t.Fatal(err)
	}

	tr.Update(10)
	tr.Update(10)

	// First call seeds the checkpoint and never converges.
	if tr.CheckConvergence() {
		t.Fatal("first check must not converge")
	}

	// Two identical follow-ups inside tolerance: streak 1, then 2.
	tr.Update(10)
	if tr.CheckConvergence() {
		t.Fatal("streak of 1 must not converge with stable_batches=2")
	}
	tr.Update(10)
	if !tr.CheckConvergence() {
		t.Fatal("streak of 2 should converge")
	}
}

func TestCheckConvergenceStreakResets(t *testing.T) {
	// Wide variance tolerance so the test exercises the mean criterion
	// and the streak mechanics in isolation.
	tr, err := NewTracker(0.5, 50000, 2)
	if err != nil {
		t.Fatal(err)
	}

	tr.Update(10)
	tr.Update(10)
	tr.CheckConvergence() // seed

	tr.Update(10)
	if tr.CheckConvergence() {
		t.Fatal("premature convergence")
	}

	// A jump far outside tolerance resets the streak.
	tr.Update(500)
	if tr.CheckConvergence() {
		t.Fatal("out-of-tolerance check must not converge")
	}

	// Feeding the current mean back in keeps the mean fixed, so the
	// streak rebuilds from zero: one stable check, then two.
	tr.Update(tr.Mean())
	if tr.CheckConvergence() {
		t.Fatal("streak of 1 after reset must not converge")
	}
	tr.Update(tr.Mean())
	if !tr.CheckConvergence() {
		t.Fatal("rebuilt streak of 2 should converge")
	}
}

func TestMergeMatchesSequentialFeed(t *testing.T) {
	left := []float64{10, 12, 9.5, 11, 10.5}
	right := []float64{30, 28, 31, 29.5}

	a, _ := NewTracker(0.01, 0.01, 2)
	b, _ := NewTracker(0.01, 0.01, 2)
	combined, _ := NewTracker(0.01, 0.01, 2)

	for _, v := range left {
		a.Update(v)
		combined.Update(v)
	}
	for _, v := range right {
		b.Update(v)
		combined.Update(v)
	}

	a.Merge(b)

	if math.Abs(a.Mean()-combined.Mean()) > 1e-9 {
		t.Errorf("merged mean %v, sequential %v", a.Mean(), combined.Mean())
	}
	av, _ := a.Variance()
	cv, _ := combined.Variance()
	if math.Abs(av-cv) > 1e-9 {
		t.Errorf("merged variance %v, sequential %v", av, cv)
	}
	if a.Count() != combined.Count() {
		t.Errorf("merged count %d, sequential %d", a.Count(), combined.Count())
	}
}

func TestMergeIntoEmpty(t *testing.T) {
	a, _ := NewTracker(0.01, 0.01, 2)
	b, _ := NewTracker(0.01, 0.01, 2)
	b.Update(3)
	b.Update(5)

	a.Merge(b)
	if a.Count() != 2 || a.Mean() != 4 {
		t.Errorf("got count=%d mean=%v, want 2 and 4", a.Count(), a.Mean())
	}

	// Merging an empty or nil tracker changes nothing.
	empty, _ := NewTracker(0.01, 0.01, 2)
	a.Merge(empty)
	a.Merge(nil)
	if a.Count() != 2 {
		t.Errorf("count after empty merges = %d, want 2", a.Count())
	}
}

func TestStatus(t *testing.T) {
	tr, _ := NewTracker(0.1, 0.1, 3)
	tr.Update(2)

	s := tr.Status()
	if s.Samples != 1 || s.VarianceKnown {
		t.Errorf("unexpected status %+v", s)
	}

	tr.Update(4)
	s = tr.Status()
	if !s.VarianceKnown || s.Variance != 2 || s.Mean != 3 || s.StableNeeded != 3 {
		t.Errorf("unexpected status %+v", s)
	}
}

// twoPass computes mean and sample variance directly.
func twoPass(values []float64) (mean, variance float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)
	return mean, variance
}
