package detect

import (
	"errors"
	"math"
	"testing"

	"gatewitness/internal/baseline"
)

func testThresholds() Thresholds {
	return Thresholds{ZScore: 2.0, ConfidenceLevel: 0.95, GlobalActivityFactor: 1.5}
}

func mustPolicy(t *testing.T, mode Mode, th Thresholds) *Policy {
	t.Helper()
	p, err := NewPolicy(mode, th, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func mustGlobal(t *testing.T, mean, variance float64) *baseline.Global {
	t.Helper()
	g, err := baseline.NewGlobal(mean, variance, 100, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestNewPolicyValidation(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		th   Thresholds
	}{
		{"unknown mode", Mode("hybrid-ish"), testThresholds()},
		{"zero z threshold", ModeAggregate, Thresholds{ZScore: 0, ConfidenceLevel: 0.95}},
		{"confidence too high", ModeAggregate, Thresholds{ZScore: 2, ConfidenceLevel: 1.0}},
		{"confidence zero", ModeAggregate, Thresholds{ZScore: 2, ConfidenceLevel: 0}},
		{"negative factor", ModePerSignal, Thresholds{ZScore: 2, ConfidenceLevel: 0.9, GlobalActivityFactor: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPolicy(tt.mode, tt.th, nil, nil); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestAggregateRequiresBothCriteria(t *testing.T) {
	// Observation at z = 2.5 (confidence ~0.9876).
	b := mustGlobal(t, 10, 1)
	in := Input{Observed: 12.5, Baseline: b}

	tests := []struct {
		name string
		th   Thresholds
		want bool
	}{
		{"both exceeded", Thresholds{ZScore: 2.0, ConfidenceLevel: 0.95}, true},
		{"z not exceeded", Thresholds{ZScore: 3.0, ConfidenceLevel: 0.95}, false},
		{"confidence not exceeded", Thresholds{ZScore: 2.0, ConfidenceLevel: 0.99}, false},
		{"neither exceeded", Thresholds{ZScore: 3.0, ConfidenceLevel: 0.99}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := mustPolicy(t, ModeAggregate, tt.th).Detect(in)
			if err != nil {
				t.Fatal(err)
			}
			if res.TrojanDetected != tt.want {
				t.Errorf("detected = %v, want %v (z=%v conf=%v)",
					res.TrojanDetected, tt.want, res.ZScore, res.Confidence)
			}
			if res.Thresholds != tt.th {
				t.Errorf("thresholds not echoed: %+v", res.Thresholds)
			}
		})
	}
}

func TestAggregateResultAudit(t *testing.T) {
	b := mustGlobal(t, 10, 4)
	res, err := mustPolicy(t, ModeAggregate, testThresholds()).Detect(Input{Observed: 16, Baseline: b})
	if err != nil {
		t.Fatal(err)
	}

	if res.Mode != ModeAggregate {
		t.Errorf("mode = %q", res.Mode)
	}
	if res.Observed != 16 || res.BaselineMean != 10 || res.BaselineVariance != 4 {
		t.Errorf("inputs not retained: %+v", res)
	}
	if res.ZScore != 3 {
		t.Errorf("z = %v, want 3", res.ZScore)
	}
	if !res.ZExceeded || !res.ConfidenceExceeded || !res.TrojanDetected {
		t.Errorf("decision flags wrong: %+v", res)
	}
}

func TestAggregateMissingBaseline(t *testing.T) {
	_, err := mustPolicy(t, ModeAggregate, testThresholds()).Detect(Input{Observed: 5})
	if !errors.Is(err, ErrMissingBaseline) {
		t.Fatalf("got %v, want ErrMissingBaseline", err)
	}
}

func TestPerSignalReferenceScenario(t *testing.T) {
	// Clean samples [10 10 11 9 10] -> mean 10, IQR threshold 11.25.
	runs := []map[string]int{
		{"core.acc": 10}, {"core.acc": 10}, {"core.acc": 11},
		{"core.acc": 9}, {"core.acc": 10},
	}
	profile, err := baseline.BuildSignalProfile(runs)
	if err != nil {
		t.Fatal(err)
	}

	th := testThresholds()
	th.GlobalActivityFactor = 0 // isolate the per-signal criterion
	res, err := mustPolicy(t, ModePerSignal, th).Detect(Input{
		Counts:  map[string]int{"core.acc": 15},
		Profile: profile,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(res.Anomalies))
	}
	a := res.Anomalies[0]
	if a.Signal != "core.acc" || a.Rank != 1 || a.Class != ClassExcessActivity {
		t.Errorf("unexpected anomaly %+v", a)
	}
	if a.Deviation != 50 {
		t.Errorf("deviation = %v%%, want 50%%", a.Deviation)
	}
	// z = (15-10)/sqrt(0.5), auxiliary evidence only.
	if want := 5 / math.Sqrt(0.5); math.Abs(a.ZScore-want) > 1e-9 {
		t.Errorf("z = %v, want %v", a.ZScore, want)
	}
	if !res.TrojanDetected {
		t.Error("anomaly should produce a positive verdict")
	}
}

func TestPerSignalBelowThresholdNotFlagged(t *testing.T) {
	runs := []map[string]int{
		{"core.acc": 10}, {"core.acc": 10}, {"core.acc": 11},
		{"core.acc": 9}, {"core.acc": 10},
	}
	profile, err := baseline.BuildSignalProfile(runs)
	if err != nil {
		t.Fatal(err)
	}

	th := testThresholds()
	th.GlobalActivityFactor = 0
	res, err := mustPolicy(t, ModePerSignal, th).Detect(Input{
		Counts:  map[string]int{"core.acc": 11},
		Profile: profile,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Anomalies) != 0 || res.TrojanDetected {
		t.Errorf("11 is inside the IQR bound 11.25, got %+v", res)
	}
}

func TestPerSignalZeroBaseline(t *testing.T) {
	profile, err := baseline.BuildSignalProfile([]map[string]int{
		{"core.acc": 10}, {"core.acc": 10},
	})
	if err != nil {
		t.Fatal(err)
	}

	th := testThresholds()
	th.GlobalActivityFactor = 0
	res, err := mustPolicy(t, ModePerSignal, th).Detect(Input{
		Counts:  map[string]int{"core.acc": 10, "shadow_trigger": 3},
		Profile: profile,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1: %+v", len(res.Anomalies), res.Anomalies)
	}
	a := res.Anomalies[0]
	if a.Signal != "shadow_trigger" || a.Class != ClassTrojanInternal {
		t.Errorf("unexpected anomaly %+v", a)
	}
	// Zero-mean deviation convention: 100 * observed.
	if a.Deviation != 300 {
		t.Errorf("deviation = %v, want 300", a.Deviation)
	}
	if !res.TrojanDetected {
		t.Error("payload-only activity must be detected")
	}
}

func TestPerSignalRanking(t *testing.T) {
	profile, err := baseline.BuildSignalProfile([]map[string]int{
		{"a": 10, "b": 10, "c": 10},
		{"a": 10, "b": 10, "c": 10},
	})
	if err != nil {
		t.Fatal(err)
	}

	th := testThresholds()
	th.GlobalActivityFactor = 0
	res, err := mustPolicy(t, ModePerSignal, th).Detect(Input{
		Counts:  map[string]int{"a": 12, "b": 30, "c": 20},
		Profile: profile,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Anomalies) != 3 {
		t.Fatalf("got %d anomalies, want 3", len(res.Anomalies))
	}

	wantOrder := []string{"b", "c", "a"} // 200%, 100%, 20%
	for i, want := range wantOrder {
		a := res.Anomalies[i]
		if a.Signal != want {
			t.Errorf("position %d: got %q, want %q", i, a.Signal, want)
		}
		if a.Rank != i+1 {
			t.Errorf("%q rank = %d, want %d", a.Signal, a.Rank, i+1)
		}
	}
	for i := 1; i < len(res.Anomalies); i++ {
		if res.Anomalies[i].Deviation > res.Anomalies[i-1].Deviation {
			t.Fatal("anomalies not sorted by descending deviation")
		}
	}

	if res.PrimarySignal != "b" || res.PrimaryDeviation != 200 {
		t.Errorf("primary = %q/%v, want b/200", res.PrimarySignal, res.PrimaryDeviation)
	}
}

func TestPerSignalRankingTieBreak(t *testing.T) {
	profile, err := baseline.BuildSignalProfile([]map[string]int{
		{"x": 10, "m": 10}, {"x": 10, "m": 10},
	})
	if err != nil {
		t.Fatal(err)
	}

	th := testThresholds()
	th.GlobalActivityFactor = 0
	res, err := mustPolicy(t, ModePerSignal, th).Detect(Input{
		Counts:  map[string]int{"x": 20, "m": 20},
		Profile: profile,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Anomalies) != 2 || res.Anomalies[0].Signal != "m" || res.Anomalies[1].Signal != "x" {
		t.Errorf("tie not broken by ascending path: %+v", res.Anomalies)
	}
}

func TestGlobalActivityOverride(t *testing.T) {
	// One profiled signal with spread: samples [10 20], mean 15,
	// Q1=10, Q3=20, IQR threshold 35. Clean totals 10 and 20, T=15,
	// so the override line sits at 1.5*T = 22.5.
	profile, err := baseline.BuildSignalProfile([]map[string]int{
		{"core.acc": 10}, {"core.acc": 20},
	})
	if err != nil {
		t.Fatal(err)
	}

	policy := mustPolicy(t, ModePerSignal, testThresholds())

	// O = 30 > 22.5 but 30 <= 35: zero per-signal anomalies, verdict
	// forced positive by total activity alone.
	forced, err := policy.Detect(Input{
		Counts:  map[string]int{"core.acc": 30},
		Profile: profile,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(forced.Anomalies) != 0 {
		t.Fatalf("expected no per-signal anomalies, got %+v", forced.Anomalies)
	}
	if !forced.GlobalOverride || !forced.TrojanDetected {
		t.Errorf("override should force detection: %+v", forced)
	}

	// O = 20 <= 22.5: no anomalies and no forced flip.
	quiet, err := policy.Detect(Input{
		Counts:  map[string]int{"core.acc": 20},
		Profile: profile,
	})
	if err != nil {
		t.Fatal(err)
	}
	if quiet.GlobalOverride || quiet.TrojanDetected {
		t.Errorf("no override expected: %+v", quiet)
	}
}

func TestGlobalOverrideNeverFlipsPositiveToNegative(t *testing.T) {
	// Two profiled signals; "idle" was silent in every clean run, so
	// its IQR bound is zero and any activity on it is an anomaly.
	profile, err := baseline.BuildSignalProfile([]map[string]int{
		{"core.acc": 10, "core.idle": 0},
		{"core.acc": 20, "core.idle": 0},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Total 12 is well under 1.5*T = 22.5, yet the verdict stays
	// positive on per-signal evidence.
	res, err := mustPolicy(t, ModePerSignal, testThresholds()).Detect(Input{
		Counts:  map[string]int{"core.acc": 10, "core.idle": 2},
		Profile: profile,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.GlobalOverride {
		t.Error("override must not fire under the activity line")
	}
	if !res.TrojanDetected || len(res.Anomalies) != 1 || res.Anomalies[0].Signal != "core.idle" {
		t.Errorf("per-signal verdict lost: %+v", res)
	}
}

func TestPerSignalFilterDropsTestbenchSignals(t *testing.T) {
	profile, err := baseline.BuildSignalProfile([]map[string]int{
		{"core.acc": 10}, {"core.acc": 10},
	})
	if err != nil {
		t.Fatal(err)
	}

	th := testThresholds()
	th.GlobalActivityFactor = 0
	res, err := mustPolicy(t, ModePerSignal, th).Detect(Input{
		Counts: map[string]int{
			"core.acc":              10,
			"tb_top.stim":           5000, // testbench-only, dropped
			"core.clk":              9000, // structural, dropped
			"u_trojan.payload_mask": 7,    // payload-class, retained with no baseline
		},
		Profile: profile,
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.TotalSignals != 2 {
		t.Errorf("evaluated %d signals, want 2", res.TotalSignals)
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Signal != "u_trojan.payload_mask" {
		t.Errorf("expected only the payload anomaly: %+v", res.Anomalies)
	}
	if res.Anomalies[0].Class != ClassTrojanInternal {
		t.Errorf("class = %q, want trojan_internal", res.Anomalies[0].Class)
	}
}

func TestPerSignalMissingProfile(t *testing.T) {
	_, err := mustPolicy(t, ModePerSignal, testThresholds()).Detect(Input{
		Counts: map[string]int{"a": 1},
	})
	if !errors.Is(err, ErrMissingBaseline) {
		t.Fatalf("got %v, want ErrMissingBaseline", err)
	}
}
