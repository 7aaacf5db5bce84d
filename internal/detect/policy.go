package detect

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"gatewitness/internal/baseline"
	"gatewitness/internal/hypothesis"
)

// Policy errors.
var (
	ErrMissingBaseline = errors.New("detect: mode requires a baseline")
	ErrUnknownMode     = errors.New("detect: unknown mode")
)

// Thresholds is the decision configuration, echoed verbatim into every
// Result for audit.
type Thresholds struct {
	// ZScore and ConfidenceLevel gate the aggregate decision; both must
	// hold simultaneously.
	ZScore          float64
	ConfidenceLevel float64

	// GlobalActivityFactor scales the mean clean total toggle count for
	// the one-directional override. Zero disables the override.
	GlobalActivityFactor float64
}

// Validate rejects non-positive aggregate thresholds before any
// detection runs.
func (t Thresholds) Validate() error {
	if t.ZScore <= 0 {
		return fmt.Errorf("detect: z_score_threshold must be positive (got %v)", t.ZScore)
	}
	if t.ConfidenceLevel <= 0 || t.ConfidenceLevel >= 1 {
		return fmt.Errorf("detect: confidence_level must be in (0, 1) (got %v)", t.ConfidenceLevel)
	}
	if t.GlobalActivityFactor < 0 {
		return fmt.Errorf("detect: global_activity_factor must be non-negative (got %v)", t.GlobalActivityFactor)
	}
	return nil
}

// Input carries the observation for one detection invocation. Which
// fields are consulted depends on the policy mode.
type Input struct {
	// Aggregate mode: one scalar observation against the global baseline.
	Observed float64
	Baseline *baseline.Global

	// Per-signal mode: observed toggle counts against the clean profile.
	Counts  map[string]int
	Profile *baseline.SignalProfile
}

// Policy is the unified decision engine. Historic detector variants
// (aggregate-only, per-signal-only, hybrid with zero-baseline handling
// and the global override) collapse into this one type parameterized by
// Mode.
type Policy struct {
	mode       Mode
	thresholds Thresholds
	filter     *SignalFilter
	log        *slog.Logger
}

// NewPolicy validates thresholds and constructs a Policy. filter may be
// nil for the default patterns; logger may be nil.
func NewPolicy(mode Mode, thresholds Thresholds, filter *SignalFilter, logger *slog.Logger) (*Policy, error) {
	switch mode {
	case ModeAggregate, ModePerSignal:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, mode)
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = NewSignalFilter(nil, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{mode: mode, thresholds: thresholds, filter: filter, log: logger}, nil
}

// Detect produces the detection Result for one invocation. Any error
// aborts before a Result exists; partial verdicts are never returned.
func (p *Policy) Detect(in Input) (*Result, error) {
	switch p.mode {
	case ModeAggregate:
		return p.detectAggregate(in)
	case ModePerSignal:
		return p.detectPerSignal(in)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownMode, p.mode)
}

// detectAggregate applies the joint statistical criterion: both the
// z-score and the confidence threshold must be exceeded.
func (p *Policy) detectAggregate(in Input) (*Result, error) {
	if in.Baseline == nil {
		return nil, fmt.Errorf("%w: aggregate", ErrMissingBaseline)
	}

	eval, err := hypothesis.Evaluate(in.Observed, in.Baseline)
	if err != nil {
		return nil, err
	}

	zExceeded := math.Abs(eval.ZScore) > p.thresholds.ZScore
	confExceeded := eval.Confidence > p.thresholds.ConfidenceLevel

	res := &Result{
		Mode:               ModeAggregate,
		Timestamp:          time.Now(),
		Observed:           eval.Observed,
		BaselineMean:       eval.Mean,
		BaselineVariance:   eval.Variance,
		ZScore:             eval.ZScore,
		Confidence:         eval.Confidence,
		ZExceeded:          zExceeded,
		ConfidenceExceeded: confExceeded,
		Thresholds:         p.thresholds,
		TrojanDetected:     zExceeded && confExceeded,
	}

	p.log.Info("aggregate detection",
		"observed", res.Observed,
		"z", res.ZScore,
		"confidence", res.Confidence,
		"detected", res.TrojanDetected)

	return res, nil
}

// detectPerSignal flags each filtered signal whose raw count exceeds
// its IQR bound, always flags nonzero activity on signals never seen
// clean, ranks anomalies by deviation, and applies the global-activity
// override last.
func (p *Policy) detectPerSignal(in Input) (*Result, error) {
	if in.Profile == nil {
		return nil, fmt.Errorf("%w: per-signal", ErrMissingBaseline)
	}

	var (
		anomalies  []Anomaly
		deviations []float64
		total      float64
		evaluated  int
	)

	for _, sig := range sortedSignals(in.Counts) {
		count := in.Counts[sig]
		total += float64(count)

		if !p.filter.Keep(sig) {
			continue
		}
		evaluated++

		observed := float64(count)
		stats, known := in.Profile.Lookup(sig)
		dev := deviationPercent(observed, stats.Mean)
		deviations = append(deviations, dev)

		var z float64
		if stats.Std > 0 {
			z = (observed - stats.Mean) / stats.Std
		}

		switch {
		case !known:
			// Never observed clean: any activity at all is anomalous.
			if observed > 0 {
				anomalies = append(anomalies, Anomaly{
					Signal:    sig,
					Observed:  observed,
					Deviation: dev,
					Class:     ClassTrojanInternal,
				})
			}
		case observed > stats.Threshold:
			anomalies = append(anomalies, Anomaly{
				Signal:       sig,
				Observed:     observed,
				BaselineMean: stats.Mean,
				Threshold:    stats.Threshold,
				Deviation:    dev,
				ZScore:       z,
				Class:        ClassExcessActivity,
			})
		}
	}

	rankAnomalies(anomalies)

	res := &Result{
		Mode:           ModePerSignal,
		Timestamp:      time.Now(),
		TotalSignals:   evaluated,
		Anomalies:      anomalies,
		Deviations:     summarizeDeviations(deviations),
		ObservedTotal:  total,
		CleanTotalMean: in.Profile.TotalMean(),
		Thresholds:     p.thresholds,
		TrojanDetected: len(anomalies) > 0,
	}

	if len(anomalies) > 0 {
		res.PrimarySignal = anomalies[0].Signal
		res.PrimaryDeviation = anomalies[0].Deviation
	}

	// One-directional: excess total activity can only flip the verdict
	// to positive, never suppress per-signal evidence.
	if p.thresholds.GlobalActivityFactor > 0 &&
		res.ObservedTotal > p.thresholds.GlobalActivityFactor*res.CleanTotalMean {
		res.GlobalOverride = true
		res.TrojanDetected = true
	}

	p.log.Info("per-signal detection",
		"signals", res.TotalSignals,
		"anomalies", len(res.Anomalies),
		"observed_total", res.ObservedTotal,
		"clean_total_mean", res.CleanTotalMean,
		"override", res.GlobalOverride,
		"detected", res.TrojanDetected)

	return res, nil
}

// deviationPercent is the absolute percentage deviation from the
// baseline mean. Zero-mean convention: 100 * observed.
func deviationPercent(observed, mean float64) float64 {
	if mean == 0 {
		return 100 * observed
	}
	return math.Abs(observed-mean) / mean * 100
}

// rankAnomalies sorts by descending deviation (ties by ascending
// signal path) and assigns 1-based ranks.
func rankAnomalies(anomalies []Anomaly) {
	sort.Slice(anomalies, func(i, j int) bool {
		if anomalies[i].Deviation != anomalies[j].Deviation {
			return anomalies[i].Deviation > anomalies[j].Deviation
		}
		return anomalies[i].Signal < anomalies[j].Signal
	})
	for i := range anomalies {
		anomalies[i].Rank = i + 1
	}
}

func summarizeDeviations(devs []float64) DeviationStats {
	if len(devs) == 0 {
		return DeviationStats{}
	}

	sorted := append([]float64(nil), devs...)
	sort.Float64s(sorted)

	var stats DeviationStats
	for _, d := range sorted {
		stats.Mean += d
	}
	stats.Mean /= float64(len(sorted))
	stats.Max = sorted[len(sorted)-1]

	n := len(sorted)
	if n%2 == 1 {
		stats.Median = sorted[n/2]
	} else {
		stats.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	if n >= 2 {
		sum := 0.0
		for _, d := range sorted {
			diff := d - stats.Mean
			sum += diff * diff
		}
		stats.Std = math.Sqrt(sum / float64(n-1))
	}
	return stats
}

func sortedSignals(counts map[string]int) []string {
	signals := make([]string, 0, len(counts))
	for sig := range counts {
		signals = append(signals, sig)
	}
	sort.Strings(signals)
	return signals
}
