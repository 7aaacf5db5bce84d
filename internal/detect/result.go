// Package detect turns observed switching activity plus baseline
// statistics into an audited, ranked detection verdict.
package detect

import "time"

// Mode selects how the decision policy weighs evidence. The two modes
// share one policy implementation; the mode is configuration, not a
// separate code path.
type Mode string

const (
	// ModeAggregate tests a single global observable against the
	// converged global baseline.
	ModeAggregate Mode = "aggregate"

	// ModePerSignal tests every observed signal against its per-signal
	// IQR bound, with the global-activity override on top.
	ModePerSignal Mode = "per_signal"
)

// AnomalyClass labels why a signal was flagged.
type AnomalyClass string

const (
	// ClassTrojanInternal marks a signal with no clean baseline at all:
	// activity on a signal that only exists in the modified design.
	ClassTrojanInternal AnomalyClass = "trojan_internal"

	// ClassExcessActivity marks a profiled signal whose observed count
	// exceeds its robust outlier bound.
	ClassExcessActivity AnomalyClass = "excess_activity"
)

// Anomaly is one flagged signal, ranked by deviation.
type Anomaly struct {
	// Rank is the 1-based position after sorting by descending absolute
	// percentage deviation (ties broken by ascending signal path).
	Rank int

	Signal       string
	Observed     float64
	BaselineMean float64
	Threshold    float64

	// Deviation is the absolute percentage deviation from the baseline
	// mean. When the baseline mean is zero the convention is
	// 100 * observed: each observed count reads as a full 100%.
	Deviation float64

	// ZScore is auxiliary evidence only; the per-signal trigger is the
	// IQR bound. Zero when the signal's clean std is zero.
	ZScore float64

	Class AnomalyClass
}

// DeviationStats summarizes the deviation distribution across all
// evaluated signals.
type DeviationStats struct {
	Mean   float64
	Median float64
	Std    float64
	Max    float64
}

// Result is the detection record: a pure function of its inputs,
// never mutated after creation. Every intermediate statistic is
// retained for audit.
type Result struct {
	Mode      Mode
	Timestamp time.Time

	// Aggregate evidence.
	Observed           float64
	BaselineMean       float64
	BaselineVariance   float64
	ZScore             float64
	Confidence         float64
	ZExceeded          bool
	ConfidenceExceeded bool

	// Per-signal evidence.
	TotalSignals   int
	Anomalies      []Anomaly
	Deviations     DeviationStats
	ObservedTotal  float64
	CleanTotalMean float64
	GlobalOverride bool

	// Echoed thresholds and the verdict.
	Thresholds       Thresholds
	TrojanDetected   bool
	PrimarySignal    string
	PrimaryDeviation float64
}
