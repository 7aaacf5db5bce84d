package store

// RunKind distinguishes clean reference runs from runs under analysis.
type RunKind string

const (
	// RunClean marks a golden-model reference run.
	RunClean RunKind = "clean"
	// RunObserved marks a run of the design under test.
	RunObserved RunKind = "observed"
)

// Run is one archived simulation or trace ingest.
type Run struct {
	ID          int64
	Kind        RunKind
	VCDPath     string
	Metric      float64
	Toggles     int
	Cycles      int
	Counts      map[string]int
	CreatedAtNs int64
}

// BaselineRecord is an archived global baseline snapshot.
type BaselineRecord struct {
	ID          int64
	Name        string
	Mean        float64
	Variance    float64
	Samples     int
	Converged   bool
	CreatedAtNs int64
}

// DetectionRecord is an archived detection verdict.
type DetectionRecord struct {
	ID               int64
	Mode             string
	TrojanDetected   bool
	ZScore           float64
	Confidence       float64
	PrimarySignal    string
	PrimaryDeviation float64
	ResultJSON       string
	CreatedAtNs      int64
}
