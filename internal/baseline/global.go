// Package baseline models trusted ("clean") switching activity, in a
// converged global-scalar form and a per-signal robust-statistics form.
package baseline

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

// Construction and persistence errors.
var (
	// ErrInsufficientSamples is returned when a baseline is built from one
	// sample or fewer.
	ErrInsufficientSamples = errors.New("baseline: must be estimated from more than one sample")

	// ErrNegativeVariance is returned for a negative variance estimate.
	ErrNegativeVariance = errors.New("baseline: variance must be non-negative")

	// ErrNotConverged is returned when constructing from a sampling
	// session that never converged.
	ErrNotConverged = errors.New("baseline: cannot be created without convergence")

	// ErrMissingField is returned when a persisted baseline document
	// omits one of the five required fields.
	ErrMissingField = errors.New("baseline: missing required field")

	// ErrDigestMismatch is returned when a baseline file does not match
	// its integrity sidecar.
	ErrDigestMismatch = errors.New("baseline: integrity digest mismatch")
)

// Global is the converged scalar baseline: the distribution of one
// aggregate observable across clean Monte Carlo runs. It is immutable
// once constructed; every instance satisfies samples > 1, variance >= 0
// and converged == true.
type Global struct {
	mean     float64
	variance float64
	samples  int
	metadata map[string]string
}

// NewGlobal validates and constructs a Global baseline. The three
// invariant violations are reported with distinct errors so callers can
// tell insufficient sampling from a broken estimate from an unconverged
// session.
func NewGlobal(mean, variance float64, samples int, converged bool, metadata map[string]string) (*Global, error) {
	if samples <= 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInsufficientSamples, samples)
	}
	if variance < 0 {
		return nil, fmt.Errorf("%w (got %v)", ErrNegativeVariance, variance)
	}
	if !converged {
		return nil, ErrNotConverged
	}

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Global{mean: mean, variance: variance, samples: samples, metadata: md}, nil
}

// Mean returns the baseline mean.
func (g *Global) Mean() float64 { return g.mean }

// Variance returns the baseline variance.
func (g *Global) Variance() float64 { return g.variance }

// Samples returns the number of samples behind the estimate.
func (g *Global) Samples() int { return g.samples }

// Converged always reports true for a constructed baseline.
func (g *Global) Converged() bool { return true }

// Metadata returns a copy of the contextual metadata.
func (g *Global) Metadata() map[string]string {
	md := make(map[string]string, len(g.metadata))
	for k, v := range g.metadata {
		md[k] = v
	}
	return md
}

// globalDoc is the persisted form: exactly the five named fields.
type globalDoc struct {
	Mean      float64           `yaml:"mean" json:"mean"`
	Variance  float64           `yaml:"variance" json:"variance"`
	Samples   int               `yaml:"samples" json:"samples"`
	Converged bool              `yaml:"converged" json:"converged"`
	Metadata  map[string]string `yaml:"metadata" json:"metadata"`
}

// requiredGlobalFields are the exact fields of the persisted format.
var requiredGlobalFields = []string{"mean", "variance", "samples", "converged", "metadata"}

// Marshal renders the baseline document as YAML.
func (g *Global) Marshal() ([]byte, error) {
	doc := globalDoc{
		Mean:      g.mean,
		Variance:  g.variance,
		Samples:   g.samples,
		Converged: true,
		Metadata:  g.metadata,
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal baseline: %w", err)
	}
	return out, nil
}

// Save writes the baseline document and a blake2b integrity sidecar
// (<path>.b2sum) next to it.
func (g *Global) Save(path string) error {
	out, err := g.Marshal()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create baseline directory: %w", err)
		}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}

	sum := blake2b.Sum256(out)
	sidecar := hex.EncodeToString(sum[:]) + "  " + filepath.Base(path) + "\n"
	if err := os.WriteFile(path+".b2sum", []byte(sidecar), 0o644); err != nil {
		return fmt.Errorf("write baseline digest: %w", err)
	}
	return nil
}

// Unmarshal parses and validates a baseline document. Every one of the
// five fields must be present; the schema is additionally enforced via
// ValidateDocument.
func Unmarshal(data []byte) (*Global, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse baseline: %w", err)
	}
	for _, field := range requiredGlobalFields {
		if _, ok := raw[field]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingField, field)
		}
	}
	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}

	var doc globalDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse baseline: %w", err)
	}
	return NewGlobal(doc.Mean, doc.Variance, doc.Samples, doc.Converged, doc.Metadata)
}

// Load reads a baseline document from disk. When an integrity sidecar
// exists it is verified first; tampered files never load.
func Load(path string) (*Global, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read baseline: %w", err)
	}

	if sidecar, err := os.ReadFile(path + ".b2sum"); err == nil {
		want := strings.Fields(string(sidecar))
		sum := blake2b.Sum256(data)
		if len(want) == 0 || want[0] != hex.EncodeToString(sum[:]) {
			return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, path)
		}
	}

	g, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return g, nil
}

// sortedKeys is a small helper shared by the package.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
