package baseline

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGlobalValidation(t *testing.T) {
	md := map[string]string{"backend": "iverilog"}

	tests := []struct {
		name      string
		mean      float64
		variance  float64
		samples   int
		converged bool
		wantErr   error
	}{
		{"one sample", 10, 0.5, 1, true, ErrInsufficientSamples},
		{"zero samples", 10, 0.5, 0, true, ErrInsufficientSamples},
		{"negative variance", 10, -0.1, 100, true, ErrNegativeVariance},
		{"not converged", 10, 0.5, 100, false, ErrNotConverged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGlobal(tt.mean, tt.variance, tt.samples, tt.converged, md)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}

	g, err := NewGlobal(10, 0.5, 100, true, md)
	if err != nil {
		t.Fatalf("valid construction failed: %v", err)
	}
	if g.Mean() != 10 || g.Variance() != 0.5 || g.Samples() != 100 || !g.Converged() {
		t.Errorf("accessors disagree with construction: %+v", g)
	}
}

func TestGlobalMetadataIsCopied(t *testing.T) {
	md := map[string]string{"backend": "iverilog"}
	g, err := NewGlobal(10, 0.5, 100, true, md)
	if err != nil {
		t.Fatal(err)
	}

	md["backend"] = "mutated"
	if g.Metadata()["backend"] != "iverilog" {
		t.Error("construction metadata not copied")
	}

	got := g.Metadata()
	got["backend"] = "mutated again"
	if g.Metadata()["backend"] != "iverilog" {
		t.Error("accessor metadata not copied")
	}
}

func TestGlobalRoundTrip(t *testing.T) {
	g, err := NewGlobal(12.345, 0.875, 800, true, map[string]string{
		"backend":       "iverilog",
		"normalization": "per_cycle",
	})
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "baseline.yaml")
	require.NoError(t, g.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, g.Mean(), loaded.Mean())
	assert.Equal(t, g.Variance(), loaded.Variance())
	assert.Equal(t, g.Samples(), loaded.Samples())
	assert.Equal(t, g.Metadata(), loaded.Metadata())

	// Byte-for-byte: saving the loaded model reproduces the file.
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	second, err := loaded.Marshal()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second), "persisted form must round-trip byte-for-byte")
}

func TestUnmarshalRejectsMissingFields(t *testing.T) {
	docs := map[string]string{
		"mean":      "variance: 0.5\nsamples: 10\nconverged: true\nmetadata: {}\n",
		"variance":  "mean: 1.0\nsamples: 10\nconverged: true\nmetadata: {}\n",
		"samples":   "mean: 1.0\nvariance: 0.5\nconverged: true\nmetadata: {}\n",
		"converged": "mean: 1.0\nvariance: 0.5\nsamples: 10\nmetadata: {}\n",
		"metadata":  "mean: 1.0\nvariance: 0.5\nsamples: 10\nconverged: true\n",
	}

	for missing, doc := range docs {
		t.Run(missing, func(t *testing.T) {
			_, err := Unmarshal([]byte(doc))
			if !errors.Is(err, ErrMissingField) {
				t.Fatalf("missing %q: got %v, want ErrMissingField", missing, err)
			}
		})
	}
}

func TestUnmarshalRejectsUnknownFields(t *testing.T) {
	doc := "mean: 1.0\nvariance: 0.5\nsamples: 10\nconverged: true\nmetadata: {}\nextra: 1\n"
	_, err := Unmarshal([]byte(doc))
	if err == nil {
		t.Fatal("expected schema violation for unknown field")
	}
}

func TestUnmarshalEnforcesInvariants(t *testing.T) {
	doc := "mean: 1.0\nvariance: 0.5\nsamples: 10\nconverged: false\nmetadata: {}\n"
	_, err := Unmarshal([]byte(doc))
	if !errors.Is(err, ErrNotConverged) {
		t.Fatalf("got %v, want ErrNotConverged", err)
	}
}

func TestLoadDetectsTampering(t *testing.T) {
	g, err := NewGlobal(12.0, 0.8, 500, true, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "baseline.yaml")
	require.NoError(t, g.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte("mean: 12"), []byte("mean: 99"), 1)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing baseline file")
	}
}
