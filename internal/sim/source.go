package sim

import (
	"context"
	"fmt"

	"gatewitness/internal/vcd"
)

// Normalization selects how raw activity becomes the scalar observable.
type Normalization string

const (
	// NormalizePerCycle divides total toggles by clock cycles.
	NormalizePerCycle Normalization = "per_cycle"

	// NormalizeRaw uses the total toggle count as-is.
	NormalizeRaw Normalization = "raw"
)

// Metric reduces one run's activity to the scalar observable.
func Metric(a vcd.Activity, norm Normalization) (float64, error) {
	switch norm {
	case NormalizePerCycle:
		return a.PerCycle(), nil
	case NormalizeRaw:
		return float64(a.TotalToggles), nil
	default:
		return 0, fmt.Errorf("sim: unknown normalization %q", norm)
	}
}

// ActivitySource adapts a backend into a Monte Carlo sample source:
// every Sample is one independent simulation run reduced to the
// configured observable.
type ActivitySource struct {
	Backend       Backend
	Config        Config
	Normalization Normalization
}

// Sample runs one simulation and returns the observable.
func (s *ActivitySource) Sample(ctx context.Context) (float64, error) {
	activity, err := s.Backend.Run(ctx, s.Config)
	if err != nil {
		return 0, fmt.Errorf("%s sample: %w", s.Backend.Name(), err)
	}
	return Metric(activity, s.Normalization)
}
