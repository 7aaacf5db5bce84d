// Package sim invokes RTL simulation toolchains and returns parsed
// switching activity. Backends run the tools and parse dumps; they
// never compute statistics or apply thresholds.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gatewitness/internal/vcd"
)

// ErrUnsupportedBackend is returned by New for unknown backend names.
var ErrUnsupportedBackend = errors.New("sim: unsupported backend")

// Config describes one simulation invocation. For a fixed Config and
// Seed a backend must be deterministic.
type Config struct {
	// RTLFiles are the source files, in compile order.
	RTLFiles []string

	// Top is the top module name.
	Top string

	// VCDFile is the dump file the testbench writes, relative to the
	// backend workdir.
	VCDFile string

	// Clock is the clock signal used for cycle counting.
	Clock string

	// Defines are extra macro definitions (e.g. trojan variant switches).
	Defines []string

	// Seed parameterizes testbench randomization.
	Seed int64
}

// Validate rejects configs no backend can run.
func (c Config) Validate() error {
	if len(c.RTLFiles) == 0 {
		return fmt.Errorf("sim: at least one RTL file is required")
	}
	if c.Top == "" {
		return fmt.Errorf("sim: top module name is required")
	}
	if c.Clock == "" {
		return fmt.Errorf("sim: clock signal name is required")
	}
	return nil
}

// Backend runs a single simulation and reports aggregate switching
// activity. Run must be deterministic for a fixed config and seed.
type Backend interface {
	Name() string
	Run(ctx context.Context, cfg Config) (vcd.Activity, error)
}

// New selects a backend by name.
func New(name string) (Backend, error) {
	switch strings.ToLower(name) {
	case "iverilog":
		return &IcarusBackend{}, nil
	case "vivado":
		return &VivadoBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, name)
	}
}
