// Package vcd parses hierarchical value-change dump files into
// switching-activity statistics.
package vcd

import "errors"

// Parse errors.
var (
	// ErrHeaderNotTerminated is returned when the $enddefinitions marker
	// is never seen before EOF.
	ErrHeaderNotTerminated = errors.New("vcd: header not terminated by $enddefinitions")

	// ErrClockNotFound is returned when the requested clock signal has no
	// declaration in the header.
	ErrClockNotFound = errors.New("vcd: clock signal not declared")

	// ErrNoCycles is returned when no rising clock edge was observed.
	ErrNoCycles = errors.New("vcd: no clock cycles detected")
)

// Activity is the aggregate switching activity of one simulation run.
type Activity struct {
	// TotalToggles is the number of value transitions across all signals.
	TotalToggles int

	// Cycles is the number of rising edges observed on the clock.
	Cycles int
}

// PerCycle returns toggles normalized per clock cycle.
func (a Activity) PerCycle() float64 {
	if a.Cycles == 0 {
		return 0
	}
	return float64(a.TotalToggles) / float64(a.Cycles)
}
