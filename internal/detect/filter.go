package detect

import "strings"

// Default name patterns. Deny patterns drop testbench-only and
// structural-internal signals that toggle heavily in every run and
// carry no design information; retain patterns always survive the
// filter so payload-class signals are evaluated even with no baseline.
var (
	DefaultDenyPatterns = []string{
		"tb_top",
		"testbench",
		".clk",
		".rst",
		".reset",
		".dump",
	}

	DefaultRetainPatterns = []string{
		"trojan",
		"payload",
		"trigger",
		"shadow",
	}
)

// SignalFilter is a static allow/deny filter over signal paths.
// Retain patterns win over deny patterns.
type SignalFilter struct {
	deny   []string
	retain []string
}

// NewSignalFilter builds a filter from substring patterns. Nil slices
// fall back to the package defaults.
func NewSignalFilter(deny, retain []string) *SignalFilter {
	if deny == nil {
		deny = DefaultDenyPatterns
	}
	if retain == nil {
		retain = DefaultRetainPatterns
	}
	return &SignalFilter{deny: deny, retain: retain}
}

// Keep reports whether a signal path passes the filter.
func (f *SignalFilter) Keep(signal string) bool {
	lower := strings.ToLower(signal)
	for _, p := range f.retain {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, p := range f.deny {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}
