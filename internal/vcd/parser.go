package vcd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// parser holds the per-invocation state of one VCD pass: the scope
// stack, the symbol table and the last-seen value cache. A parser is
// single-owner and valid for exactly one stream; every entry point
// builds a fresh one, so repeated independent calls share no state.
type parser struct {
	scopeStack []string
	symbolPath map[string]string
	lastValue  map[string]string
	counts     map[string]int

	inHeader bool

	// Aggregate mode. clockName empty disables cycle counting.
	clockName    string
	clockSymbol  string
	totalToggles int
	cycles       int
}

func newParser(clockName string) *parser {
	return &parser{
		symbolPath: make(map[string]string),
		lastValue:  make(map[string]string),
		counts:     make(map[string]int),
		inHeader:   true,
		clockName:  clockName,
	}
}

// ExtractToggleCounts parses a VCD stream and returns per-signal toggle
// counts keyed by fully qualified hierarchical path.
//
// The first observed value of a signal never counts as a toggle; a
// counter increments only when a newly observed value differs from the
// previous one for the same identifier. Value-change records whose
// identifier was never declared, and vector records that cannot be
// split into value and identifier, are skipped without failing.
//
// Identifiers declared more than once are tracked independently even
// when they resolve to the same path; their transitions all accumulate
// on that path's counter.
func ExtractToggleCounts(r io.Reader) (map[string]int, error) {
	p := newParser("")
	if err := p.run(r); err != nil {
		return nil, err
	}
	return p.counts, nil
}

// ExtractToggleCountsFile is ExtractToggleCounts over a file on disk.
func ExtractToggleCountsFile(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vcd: %w", err)
	}
	defer f.Close()

	counts, err := ExtractToggleCounts(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return counts, nil
}

// CountActivity parses a VCD stream in aggregate mode, returning the
// total toggle count across all declared signals and the number of
// rising edges on the named clock. The clock may be given as a leaf
// name or a fully qualified path; it must resolve to a declared
// identifier or parsing fails with ErrClockNotFound. A run with zero
// rising edges fails with ErrNoCycles.
func CountActivity(r io.Reader, clockName string) (Activity, error) {
	p := newParser(clockName)
	if err := p.run(r); err != nil {
		return Activity{}, err
	}
	if p.cycles == 0 {
		return Activity{}, ErrNoCycles
	}
	return Activity{TotalToggles: p.totalToggles, Cycles: p.cycles}, nil
}

// CountActivityFile is CountActivity over a file on disk.
func CountActivityFile(path, clockName string) (Activity, error) {
	f, err := os.Open(path)
	if err != nil {
		return Activity{}, fmt.Errorf("open vcd: %w", err)
	}
	defer f.Close()

	activity, err := CountActivity(f, clockName)
	if err != nil {
		return Activity{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return activity, nil
}

func (p *parser) run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if p.inHeader {
			if err := p.headerLine(line); err != nil {
				return err
			}
			continue
		}

		p.bodyLine(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read vcd: %w", err)
	}

	if p.inHeader {
		return ErrHeaderNotTerminated
	}
	return nil
}

func (p *parser) headerLine(line string) error {
	switch {
	case strings.HasPrefix(line, "$scope"):
		// $scope module u_clean $end
		parts := strings.Fields(line)
		if len(parts) >= 3 {
			p.scopeStack = append(p.scopeStack, parts[2])
		}

	case strings.HasPrefix(line, "$upscope"):
		if n := len(p.scopeStack); n > 0 {
			p.scopeStack = p.scopeStack[:n-1]
		}

	case strings.HasPrefix(line, "$var"):
		// $var wire 1 ! noise_reg_a $end
		parts := strings.Fields(line)
		if len(parts) >= 5 {
			symbol := parts[3]
			leaf := parts[4]
			full := strings.Join(append(append([]string{}, p.scopeStack...), leaf), ".")
			p.symbolPath[symbol] = full
			if p.clockName != "" && (leaf == p.clockName || full == p.clockName) {
				p.clockSymbol = symbol
			}
		}

	case line == "$enddefinitions $end":
		p.inHeader = false
		if p.clockName != "" && p.clockSymbol == "" {
			return fmt.Errorf("%w: %q", ErrClockNotFound, p.clockName)
		}
	}
	return nil
}

func (p *parser) bodyLine(line string) {
	// Timestamps carry no value information.
	if line[0] == '#' {
		return
	}

	var value, symbol string
	switch {
	case line[0] == '0' || line[0] == '1' || line[0] == 'x' || line[0] == 'z':
		value = line[:1]
		symbol = line[1:]

	case line[0] == 'b':
		parts := strings.Fields(line[1:])
		if len(parts) != 2 {
			return // instrumentation noise, tolerated
		}
		value, symbol = parts[0], parts[1]

	default:
		return
	}

	if symbol == "" {
		return
	}

	prev, seen := p.lastValue[symbol]
	path, declared := p.symbolPath[symbol]

	if seen && prev != value && declared {
		p.counts[path]++
		p.totalToggles++
	}
	p.lastValue[symbol] = value

	if p.clockSymbol != "" && symbol == p.clockSymbol && prev == "0" && value == "1" {
		p.cycles++
	}
}
