package sim

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"gatewitness/internal/vcd"
)

// IcarusBackend compiles with iverilog and simulates with vvp, reading
// activity back from the VCD the testbench dumps. Each Run uses a
// private temporary workdir, removed on return.
type IcarusBackend struct{}

// Name implements Backend.
func (b *IcarusBackend) Name() string { return "iverilog" }

// Run implements Backend.
func (b *IcarusBackend) Run(ctx context.Context, cfg Config) (vcd.Activity, error) {
	if err := cfg.Validate(); err != nil {
		return vcd.Activity{}, err
	}

	workdir, err := os.MkdirTemp("", "iverilog_")
	if err != nil {
		return vcd.Activity{}, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workdir)

	exe := filepath.Join(workdir, "sim.out")
	if err := b.compile(ctx, cfg, exe, workdir); err != nil {
		return vcd.Activity{}, err
	}
	if err := b.simulate(ctx, cfg, exe, workdir); err != nil {
		return vcd.Activity{}, err
	}

	vcdName := cfg.VCDFile
	if vcdName == "" {
		vcdName = "dump.vcd"
	}
	return vcd.CountActivityFile(filepath.Join(workdir, vcdName), cfg.Clock)
}

func (b *IcarusBackend) compile(ctx context.Context, cfg Config, output, workdir string) error {
	args := []string{"-g2012", "-s", cfg.Top, "-o", output}
	for _, def := range cfg.Defines {
		args = append(args, "-D"+def)
	}
	args = append(args, cfg.RTLFiles...)

	cmd := exec.CommandContext(ctx, "iverilog", args...)
	cmd.Dir = workdir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("iverilog compile: %w: %s", err, firstLines(out, 5))
	}
	return nil
}

func (b *IcarusBackend) simulate(ctx context.Context, cfg Config, exe, workdir string) error {
	args := []string{exe}
	if cfg.Seed != 0 {
		args = append(args, fmt.Sprintf("+seed=%d", cfg.Seed))
	}

	cmd := exec.CommandContext(ctx, "vvp", args...)
	cmd.Dir = workdir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("vvp run: %w: %s", err, firstLines(out, 5))
	}
	return nil
}

// firstLines keeps tool output in errors readable.
func firstLines(out []byte, n int) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	if len(lines) > n {
		lines = lines[:n]
	}
	return string(bytes.Join(lines, []byte("; ")))
}
