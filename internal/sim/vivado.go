package sim

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gatewitness/internal/vcd"
)

// VivadoBackend drives Vivado in batch mode through a generated TCL
// script (xvlog/xelab/xsim), then reads activity from the dumped VCD.
type VivadoBackend struct{}

// Name implements Backend.
func (b *VivadoBackend) Name() string { return "vivado" }

// Run implements Backend.
func (b *VivadoBackend) Run(ctx context.Context, cfg Config) (vcd.Activity, error) {
	if err := cfg.Validate(); err != nil {
		return vcd.Activity{}, err
	}

	workdir, err := os.MkdirTemp("", "vivado_")
	if err != nil {
		return vcd.Activity{}, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workdir)

	tclPath := filepath.Join(workdir, "run.tcl")
	if err := os.WriteFile(tclPath, []byte(b.script(cfg)), 0o644); err != nil {
		return vcd.Activity{}, fmt.Errorf("write tcl script: %w", err)
	}

	cmd := exec.CommandContext(ctx, "vivado", "-mode", "batch", "-source", tclPath, "-nojournal", "-nolog")
	cmd.Dir = workdir
	if out, err := cmd.CombinedOutput(); err != nil {
		return vcd.Activity{}, fmt.Errorf("vivado batch run: %w: %s", err, firstLines(out, 5))
	}

	vcdName := cfg.VCDFile
	if vcdName == "" {
		vcdName = "dump.vcd"
	}
	return vcd.CountActivityFile(filepath.Join(workdir, vcdName), cfg.Clock)
}

// script renders the batch TCL for one run.
func (b *VivadoBackend) script(cfg Config) string {
	var sb strings.Builder

	defines := ""
	for _, def := range cfg.Defines {
		defines += " -d " + def
	}

	for _, f := range cfg.RTLFiles {
		fmt.Fprintf(&sb, "exec xvlog -sv%s %s\n", defines, f)
	}
	fmt.Fprintf(&sb, "exec xelab -debug typical -top %s -snapshot sim_snap\n", cfg.Top)
	if cfg.Seed != 0 {
		fmt.Fprintf(&sb, "exec xsim sim_snap -runall -testplusarg seed=%d\n", cfg.Seed)
	} else {
		fmt.Fprintf(&sb, "exec xsim sim_snap -runall\n")
	}
	return sb.String()
}
