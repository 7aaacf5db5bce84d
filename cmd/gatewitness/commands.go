package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gatewitness/internal/baseline"
	"gatewitness/internal/config"
	"gatewitness/internal/detect"
	"gatewitness/internal/hypothesis"
	"gatewitness/internal/logging"
	"gatewitness/internal/montecarlo"
	"gatewitness/internal/report"
	"gatewitness/internal/sim"
	"gatewitness/internal/store"
	"gatewitness/internal/vcd"
	"gatewitness/internal/watcher"
)

func cmdBaseline(args []string) {
	fs := flag.NewFlagSet("baseline", flag.ExitOnError)
	out := fs.String("out", "baseline.yaml", "path for the baseline YAML")
	fs.Parse(args)

	cfg := loadConfig()
	log := newLogger(cfg)

	backend, err := sim.New(cfg.Sim.Backend)
	if err != nil {
		fatalf("Error: %v", err)
	}

	simCfg := sim.Config{
		RTLFiles: cfg.Sim.RTLFiles,
		Top:      cfg.Sim.Top,
		VCDFile:  cfg.Sim.VCDFile,
		Clock:    cfg.Sim.Clock,
		Defines:  cfg.Sim.Defines,
		Seed:     cfg.Sim.Seed,
	}
	if err := simCfg.Validate(); err != nil {
		fatalf("Error: %v", err)
	}

	source := &sim.ActivitySource{
		Backend:       backend,
		Config:        simCfg,
		Normalization: sim.Normalization(cfg.MonteCarlo.Normalization),
	}

	engine, err := montecarlo.NewEngine(source, montecarlo.EngineConfig{
		BatchSize:       cfg.MonteCarlo.BatchSize,
		MaxBatches:      cfg.MonteCarlo.MaxBatches,
		Workers:         cfg.MonteCarlo.Workers,
		MeanEpsilon:     cfg.MonteCarlo.MeanEpsilon,
		VarianceEpsilon: cfg.MonteCarlo.VarianceEpsilon,
		StableBatches:   cfg.MonteCarlo.StableBatches,
	}, logging.WithComponent(log, "montecarlo"))
	if err != nil {
		fatalf("Error: %v", err)
	}

	ctx, cancel := interruptContext()
	defer cancel()

	outcome, err := engine.Run(ctx)
	if err != nil {
		fatalf("Error running baseline estimation: %v", err)
	}
	if !outcome.Converged {
		fatalf("Baseline did not converge after %d batches (%d samples); "+
			"raise max_batches or loosen the epsilons", outcome.BatchesRun, outcome.Samples)
	}

	g, err := baseline.NewGlobal(outcome.Mean, outcome.Variance, outcome.Samples, outcome.Converged, map[string]string{
		"backend":       backend.Name(),
		"normalization": cfg.MonteCarlo.Normalization,
		"generated":     timestampMeta(),
	})
	if err != nil {
		fatalf("Error constructing baseline: %v", err)
	}
	if err := g.Save(*out); err != nil {
		fatalf("Error saving baseline: %v", err)
	}

	archiveBaseline(cfg, log, *out, outcome)

	fmt.Printf("Baseline written to %s\n", *out)
	fmt.Printf("  Mean:     %.6f\n", outcome.Mean)
	fmt.Printf("  Variance: %.6f\n", outcome.Variance)
	fmt.Printf("  Samples:  %d (%d batches)\n", outcome.Samples, outcome.BatchesRun)
}

func archiveBaseline(cfg *config.Config, log *slog.Logger, name string, outcome *montecarlo.Outcome) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Warn("baseline not archived", "error", err)
		return
	}
	defer st.Close()

	_, err = st.InsertBaseline(&store.BaselineRecord{
		Name:      name,
		Mean:      outcome.Mean,
		Variance:  outcome.Variance,
		Samples:   outcome.Samples,
		Converged: outcome.Converged,
	})
	if err != nil {
		log.Warn("baseline not archived", "error", err)
	}
}

func cmdDetect(args []string) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	baselinePath := fs.String("baseline", "", "path to the baseline YAML")
	observed := fs.Float64("observed", 0, "observed scalar metric")
	fs.Parse(args)

	if *baselinePath == "" {
		fatalf("Usage: gatewitness detect -baseline <yaml> -observed <float>")
	}

	cfg := loadConfig()
	log := newLogger(cfg)

	b, err := baseline.Load(*baselinePath)
	if err != nil {
		fatalf("Error loading baseline: %v", err)
	}

	policy, err := detect.NewPolicy(detect.ModeAggregate, detectionThresholds(cfg), nil, log)
	if err != nil {
		fatalf("Error: %v", err)
	}

	result, err := policy.Detect(detect.Input{Observed: *observed, Baseline: b})
	if err != nil {
		fatalf("Error: %v", err)
	}

	if err := report.Write(os.Stdout, result); err != nil {
		fatalf("Error writing report: %v", err)
	}
	archiveDetection(cfg, log, result)

	if result.TrojanDetected {
		os.Exit(2)
	}
}

func cmdAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	vcdPath := fs.String("vcd", "", "path to the VCD trace")
	cleanPrefix := fs.String("clean-prefix", "u_clean.", "scope prefix of the clean instance")
	observedPrefix := fs.String("observed-prefix", "u_trojan.", "scope prefix of the instance under test")
	runsDir := fs.String("runs", "", "directory of additional clean VCD runs")
	outDir := fs.String("out", "results", "directory for the text report")
	fs.Parse(args)

	if *vcdPath == "" {
		fatalf("Usage: gatewitness analyze -vcd <file> [-clean-prefix p] [-observed-prefix p] [-runs dir]")
	}

	cfg := loadConfig()
	log := newLogger(cfg)

	counts, err := vcd.ExtractToggleCountsFile(*vcdPath)
	if err != nil {
		fatalf("Error parsing VCD: %v", err)
	}

	clean := stripPrefix(counts, *cleanPrefix)
	observed := stripPrefix(counts, *observedPrefix)
	if len(clean) == 0 || len(observed) == 0 {
		fatalf("Failed to separate clean (%s) and observed (%s) signals in %s",
			*cleanPrefix, *observedPrefix, *vcdPath)
	}

	cleanRuns := []map[string]int{clean}
	if *runsDir != "" {
		extra, err := loadCleanRuns(*runsDir, *cleanPrefix)
		if err != nil {
			fatalf("Error loading clean runs: %v", err)
		}
		cleanRuns = append(cleanRuns, extra...)
	}

	profile, err := baseline.BuildSignalProfile(cleanRuns)
	if err != nil {
		fatalf("Error building signal profile: %v", err)
	}

	filter := detect.NewSignalFilter(cfg.Detection.DenyPatterns, cfg.Detection.RetainPatterns)
	policy, err := detect.NewPolicy(detect.ModePerSignal, detectionThresholds(cfg), filter, log)
	if err != nil {
		fatalf("Error: %v", err)
	}

	result, err := policy.Detect(detect.Input{Counts: observed, Profile: profile})
	if err != nil {
		fatalf("Error: %v", err)
	}

	path, err := report.WriteFile(*outDir, result)
	if err != nil {
		fatalf("Error writing report: %v", err)
	}
	archiveDetection(cfg, log, result)

	fmt.Printf("Analysis complete: %d signals, %d anomalies\n",
		result.TotalSignals, len(result.Anomalies))
	fmt.Printf("Text report: %s\n", path)
	if result.TrojanDetected {
		fmt.Printf("TROJAN DETECTED: %s (%.2f%% deviation)\n",
			result.PrimarySignal, result.PrimaryDeviation)
		os.Exit(2)
	}
	fmt.Println("No trojan detected")
}

func cmdFPR(args []string) {
	fs := flag.NewFlagSet("fpr", flag.ExitOnError)
	baselinePath := fs.String("baseline", "", "path to the baseline YAML")
	obsPath := fs.String("observations", "", "file of clean observations, whitespace separated")
	zThreshold := fs.Float64("z", 3.0, "z-score threshold to test")
	fs.Parse(args)

	if *baselinePath == "" || *obsPath == "" {
		fatalf("Usage: gatewitness fpr -baseline <yaml> -observations <file> [-z <float>]")
	}

	b, err := baseline.Load(*baselinePath)
	if err != nil {
		fatalf("Error loading baseline: %v", err)
	}

	observations, err := readObservations(*obsPath)
	if err != nil {
		fatalf("Error reading observations: %v", err)
	}

	rep, err := hypothesis.EstimateFalsePositiveRate(observations, b, *zThreshold)
	if err != nil {
		fatalf("Error: %v", err)
	}

	fmt.Println("=== False Positive Estimation ===")
	fmt.Printf("Z-Score Threshold:  %.2f\n", rep.Threshold)
	fmt.Printf("Observations:       %d\n", rep.TotalObservations)
	fmt.Printf("False Positives:    %d\n", rep.FalsePositives)
	fmt.Printf("Rate:               %.4f\n", rep.Rate)
	fmt.Printf("Max |z|:            %.4f\n", rep.MaxZ)
	fmt.Printf("Mean |z|:           %.4f\n", rep.MeanZ)
}

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	dir := fs.String("dir", "", "directory to watch for VCD traces")
	kind := fs.String("kind", "observed", "archive traces as clean or observed runs")
	settle := fs.Duration("settle", 2*time.Second, "quiet period before a trace counts as complete")
	fs.Parse(args)

	if *dir == "" {
		fatalf("Usage: gatewitness watch -dir <dir> [-kind clean|observed] [-settle 2s]")
	}
	runKind := store.RunKind(*kind)
	if runKind != store.RunClean && runKind != store.RunObserved {
		fatalf("Error: kind must be clean or observed, got %q", *kind)
	}

	cfg := loadConfig()
	log := newLogger(cfg)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fatalf("Error opening store: %v", err)
	}
	defer st.Close()

	w, err := watcher.New([]string{*dir}, *settle)
	if err != nil {
		fatalf("Error creating watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		fatalf("Error starting watcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := interruptContext()
	defer cancel()

	log.Info("watching for traces", "dir", *dir, "kind", string(runKind))

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return

		case ev := <-w.Events():
			ingestTrace(cfg, log, st, runKind, ev)

		case err := <-w.Errors():
			log.Warn("watch error", "error", err)
		}
	}
}

// ingestTrace parses a settled trace and archives it as a run.
func ingestTrace(cfg *config.Config, log *slog.Logger, st *store.Store, kind store.RunKind, ev watcher.Event) {
	counts, err := vcd.ExtractToggleCountsFile(ev.Path)
	if err != nil {
		log.Warn("trace skipped", "path", ev.Path, "error", err)
		return
	}

	totalToggles := 0
	for _, c := range counts {
		totalToggles += c
	}

	var metric float64
	cycles := 0
	activity, err := vcd.CountActivityFile(ev.Path, cfg.Sim.Clock)
	if err != nil {
		// No usable clock in the trace; fall back to the raw total.
		log.Warn("cycle count unavailable", "path", ev.Path, "error", err)
		metric = float64(totalToggles)
	} else {
		cycles = activity.Cycles
		metric, err = sim.Metric(activity, sim.Normalization(cfg.MonteCarlo.Normalization))
		if err != nil {
			log.Warn("trace skipped", "path", ev.Path, "error", err)
			return
		}
	}

	id, err := st.InsertRun(&store.Run{
		Kind:    kind,
		VCDPath: ev.Path,
		Metric:  metric,
		Toggles: totalToggles,
		Cycles:  cycles,
		Counts:  counts,
	})
	if err != nil {
		log.Warn("trace not archived", "path", ev.Path, "error", err)
		return
	}

	log.Info("trace archived",
		"run", id, "path", ev.Path, "digest", ev.Digest,
		"signals", len(counts), "toggles", totalToggles, "metric", metric)
}

func cmdRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of detections to list")
	fs.Parse(args)

	cfg := loadConfig()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fatalf("Error opening store: %v", err)
	}
	defer st.Close()

	fmt.Println("=== Archived Runs ===")
	fmt.Printf("%-6s %-9s %-10s %-8s %-8s %s\n", "ID", "Kind", "Metric", "Toggles", "Cycles", "Path")
	for _, kind := range []store.RunKind{store.RunClean, store.RunObserved} {
		runs, err := st.ListRuns(kind)
		if err != nil {
			fatalf("Error listing runs: %v", err)
		}
		for _, r := range runs {
			fmt.Printf("%-6d %-9s %-10.4f %-8d %-8d %s\n",
				r.ID, r.Kind, r.Metric, r.Toggles, r.Cycles, r.VCDPath)
		}
	}

	fmt.Println()
	fmt.Println("=== Detections ===")
	fmt.Printf("%-6s %-11s %-8s %-10s %s\n", "ID", "Mode", "Trojan", "Z-Score", "Primary Signal")
	detections, err := st.ListDetections(*limit)
	if err != nil {
		fatalf("Error listing detections: %v", err)
	}
	for _, d := range detections {
		fmt.Printf("%-6d %-11s %-8t %-10.4f %s\n",
			d.ID, d.Mode, d.TrojanDetected, d.ZScore, d.PrimarySignal)
	}
}

// Helper functions

func detectionThresholds(cfg *config.Config) detect.Thresholds {
	return detect.Thresholds{
		ZScore:               cfg.Detection.ZScoreThreshold,
		ConfidenceLevel:      cfg.Detection.ConfidenceLevel,
		GlobalActivityFactor: cfg.Detection.GlobalActivityFactor,
	}
}

func archiveDetection(cfg *config.Config, log *slog.Logger, result *detect.Result) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Warn("detection not archived", "error", err)
		return
	}
	defer st.Close()

	encoded, err := json.Marshal(result)
	if err != nil {
		log.Warn("detection not archived", "error", err)
		return
	}

	_, err = st.InsertDetection(&store.DetectionRecord{
		Mode:             string(result.Mode),
		TrojanDetected:   result.TrojanDetected,
		ZScore:           result.ZScore,
		Confidence:       result.Confidence,
		PrimarySignal:    result.PrimarySignal,
		PrimaryDeviation: result.PrimaryDeviation,
		ResultJSON:       string(encoded),
	})
	if err != nil {
		log.Warn("detection not archived", "error", err)
	}
}

// stripPrefix keeps the signals carrying the prefix anywhere in their
// hierarchical path and rekeys them by the part after it, so clean and
// observed instances of the same design align signal by signal.
func stripPrefix(counts map[string]int, prefix string) map[string]int {
	out := make(map[string]int)
	for sig, cnt := range counts {
		if idx := strings.Index(sig, prefix); idx >= 0 {
			out[sig[idx+len(prefix):]] = cnt
		}
	}
	return out
}

// loadCleanRuns parses every VCD in dir as an additional clean run.
func loadCleanRuns(dir, cleanPrefix string) ([]map[string]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var runs []map[string]int
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".vcd") {
			continue
		}
		counts, err := vcd.ExtractToggleCountsFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		// Standalone clean runs may or may not nest under the clean
		// instance prefix.
		if stripped := stripPrefix(counts, cleanPrefix); len(stripped) > 0 {
			counts = stripped
		}
		runs = append(runs, counts)
	}
	return runs, nil
}

func readObservations(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(string(data))
	observations := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse observation %q: %w", f, err)
		}
		observations = append(observations, v)
	}
	return observations, nil
}
