// gatewitness detects hardware trojans from switching-activity
// statistics: it estimates clean baselines by Monte Carlo simulation
// and tests observed VCD traces against them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatewitness/internal/config"
	"gatewitness/internal/logging"
)

var configPath = flag.String("config", "", "path to config file")

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "baseline":
		cmdBaseline(args)
	case "detect":
		cmdDetect(args)
	case "analyze":
		cmdAnalyze(args)
	case "fpr":
		cmdFPR(args)
	case "watch":
		cmdWatch(args)
	case "runs":
		cmdRuns(args)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `gatewitness - Hardware trojan detection via switching activity

Usage: gatewitness [options] <command> [args]

Commands:
  baseline   Estimate a converged clean baseline by Monte Carlo simulation
  detect     Test one observed scalar metric against a baseline
  analyze    Per-signal analysis of a VCD trace against clean activity
  fpr        Estimate the false-positive rate over clean observations
  watch      Ingest settled VCD traces dropped into a directory
  runs       List archived runs and detection verdicts
  help       Show this help message

Options:
  -config <path>  Path to config file (defaults apply when omitted)`)
}

func loadConfig() *config.Config {
	if *configPath == "" {
		return config.Default()
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Component: "gatewitness",
	})
}

// interruptContext cancels on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func timestampMeta() string {
	return time.Now().Format(time.RFC3339)
}
