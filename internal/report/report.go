// Package report renders detection results as fixed-width text reports.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gatewitness/internal/detect"
)

const lineWidth = 80

// Write renders a detection result to w.
func Write(w io.Writer, r *detect.Result) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	writeHeader(&b, ts)
	switch r.Mode {
	case detect.ModePerSignal:
		writeStatistics(&b, r)
		writeAnomalies(&b, r)
		writeZSection(&b, r)
	default:
		writeAggregate(&b, r)
	}
	writeConclusion(&b, r)

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteFile renders a detection result to
// <dir>/hardware_trojan_report.txt and returns the path.
func WriteFile(dir string, r *detect.Result) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	path := filepath.Join(dir, "hardware_trojan_report.txt")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	if err := Write(f, r); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func rule(b *strings.Builder, ch string) {
	b.WriteString(strings.Repeat(ch, lineWidth))
	b.WriteString("\n")
}

func writeHeader(b *strings.Builder, ts time.Time) {
	rule(b, "=")
	b.WriteString("HARDWARE TROJAN DETECTION REPORT\n")
	b.WriteString("Side-Channel Analysis via Switching Activity\n")
	rule(b, "=")
	b.WriteString("\n")
	fmt.Fprintf(b, "Report Generated: %s\n\n", ts.Format("2006-01-02 15:04:05"))
}

func writeStatistics(b *strings.Builder, r *detect.Result) {
	rule(b, "-")
	b.WriteString("STATISTICAL SUMMARY\n")
	rule(b, "-")

	fmt.Fprintf(b, "Total Signals Analyzed: %d\n", r.TotalSignals)
	fmt.Fprintf(b, "Mean Deviation: %.2f%%\n", r.Deviations.Mean)
	fmt.Fprintf(b, "Median Deviation: %.2f%%\n", r.Deviations.Median)
	fmt.Fprintf(b, "Standard Deviation: %.2f%%\n", r.Deviations.Std)
	fmt.Fprintf(b, "Maximum Deviation: %.2f%%\n\n", r.Deviations.Max)
}

func writeAnomalies(b *strings.Builder, r *detect.Result) {
	rule(b, "-")
	b.WriteString("ANOMALY DETECTION RESULTS (IQR Threshold)\n")
	rule(b, "-")
	fmt.Fprintf(b, "Anomalies Detected: %d\n\n", len(r.Anomalies))

	if len(r.Anomalies) == 0 {
		return
	}

	fmt.Fprintf(b, "%-6s%-40s%-15s%s\n", "Rank", "Signal Name", "Deviation", "Class")
	rule(b, "-")
	for _, a := range r.Anomalies {
		fmt.Fprintf(b, "%-6d%-40s%-15.2f%s\n", a.Rank, a.Signal, a.Deviation, a.Class)
	}
	b.WriteString("\n")
}

func writeZSection(b *strings.Builder, r *detect.Result) {
	rule(b, "-")
	fmt.Fprintf(b, "Z-SCORE DETECTION (Z > %.2f)\n", r.Thresholds.ZScore)
	rule(b, "-")

	var flagged []detect.Anomaly
	for _, a := range r.Anomalies {
		if a.ZScore > r.Thresholds.ZScore {
			flagged = append(flagged, a)
		}
	}
	fmt.Fprintf(b, "Z-Score Anomalies Detected: %d\n\n", len(flagged))

	for _, a := range flagged {
		fmt.Fprintf(b, "  - %s: %.2f%% deviation (z = %.2f)\n", a.Signal, a.Deviation, a.ZScore)
	}
	if len(flagged) > 0 {
		b.WriteString("\n")
	}
}

func writeAggregate(b *strings.Builder, r *detect.Result) {
	rule(b, "-")
	b.WriteString("AGGREGATE HYPOTHESIS TEST\n")
	rule(b, "-")

	fmt.Fprintf(b, "Observed Metric: %.4f\n", r.Observed)
	fmt.Fprintf(b, "Baseline Mean: %.4f\n", r.BaselineMean)
	fmt.Fprintf(b, "Baseline Variance: %.4f\n", r.BaselineVariance)
	fmt.Fprintf(b, "Z-Score: %.4f (threshold %.2f, exceeded: %t)\n",
		r.ZScore, r.Thresholds.ZScore, r.ZExceeded)
	fmt.Fprintf(b, "Confidence: %.4f (threshold %.2f, exceeded: %t)\n\n",
		r.Confidence, r.Thresholds.ConfidenceLevel, r.ConfidenceExceeded)
}

func writeConclusion(b *strings.Builder, r *detect.Result) {
	rule(b, "-")
	b.WriteString("CONCLUSION\n")
	rule(b, "-")

	if r.TrojanDetected {
		b.WriteString("TROJAN DETECTED\n\n")
		b.WriteString("Evidence: Abnormal switching activity above the detection thresholds.\n\n")
		if r.PrimarySignal != "" {
			fmt.Fprintf(b, "Most suspicious signal: %s with %.2f%% deviation\n",
				r.PrimarySignal, r.PrimaryDeviation)
		}
		if r.GlobalOverride {
			fmt.Fprintf(b, "Global activity override: observed total %.2f exceeds %.2f x clean mean %.2f\n",
				r.ObservedTotal, r.Thresholds.GlobalActivityFactor, r.CleanTotalMean)
		}
	} else {
		b.WriteString("NO TROJAN DETECTED\n")
	}

	b.WriteString("\n")
	rule(b, "=")
}
