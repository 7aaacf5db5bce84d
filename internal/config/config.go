// Package config handles configuration loading and validation for
// gatewitness.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the complete tool configuration.
type Config struct {
	// Sim configures the simulation backend.
	Sim SimConfig `toml:"sim"`

	// MonteCarlo configures baseline sampling and convergence.
	MonteCarlo MonteCarloConfig `toml:"monte_carlo"`

	// Detection configures decision thresholds.
	Detection DetectionConfig `toml:"detection"`

	// Store configures the run archive database.
	Store StoreConfig `toml:"store"`

	// Logging configures structured log output.
	Logging LoggingConfig `toml:"logging"`
}

// SimConfig selects and parameterizes the simulation backend.
type SimConfig struct {
	Backend  string   `toml:"backend"`
	RTLFiles []string `toml:"rtl_files"`
	Top      string   `toml:"top"`
	VCDFile  string   `toml:"vcd_file"`
	Clock    string   `toml:"clock"`
	Defines  []string `toml:"defines"`
	Seed     int64    `toml:"seed"`
}

// MonteCarloConfig holds sampling and convergence parameters.
type MonteCarloConfig struct {
	BatchSize       int     `toml:"batch_size"`
	MaxBatches      int     `toml:"max_batches"`
	Workers         int     `toml:"workers"`
	MeanEpsilon     float64 `toml:"mean_epsilon"`
	VarianceEpsilon float64 `toml:"variance_epsilon"`
	StableBatches   int     `toml:"stable_batches"`

	// Normalization is "per_cycle" or "raw".
	Normalization string `toml:"normalization"`
}

// DetectionConfig holds decision thresholds and signal filters.
type DetectionConfig struct {
	ZScoreThreshold      float64 `toml:"z_score_threshold"`
	ConfidenceLevel      float64 `toml:"confidence_level"`
	GlobalActivityFactor float64 `toml:"global_activity_factor"`

	// DenyPatterns and RetainPatterns override the built-in signal
	// filter when non-empty.
	DenyPatterns   []string `toml:"deny_patterns"`
	RetainPatterns []string `toml:"retain_patterns"`
}

// StoreConfig locates the run archive.
type StoreConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig mirrors the logging package configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Sim: SimConfig{
			Backend: "iverilog",
			VCDFile: "dump.vcd",
			Clock:   "clk",
		},
		MonteCarlo: MonteCarloConfig{
			BatchSize:       20,
			MaxBatches:      50,
			Workers:         1,
			MeanEpsilon:     0.01,
			VarianceEpsilon: 0.01,
			StableBatches:   3,
			Normalization:   "per_cycle",
		},
		Detection: DetectionConfig{
			ZScoreThreshold:      3.0,
			ConfidenceLevel:      0.99,
			GlobalActivityFactor: 1.5,
		},
		Store: StoreConfig{
			Path: "gatewitness.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML configuration file, layered over defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidationError is one configuration violation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every violation found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and reports all violations at once.
func (c *Config) Validate() error {
	var errs ValidationErrors

	switch c.Sim.Backend {
	case "iverilog", "vivado":
	default:
		errs = append(errs, ValidationError{"sim.backend", fmt.Sprintf("unsupported backend %q", c.Sim.Backend)})
	}

	mc := c.MonteCarlo
	if mc.BatchSize <= 0 {
		errs = append(errs, ValidationError{"monte_carlo.batch_size", "must be positive"})
	}
	if mc.MaxBatches <= 0 {
		errs = append(errs, ValidationError{"monte_carlo.max_batches", "must be positive"})
	}
	if mc.MeanEpsilon <= 0 {
		errs = append(errs, ValidationError{"monte_carlo.mean_epsilon", "must be positive"})
	}
	if mc.VarianceEpsilon <= 0 {
		errs = append(errs, ValidationError{"monte_carlo.variance_epsilon", "must be positive"})
	}
	if mc.StableBatches <= 0 {
		errs = append(errs, ValidationError{"monte_carlo.stable_batches", "must be positive"})
	}
	if mc.Normalization != "per_cycle" && mc.Normalization != "raw" {
		errs = append(errs, ValidationError{"monte_carlo.normalization", fmt.Sprintf("must be per_cycle or raw, got %q", mc.Normalization)})
	}

	det := c.Detection
	if det.ZScoreThreshold <= 0 {
		errs = append(errs, ValidationError{"detection.z_score_threshold", "must be positive"})
	}
	if det.ConfidenceLevel <= 0 || det.ConfidenceLevel >= 1 {
		errs = append(errs, ValidationError{"detection.confidence_level", "must be in (0, 1)"})
	}
	if det.GlobalActivityFactor < 0 {
		errs = append(errs, ValidationError{"detection.global_activity_factor", "must be non-negative"})
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level)})
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{"logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
