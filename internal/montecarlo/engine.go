package montecarlo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Source produces one scalar observation per call, typically by running
// a single independent simulation and normalizing its switching
// activity. Implementations must be safe for concurrent use; each call
// is an independent sample.
type Source interface {
	Sample(ctx context.Context) (float64, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (float64, error)

// Sample implements Source.
func (f SourceFunc) Sample(ctx context.Context) (float64, error) { return f(ctx) }

// EngineConfig controls a sampling session.
type EngineConfig struct {
	// BatchSize is the number of samples drawn per batch; convergence is
	// evaluated once per batch.
	BatchSize int

	// MaxBatches bounds the session when convergence is never declared.
	MaxBatches int

	// Workers is the number of concurrent samplers per batch. Values
	// below 1 run sequentially.
	Workers int

	// MeanEpsilon, VarianceEpsilon and StableBatches parameterize the
	// convergence tracker.
	MeanEpsilon     float64
	VarianceEpsilon float64
	StableBatches   int
}

// Outcome is the final state of a sampling session.
type Outcome struct {
	Mean       float64
	Variance   float64
	Samples    int
	Converged  bool
	BatchesRun int

	// Values holds every observation in draw order, for reporting and
	// false-positive estimation.
	Values []float64
}

// Engine drives batched Monte Carlo sampling until the running mean and
// variance converge or the batch budget is exhausted.
type Engine struct {
	source Source
	cfg    EngineConfig
	log    *slog.Logger
}

// NewEngine validates cfg and constructs an Engine. logger may be nil.
func NewEngine(source Source, cfg EngineConfig, logger *slog.Logger) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("montecarlo: source must not be nil")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("montecarlo: batch_size must be positive (got %d)", cfg.BatchSize)
	}
	if cfg.MaxBatches <= 0 {
		return nil, fmt.Errorf("montecarlo: max_batches must be positive (got %d)", cfg.MaxBatches)
	}
	if _, err := NewTracker(cfg.MeanEpsilon, cfg.VarianceEpsilon, cfg.StableBatches); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{source: source, cfg: cfg, log: logger}, nil
}

// Run samples in batches until convergence or MaxBatches. Any sampling
// error aborts the session before statistics are reported, so a failed
// run can never seed a baseline.
func (e *Engine) Run(ctx context.Context) (*Outcome, error) {
	tracker, err := NewTracker(e.cfg.MeanEpsilon, e.cfg.VarianceEpsilon, e.cfg.StableBatches)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}

	for batch := 1; batch <= e.cfg.MaxBatches; batch++ {
		batchTracker, values, err := e.runBatch(ctx)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", batch, err)
		}

		tracker.Merge(batchTracker)
		out.Values = append(out.Values, values...)
		out.BatchesRun = batch

		status := tracker.Status()
		e.log.Info("batch complete",
			"batch", batch,
			"samples", status.Samples,
			"mean", status.Mean,
			"variance", status.Variance)

		if tracker.CheckConvergence() {
			e.log.Info("convergence reached", "batches", batch)
			out.Converged = true
			break
		}
	}

	if !out.Converged {
		e.log.Warn("sampling ended without convergence", "batches", e.cfg.MaxBatches)
	}

	out.Mean = tracker.Mean()
	out.Samples = tracker.Count()
	if v, err := tracker.Variance(); err == nil {
		out.Variance = v
	}
	return out, nil
}

// runBatch draws BatchSize samples, fanning out across Workers. Every
// worker owns a private Tracker; the batch result is the parallel merge
// of those accumulators.
func (e *Engine) runBatch(ctx context.Context) (*Tracker, []float64, error) {
	batchTracker, err := NewTracker(e.cfg.MeanEpsilon, e.cfg.VarianceEpsilon, e.cfg.StableBatches)
	if err != nil {
		return nil, nil, err
	}

	workers := e.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > e.cfg.BatchSize {
		workers = e.cfg.BatchSize
	}

	if workers == 1 {
		values := make([]float64, 0, e.cfg.BatchSize)
		for i := 0; i < e.cfg.BatchSize; i++ {
			v, err := e.source.Sample(ctx)
			if err != nil {
				return nil, nil, err
			}
			batchTracker.Update(v)
			values = append(values, v)
		}
		return batchTracker, values, nil
	}

	var (
		mu     sync.Mutex
		values = make([]float64, 0, e.cfg.BatchSize)
	)

	g, gctx := errgroup.WithContext(ctx)
	per := e.cfg.BatchSize / workers
	extra := e.cfg.BatchSize % workers

	for w := 0; w < workers; w++ {
		n := per
		if w < extra {
			n++
		}
		if n == 0 {
			continue
		}
		g.Go(func() error {
			local, err := NewTracker(e.cfg.MeanEpsilon, e.cfg.VarianceEpsilon, e.cfg.StableBatches)
			if err != nil {
				return err
			}
			drawn := make([]float64, 0, n)
			for i := 0; i < n; i++ {
				v, err := e.source.Sample(gctx)
				if err != nil {
					return err
				}
				local.Update(v)
				drawn = append(drawn, v)
			}
			mu.Lock()
			batchTracker.Merge(local)
			values = append(values, drawn...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return batchTracker, values, nil
}
