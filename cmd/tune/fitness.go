package main

import (
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/flock/config"
	"github.com/pthm-cable/flock/flock"
	"github.com/pthm-cable/flock/telemetry"
)

// FitnessEvaluator runs headless flocks and scores their window stats.
type FitnessEvaluator struct {
	params        *ParamVector
	ticks         int64
	seeds         []int64
	baseConfig    *config.Config
	targetSpacing float64

	mu          sync.Mutex
	lastSpacing float64 // mean spacing from the most recent Evaluate call
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, ticks int64, seeds []int64, baseCfg *config.Config, targetSpacing float64) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:        params,
		ticks:         ticks,
		seeds:         seeds,
		baseConfig:    baseCfg,
		targetSpacing: targetSpacing,
	}
}

// LastSpacing returns the mean spacing from the most recent evaluation.
func (fe *FitnessEvaluator) LastSpacing() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastSpacing
}

// Fitness component weights.
const (
	weightSpacing     = 1.0
	weightOutOfBounds = 4.0
	weightGiveUps     = 2.0
	weightSpread      = 0.5

	warmupWindows = 2 // skip windows while the flock forms
)

// seedResult holds the result from one seed evaluation.
type seedResult struct {
	fitness float64
	spacing float64
}

// Evaluate computes fitness for a parameter vector (lower = better).
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg := fe.baseConfig.Clone()
	fe.params.ApplyToConfig(cfg, x)
	if err := cfg.Validate(); err != nil {
		slog.Warn("rejecting parameters", "error", err)
		return math.Inf(1)
	}

	// Run all seeds in parallel
	results := make([]seedResult, len(fe.seeds))
	var wg sync.WaitGroup

	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			windows, err := fe.runSimulation(cfg, s)
			if err != nil {
				slog.Error("simulation failed", "seed", s, "error", err)
				results[idx] = seedResult{fitness: math.Inf(1)}
				return
			}
			results[idx] = fe.score(windows)
		}(i, seed)
	}
	wg.Wait()

	var totalFitness, totalSpacing float64
	for _, r := range results {
		totalFitness += r.fitness
		totalSpacing += r.spacing
	}
	n := float64(len(fe.seeds))

	fe.mu.Lock()
	fe.lastSpacing = totalSpacing / n
	fe.mu.Unlock()

	return totalFitness / n
}

// runSimulation executes one headless run and returns its stats windows.
func (fe *FitnessEvaluator) runSimulation(cfg *config.Config, seed int64) ([]telemetry.WindowStats, error) {
	var windows []telemetry.WindowStats
	f, err := flock.New(cfg, flock.Options{
		Seed: seed,
		StatsCallback: func(stats telemetry.WindowStats) {
			windows = append(windows, stats)
		},
	})
	if err != nil {
		return nil, err
	}
	defer f.Close()

	signals := flock.NewSignalSource(cfg)
	for f.Tick() < fe.ticks {
		f.Step(signals.At(f.Tick()))
	}
	return windows, nil
}

// score turns one run's windows into a fitness (lower = better):
// squared relative spacing error, time spent out of bounds, avoidance
// give-ups and window-to-window spacing spread.
func (fe *FitnessEvaluator) score(windows []telemetry.WindowStats) seedResult {
	if len(windows) <= warmupWindows {
		return seedResult{fitness: math.Inf(1)}
	}
	valid := windows[warmupWindows:]

	spacing := make([]float64, 0, len(valid))
	var oob, giveUps float64
	for _, w := range valid {
		spacing = append(spacing, w.SpacingMean)
		oob += w.OutOfBoundsFrac
		if w.Evaluations > 0 {
			giveUps += float64(w.AvoidGiveUps) / float64(w.Evaluations)
		}
	}
	n := float64(len(valid))

	mean, std := spacingSummary(spacing)
	relErr := (mean - fe.targetSpacing) / fe.targetSpacing
	spread := 0.0
	if mean > 0 {
		spread = std / mean
	}

	fitness := weightSpacing*relErr*relErr +
		weightOutOfBounds*oob/n +
		weightGiveUps*giveUps/n +
		weightSpread*spread
	return seedResult{fitness: fitness, spacing: mean}
}

func spacingSummary(values []float64) (mean, std float64) {
	if len(values) < 2 {
		if len(values) == 1 {
			return values[0], 0
		}
		return 0, 0
	}
	return stat.MeanStdDev(values, nil)
}
