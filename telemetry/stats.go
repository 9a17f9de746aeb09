// Package telemetry provides flock health tracking, bookmarking, and performance output.
package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a time window.
type WindowStats struct {
	WindowStartTick int64   `csv:"-"`
	WindowEndTick   int64   `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	// Population at window end
	Agents int `csv:"agents"`

	// Steering recomputations per tick
	DueMean float64 `csv:"due_mean"`
	DueStd  float64 `csv:"due_std"`
	DueMax  int     `csv:"due_max"`

	// Steering outcomes during window
	Evaluations  int     `csv:"evaluations"`
	FlockBranch  int     `csv:"flock_branch"`
	AvoidBranch  int     `csv:"avoid_branch"`
	IdleBranch   int     `csv:"idle_branch"`
	AvoidGiveUps int     `csv:"avoid_give_ups"`
	IdleFrac     float64 `csv:"idle_frac"`

	// Neighbours counted per evaluation
	NeighborsMean float64 `csv:"neighbors_mean"`
	NeighborsP10  float64 `csv:"neighbors_p10"`
	NeighborsP50  float64 `csv:"neighbors_p50"`
	NeighborsP90  float64 `csv:"neighbors_p90"`

	// Distance to the nearest seen neighbour
	SpacingMean float64 `csv:"spacing_mean"`
	SpacingStd  float64 `csv:"spacing_std"`

	// Speeds sampled at window end
	SpeedMean float64 `csv:"speed_mean"`
	SpeedP90  float64 `csv:"speed_p90"`

	// Fraction of agents outside the bounds cube at window end
	OutOfBoundsFrac float64 `csv:"out_of_bounds_frac"`

	// Spatial index
	Cells        int `csv:"cells"`
	CellsEvicted int `csv:"cells_evicted"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Distribution summarises a sample.
type Distribution struct {
	Mean, Std     float64
	P10, P50, P90 float64
	Max           float64
}

// ComputeDistribution calculates mean, standard deviation and percentiles.
// The input is not modified.
func ComputeDistribution(values []float64) Distribution {
	n := len(values)
	if n == 0 {
		return Distribution{}
	}

	var d Distribution
	if n == 1 {
		d.Mean = values[0]
	} else {
		d.Mean, d.Std = stat.MeanStdDev(values, nil)
	}

	// Sort for percentiles
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	d.P10 = Percentile(sorted, 0.10)
	d.P50 = Percentile(sorted, 0.50)
	d.P90 = Percentile(sorted, 0.90)
	d.Max = sorted[n-1]
	return d
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", int(s.WindowStartTick)),
		slog.Int("window_end", int(s.WindowEndTick)),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("agents", s.Agents),
		slog.Float64("due_mean", s.DueMean),
		slog.Float64("due_std", s.DueStd),
		slog.Int("due_max", s.DueMax),
		slog.Int("evaluations", s.Evaluations),
		slog.Int("flock_branch", s.FlockBranch),
		slog.Int("avoid_branch", s.AvoidBranch),
		slog.Int("idle_branch", s.IdleBranch),
		slog.Int("avoid_give_ups", s.AvoidGiveUps),
		slog.Float64("neighbors_mean", s.NeighborsMean),
		slog.Float64("neighbors_p50", s.NeighborsP50),
		slog.Float64("spacing_mean", s.SpacingMean),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("out_of_bounds_frac", s.OutOfBoundsFrac),
		slog.Int("cells", s.Cells),
		slog.Int("cells_evicted", s.CellsEvicted),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndTick,
		"sim_time", s.SimTimeSec,
		"agents", s.Agents,
		"due_mean", s.DueMean,
		"due_max", s.DueMax,
		"flock", s.FlockBranch,
		"avoid", s.AvoidBranch,
		"idle", s.IdleBranch,
		"give_ups", s.AvoidGiveUps,
		"neighbors_p50", s.NeighborsP50,
		"spacing_mean", s.SpacingMean,
		"speed_mean", s.SpeedMean,
		"out_of_bounds", s.OutOfBoundsFrac,
		"cells", s.Cells,
	)
}
