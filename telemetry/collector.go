package telemetry

import "github.com/pthm-cable/flock/systems"

// Collector accumulates per-tick steering activity and produces WindowStats.
type Collector struct {
	windowDurationTicks int64
	dt                  float64

	// Current window tracking
	windowStartTick int64

	dueCounts  []float64
	neighbours []float64
	spacing    []float64
	branches   [3]int
	giveUps    int
	evicted    int
}

// NewCollector creates a new stats collector.
// windowTicks: ticks per stats window
// dt: seconds per tick (used for tick-to-time conversion)
func NewCollector(windowTicks int, dt float64) *Collector {
	if windowTicks < 1 {
		windowTicks = 1
	}
	return &Collector{
		windowDurationTicks: int64(windowTicks),
		dt:                  dt,
		dueCounts:           make([]float64, 0, windowTicks),
	}
}

// RecordDue records how many agents recomputed steering this tick.
func (c *Collector) RecordDue(n int) {
	c.dueCounts = append(c.dueCounts, float64(n))
}

// RecordSteering records one steering evaluation. nearest is the distance to
// the closest seen neighbour, or negative when none was seen.
func (c *Collector) RecordSteering(res *systems.Result, nearest float64) {
	if int(res.Branch) < len(c.branches) {
		c.branches[res.Branch]++
	}
	if res.GaveUp {
		c.giveUps++
	}
	c.neighbours = append(c.neighbours, float64(res.Neighbors))
	if nearest >= 0 {
		c.spacing = append(c.spacing, nearest)
	}
}

// RecordEviction records cells removed from the spatial index.
func (c *Collector) RecordEviction(n int) {
	c.evicted += n
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int64) bool {
	return currentTick-c.windowStartTick >= c.windowDurationTicks
}

// FlockSample is the population state sampled by the caller at window end.
type FlockSample struct {
	Agents      int
	Speeds      []float64
	OutOfBounds int
	Cells       int
}

// Flush produces a WindowStats and resets counters for the next window.
func (c *Collector) Flush(currentTick int64, sample FlockSample) WindowStats {
	due := ComputeDistribution(c.dueCounts)
	nb := ComputeDistribution(c.neighbours)
	sp := ComputeDistribution(c.spacing)
	speed := ComputeDistribution(sample.Speeds)

	evaluations := len(c.neighbours)
	var idleFrac, oobFrac float64
	if evaluations > 0 {
		idleFrac = float64(c.branches[systems.BranchIdle]) / float64(evaluations)
	}
	if sample.Agents > 0 {
		oobFrac = float64(sample.OutOfBounds) / float64(sample.Agents)
	}

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		SimTimeSec:      float64(currentTick) * c.dt,

		Agents: sample.Agents,

		DueMean: due.Mean,
		DueStd:  due.Std,
		DueMax:  int(due.Max),

		Evaluations:  evaluations,
		FlockBranch:  c.branches[systems.BranchFlock],
		AvoidBranch:  c.branches[systems.BranchAvoid],
		IdleBranch:   c.branches[systems.BranchIdle],
		AvoidGiveUps: c.giveUps,
		IdleFrac:     idleFrac,

		NeighborsMean: nb.Mean,
		NeighborsP10:  nb.P10,
		NeighborsP50:  nb.P50,
		NeighborsP90:  nb.P90,

		SpacingMean: sp.Mean,
		SpacingStd:  sp.Std,

		SpeedMean: speed.Mean,
		SpeedP90:  speed.P90,

		OutOfBoundsFrac: oobFrac,

		Cells:        sample.Cells,
		CellsEvicted: c.evicted,
	}

	// Reset for next window
	c.windowStartTick = currentTick
	c.dueCounts = c.dueCounts[:0]
	c.neighbours = c.neighbours[:0]
	c.spacing = c.spacing[:0]
	c.branches = [3]int{}
	c.giveUps = 0
	c.evicted = 0

	return stats
}
