package telemetry

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flock/systems"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty slice", []float64{}, 0.5, 0},
		{"single element", []float64{5.0}, 0.5, 5.0},
		{"p0", []float64{1, 2, 3, 4, 5}, 0.0, 1.0},
		{"p100", []float64{1, 2, 3, 4, 5}, 1.0, 5.0},
		{"p50 odd", []float64{1, 2, 3, 4, 5}, 0.5, 3.0},
		{"p50 even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p10", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1, 1.9},
		{"p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.sorted, tt.p)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestComputeDistribution(t *testing.T) {
	values := []float64{1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1}
	d := ComputeDistribution(values)

	if math.Abs(d.Mean-0.55) > 0.001 {
		t.Errorf("mean = %v, want 0.55", d.Mean)
	}
	// Sample standard deviation of 0.1..1.0
	if math.Abs(d.Std-0.3028) > 0.001 {
		t.Errorf("std = %v, want ~0.3028", d.Std)
	}
	if math.Abs(d.P10-0.19) > 0.01 {
		t.Errorf("p10 = %v, want ~0.19", d.P10)
	}
	if math.Abs(d.P90-0.91) > 0.01 {
		t.Errorf("p90 = %v, want ~0.91", d.P90)
	}
	if d.Max != 1.0 {
		t.Errorf("max = %v, want 1", d.Max)
	}
	// Input order is preserved
	if values[0] != 1.0 {
		t.Error("ComputeDistribution sorted its input")
	}
}

func TestComputeDistributionSmall(t *testing.T) {
	if d := ComputeDistribution(nil); d != (Distribution{}) {
		t.Errorf("empty = %+v, want zero", d)
	}
	d := ComputeDistribution([]float64{3})
	if d.Mean != 3 || d.Std != 0 || math.IsNaN(d.Std) {
		t.Errorf("single = %+v, want mean 3 std 0", d)
	}
}

func TestCollectorFlush(t *testing.T) {
	c := NewCollector(3, 0.5)

	c.RecordDue(4)
	c.RecordDue(2)
	c.RecordDue(3)
	c.RecordSteering(&systems.Result{Branch: systems.BranchFlock, Neighbors: 3}, 1.5)
	c.RecordSteering(&systems.Result{Branch: systems.BranchIdle}, -1)
	c.RecordSteering(&systems.Result{Branch: systems.BranchIdle, GaveUp: true, Repulsion: r3.Vec{X: 1}}, -1)
	c.RecordSteering(&systems.Result{Branch: systems.BranchAvoid, Neighbors: 1}, 2.5)
	c.RecordEviction(2)

	if c.ShouldFlush(2) {
		t.Error("ShouldFlush(2) = true before window end")
	}
	if !c.ShouldFlush(3) {
		t.Fatal("ShouldFlush(3) = false at window end")
	}

	s := c.Flush(3, FlockSample{Agents: 4, Speeds: []float64{1, 2, 3, 4}, OutOfBounds: 1, Cells: 9})

	if s.SimTimeSec != 1.5 {
		t.Errorf("sim time = %v, want 1.5", s.SimTimeSec)
	}
	if s.DueMean != 3 || s.DueMax != 4 {
		t.Errorf("due mean/max = %v/%v, want 3/4", s.DueMean, s.DueMax)
	}
	if s.Evaluations != 4 || s.FlockBranch != 1 || s.IdleBranch != 2 || s.AvoidBranch != 1 {
		t.Errorf("branches = %+v", s)
	}
	if s.IdleFrac != 0.5 {
		t.Errorf("idle frac = %v, want 0.5", s.IdleFrac)
	}
	if s.AvoidGiveUps != 1 {
		t.Errorf("give ups = %d, want 1", s.AvoidGiveUps)
	}
	if s.SpacingMean != 2 {
		t.Errorf("spacing mean = %v, want 2", s.SpacingMean)
	}
	if s.SpeedMean != 2.5 || s.OutOfBoundsFrac != 0.25 {
		t.Errorf("speed mean %v, oob %v", s.SpeedMean, s.OutOfBoundsFrac)
	}
	if s.CellsEvicted != 2 || s.Cells != 9 {
		t.Errorf("cells = %d evicted %d", s.Cells, s.CellsEvicted)
	}

	// Counters reset for the next window
	next := c.Flush(6, FlockSample{})
	if next.WindowStartTick != 3 || next.Evaluations != 0 || next.CellsEvicted != 0 {
		t.Errorf("window not reset: %+v", next)
	}
}
