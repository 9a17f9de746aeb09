package flock

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flock/config"
)

func TestOrbitTarget(t *testing.T) {
	target := config.TargetConfig{Enabled: true, OrbitRadius: 10, OrbitPeriod: 4, Height: 2}
	centre := r3.Vec{X: 1, Y: 1, Z: 1}

	tests := []struct {
		t    float64
		want r3.Vec
	}{
		{0, r3.Vec{X: 11, Y: 3, Z: 1}},
		{1, r3.Vec{X: 1, Y: 3, Z: 11}},
		{2, r3.Vec{X: -9, Y: 3, Z: 1}},
		{4, r3.Vec{X: 11, Y: 3, Z: 1}},
	}
	for _, tt := range tests {
		got := OrbitTarget(centre, target, tt.t)
		if r3.Norm(r3.Sub(got, tt.want)) > 1e-9 {
			t.Errorf("OrbitTarget(t=%v) = %v, want %v", tt.t, got, tt.want)
		}
	}

	target.OrbitPeriod = 0
	if got := OrbitTarget(centre, target, 3); got != (r3.Vec{X: 1, Y: 3, Z: 1}) {
		t.Errorf("zero period = %v, want fixed point above centre", got)
	}
}

func TestSignalSource(t *testing.T) {
	cfg := config.Default()
	cfg.World.Target = config.TargetConfig{Enabled: true, OrbitRadius: 5, OrbitPeriod: 10}
	cfg.World.Attractors = []config.AffectorConfig{{Position: config.Vec3{X: 3}, Radius: 4, Strength: 1}}

	src := NewSignalSource(cfg)
	sig := src.At(60)

	if !sig.Seeking {
		t.Error("Seeking = false with target enabled")
	}
	if want := 60 * cfg.Simulation.DT; math.Abs(sig.Time-want) > 1e-12 {
		t.Errorf("Time = %v, want %v", sig.Time, want)
	}
	if len(sig.Attractors) != 1 || sig.Attractors[0].Position != (r3.Vec{X: 3}) {
		t.Errorf("attractors = %+v", sig.Attractors)
	}
	if len(sig.Repulsors) != 0 {
		t.Errorf("repulsors = %+v, want none", sig.Repulsors)
	}
}
