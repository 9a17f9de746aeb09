package flock

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flock/config"
	"github.com/pthm-cable/flock/systems"
)

// SimulationSignals is the external input shared by every agent for one tick.
type SimulationSignals = systems.SimulationSignals

// SignalSource builds per-tick signals from the world section of the config:
// an orbiting seek target and the configured attractors and repulsors.
type SignalSource struct {
	centre     r3.Vec
	target     config.TargetConfig
	dt         float64
	attractors []systems.Affector
	repulsors  []systems.Affector
}

// NewSignalSource creates a signal source for cfg.
func NewSignalSource(cfg *config.Config) *SignalSource {
	return &SignalSource{
		centre:     cfg.Derived.BoundsCentre,
		target:     cfg.World.Target,
		dt:         cfg.Simulation.DT,
		attractors: affectorsFrom(cfg.World.Attractors),
		repulsors:  affectorsFrom(cfg.World.Repulsors),
	}
}

// At returns the signals for the given tick.
func (s *SignalSource) At(tick int64) SimulationSignals {
	t := float64(tick) * s.dt
	return SimulationSignals{
		Target:     OrbitTarget(s.centre, s.target, t),
		Seeking:    s.target.Enabled,
		Time:       t,
		Attractors: s.attractors,
		Repulsors:  s.repulsors,
	}
}

// OrbitTarget returns the target position at time t on a horizontal circle
// around centre. A non-positive period pins the target to the centre.
func OrbitTarget(centre r3.Vec, target config.TargetConfig, t float64) r3.Vec {
	if target.OrbitPeriod <= 0 {
		return r3.Add(centre, r3.Vec{Y: target.Height})
	}
	angle := 2 * math.Pi * t / target.OrbitPeriod
	return r3.Add(centre, r3.Vec{
		X: target.OrbitRadius * math.Cos(angle),
		Y: target.Height,
		Z: target.OrbitRadius * math.Sin(angle),
	})
}

func affectorsFrom(cfgs []config.AffectorConfig) []systems.Affector {
	out := make([]systems.Affector, 0, len(cfgs))
	for _, a := range cfgs {
		out = append(out, systems.Affector{
			Position: a.Position.R3(),
			Radius:   a.Radius,
			Strength: a.Strength,
		})
	}
	return out
}
