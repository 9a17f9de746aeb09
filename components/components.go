// Package components defines ECS components for the flock.
package components

import "gonum.org/v1/gonum/spatial/r3"

// Boid holds per-agent steering state.
type Boid struct {
	ID       uint64
	MaxSpeed float64

	// Steering is the last computed steering vector. Movement keeps
	// applying it on ticks where the agent is not recomputed.
	Steering         r3.Vec
	LastSteeringTick int64

	// Indexed is where the agent was last inserted into the spatial index,
	// used to remove it again.
	Indexed r3.Vec

	// VisionRadius is the adaptive neighbour query radius.
	VisionRadius float64
}

// Schedule holds the agent's update countdown. Zero means due this tick.
type Schedule struct {
	Countdown int32
}
