package main

import (
	"github.com/pthm-cable/flock/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of optimizable parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			// Flocking
			{Name: "neighbour_distance", Path: "behaviour.neighbour_distance", Min: 3, Max: 20, Default: 10},
			{Name: "avoid_distance", Path: "behaviour.avoid_distance", Min: 0.3, Max: 4, Default: 1},
			{Name: "avoid_speed", Path: "behaviour.avoid_speed", Min: 0.2, Max: 4, Default: 1},
			// Vision
			{Name: "vision_radius", Path: "vision.radius", Min: 4, Max: 20, Default: 10},
			{Name: "max_to_store", Path: "vision.max_to_store", Min: 2, Max: 16, Default: 5},
			// Containment and wander
			{Name: "return_speed", Path: "behaviour.bounds.return_speed", Min: 0.2, Max: 4, Default: 1},
			{Name: "idle_speed", Path: "behaviour.idle.speed", Min: 0.1, Max: 3, Default: 1},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
// Order must match Specs order.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)
	i := 0
	next := func() float64 {
		v := clamped[i]
		i++
		return v
	}

	cfg.Behaviour.NeighbourDistance = next()
	cfg.Behaviour.AvoidDistance = next()
	cfg.Behaviour.AvoidSpeed = next()

	cfg.Vision.Radius = next()
	cfg.Vision.MaxToStore = int(next() + 0.5)
	// Keep the adaptive range around the tuned radius
	cfg.Vision.MinRadius = min(cfg.Vision.MinRadius, cfg.Vision.Radius)
	cfg.Vision.MaxRadius = max(cfg.Vision.MaxRadius, cfg.Vision.Radius)

	cfg.Behaviour.Bounds.ReturnSpeed = next()
	cfg.Behaviour.Idle.Speed = next()
}

// ExtractFromConfig extracts current parameter values from a Config struct.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.Behaviour.NeighbourDistance,
		cfg.Behaviour.AvoidDistance,
		cfg.Behaviour.AvoidSpeed,
		cfg.Vision.Radius,
		float64(cfg.Vision.MaxToStore),
		cfg.Behaviour.Bounds.ReturnSpeed,
		cfg.Behaviour.Idle.Speed,
	}
}
