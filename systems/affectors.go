package systems

import "gonum.org/v1/gonum/spatial/r3"

// Affector is an attractor or repulsor point.
type Affector struct {
	Position r3.Vec
	Radius   float64
	Strength float64
}

// AffectorPull sums attractor pulls and repulsor pushes on pos. Each affector
// acts only inside its radius, fading linearly to zero at the edge.
func AffectorPull(pos r3.Vec, attractors, repulsors []Affector) r3.Vec {
	var out r3.Vec
	for i := range attractors {
		out = r3.Add(out, falloff(pos, &attractors[i]))
	}
	for i := range repulsors {
		out = r3.Sub(out, falloff(pos, &repulsors[i]))
	}
	return out
}

func falloff(pos r3.Vec, a *Affector) r3.Vec {
	d := r3.Sub(a.Position, pos)
	dist := r3.Norm(d)
	if dist == 0 || dist >= a.Radius {
		return zeroVec
	}
	w := a.Strength * (1 - dist/a.Radius)
	return r3.Scale(w/dist, d)
}
