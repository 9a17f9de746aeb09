package systems

import "gonum.org/v1/gonum/spatial/r3"

// FlockTerms holds the three classic boid rules for one agent.
type FlockTerms struct {
	Separation r3.Vec
	Cohesion   r3.Vec
	Alignment  r3.Vec
	Counted    int // Neighbours within NeighbourDistance
}

// Sum returns the combined flock reaction. Only separation carries a multiplier.
func (t FlockTerms) Sum() r3.Vec {
	return r3.Add(r3.Add(t.Separation, t.Cohesion), t.Alignment)
}

// FlockReaction computes separation, cohesion and alignment over neighbours
// within neighbourDist. With nothing counted every term is exactly zero.
func FlockReaction(self Agent, neighbors []Neighbor, neighbourDist, avoidDist, avoidSpeed float64) FlockTerms {
	var t FlockTerms
	for i := range neighbors {
		n := &neighbors[i]
		if n.Dist > neighbourDist {
			continue
		}
		t.Counted++
		t.Cohesion = r3.Add(t.Cohesion, r3.Sub(n.Pos, self.Pos))
		t.Alignment = r3.Add(t.Alignment, n.Vel)
		if n.Dist < avoidDist {
			t.Separation = r3.Add(t.Separation, r3.Sub(self.Pos, n.Pos))
		}
	}
	if t.Counted == 0 {
		return FlockTerms{}
	}
	inv := 1 / float64(t.Counted)
	t.Cohesion = r3.Scale(inv, t.Cohesion)
	t.Alignment = r3.Scale(inv, t.Alignment)
	t.Separation = r3.Scale(avoidSpeed, t.Separation)
	return t
}
