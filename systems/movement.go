package systems

import "gonum.org/v1/gonum/spatial/r3"

// Actuator integrates steering into motion.
type Actuator struct {
	DT float64
}

// Apply caps steering at maxSpeed to get the new velocity, then advances pos by one tick.
func (a Actuator) Apply(pos, steering r3.Vec, maxSpeed float64) (newPos, newVel r3.Vec) {
	newVel = ClampMagnitude(steering, maxSpeed)
	newPos = r3.Add(pos, r3.Scale(a.DT, newVel))
	assertFinite("position", newPos)
	return newPos, newVel
}
