package systems

import "gonum.org/v1/gonum/spatial/r3"

// BoundsReturn pulls an agent back inside the cube of the given half size
// around centre. Each violated face contributes the distance past it times
// returnSpeed; inside the cube the result is zero.
func BoundsReturn(pos, centre r3.Vec, halfSize, returnSpeed float64) r3.Vec {
	rel := r3.Sub(pos, centre)
	return r3.Vec{
		X: axisReturn(rel.X, halfSize) * returnSpeed,
		Y: axisReturn(rel.Y, halfSize) * returnSpeed,
		Z: axisReturn(rel.Z, halfSize) * returnSpeed,
	}
}

func axisReturn(rel, h float64) float64 {
	switch {
	case rel > h:
		return h - rel
	case rel < -h:
		return -h - rel
	}
	return 0
}
