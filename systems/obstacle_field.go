package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flock/config"
)

// Sphere is a solid ball obstacle.
type Sphere struct {
	Centre r3.Vec
	Radius float64
}

// Box is a solid axis-aligned box obstacle.
type Box struct {
	Min, Max r3.Vec
}

// ObstacleField is a static set of spheres and boxes answering ray probes.
// It is never mutated after construction, so concurrent probes are safe.
type ObstacleField struct {
	spheres []Sphere
	boxes   []Box
}

// NewObstacleField creates a field from the given shapes.
func NewObstacleField(spheres []Sphere, boxes []Box) *ObstacleField {
	return &ObstacleField{
		spheres: append([]Sphere(nil), spheres...),
		boxes:   append([]Box(nil), boxes...),
	}
}

// ObstacleFieldFrom builds a field from the world section of the config.
func ObstacleFieldFrom(cfg *config.Config) *ObstacleField {
	spheres := make([]Sphere, 0, len(cfg.World.Spheres))
	for _, s := range cfg.World.Spheres {
		spheres = append(spheres, Sphere{Centre: s.Centre.R3(), Radius: s.Radius})
	}
	boxes := make([]Box, 0, len(cfg.World.Boxes))
	for _, b := range cfg.World.Boxes {
		boxes = append(boxes, Box{Min: b.Min.R3(), Max: b.Max.R3()})
	}
	return NewObstacleField(spheres, boxes)
}

// Empty reports whether the field has no shapes.
func (f *ObstacleField) Empty() bool {
	return f == nil || len(f.spheres)+len(f.boxes) == 0
}

// Probe returns the nearest hit along the ray within maxDist.
// A ray starting inside a shape hits it at distance zero.
func (f *ObstacleField) Probe(origin, dir r3.Vec, maxDist float64) (Hit, bool) {
	if f == nil {
		return Hit{}, false
	}
	best := Hit{Distance: math.Inf(1)}
	found := false
	for i := range f.spheres {
		if h, ok := raySphere(origin, dir, &f.spheres[i]); ok && h.Distance <= maxDist && h.Distance < best.Distance {
			best, found = h, true
		}
	}
	for i := range f.boxes {
		if h, ok := rayBox(origin, dir, &f.boxes[i]); ok && h.Distance <= maxDist && h.Distance < best.Distance {
			best, found = h, true
		}
	}
	return best, found
}

func raySphere(origin, dir r3.Vec, s *Sphere) (Hit, bool) {
	oc := r3.Sub(origin, s.Centre)
	c := r3.Norm2(oc) - s.Radius*s.Radius
	if c <= 0 {
		n := SafeUnit(oc)
		if n == zeroVec {
			n = r3.Scale(-1, dir)
		}
		return Hit{Normal: n, Point: origin}, true
	}
	b := r3.Dot(oc, dir)
	if b > 0 {
		return Hit{}, false // Pointing away
	}
	disc := b*b - c
	if disc < 0 {
		return Hit{}, false
	}
	t := -b - math.Sqrt(disc)
	point := r3.Add(origin, r3.Scale(t, dir))
	return Hit{
		Normal:   SafeUnit(r3.Sub(point, s.Centre)),
		Point:    point,
		Distance: t,
	}, true
}

// rayBox is the slab test. The entry face gives the normal.
func rayBox(origin, dir r3.Vec, b *Box) (Hit, bool) {
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	lo := [3]float64{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float64{b.Max.X, b.Max.Y, b.Max.Z}

	tNear, tFar := math.Inf(-1), math.Inf(1)
	axis, sign := -1, 0.0
	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			if o[i] < lo[i] || o[i] > hi[i] {
				return Hit{}, false
			}
			continue
		}
		t1 := (lo[i] - o[i]) / d[i]
		t2 := (hi[i] - o[i]) / d[i]
		s := -1.0
		if t1 > t2 {
			t1, t2 = t2, t1
			s = 1
		}
		if t1 > tNear {
			tNear, axis, sign = t1, i, s
		}
		tFar = math.Min(tFar, t2)
		if tNear > tFar || tFar < 0 {
			return Hit{}, false
		}
	}

	if tNear <= 0 || axis < 0 {
		// Origin inside the box
		return Hit{Normal: r3.Scale(-1, dir), Point: origin}, true
	}
	var n [3]float64
	n[axis] = sign
	return Hit{
		Normal:   r3.Vec{X: n[0], Y: n[1], Z: n[2]},
		Point:    r3.Add(origin, r3.Scale(tNear, dir)),
		Distance: tNear,
	}, true
}
