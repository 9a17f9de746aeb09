package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Hit describes where a probe ray met an obstacle.
type Hit struct {
	Normal   r3.Vec // Unit surface normal facing the ray origin
	Point    r3.Vec
	Distance float64
}

// ObstacleProbe answers whether a ray hits solid geometry within maxDist.
// dir is a unit vector. Implementations must be safe for concurrent readers.
type ObstacleProbe interface {
	Probe(origin, dir r3.Vec, maxDist float64) (Hit, bool)
}

// ProbeFunc adapts a function to ObstacleProbe.
type ProbeFunc func(origin, dir r3.Vec, maxDist float64) (Hit, bool)

// Probe calls f.
func (f ProbeFunc) Probe(origin, dir r3.Vec, maxDist float64) (Hit, bool) {
	return f(origin, dir, maxDist)
}

// FanOut selects the candidate directions tried around a blocked ray.
type FanOut uint8

const (
	// FanOutCross tries up, right, down and left of the blocked direction.
	FanOutCross FanOut = iota
	// FanOutRing adds the four diagonals to the cross.
	FanOutRing
)

// RepulsionMode selects how reactive repulsion probes.
type RepulsionMode uint8

const (
	// RepulsionSingle probes along velocity and pushes along the hit normal.
	RepulsionSingle RepulsionMode = iota
	// RepulsionSix probes the six local cardinal directions and pushes away from each hit.
	RepulsionSix
)

// fanOffsets are (right, up) weights in the plane perpendicular to the blocked ray.
var (
	crossOffsets = [][2]float64{{0, 1}, {1, 0}, {0, -1}, {-1, 0}}
	ringOffsets  = [][2]float64{
		{0, 1}, {1, 0}, {0, -1}, {-1, 0},
		{math.Sqrt2 / 2, math.Sqrt2 / 2}, {math.Sqrt2 / 2, -math.Sqrt2 / 2},
		{-math.Sqrt2 / 2, -math.Sqrt2 / 2}, {-math.Sqrt2 / 2, math.Sqrt2 / 2},
	}
)

func (f FanOut) offsets() [][2]float64 {
	if f == FanOutRing {
		return ringOffsets
	}
	return crossOffsets
}

var (
	worldUp    = r3.Vec{Y: 1}
	worldRight = r3.Vec{X: 1}
)

// localFrame returns right and up axes perpendicular to a unit forward vector.
func localFrame(forward r3.Vec) (right, up r3.Vec) {
	ref := worldUp
	if math.Abs(r3.Dot(forward, ref)) > 0.99 {
		ref = worldRight
	}
	right = SafeUnit(r3.Cross(ref, forward))
	up = r3.Cross(forward, right)
	return right, up
}

// avoidObstacles probes along the intended direction and, when blocked, fans
// out deflected candidates pass by pass. Pass k rotates the candidates
// k*FanOutAngle away from the blocked direction. The first pass with any clear
// candidate wins, picking the one closest to the current heading. gaveUp is
// set when every pass was blocked.
func (e *Engine) avoidObstacles(self Agent, probe ObstacleProbe, seeking bool, target r3.Vec) (avoid r3.Vec, gaveUp bool) {
	p := &e.Params
	dist := p.CheckDistance
	dir := self.Vel
	if seeking {
		dir = r3.Sub(target, self.Pos)
		if d := r3.Norm(dir); d < dist {
			dist = d
		}
	}
	dir = SafeUnit(dir)
	if dir == zeroVec || !(dist > 0) {
		return zeroVec, false
	}
	if _, hit := probe.Probe(self.Pos, dir, dist); !hit {
		return zeroVec, false
	}

	heading := SafeUnit(self.Vel)
	if heading == zeroVec {
		heading = dir
	}
	right, up := localFrame(dir)
	step := p.FanOutAngle * math.Pi / 180

	for pass := 1; pass <= p.MaxTries; pass++ {
		sin, cos := math.Sincos(float64(pass) * step)
		var best r3.Vec
		bestDist := math.Inf(1)
		for _, off := range p.FanOut.offsets() {
			axis := r3.Add(r3.Scale(off[0], right), r3.Scale(off[1], up))
			cand := SafeUnit(r3.Add(r3.Scale(cos, dir), r3.Scale(sin, axis)))
			if cand == zeroVec {
				continue
			}
			if _, hit := probe.Probe(self.Pos, cand, dist); hit {
				continue
			}
			if d := distanceSq(cand, heading); d < bestDist {
				best, bestDist = cand, d
			}
		}
		if !math.IsInf(bestDist, 1) {
			return r3.Scale(p.AvoidanceSpeed, best), false
		}
	}
	return zeroVec, true
}

// repelObstacles pushes the agent away from geometry closer than the critical distance.
func (e *Engine) repelObstacles(self Agent, probe ObstacleProbe) r3.Vec {
	p := &e.Params
	forward := SafeUnit(self.Vel)

	if p.RepulsionMode == RepulsionSingle {
		if forward == zeroVec {
			return zeroVec
		}
		hit, ok := probe.Probe(self.Pos, forward, p.CriticalDistance)
		if !ok {
			return zeroVec
		}
		return r3.Scale(p.RepulsionStrength, hit.Normal)
	}

	right, up := worldRight, worldUp
	if forward == zeroVec {
		forward = r3.Vec{Z: 1}
	} else {
		right, up = localFrame(forward)
	}
	dirs := [6]r3.Vec{
		forward, r3.Scale(-1, forward),
		right, r3.Scale(-1, right),
		up, r3.Scale(-1, up),
	}
	var sum r3.Vec
	for _, d := range dirs {
		if _, ok := probe.Probe(self.Pos, d, p.CriticalDistance); ok {
			sum = r3.Sub(sum, d)
		}
	}
	return r3.Scale(p.RepulsionStrength, sum)
}
