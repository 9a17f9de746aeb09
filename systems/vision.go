package systems

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flock/config"
)

// Agent is the read-only view of one boid handed to vision and steering.
type Agent struct {
	ID       uint64
	Pos      r3.Vec
	Vel      r3.Vec
	MaxSpeed float64
}

// Neighbor is a snapshot of another agent as seen by the querying agent.
type Neighbor struct {
	ID   uint64
	Pos  r3.Vec
	Vel  r3.Vec
	Dist float64 // Distance from the querying agent
}

// VisionParams holds the shared neighbour query parameters.
type VisionParams struct {
	Radius     float64 // Starting radius, and the fixed radius when not adaptive
	Adaptive   bool
	MinRadius  float64
	MaxRadius  float64
	RadiusStep float64
	MaxToStore int // 0 = unbounded
	UseFOV     bool
	FOVCos     float64 // Neighbours at or below this cosine from forward are unseen
}

// VisionParamsFrom builds VisionParams from the vision section of the config.
func VisionParamsFrom(cfg *config.Config) VisionParams {
	v := cfg.Vision
	return VisionParams{
		Radius:     v.Radius,
		Adaptive:   v.Adaptive,
		MinRadius:  v.MinRadius,
		MaxRadius:  v.MaxRadius,
		RadiusStep: v.RadiusStep,
		MaxToStore: v.MaxToStore,
		UseFOV:     v.UseFOV,
		FOVCos:     v.FOVCos,
	}
}

// Vision is the per-agent query state. Only the radius changes between
// ticks, and only in adaptive mode.
type Vision struct {
	Radius float64
}

// NewVision returns vision state starting at the configured radius.
func NewVision(p VisionParams) Vision {
	r := p.Radius
	if p.Adaptive {
		r = clampFloat(r, p.MinRadius, p.MaxRadius)
	}
	return Vision{Radius: r}
}

// Neighbors returns the agents self can see, closest first, capped at
// MaxToStore. Ties in distance are ordered by id. scratch is the candidate
// buffer for the index query; both buffers are returned for reuse.
func (v *Vision) Neighbors(dst []Neighbor, scratch []Entry, self Agent, idx *SpatialIndex, p VisionParams) ([]Neighbor, []Entry) {
	if !(v.Radius > 0) {
		*v = NewVision(p)
	}

	scratch = idx.QueryRadiusInto(scratch[:0], self.Pos, v.Radius)

	// A stationary agent has no facing, so it sees all around.
	forward := SafeUnit(self.Vel)
	useFOV := p.UseFOV && forward != zeroVec

	dst = dst[:0]
	for _, e := range scratch {
		if e.ID == self.ID {
			continue
		}
		d := r3.Sub(e.Pos, self.Pos)
		dist := r3.Norm(d)
		if useFOV && dist > 0 && r3.Dot(forward, r3.Scale(1/dist, d)) <= p.FOVCos {
			continue
		}
		dst = append(dst, Neighbor{ID: e.ID, Pos: e.Pos, Vel: e.Vel, Dist: dist})
	}

	seen := len(dst)
	slices.SortFunc(dst, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Dist, b.Dist); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if p.MaxToStore > 0 && len(dst) > p.MaxToStore {
		dst = dst[:p.MaxToStore]
	}

	if p.Adaptive {
		v.adapt(seen, p)
	}
	return dst, scratch
}

// adapt nudges the radius toward seeing exactly MaxToStore agents.
func (v *Vision) adapt(seen int, p VisionParams) {
	switch {
	case seen < p.MaxToStore:
		v.Radius += p.RadiusStep
	case seen > p.MaxToStore:
		v.Radius -= p.RadiusStep
	}
	v.Radius = clampFloat(v.Radius, p.MinRadius, p.MaxRadius)
	if math.IsNaN(v.Radius) {
		v.Radius = p.MinRadius
	}
}
