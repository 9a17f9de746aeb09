package systems

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flock/config"
)

// BehaviourParams are the steering constants shared by every agent in a tick.
type BehaviourParams struct {
	NeighbourDistance float64
	AvoidDistance     float64
	AvoidSpeed        float64 // Separation multiplier

	SeekSpeed       float64
	ArrivalDistance float64 // 0 = full speed up to the target

	BoundsCentre   r3.Vec
	BoundsHalfSize float64
	ReturnSpeed    float64

	CheckDistance     float64
	CriticalDistance  float64
	AvoidanceSpeed    float64
	RepulsionStrength float64
	RepulsionMode     RepulsionMode
	MaxTries          int
	FanOut            FanOut
	FanOutAngle       float64 // Degrees

	IdleSpeed   float64
	IdleEpsilon float64
}

// RuleSet toggles individual steering rules.
type RuleSet struct {
	PreemptiveAvoidance bool
	ObstacleRepulsion   bool
	Flocking            bool
	TargetSeeking       bool
	Bounds              bool
	Idle                bool
	Affectors           bool
}

// SimulationSignals is the per-tick external input shared by all agents.
type SimulationSignals struct {
	Target     r3.Vec
	Seeking    bool    // Target seeking is active this tick
	Time       float64 // Elapsed simulation seconds, for idle noise
	Attractors []Affector
	Repulsors  []Affector
}

// SteeringContext is everything one agent's steering depends on. It is
// built fresh for each evaluation and never kept across ticks.
type SteeringContext struct {
	Self      Agent
	Neighbors []Neighbor
	Probe     ObstacleProbe // nil disables both obstacle rules
	Signals   *SimulationSignals
}

// Branch identifies which combination produced a steering vector.
type Branch uint8

const (
	BranchFlock Branch = iota
	BranchAvoid
	BranchIdle
)

func (b Branch) String() string {
	switch b {
	case BranchAvoid:
		return "avoid"
	case BranchIdle:
		return "idle"
	}
	return "flock"
}

// Result is the steering vector plus the individual rule outputs.
type Result struct {
	Steering  r3.Vec
	Branch    Branch
	Neighbors int  // Neighbours counted by the flock reaction
	GaveUp    bool // Avoidance was blocked on every fan-out pass
	Avoidance r3.Vec
	Repulsion r3.Vec
	Flock     FlockTerms
	Seek      r3.Vec
	Bounds    r3.Vec
	Idle      r3.Vec
	Affect    r3.Vec
}

// Engine combines the steering rules into one vector per agent.
// Steer has no hidden state: equal inputs give bit-identical output.
type Engine struct {
	Params BehaviourParams
	Rules  RuleSet
	Noise  *IdleField
}

// NewEngine builds an engine from the behaviour section of the config.
func NewEngine(cfg *config.Config) (*Engine, error) {
	b := cfg.Behaviour
	o := b.Obstacles

	var fan FanOut
	switch o.FanOut {
	case "cross", "":
		fan = FanOutCross
	case "ring":
		fan = FanOutRing
	default:
		return nil, fmt.Errorf("%w: fan_out %q", config.ErrInvalid, o.FanOut)
	}
	var rep RepulsionMode
	switch o.RepulsionMode {
	case "single", "":
		rep = RepulsionSingle
	case "six":
		rep = RepulsionSix
	default:
		return nil, fmt.Errorf("%w: repulsion_mode %q", config.ErrInvalid, o.RepulsionMode)
	}

	e := &Engine{
		Params: BehaviourParams{
			NeighbourDistance: b.NeighbourDistance,
			AvoidDistance:     b.AvoidDistance,
			AvoidSpeed:        b.AvoidSpeed,
			SeekSpeed:         b.Seek.Speed,
			ArrivalDistance:   b.Seek.ArrivalDistance,
			BoundsCentre:      cfg.Derived.BoundsCentre,
			BoundsHalfSize:    b.Bounds.HalfSize,
			ReturnSpeed:       b.Bounds.ReturnSpeed,
			CheckDistance:     o.CheckDistance,
			CriticalDistance:  o.CriticalDistance,
			AvoidanceSpeed:    o.AvoidanceSpeed,
			RepulsionStrength: o.RepulsionStrength,
			RepulsionMode:     rep,
			MaxTries:          o.MaxTries,
			FanOut:            fan,
			FanOutAngle:       o.FanOutAngle,
			IdleSpeed:         b.Idle.Speed,
			IdleEpsilon:       b.Idle.Epsilon,
		},
		Rules: RuleSet{
			PreemptiveAvoidance: o.Preemptive,
			ObstacleRepulsion:   o.Repulsion,
			Flocking:            b.Flocking,
			TargetSeeking:       b.Seek.Enabled,
			Bounds:              b.Bounds.Enabled,
			Idle:                b.Idle.Enabled,
			Affectors:           b.Affectors.Enabled,
		},
	}
	if b.Idle.Enabled {
		e.Noise = NewIdleField(b.Idle.Seed, b.Idle.NoiseFrequency, b.Idle.TimeOffset)
	}
	return e, nil
}

// Steer evaluates the rules for one agent and combines them:
//
//   - avoidance non-zero: avoidance + repulsion + flock
//   - no flock reaction, not seeking, idle enabled: repulsion + idle + bounds
//   - otherwise: flock + repulsion + seek + bounds
//
// Affectors, when enabled, are added in the last two branches only.
func (e *Engine) Steer(ctx *SteeringContext) Result {
	var res Result
	self := ctx.Self
	sig := ctx.Signals
	if sig == nil {
		sig = &SimulationSignals{}
	}
	seeking := e.Rules.TargetSeeking && sig.Seeking

	if ctx.Probe != nil {
		if e.Rules.PreemptiveAvoidance {
			res.Avoidance, res.GaveUp = e.avoidObstacles(self, ctx.Probe, seeking, sig.Target)
		}
		if e.Rules.ObstacleRepulsion {
			res.Repulsion = e.repelObstacles(self, ctx.Probe)
		}
	}

	var flock r3.Vec
	if e.Rules.Flocking {
		p := &e.Params
		res.Flock = FlockReaction(self, ctx.Neighbors, p.NeighbourDistance, p.AvoidDistance, p.AvoidSpeed)
		res.Neighbors = res.Flock.Counted
		flock = res.Flock.Sum()
	}
	if seeking {
		res.Seek = e.seek(self.Pos, sig.Target)
	}
	if e.Rules.Bounds {
		res.Bounds = BoundsReturn(self.Pos, e.Params.BoundsCentre, e.Params.BoundsHalfSize, e.Params.ReturnSpeed)
	}

	switch {
	case res.Avoidance != zeroVec:
		res.Branch = BranchAvoid
		res.Steering = r3.Add(r3.Add(res.Avoidance, res.Repulsion), flock)

	case e.Rules.Idle && !seeking && (res.Neighbors == 0 || r3.Norm(flock) <= e.Params.IdleEpsilon):
		res.Branch = BranchIdle
		if e.Noise != nil {
			res.Idle = r3.Scale(e.Params.IdleSpeed, e.Noise.Direction(self.Pos, sig.Time))
		}
		res.Affect = e.affect(self.Pos, sig)
		res.Steering = r3.Add(r3.Add(r3.Add(res.Repulsion, res.Idle), res.Bounds), res.Affect)

	default:
		res.Branch = BranchFlock
		res.Affect = e.affect(self.Pos, sig)
		res.Steering = r3.Add(r3.Add(r3.Add(r3.Add(flock, res.Repulsion), res.Seek), res.Bounds), res.Affect)
	}

	assertFinite("steering", res.Steering)
	return res
}

// seek heads for the target, slowing linearly inside the arrival distance.
func (e *Engine) seek(pos, target r3.Vec) r3.Vec {
	to := r3.Sub(target, pos)
	dist := r3.Norm(to)
	if dist == 0 {
		return zeroVec
	}
	speed := e.Params.SeekSpeed
	if a := e.Params.ArrivalDistance; a > 0 && dist < a {
		speed *= dist / a
	}
	return r3.Scale(speed/dist, to)
}

func (e *Engine) affect(pos r3.Vec, sig *SimulationSignals) r3.Vec {
	if !e.Rules.Affectors {
		return zeroVec
	}
	return AffectorPull(pos, sig.Attractors, sig.Repulsors)
}
