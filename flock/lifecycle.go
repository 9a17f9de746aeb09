package flock

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/systems"
)

// ErrUnknownAgent is returned when despawning an id that is not alive.
var ErrUnknownAgent = errors.New("flock: unknown agent")

// spawnInitialPopulation creates the starting agents inside a cube around
// the bounds centre, each with a small random heading.
func (f *Flock) spawnInitialPopulation() {
	cfg := f.cfg
	centre := cfg.Derived.BoundsCentre
	r := cfg.Simulation.SpawnRadius

	for i := 0; i < cfg.Simulation.Agents; i++ {
		pos := r3.Add(centre, r3.Vec{
			X: (f.rng.Float64()*2 - 1) * r,
			Y: (f.rng.Float64()*2 - 1) * r,
			Z: (f.rng.Float64()*2 - 1) * r,
		})
		vel := r3.Vec{
			X: f.rng.Float64()*2 - 1,
			Y: f.rng.Float64()*2 - 1,
			Z: f.rng.Float64()*2 - 1,
		}
		f.Spawn(pos, vel)
	}
}

// Spawn adds an agent, registers it with the spatial index and assigns its
// schedule. Returns the new agent's id.
func (f *Flock) Spawn(pos, vel r3.Vec) uint64 {
	id := f.nextID
	f.nextID++

	p := components.Position{}
	p.Set(pos)
	v := components.Velocity{}
	v.Set(vel)
	boid := components.Boid{
		ID:               id,
		MaxSpeed:         f.cfg.Simulation.MaxSpeed,
		Steering:         vel,
		LastSteeringTick: -1,
		Indexed:          pos,
		VisionRadius:     systems.NewVision(f.vision).Radius,
	}
	sched := components.Schedule{Countdown: f.scheduler.Assign(id)}

	entity := f.boidMapper.NewEntity(&p, &v, &boid, &sched)
	f.entities[id] = entity
	f.index.Insert(id, pos, vel)

	return id
}

// Despawn removes an agent from the spatial index, then from the world.
// Must not be called while Step is running.
func (f *Flock) Despawn(id uint64) error {
	entity, ok := f.entities[id]
	if !ok || !f.world.Alive(entity) {
		return fmt.Errorf("%w: %d", ErrUnknownAgent, id)
	}

	_, _, boid, _ := f.boidMapper.Get(entity)
	f.index.Remove(id, boid.Indexed)

	f.world.RemoveEntity(entity)
	delete(f.entities, id)
	return nil
}
