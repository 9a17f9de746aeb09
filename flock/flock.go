// Package flock runs a boid flock: agents stored in an ECS world, a sparse
// spatial index, scheduled steering and per-tick movement.
package flock

import (
	"cmp"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/config"
	"github.com/pthm-cable/flock/systems"
	"github.com/pthm-cable/flock/telemetry"
)

// Options configures a Flock beyond what the config file holds.
type Options struct {
	Seed      int64 // Seeds initial placement
	LogStats  bool  // Log window stats and perf via slog
	OutputDir string

	// Probe answers obstacle ray queries. Nil uses the spheres and boxes
	// from the world config, or disables obstacle rules when there are none.
	Probe systems.ObstacleProbe

	// StatsCallback is called with each flushed stats window.
	StatsCallback func(telemetry.WindowStats)
}

// AgentState is a copy of one agent's state.
type AgentState struct {
	ID               uint64
	Pos, Vel         r3.Vec
	Steering         r3.Vec
	LastSteeringTick int64
	VisionRadius     float64
}

// Flock holds the complete simulation state.
type Flock struct {
	cfg   *config.Config
	world *ecs.World
	rng   *rand.Rand

	boidMapper *ecs.Map4[
		components.Position,
		components.Velocity,
		components.Boid,
		components.Schedule,
	]
	boidFilter *ecs.Filter4[
		components.Position,
		components.Velocity,
		components.Boid,
		components.Schedule,
	]
	entities map[uint64]ecs.Entity

	index     *systems.SpatialIndex
	engine    *systems.Engine
	scheduler systems.Scheduler
	actuator  systems.Actuator
	probe     systems.ObstacleProbe
	vision    systems.VisionParams

	parallel *parallelState

	// Telemetry
	collector        *telemetry.Collector
	perfCollector    *telemetry.PerfCollector
	outputManager    *telemetry.OutputManager
	bookmarkDetector *telemetry.BookmarkDetector
	statsCallback    func(telemetry.WindowStats)
	logStats         bool

	// State
	tick       int64
	nextID     uint64
	sinceBuild int
	sinceEvict int
}

// New builds a flock from cfg and spawns cfg.Simulation.Agents agents.
func New(cfg *config.Config, opts Options) (*Flock, error) {
	idxCfg, err := systems.IndexConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	index, err := systems.NewSpatialIndex(idxCfg)
	if err != nil {
		return nil, fmt.Errorf("creating spatial index: %w", err)
	}
	engine, err := systems.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating steering engine: %w", err)
	}
	scheduler, err := systems.NewScheduler(cfg.Scheduler)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	probe := opts.Probe
	if probe == nil {
		if field := systems.ObstacleFieldFrom(cfg); !field.Empty() {
			probe = field
		}
	}

	output, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := output.WriteConfig(cfg); err != nil {
		output.Close()
		return nil, fmt.Errorf("writing config snapshot: %w", err)
	}

	world := ecs.NewWorld()
	f := &Flock{
		cfg:   cfg,
		world: world,
		rng:   rand.New(rand.NewSource(opts.Seed)),

		boidMapper: ecs.NewMap4[
			components.Position,
			components.Velocity,
			components.Boid,
			components.Schedule,
		](world),
		boidFilter: ecs.NewFilter4[
			components.Position,
			components.Velocity,
			components.Boid,
			components.Schedule,
		](world),
		entities: make(map[uint64]ecs.Entity),

		index:     index,
		engine:    engine,
		scheduler: scheduler,
		actuator:  systems.Actuator{DT: cfg.Simulation.DT},
		probe:     probe,
		vision:    systems.VisionParamsFrom(cfg),

		parallel: newParallelState(cfg.Simulation.Workers),

		collector:        telemetry.NewCollector(cfg.Telemetry.StatsWindow, cfg.Simulation.DT),
		perfCollector:    telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		outputManager:    output,
		bookmarkDetector: telemetry.NewBookmarkDetector(10),
		statsCallback:    opts.StatsCallback,
		logStats:         opts.LogStats,
	}

	f.spawnInitialPopulation()

	slog.Info("flock created",
		"agents", f.Len(),
		"policy", cfg.Scheduler.Policy,
		"query_mode", cfg.Spatial.QueryMode,
		"insert_mode", cfg.Spatial.InsertMode,
		"parallel", cfg.Simulation.Parallel,
		"workers", f.parallel.numWorkers,
		"obstacles", probe != nil,
		"fov_degrees", cfg.Derived.FOVDegrees,
	)
	return f, nil
}

// Step advances the simulation by one tick.
//
// Steering for due agents is computed against a snapshot of every agent and
// an index that is not modified during the phase, then applied in one
// single-threaded pass together with movement for all agents.
func (f *Flock) Step(signals SimulationSignals) {
	f.perfCollector.StartTick()

	// Phase A: snapshot every agent
	f.perfCollector.StartPhase(telemetry.PhaseSpatialIndex)
	f.takeSnapshots()
	rebuilt := f.rebuildIndex()

	f.perfCollector.StartPhase(telemetry.PhaseEviction)
	f.evictIdleCells()

	f.perfCollector.StartPhase(telemetry.PhaseScheduling)
	p := f.parallel
	p.due = f.scheduler.Due(p.due[:0], p.countdowns)
	f.collector.RecordDue(len(p.due))

	// Phase B: steering for due agents
	f.perfCollector.StartPhase(telemetry.PhaseSteering)
	f.computeSteering(&signals)

	// Phase C: apply steering and move everyone
	f.perfCollector.StartPhase(telemetry.PhaseMovement)
	f.applyAndMove(rebuilt)

	f.tick++

	f.perfCollector.StartPhase(telemetry.PhaseTelemetry)
	f.flushTelemetry()

	f.perfCollector.EndTick()
}

// takeSnapshots copies the state of every agent out of the ECS world.
func (f *Flock) takeSnapshots() {
	p := f.parallel
	p.snapshots = p.snapshots[:0]
	p.countdowns = p.countdowns[:0]

	query := f.boidFilter.Query()
	for query.Next() {
		entity := query.Entity()
		pos, vel, boid, sched := query.Get()

		p.snapshots = append(p.snapshots, agentSnapshot{
			Entity: entity,
			Agent: systems.Agent{
				ID:       boid.ID,
				Pos:      pos.Vec(),
				Vel:      vel.Vec(),
				MaxSpeed: boid.MaxSpeed,
			},
			Vision: systems.Vision{Radius: boid.VisionRadius},
		})
		p.countdowns = append(p.countdowns, sched.Countdown)
	}
}

// rebuildIndex refills the spatial index from the snapshots when due.
func (f *Flock) rebuildIndex() bool {
	interval := f.cfg.Spatial.RebuildInterval
	if interval > 0 && f.sinceBuild > 0 && f.sinceBuild < interval {
		f.sinceBuild++
		return false
	}
	f.sinceBuild = 1

	p := f.parallel
	p.entries = p.entries[:0]
	for i := range p.snapshots {
		a := &p.snapshots[i].Agent
		p.entries = append(p.entries, systems.Entry{ID: a.ID, Pos: a.Pos, Vel: a.Vel})
	}
	f.index.Rebuild(p.entries)
	return true
}

// evictIdleCells drops cells that stayed empty past the idle timeout.
func (f *Flock) evictIdleCells() {
	interval := f.cfg.Spatial.EvictInterval
	f.sinceEvict++
	if f.sinceEvict < interval {
		return
	}
	f.sinceEvict = 0
	n := f.index.EvictIdle(float64(interval) * f.cfg.Simulation.DT)
	f.collector.RecordEviction(n)
}

// applyAndMove writes steering results back, then integrates movement for
// every agent with its latest steering vector.
func (f *Flock) applyAndMove(rebuilt bool) {
	p := f.parallel

	for i, snapIdx := range p.due {
		out := &p.intents[i]
		_, _, boid, _ := f.boidMapper.Get(p.snapshots[snapIdx].Entity)
		boid.Steering = out.Result.Steering
		boid.LastSteeringTick = f.tick
		boid.VisionRadius = out.VisionRadius
		f.collector.RecordSteering(&out.Result, out.Nearest)
	}

	for i := range p.snapshots {
		snap := &p.snapshots[i]
		pos, vel, boid, sched := f.boidMapper.Get(snap.Entity)
		sched.Countdown = p.countdowns[i]
		if rebuilt {
			boid.Indexed = snap.Agent.Pos
		}

		newPos, newVel := f.actuator.Apply(snap.Agent.Pos, boid.Steering, boid.MaxSpeed)
		pos.Set(newPos)
		vel.Set(newVel)
	}
}

// Close stops the worker pool and flushes output files.
func (f *Flock) Close() error {
	f.parallel.stopWorkers()
	return f.outputManager.Close()
}

// Tick returns the number of completed ticks.
func (f *Flock) Tick() int64 {
	return f.tick
}

// Len returns the number of live agents.
func (f *Flock) Len() int {
	return len(f.entities)
}

// Index returns the spatial index. It must not be modified by callers.
func (f *Flock) Index() *systems.SpatialIndex {
	return f.index
}

// Config returns the configuration the flock was built with.
func (f *Flock) Config() *config.Config {
	return f.cfg
}

// Agent returns the state of the agent with the given id.
func (f *Flock) Agent(id uint64) (AgentState, bool) {
	e, ok := f.entities[id]
	if !ok || !f.world.Alive(e) {
		return AgentState{}, false
	}
	pos, vel, boid, _ := f.boidMapper.Get(e)
	return stateOf(pos, vel, boid), true
}

// Agents appends the state of every agent to dst, ordered by id.
func (f *Flock) Agents(dst []AgentState) []AgentState {
	start := len(dst)
	query := f.boidFilter.Query()
	for query.Next() {
		pos, vel, boid, _ := query.Get()
		dst = append(dst, stateOf(pos, vel, boid))
	}
	slices.SortFunc(dst[start:], func(a, b AgentState) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return dst
}

func stateOf(pos *components.Position, vel *components.Velocity, boid *components.Boid) AgentState {
	return AgentState{
		ID:               boid.ID,
		Pos:              pos.Vec(),
		Vel:              vel.Vec(),
		Steering:         boid.Steering,
		LastSteeringTick: boid.LastSteeringTick,
		VisionRadius:     boid.VisionRadius,
	}
}
