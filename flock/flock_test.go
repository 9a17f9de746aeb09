package flock

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flock/config"
	"github.com/pthm-cable/flock/systems"
	"github.com/pthm-cable/flock/telemetry"
)

func newTestFlock(t *testing.T, mutate func(cfg *config.Config), opts Options) *Flock {
	t.Helper()
	cfg := config.Default()
	cfg.Simulation.Agents = 0
	if mutate != nil {
		mutate(cfg)
	}
	f, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func indexHolds(f *Flock, id uint64, pos r3.Vec) bool {
	for _, e := range f.Index().QueryRadiusInto(nil, pos, 1e-6) {
		if e.ID == id {
			return true
		}
	}
	return false
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.BaseInterval = 0
	if _, err := New(cfg, Options{}); !errors.Is(err, systems.ErrInvalidSchedule) {
		t.Errorf("New with zero base interval: got %v, want ErrInvalidSchedule", err)
	}

	cfg = config.Default()
	cfg.Spatial.IdleTimeout = 0
	if _, err := New(cfg, Options{}); !errors.Is(err, systems.ErrInvalidIdleTimeout) {
		t.Errorf("New with zero idle timeout: got %v, want ErrInvalidIdleTimeout", err)
	}
}

func TestInitialPopulation(t *testing.T) {
	f := newTestFlock(t, func(cfg *config.Config) {
		cfg.Simulation.Agents = 50
	}, Options{Seed: 3})

	if f.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", f.Len())
	}
	if f.Index().Len() != 50 {
		t.Errorf("index holds %d entries, want 50", f.Index().Len())
	}
	r := f.Config().Simulation.SpawnRadius
	for _, a := range f.Agents(nil) {
		d := r3.Sub(a.Pos, f.Config().Derived.BoundsCentre)
		if math.Abs(d.X) > r || math.Abs(d.Y) > r || math.Abs(d.Z) > r {
			t.Errorf("agent %d spawned outside the spawn cube at %v", a.ID, a.Pos)
		}
	}
}

func TestDespawnDeregistersFromIndex(t *testing.T) {
	f := newTestFlock(t, func(cfg *config.Config) {
		cfg.Spatial.RebuildInterval = 5
	}, Options{})

	a := f.Spawn(r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{X: 1})
	b := f.Spawn(r3.Vec{X: 2, Y: 1, Z: 1}, r3.Vec{X: 1})
	if f.Index().Len() != 2 {
		t.Fatalf("index Len() = %d after two spawns", f.Index().Len())
	}

	// Agents move away from where they were indexed
	for i := 0; i < 3; i++ {
		f.Step(SimulationSignals{})
	}

	if err := f.Despawn(a); err != nil {
		t.Fatalf("Despawn(%d): %v", a, err)
	}
	if f.Index().Len() != 1 {
		t.Errorf("index Len() = %d after despawn, want 1", f.Index().Len())
	}
	if _, ok := f.Agent(a); ok {
		t.Error("despawned agent still reported alive")
	}
	if _, ok := f.Agent(b); !ok {
		t.Error("surviving agent missing")
	}

	// The despawned agent never shows up as a neighbour again
	for i := 0; i < 10; i++ {
		f.Step(SimulationSignals{})
		if f.Index().Len() != 1 {
			t.Fatalf("tick %d: index Len() = %d, want 1", f.Tick(), f.Index().Len())
		}
		state, _ := f.Agent(b)
		for _, e := range f.Index().QueryRadiusInto(nil, state.Pos, 100) {
			if e.ID == a {
				t.Fatalf("tick %d: despawned agent %d still indexed", f.Tick(), a)
			}
		}
	}

	if err := f.Despawn(a); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("second Despawn: got %v, want ErrUnknownAgent", err)
	}
	if err := f.Despawn(999); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("Despawn(999): got %v, want ErrUnknownAgent", err)
	}
}

func TestSpawnInsertsImmediately(t *testing.T) {
	f := newTestFlock(t, nil, Options{})
	pos := r3.Vec{X: -4, Y: 7, Z: 2}
	id := f.Spawn(pos, r3.Vec{})
	if !indexHolds(f, id, pos) {
		t.Error("spawned agent not in the index before the first step")
	}
}

func TestMovementRunsEveryTick(t *testing.T) {
	f := newTestFlock(t, func(cfg *config.Config) {
		cfg.Scheduler.Policy = "staggered"
		cfg.Scheduler.BaseInterval = 4
		cfg.Scheduler.StaggerWindow = 4
	}, Options{})

	vel := r3.Vec{X: 1}
	var ids []uint64
	for i := 0; i < 8; i++ {
		ids = append(ids, f.Spawn(r3.Vec{X: float64(i) * 3, Y: 0, Z: 0}, vel))
	}
	start := f.Agents(nil)

	f.Step(SimulationSignals{})

	dt := f.Config().Simulation.DT
	for i, id := range ids {
		state, _ := f.Agent(id)
		due := id%4 == 0
		if due != (state.LastSteeringTick == 0) {
			t.Errorf("agent %d: LastSteeringTick = %d, due = %v", id, state.LastSteeringTick, due)
		}
		if due {
			continue
		}
		// Not recomputed: moves with its spawn velocity
		want := r3.Add(start[i].Pos, r3.Scale(dt, vel))
		if r3.Norm(r3.Sub(state.Pos, want)) > 1e-12 {
			t.Errorf("agent %d at %v, want %v", id, state.Pos, want)
		}
	}

	for i := 0; i < 3; i++ {
		prev := f.Agents(nil)
		f.Step(SimulationSignals{})
		for j, a := range f.Agents(nil) {
			if a.Pos == prev[j].Pos {
				t.Errorf("tick %d: agent %d did not move", f.Tick(), a.ID)
			}
		}
	}
	for _, a := range f.Agents(nil) {
		if a.LastSteeringTick < 0 {
			t.Errorf("agent %d never recomputed within one interval", a.ID)
		}
	}
}

func TestBatchCoversFlock(t *testing.T) {
	f := newTestFlock(t, func(cfg *config.Config) {
		cfg.Scheduler.Policy = "batch"
		cfg.Scheduler.FramesPerFlock = 3
	}, Options{})
	for i := 0; i < 10; i++ {
		f.Spawn(r3.Vec{X: float64(i)}, r3.Vec{Y: 1})
	}

	f.Step(SimulationSignals{})
	recomputed := 0
	for _, a := range f.Agents(nil) {
		if a.LastSteeringTick == 0 {
			recomputed++
		}
	}
	if recomputed != 4 {
		t.Errorf("first batch recomputed %d agents, want 4", recomputed)
	}

	f.Step(SimulationSignals{})
	f.Step(SimulationSignals{})
	for _, a := range f.Agents(nil) {
		if a.LastSteeringTick < 0 {
			t.Errorf("agent %d not covered after FramesPerFlock ticks", a.ID)
		}
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	setup := func(parallel bool) func(cfg *config.Config) {
		return func(cfg *config.Config) {
			cfg.Simulation.Agents = 400
			cfg.Simulation.Parallel = parallel
			cfg.Simulation.ParallelThreshold = 1
			cfg.Simulation.Workers = 4
			cfg.Vision.Adaptive = true
			cfg.Behaviour.Seek.Enabled = true
			cfg.World.Spheres = []config.SphereConfig{
				{Centre: config.Vec3{X: 10}, Radius: 6},
			}
		}
	}
	seq := newTestFlock(t, setup(false), Options{Seed: 11})
	par := newTestFlock(t, setup(true), Options{Seed: 11})

	for tick := 0; tick < 40; tick++ {
		signals := SimulationSignals{
			Target:  r3.Vec{X: 20 * math.Cos(float64(tick)*0.1), Z: 20 * math.Sin(float64(tick)*0.1)},
			Seeking: tick >= 20,
			Time:    float64(tick) * seq.Config().Simulation.DT,
		}
		seq.Step(signals)
		par.Step(signals)
	}

	a, b := seq.Agents(nil), par.Agents(nil)
	if len(a) != len(b) {
		t.Fatalf("agent counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("agent %d differs:\nsequential %+v\nparallel   %+v", a[i].ID, a[i], b[i])
		}
	}
}

func TestStepEmptyFlock(t *testing.T) {
	f := newTestFlock(t, nil, Options{})
	for i := 0; i < 5; i++ {
		f.Step(SimulationSignals{})
	}
	if f.Tick() != 5 {
		t.Errorf("Tick() = %d, want 5", f.Tick())
	}
}

func TestTickCounterPassesInt32Range(t *testing.T) {
	var windows []telemetry.WindowStats
	f := newTestFlock(t, func(cfg *config.Config) {
		cfg.Telemetry.StatsWindow = 10
	}, Options{
		StatsCallback: func(s telemetry.WindowStats) { windows = append(windows, s) },
	})
	id := f.Spawn(r3.Vec{X: 1}, r3.Vec{X: 1})

	start := int64(math.MaxInt32)
	f.tick = start
	for i := 0; i < 3; i++ {
		f.Step(SimulationSignals{})
	}

	if f.Tick() != start+3 {
		t.Errorf("Tick() = %d, want %d", f.Tick(), start+3)
	}
	a, ok := f.Agent(id)
	if !ok {
		t.Fatal("agent missing")
	}
	if a.LastSteeringTick != start {
		t.Errorf("LastSteeringTick = %d, want %d", a.LastSteeringTick, start)
	}
	if len(windows) != 1 || windows[0].WindowEndTick != start+1 {
		t.Errorf("windows = %+v, want one ending at %d", windows, start+1)
	}
}

func TestAgentsStayFinite(t *testing.T) {
	f := newTestFlock(t, func(cfg *config.Config) {
		cfg.Simulation.Agents = 100
		cfg.Behaviour.Affectors.Enabled = true
	}, Options{Seed: 5})

	// Two agents stacked on the same point
	f.Spawn(r3.Vec{}, r3.Vec{})
	f.Spawn(r3.Vec{}, r3.Vec{})

	signals := SimulationSignals{
		Attractors: []systems.Affector{{Position: r3.Vec{X: 5}, Radius: 30, Strength: 2}},
		Repulsors:  []systems.Affector{{Position: r3.Vec{}, Radius: 5, Strength: 3}},
	}
	for i := 0; i < 120; i++ {
		signals.Time = float64(i) * f.Config().Simulation.DT
		f.Step(signals)
	}
	maxSpeed := f.Config().Simulation.MaxSpeed
	for _, a := range f.Agents(nil) {
		if !systems.IsFinite(a.Pos) || !systems.IsFinite(a.Vel) {
			t.Fatalf("agent %d not finite: %+v", a.ID, a)
		}
		if r3.Norm(a.Vel) > maxSpeed*(1+1e-9) {
			t.Errorf("agent %d speed %v exceeds %v", a.ID, r3.Norm(a.Vel), maxSpeed)
		}
	}
}

func TestStatsWindows(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	var windows []telemetry.WindowStats
	f := newTestFlock(t, func(cfg *config.Config) {
		cfg.Simulation.Agents = 30
		cfg.Telemetry.StatsWindow = 5
	}, Options{
		Seed:          1,
		OutputDir:     dir,
		StatsCallback: func(s telemetry.WindowStats) { windows = append(windows, s) },
	})

	for i := 0; i < 10; i++ {
		f.Step(SimulationSignals{})
	}
	if len(windows) != 2 {
		t.Fatalf("got %d stats windows, want 2", len(windows))
	}
	w := windows[1]
	if w.WindowStartTick != 5 || w.WindowEndTick != 10 {
		t.Errorf("window = [%d, %d), want [5, 10)", w.WindowStartTick, w.WindowEndTick)
	}
	if w.Agents != 30 {
		t.Errorf("agents = %d, want 30", w.Agents)
	}
	if w.Evaluations != w.FlockBranch+w.AvoidBranch+w.IdleBranch {
		t.Errorf("branch counts %d+%d+%d do not add up to %d", w.FlockBranch, w.AvoidBranch, w.IdleBranch, w.Evaluations)
	}

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"config.yaml", "telemetry.csv", "perf.csv", "bookmarks.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}
