// Package config provides configuration loading and access for the flock simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Spatial    SpatialConfig    `yaml:"spatial"`
	Vision     VisionConfig     `yaml:"vision"`
	Behaviour  BehaviourConfig  `yaml:"behaviour"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	World      WorldConfig      `yaml:"world"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// Vec3 is a YAML-friendly 3D vector.
type Vec3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// R3 converts to the gonum vector type used throughout the simulation.
func (v Vec3) R3() r3.Vec {
	return r3.Vec{X: v.X, Y: v.Y, Z: v.Z}
}

// SimulationConfig holds top-level run parameters.
type SimulationConfig struct {
	DT                float64 `yaml:"dt"`
	Agents            int     `yaml:"agents"`
	MaxSpeed          float64 `yaml:"max_speed"`
	SpawnRadius       float64 `yaml:"spawn_radius"` // Agents spawn inside a cube of this half size around the bounds centre
	Parallel          bool    `yaml:"parallel"`
	ParallelThreshold int     `yaml:"parallel_threshold"` // Below this many due agents the steering phase stays single-threaded
	Workers           int     `yaml:"workers"`            // 0 = GOMAXPROCS
}

// SpatialConfig holds spatial index parameters.
type SpatialConfig struct {
	CellSize        Vec3    `yaml:"cell_size"`
	RebuildInterval int     `yaml:"rebuild_interval"` // Ticks between full rebuilds (0 = every tick)
	EvictInterval   int     `yaml:"evict_interval"`   // Ticks between idle-cell eviction passes, slower than rebuilds
	IdleTimeout     float64 `yaml:"idle_timeout"`     // Seconds a cell may stay empty before eviction
	QueryMode       string  `yaml:"query_mode"`       // "single" or "axis"
	InsertMode      string  `yaml:"insert_mode"`      // "point" or "aabb"
	AABBHalfExtent  float64 `yaml:"aabb_half_extent"`
}

// VisionConfig holds neighbour query parameters.
type VisionConfig struct {
	Radius     float64 `yaml:"radius"`
	Adaptive   bool    `yaml:"adaptive"`
	MinRadius  float64 `yaml:"min_radius"`
	MaxRadius  float64 `yaml:"max_radius"`
	RadiusStep float64 `yaml:"radius_step"`
	MaxToStore int     `yaml:"max_to_store"` // 0 = unbounded
	UseFOV     bool    `yaml:"use_fov"`
	FOVCos     float64 `yaml:"fov_cos"`
}

// BehaviourConfig holds steering rule parameters.
type BehaviourConfig struct {
	NeighbourDistance float64         `yaml:"neighbour_distance"`
	AvoidDistance     float64         `yaml:"avoid_distance"`
	AvoidSpeed        float64         `yaml:"avoid_speed"` // Separation multiplier
	Flocking          bool            `yaml:"flocking"`
	Seek              SeekConfig      `yaml:"seek"`
	Bounds            BoundsConfig    `yaml:"bounds"`
	Obstacles         ObstacleConfig  `yaml:"obstacles"`
	Idle              IdleConfig      `yaml:"idle"`
	Affectors         AffectorsConfig `yaml:"affectors"`
}

// SeekConfig holds target-seeking parameters.
type SeekConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Speed           float64 `yaml:"speed"`
	ArrivalDistance float64 `yaml:"arrival_distance"` // 0 = no slow-down near the target
}

// BoundsConfig holds soft containment parameters.
type BoundsConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Centre      Vec3    `yaml:"centre"`
	HalfSize    float64 `yaml:"half_size"`
	ReturnSpeed float64 `yaml:"return_speed"`
}

// ObstacleConfig holds obstacle avoidance and repulsion parameters.
type ObstacleConfig struct {
	Preemptive        bool    `yaml:"preemptive"`
	Repulsion         bool    `yaml:"repulsion"`
	RepulsionMode     string  `yaml:"repulsion_mode"` // "single" or "six"
	CheckDistance     float64 `yaml:"check_distance"`
	CriticalDistance  float64 `yaml:"critical_distance"`
	AvoidanceSpeed    float64 `yaml:"avoidance_speed"`
	RepulsionStrength float64 `yaml:"repulsion_strength"`
	MaxTries          int     `yaml:"max_tries"`
	FanOut            string  `yaml:"fan_out"`       // "cross" or "ring"
	FanOutAngle       float64 `yaml:"fan_out_angle"` // Degrees added per pass
}

// IdleConfig holds idle wander parameters.
type IdleConfig struct {
	Enabled        bool    `yaml:"enabled"`
	NoiseFrequency float64 `yaml:"noise_frequency"`
	Speed          float64 `yaml:"speed"`
	TimeOffset     bool    `yaml:"time_offset"`
	Epsilon        float64 `yaml:"epsilon"` // Flock reaction magnitude at or below this counts as "no flock"
	Seed           int64   `yaml:"seed"`
}

// AffectorsConfig toggles attractor/repulsor points.
type AffectorsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SchedulerConfig holds update scheduling parameters.
type SchedulerConfig struct {
	Policy         string `yaml:"policy"`           // "staggered" or "batch"
	BaseInterval   int    `yaml:"base_interval"`    // Ticks between recomputations (staggered)
	StaggerWindow  int    `yaml:"stagger_window"`   // Max initial phase offset in ticks (staggered)
	FramesPerFlock int    `yaml:"frames_per_flock"` // Ticks to cover the entire flock (batch)
}

// SphereConfig describes a spherical obstacle.
type SphereConfig struct {
	Centre Vec3    `yaml:"centre"`
	Radius float64 `yaml:"radius"`
}

// BoxConfig describes an axis-aligned box obstacle.
type BoxConfig struct {
	Min Vec3 `yaml:"min"`
	Max Vec3 `yaml:"max"`
}

// AffectorConfig describes an attractor or repulsor point.
type AffectorConfig struct {
	Position Vec3    `yaml:"position"`
	Radius   float64 `yaml:"radius"`
	Strength float64 `yaml:"strength"`
}

// TargetConfig describes the orbiting target driven by the headless runner.
type TargetConfig struct {
	Enabled     bool    `yaml:"enabled"`
	OrbitRadius float64 `yaml:"orbit_radius"`
	OrbitPeriod float64 `yaml:"orbit_period"` // Seconds per revolution
	Height      float64 `yaml:"height"`
}

// WorldConfig holds the environment the headless runner builds.
type WorldConfig struct {
	Spheres    []SphereConfig   `yaml:"spheres"`
	Boxes      []BoxConfig      `yaml:"boxes"`
	Attractors []AffectorConfig `yaml:"attractors"`
	Repulsors  []AffectorConfig `yaml:"repulsors"`
	Target     TargetConfig     `yaml:"target"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         int `yaml:"stats_window"` // Ticks per stats window
	PerfCollectorWindow int `yaml:"perf_collector_window"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	CellSize     r3.Vec
	BoundsCentre r3.Vec
	FOVDegrees   float64 // acos(FOVCos) in degrees, for logs
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	// Load user config if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := validateSchema(data); err != nil {
			return nil, fmt.Errorf("validating %s: %w", path, err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Compute derived values
	cfg.computeDerived()

	return cfg, nil
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks cross-field rules. Violations are fatal at startup; nothing is clamped.
func (c *Config) Validate() error {
	if c.Simulation.DT <= 0 {
		return invalid("simulation.dt must be positive, got %v", c.Simulation.DT)
	}
	if c.Simulation.MaxSpeed <= 0 {
		return invalid("simulation.max_speed must be positive, got %v", c.Simulation.MaxSpeed)
	}
	if c.Simulation.Agents < 0 {
		return invalid("simulation.agents must not be negative, got %d", c.Simulation.Agents)
	}

	cs := c.Spatial.CellSize
	if cs.X <= 0 || cs.Y <= 0 || cs.Z <= 0 {
		return invalid("spatial.cell_size must be positive on every axis, got %+v", cs)
	}
	if c.Spatial.RebuildInterval < 0 {
		return invalid("spatial.rebuild_interval must not be negative")
	}
	if c.Spatial.EvictInterval <= max(1, c.Spatial.RebuildInterval) {
		return invalid("spatial.evict_interval (%d) must exceed max(1, rebuild_interval)", c.Spatial.EvictInterval)
	}
	if c.Spatial.IdleTimeout <= 0 {
		return invalid("spatial.idle_timeout must be positive, got %v", c.Spatial.IdleTimeout)
	}
	switch c.Spatial.QueryMode {
	case "single", "axis":
	default:
		return invalid("spatial.query_mode %q (want single or axis)", c.Spatial.QueryMode)
	}
	switch c.Spatial.InsertMode {
	case "point":
	case "aabb":
		if c.Spatial.AABBHalfExtent <= 0 {
			return invalid("spatial.aabb_half_extent must be positive in aabb mode")
		}
	default:
		return invalid("spatial.insert_mode %q (want point or aabb)", c.Spatial.InsertMode)
	}

	v := c.Vision
	if v.Radius <= 0 {
		return invalid("vision.radius must be positive, got %v", v.Radius)
	}
	if v.MaxToStore < 0 {
		return invalid("vision.max_to_store must not be negative")
	}
	if v.FOVCos < -1 || v.FOVCos > 1 {
		return invalid("vision.fov_cos must be in [-1, 1], got %v", v.FOVCos)
	}
	if v.Adaptive {
		if v.MaxToStore == 0 {
			return invalid("vision.adaptive needs a positive max_to_store")
		}
		if v.MinRadius <= 0 || v.MaxRadius < v.MinRadius {
			return invalid("vision adaptive bounds [%v, %v] are invalid", v.MinRadius, v.MaxRadius)
		}
		if v.RadiusStep <= 0 {
			return invalid("vision.radius_step must be positive in adaptive mode")
		}
	}

	o := c.Behaviour.Obstacles
	if o.Preemptive {
		if o.MaxTries <= 0 {
			return invalid("behaviour.obstacles.max_tries must be positive")
		}
		if o.CheckDistance <= 0 || o.FanOutAngle <= 0 {
			return invalid("behaviour.obstacles check_distance and fan_out_angle must be positive")
		}
		switch o.FanOut {
		case "cross", "ring":
		default:
			return invalid("behaviour.obstacles.fan_out %q (want cross or ring)", o.FanOut)
		}
	}
	if o.Repulsion {
		if o.CriticalDistance <= 0 {
			return invalid("behaviour.obstacles.critical_distance must be positive")
		}
		switch o.RepulsionMode {
		case "single", "six":
		default:
			return invalid("behaviour.obstacles.repulsion_mode %q (want single or six)", o.RepulsionMode)
		}
	}
	if c.Behaviour.Idle.Epsilon < 0 {
		return invalid("behaviour.idle.epsilon must not be negative")
	}
	if c.Behaviour.Bounds.Enabled && c.Behaviour.Bounds.HalfSize <= 0 {
		return invalid("behaviour.bounds.half_size must be positive when bounds are enabled")
	}

	s := c.Scheduler
	switch s.Policy {
	case "staggered":
		if s.BaseInterval <= 0 || s.StaggerWindow <= 0 {
			return invalid("scheduler base_interval and stagger_window must be positive")
		}
		if s.StaggerWindow < s.BaseInterval {
			return invalid("scheduler.stagger_window (%d) must be at least base_interval (%d)", s.StaggerWindow, s.BaseInterval)
		}
	case "batch":
		if s.FramesPerFlock <= 0 {
			return invalid("scheduler.frames_per_flock must be positive, got %d", s.FramesPerFlock)
		}
	default:
		return invalid("scheduler.policy %q (want staggered or batch)", s.Policy)
	}

	if c.Telemetry.StatsWindow <= 0 {
		return invalid("telemetry.stats_window must be positive")
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.CellSize = c.Spatial.CellSize.R3()
	c.Derived.BoundsCentre = c.Behaviour.Bounds.Centre.R3()
	c.Derived.FOVDegrees = math.Acos(c.Vision.FOVCos) * 180 / math.Pi

	if c.Simulation.ParallelThreshold <= 0 {
		c.Simulation.ParallelThreshold = 64
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Clone returns a deep copy, used by the tuning tool to evaluate variants concurrently.
func (c *Config) Clone() *Config {
	cp := *c
	cp.World.Spheres = append([]SphereConfig(nil), c.World.Spheres...)
	cp.World.Boxes = append([]BoxConfig(nil), c.World.Boxes...)
	cp.World.Attractors = append([]AffectorConfig(nil), c.World.Attractors...)
	cp.World.Repulsors = append([]AffectorConfig(nil), c.World.Repulsors...)
	return &cp
}
