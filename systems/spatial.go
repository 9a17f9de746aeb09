// Package systems provides the flock's spatial index, vision, steering rules and scheduling.
package systems

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flock/config"
)

// Index configuration errors.
var (
	ErrInvalidCellSize    = errors.New("spatial index: cell size must be positive on every axis")
	ErrInvalidIdleTimeout = errors.New("spatial index: idle timeout must be positive")
	ErrInvalidHalfExtent  = errors.New("spatial index: aabb half extent must be positive")
	ErrUnknownMode        = errors.New("spatial index: unknown mode")
)

// CellKey identifies a grid cell by integer coordinates.
type CellKey struct {
	X, Y, Z int
}

// Entry is a copy of an agent's kinematic state at insertion time.
// Queries return entries, never references to live agents.
type Entry struct {
	ID  uint64
	Pos r3.Vec
	Vel r3.Vec
}

// QueryMode selects which cells a radius query scans.
type QueryMode uint8

const (
	// QuerySingleCell scans only the cell containing the query point.
	// Neighbours across a cell boundary are missed.
	QuerySingleCell QueryMode = iota
	// QueryAxisNeighbors also scans the six axis-adjacent cells.
	QueryAxisNeighbors
)

// InsertMode selects how many cells an agent occupies.
type InsertMode uint8

const (
	// InsertPoint places each agent in exactly one cell.
	InsertPoint InsertMode = iota
	// InsertAABB places each agent in every cell its box overlaps.
	// An id may then appear in several cells; QueryCell reports duplicates
	// across cells, QueryRadiusInto removes them.
	InsertAABB
)

// IndexConfig holds spatial index parameters.
type IndexConfig struct {
	CellSize    r3.Vec
	IdleTimeout float64 // Seconds an empty cell survives before eviction
	QueryMode   QueryMode
	InsertMode  InsertMode
	HalfExtent  float64 // Box half size for InsertAABB
}

// IndexConfigFrom builds an IndexConfig from the spatial section of the config.
func IndexConfigFrom(cfg *config.Config) (IndexConfig, error) {
	ic := IndexConfig{
		CellSize:    cfg.Derived.CellSize,
		IdleTimeout: cfg.Spatial.IdleTimeout,
		HalfExtent:  cfg.Spatial.AABBHalfExtent,
	}
	switch cfg.Spatial.QueryMode {
	case "single":
		ic.QueryMode = QuerySingleCell
	case "axis":
		ic.QueryMode = QueryAxisNeighbors
	default:
		return ic, ErrUnknownMode
	}
	switch cfg.Spatial.InsertMode {
	case "point":
		ic.InsertMode = InsertPoint
	case "aabb":
		ic.InsertMode = InsertAABB
	default:
		return ic, ErrUnknownMode
	}
	return ic, nil
}

type cell struct {
	entries []Entry
	idle    float64 // Seconds spent empty
}

// SpatialIndex is a sparse uniform 3D grid. Cells are created on first
// insert and evicted after staying empty for the idle timeout.
type SpatialIndex struct {
	cfg   IndexConfig
	cells map[CellKey]*cell
	count int
}

// NewSpatialIndex creates an empty index.
func NewSpatialIndex(cfg IndexConfig) (*SpatialIndex, error) {
	cs := cfg.CellSize
	if !(cs.X > 0 && cs.Y > 0 && cs.Z > 0) || !IsFinite(cs) {
		return nil, ErrInvalidCellSize
	}
	if !(cfg.IdleTimeout > 0) {
		return nil, ErrInvalidIdleTimeout
	}
	if cfg.InsertMode == InsertAABB && !(cfg.HalfExtent > 0) {
		return nil, ErrInvalidHalfExtent
	}
	if cfg.QueryMode > QueryAxisNeighbors || cfg.InsertMode > InsertAABB {
		return nil, ErrUnknownMode
	}
	return &SpatialIndex{
		cfg:   cfg,
		cells: make(map[CellKey]*cell),
	}, nil
}

// KeyOf returns the cell containing pos. Coordinates are floored, so
// -0.5 lands in cell -1 rather than 0.
func (s *SpatialIndex) KeyOf(pos r3.Vec) CellKey {
	return CellKey{
		X: int(math.Floor(pos.X / s.cfg.CellSize.X)),
		Y: int(math.Floor(pos.Y / s.cfg.CellSize.Y)),
		Z: int(math.Floor(pos.Z / s.cfg.CellSize.Z)),
	}
}

// Mode reports the configured query and insert modes.
func (s *SpatialIndex) Mode() (QueryMode, InsertMode) {
	return s.cfg.QueryMode, s.cfg.InsertMode
}

// Len returns the number of inserted agents.
func (s *SpatialIndex) Len() int {
	return s.count
}

// CellCount returns the number of materialised cells, empty ones included.
func (s *SpatialIndex) CellCount() int {
	return len(s.cells)
}

// Insert adds an agent at pos.
func (s *SpatialIndex) Insert(id uint64, pos, vel r3.Vec) {
	e := Entry{ID: id, Pos: pos, Vel: vel}
	if s.cfg.InsertMode == InsertAABB {
		lo, hi := s.boxKeys(pos)
		for x := lo.X; x <= hi.X; x++ {
			for y := lo.Y; y <= hi.Y; y++ {
				for z := lo.Z; z <= hi.Z; z++ {
					s.insertAt(CellKey{x, y, z}, e)
				}
			}
		}
	} else {
		s.insertAt(s.KeyOf(pos), e)
	}
	s.count++
}

func (s *SpatialIndex) insertAt(key CellKey, e Entry) {
	c, ok := s.cells[key]
	if !ok {
		c = &cell{entries: make([]Entry, 0, 8)}
		s.cells[key] = c
	}
	c.entries = append(c.entries, e)
	c.idle = 0
}

// Remove deletes an agent using the position it was inserted at.
// Returns false if the id was not found there.
func (s *SpatialIndex) Remove(id uint64, lastKnown r3.Vec) bool {
	removed := false
	if s.cfg.InsertMode == InsertAABB {
		lo, hi := s.boxKeys(lastKnown)
		for x := lo.X; x <= hi.X; x++ {
			for y := lo.Y; y <= hi.Y; y++ {
				for z := lo.Z; z <= hi.Z; z++ {
					if s.removeAt(CellKey{x, y, z}, id) {
						removed = true
					}
				}
			}
		}
	} else {
		removed = s.removeAt(s.KeyOf(lastKnown), id)
	}
	if removed {
		s.count--
	}
	return removed
}

func (s *SpatialIndex) removeAt(key CellKey, id uint64) bool {
	c, ok := s.cells[key]
	if !ok {
		return false
	}
	for i := range c.entries {
		if c.entries[i].ID != id {
			continue
		}
		last := len(c.entries) - 1
		c.entries[i] = c.entries[last]
		c.entries = c.entries[:last]
		return true
	}
	return false
}

// Rebuild clears every cell and reinserts all entries. Cell buffers are
// truncated, not freed, so steady-state rebuilds do not allocate.
func (s *SpatialIndex) Rebuild(entries []Entry) {
	for _, c := range s.cells {
		c.entries = c.entries[:0]
	}
	s.count = 0
	for _, e := range entries {
		s.Insert(e.ID, e.Pos, e.Vel)
	}
}

// QueryCell returns the ids stored in a cell. A missing cell yields an empty result.
func (s *SpatialIndex) QueryCell(key CellKey) []uint64 {
	return s.QueryCellInto(nil, key)
}

// QueryCellInto appends the ids stored in a cell to dst.
func (s *SpatialIndex) QueryCellInto(dst []uint64, key CellKey) []uint64 {
	c, ok := s.cells[key]
	if !ok {
		return dst
	}
	for _, e := range c.entries {
		dst = append(dst, e.ID)
	}
	return dst
}

// axisOffsets are the six face-adjacent cells.
var axisOffsets = [6]CellKey{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// QueryRadiusInto appends every entry within r of pos to dst and returns it.
// Every result is within r; which candidates are considered depends on the
// query mode. Reuse dst across calls to avoid allocations.
func (s *SpatialIndex) QueryRadiusInto(dst []Entry, pos r3.Vec, r float64) []Entry {
	start := len(dst)
	rSq := r * r
	center := s.KeyOf(pos)

	dst = s.scanCell(dst, start, center, pos, rSq)
	if s.cfg.QueryMode == QueryAxisNeighbors {
		for _, off := range axisOffsets {
			key := CellKey{center.X + off.X, center.Y + off.Y, center.Z + off.Z}
			dst = s.scanCell(dst, start, key, pos, rSq)
		}
	}
	return dst
}

func (s *SpatialIndex) scanCell(dst []Entry, start int, key CellKey, pos r3.Vec, rSq float64) []Entry {
	c, ok := s.cells[key]
	if !ok {
		return dst
	}
	dedup := s.cfg.InsertMode == InsertAABB
	for _, e := range c.entries {
		if distanceSq(e.Pos, pos) > rSq {
			continue
		}
		if dedup && containsID(dst[start:], e.ID) {
			continue
		}
		dst = append(dst, e)
	}
	return dst
}

func containsID(entries []Entry, id uint64) bool {
	for i := range entries {
		if entries[i].ID == id {
			return true
		}
	}
	return false
}

// EvictIdle advances the idle clock of every empty cell by elapsed seconds
// and deletes cells idle longer than the timeout. Occupied cells have their
// clock reset and are never deleted. Returns the number of evicted cells.
func (s *SpatialIndex) EvictIdle(elapsed float64) int {
	evicted := 0
	for key, c := range s.cells {
		if len(c.entries) > 0 {
			c.idle = 0
			continue
		}
		c.idle += elapsed
		if c.idle > s.cfg.IdleTimeout {
			delete(s.cells, key)
			evicted++
		}
	}
	return evicted
}

func (s *SpatialIndex) boxKeys(pos r3.Vec) (lo, hi CellKey) {
	h := s.cfg.HalfExtent
	ext := r3.Vec{X: h, Y: h, Z: h}
	return s.KeyOf(r3.Sub(pos, ext)), s.KeyOf(r3.Add(pos, ext))
}
