package systems

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func newTestIndex(t *testing.T, mode QueryMode) *SpatialIndex {
	t.Helper()
	idx, err := NewSpatialIndex(IndexConfig{
		CellSize:    r3.Vec{X: 10, Y: 10, Z: 10},
		IdleTimeout: 5,
		QueryMode:   mode,
	})
	if err != nil {
		t.Fatalf("NewSpatialIndex: %v", err)
	}
	return idx
}

func randomEntries(rng *rand.Rand, n int, extent float64) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			ID: uint64(i),
			Pos: r3.Vec{
				X: (rng.Float64()*2 - 1) * extent,
				Y: (rng.Float64()*2 - 1) * extent,
				Z: (rng.Float64()*2 - 1) * extent,
			},
		}
	}
	return entries
}

func TestNewSpatialIndexRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  IndexConfig
		want error
	}{
		{"zero cell", IndexConfig{CellSize: r3.Vec{X: 0, Y: 1, Z: 1}, IdleTimeout: 1}, ErrInvalidCellSize},
		{"negative cell", IndexConfig{CellSize: r3.Vec{X: 1, Y: 1, Z: -1}, IdleTimeout: 1}, ErrInvalidCellSize},
		{"zero timeout", IndexConfig{CellSize: r3.Vec{X: 1, Y: 1, Z: 1}}, ErrInvalidIdleTimeout},
		{"aabb without extent", IndexConfig{CellSize: r3.Vec{X: 1, Y: 1, Z: 1}, IdleTimeout: 1, InsertMode: InsertAABB}, ErrInvalidHalfExtent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpatialIndex(tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestKeyOfFloorsNegativeCoordinates(t *testing.T) {
	idx := newTestIndex(t, QuerySingleCell)
	tests := []struct {
		pos  r3.Vec
		want CellKey
	}{
		{r3.Vec{X: 0, Y: 0, Z: 0}, CellKey{0, 0, 0}},
		{r3.Vec{X: 9.999, Y: 10, Z: 10.001}, CellKey{0, 1, 1}},
		{r3.Vec{X: -0.5, Y: -10, Z: -10.5}, CellKey{-1, -1, -2}},
		{r3.Vec{X: -25, Y: 25, Z: -9.999}, CellKey{-3, 2, -1}},
	}
	for _, tt := range tests {
		if got := idx.KeyOf(tt.pos); got != tt.want {
			t.Errorf("KeyOf(%v) = %v, want %v", tt.pos, got, tt.want)
		}
	}
}

func TestRebuildEveryAgentInItsCell(t *testing.T) {
	idx := newTestIndex(t, QuerySingleCell)
	entries := randomEntries(rand.New(rand.NewSource(42)), 500, 60)
	idx.Rebuild(entries)

	if idx.Len() != len(entries) {
		t.Fatalf("Len() = %d, want %d", idx.Len(), len(entries))
	}
	var ids []uint64
	for _, e := range entries {
		ids = idx.QueryCellInto(ids[:0], idx.KeyOf(e.Pos))
		if !slices.Contains(ids, e.ID) {
			t.Fatalf("agent %d missing from cell %v", e.ID, idx.KeyOf(e.Pos))
		}
	}
}

func TestRebuildDropsStaleEntries(t *testing.T) {
	idx := newTestIndex(t, QuerySingleCell)
	idx.Rebuild([]Entry{{ID: 1, Pos: r3.Vec{X: 5, Y: 5, Z: 5}}})
	idx.Rebuild([]Entry{{ID: 1, Pos: r3.Vec{X: 25, Y: 5, Z: 5}}})

	if got := idx.QueryCell(CellKey{0, 0, 0}); len(got) != 0 {
		t.Errorf("old cell still holds %v after rebuild", got)
	}
	if got := idx.QueryCell(CellKey{2, 0, 0}); !slices.Equal(got, []uint64{1}) {
		t.Errorf("new cell = %v, want [1]", got)
	}
	// The emptied cell stays materialised until evicted
	if idx.CellCount() != 2 {
		t.Errorf("CellCount() = %d, want 2", idx.CellCount())
	}
}

func TestQueryCellMissingIsEmpty(t *testing.T) {
	idx := newTestIndex(t, QuerySingleCell)
	if got := idx.QueryCell(CellKey{100, -100, 7}); len(got) != 0 {
		t.Errorf("QueryCell(missing) = %v, want empty", got)
	}
}

func TestInsertRemove(t *testing.T) {
	idx := newTestIndex(t, QuerySingleCell)
	pos := r3.Vec{X: -3, Y: 4, Z: 12}
	idx.Insert(7, pos, r3.Vec{})
	idx.Insert(8, pos, r3.Vec{})

	if !idx.Remove(7, pos) {
		t.Fatal("Remove(7) = false, want true")
	}
	if idx.Remove(7, pos) {
		t.Error("second Remove(7) = true, want false")
	}
	if idx.Remove(8, r3.Vec{X: 50}) {
		t.Error("Remove with wrong position = true, want false")
	}
	if got := idx.QueryCell(idx.KeyOf(pos)); !slices.Equal(got, []uint64{8}) {
		t.Errorf("cell = %v, want [8]", got)
	}
	if idx.Len() != 1 {
		t.Errorf("Len() = %d, want 1", idx.Len())
	}
}

// bruteForceSameCell is the reference for single-cell queries: every entry
// within r that shares the query point's cell.
func bruteForceSameCell(idx *SpatialIndex, entries []Entry, pos r3.Vec, r float64) []uint64 {
	key := idx.KeyOf(pos)
	var ids []uint64
	for _, e := range entries {
		if idx.KeyOf(e.Pos) == key && r3.Norm(r3.Sub(e.Pos, pos)) <= r {
			ids = append(ids, e.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

func TestQueryRadiusSingleCellMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	idx := newTestIndex(t, QuerySingleCell)
	entries := randomEntries(rng, 800, 30)
	idx.Rebuild(entries)

	var got []Entry
	for q := 0; q < 200; q++ {
		pos := randomEntries(rng, 1, 30)[0].Pos
		r := 2 + rng.Float64()*10

		got = idx.QueryRadiusInto(got[:0], pos, r)
		ids := make([]uint64, 0, len(got))
		for _, e := range got {
			if d := r3.Norm(r3.Sub(e.Pos, pos)); d > r {
				t.Fatalf("result %d at distance %v exceeds radius %v", e.ID, d, r)
			}
			ids = append(ids, e.ID)
		}
		slices.Sort(ids)

		want := bruteForceSameCell(idx, entries, pos, r)
		if !slices.Equal(ids, want) {
			t.Fatalf("query %d: got %v, want %v", q, ids, want)
		}
	}
}

func TestQueryRadiusBoundaryMiss(t *testing.T) {
	// Agents straddling the x=10 cell boundary, 0.2 apart
	entries := []Entry{
		{ID: 1, Pos: r3.Vec{X: 9.9, Y: 5, Z: 5}},
		{ID: 2, Pos: r3.Vec{X: 10.1, Y: 5, Z: 5}},
	}
	query := r3.Vec{X: 9.9, Y: 5, Z: 5}

	single := newTestIndex(t, QuerySingleCell)
	single.Rebuild(entries)
	if got := single.QueryRadiusInto(nil, query, 1); len(got) != 1 {
		t.Errorf("single-cell query found %d, want 1 (neighbour across boundary is missed)", len(got))
	}

	axis := newTestIndex(t, QueryAxisNeighbors)
	axis.Rebuild(entries)
	if got := axis.QueryRadiusInto(nil, query, 1); len(got) != 2 {
		t.Errorf("axis query found %d, want 2", len(got))
	}
}

func TestEvictIdleKeepsOccupiedCells(t *testing.T) {
	idx := newTestIndex(t, QuerySingleCell)
	idx.Rebuild([]Entry{
		{ID: 1, Pos: r3.Vec{X: 1, Y: 1, Z: 1}},
		{ID: 2, Pos: r3.Vec{X: 31, Y: 1, Z: 1}},
	})
	// Agent 2 leaves its cell
	idx.Rebuild([]Entry{
		{ID: 1, Pos: r3.Vec{X: 1, Y: 1, Z: 1}},
		{ID: 2, Pos: r3.Vec{X: 2, Y: 1, Z: 1}},
	})

	if n := idx.EvictIdle(3); n != 0 {
		t.Fatalf("evicted %d cells before timeout", n)
	}
	if n := idx.EvictIdle(3); n != 1 {
		t.Fatalf("evicted %d cells after timeout, want 1", n)
	}
	if idx.CellCount() != 1 {
		t.Errorf("CellCount() = %d, want 1", idx.CellCount())
	}

	// Occupied cells survive any amount of idle time
	for i := 0; i < 10; i++ {
		idx.EvictIdle(100)
	}
	if got := idx.QueryCell(CellKey{0, 0, 0}); len(got) != 2 {
		t.Errorf("occupied cell lost entries: %v", got)
	}
}

func TestEvictIdleResetsOnReuse(t *testing.T) {
	idx := newTestIndex(t, QuerySingleCell)
	pos := r3.Vec{X: 1, Y: 1, Z: 1}
	idx.Insert(1, pos, r3.Vec{})
	idx.Remove(1, pos)
	idx.EvictIdle(4)

	idx.Insert(1, pos, r3.Vec{})
	idx.Remove(1, pos)
	if n := idx.EvictIdle(4); n != 0 {
		t.Errorf("cell evicted despite being reused, n=%d", n)
	}
}

func TestAABBModeDuplicatesAndDedup(t *testing.T) {
	idx, err := NewSpatialIndex(IndexConfig{
		CellSize:    r3.Vec{X: 10, Y: 10, Z: 10},
		IdleTimeout: 5,
		QueryMode:   QueryAxisNeighbors,
		InsertMode:  InsertAABB,
		HalfExtent:  1,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Box spans cells x=0 and x=1
	pos := r3.Vec{X: 9.5, Y: 5, Z: 5}
	idx.Insert(3, pos, r3.Vec{})

	inA := idx.QueryCell(CellKey{0, 0, 0})
	inB := idx.QueryCell(CellKey{1, 0, 0})
	if len(inA) != 1 || len(inB) != 1 {
		t.Fatalf("aabb insert: cell0=%v cell1=%v, want id in both", inA, inB)
	}

	got := idx.QueryRadiusInto(nil, r3.Vec{X: 9, Y: 5, Z: 5}, 2)
	if len(got) != 1 {
		t.Errorf("radius query returned %d entries, want 1 after dedup", len(got))
	}

	if !idx.Remove(3, pos) {
		t.Fatal("Remove = false")
	}
	if len(idx.QueryCell(CellKey{0, 0, 0}))+len(idx.QueryCell(CellKey{1, 0, 0})) != 0 {
		t.Error("aabb remove left entries behind")
	}
}
