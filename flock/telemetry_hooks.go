package flock

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/flock/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles bookmarks.
func (f *Flock) flushTelemetry() {
	if !f.collector.ShouldFlush(f.tick) {
		return
	}

	stats := f.collector.Flush(f.tick, f.sampleFlock())
	perfStats := f.perfCollector.Stats()

	if f.statsCallback != nil {
		f.statsCallback(stats)
	}

	if f.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if f.outputManager != nil {
		if err := f.outputManager.WriteTelemetry(stats); err != nil {
			slog.Error("failed to write telemetry", "error", err)
		}
		if err := f.outputManager.WritePerf(perfStats, stats.WindowEndTick); err != nil {
			slog.Error("failed to write perf", "error", err)
		}
	}

	for _, bm := range f.bookmarkDetector.Check(stats) {
		if f.logStats {
			bm.LogBookmark()
		}
		if f.outputManager != nil {
			if err := f.outputManager.WriteBookmark(bm); err != nil {
				slog.Error("failed to write bookmark", "error", err)
			}
		}
	}
}

// sampleFlock collects speeds and the out-of-bounds count after movement.
func (f *Flock) sampleFlock() telemetry.FlockSample {
	centre := f.cfg.Derived.BoundsCentre
	half := f.cfg.Behaviour.Bounds.HalfSize

	sample := telemetry.FlockSample{
		Speeds: make([]float64, 0, len(f.entities)),
		Cells:  f.index.CellCount(),
	}

	query := f.boidFilter.Query()
	for query.Next() {
		pos, vel, _, _ := query.Get()
		sample.Agents++
		sample.Speeds = append(sample.Speeds, r3.Norm(vel.Vec()))

		if math.Abs(pos.X-centre.X) > half ||
			math.Abs(pos.Y-centre.Y) > half ||
			math.Abs(pos.Z-centre.Z) > half {
			sample.OutOfBounds++
		}
	}
	return sample
}
