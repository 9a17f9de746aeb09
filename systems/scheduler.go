package systems

import (
	"errors"
	"fmt"

	"github.com/pthm-cable/flock/config"
)

// ErrInvalidSchedule is returned for non-positive scheduler parameters.
var ErrInvalidSchedule = errors.New("scheduler: invalid parameters")

// Scheduler picks which agents recompute steering on a tick. Movement runs
// for every agent regardless.
//
// Each agent carries an int32 countdown. Assign gives the starting value at
// spawn; Due is called once per tick with every agent's countdown, advances
// them in place and appends the indices of due agents to dst.
type Scheduler interface {
	Assign(id uint64) int32
	Due(dst []int, countdowns []int32) []int
}

// NewScheduler builds the policy named in the config.
func NewScheduler(cfg config.SchedulerConfig) (Scheduler, error) {
	switch cfg.Policy {
	case "staggered":
		return NewStaggered(cfg.BaseInterval, cfg.StaggerWindow)
	case "batch":
		return NewBatch(cfg.FramesPerFlock)
	}
	return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidSchedule, cfg.Policy)
}

// Staggered recomputes each agent every BaseInterval ticks. The first
// recomputation is delayed by id modulo Window so agents spawned together
// do not all land on the same tick. Window must cover at least one full
// interval, otherwise phases only fill Window of the BaseInterval slots.
type Staggered struct {
	BaseInterval int
	Window       int
}

// NewStaggered validates and returns a staggered policy.
func NewStaggered(baseInterval, window int) (*Staggered, error) {
	if baseInterval <= 0 || window <= 0 {
		return nil, fmt.Errorf("%w: base interval %d, window %d", ErrInvalidSchedule, baseInterval, window)
	}
	if window < baseInterval {
		return nil, fmt.Errorf("%w: window %d shorter than base interval %d", ErrInvalidSchedule, window, baseInterval)
	}
	return &Staggered{BaseInterval: baseInterval, Window: window}, nil
}

// Assign returns the initial phase offset for id.
func (s *Staggered) Assign(id uint64) int32 {
	return int32(id % uint64(s.Window))
}

// Due marks agents whose countdown reached zero and restarts them.
func (s *Staggered) Due(dst []int, countdowns []int32) []int {
	reset := int32(s.BaseInterval - 1)
	for i := range countdowns {
		if countdowns[i] <= 0 {
			dst = append(dst, i)
			countdowns[i] = reset
		} else {
			countdowns[i]--
		}
	}
	return dst
}

// Batch recomputes a rotating slice of the flock so that the whole flock is
// covered every Frames ticks. Countdowns are ignored.
type Batch struct {
	Frames int
	offset int
}

// NewBatch validates and returns a rotating batch policy.
func NewBatch(frames int) (*Batch, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("%w: frames per flock %d", ErrInvalidSchedule, frames)
	}
	return &Batch{Frames: frames}, nil
}

// Assign is a no-op for batches.
func (b *Batch) Assign(uint64) int32 {
	return 0
}

// Due returns the next ceil(n/Frames) indices, wrapping at n.
func (b *Batch) Due(dst []int, countdowns []int32) []int {
	n := len(countdowns)
	if n == 0 {
		b.offset = 0
		return dst
	}
	size := (n + b.Frames - 1) / b.Frames
	if b.offset >= n {
		b.offset = 0
	}
	end := min(b.offset+size, n)
	for i := b.offset; i < end; i++ {
		dst = append(dst, i)
	}
	b.offset = end
	if b.offset >= n {
		b.offset = 0
	}
	return dst
}
