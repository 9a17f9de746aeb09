package flock

import (
	"runtime"
	"sync"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/flock/systems"
)

// agentSnapshot captures read-only state for the steering phase.
type agentSnapshot struct {
	Entity ecs.Entity
	Agent  systems.Agent
	Vision systems.Vision
}

// intent captures one due agent's steering output, applied after the phase.
type intent struct {
	Result       systems.Result
	VisionRadius float64
	Nearest      float64 // Distance to the closest seen neighbour, -1 if none
}

// workerScratch holds per-worker reusable buffers.
type workerScratch struct {
	Neighbors  []systems.Neighbor
	Candidates []systems.Entry
}

// workChunk is a range of the due list for one worker.
type workChunk struct {
	start, end int
	signals    *systems.SimulationSignals
}

// parallelState holds the per-tick buffers and the worker pool.
type parallelState struct {
	snapshots  []agentSnapshot
	countdowns []int32
	entries    []systems.Entry
	due        []int // Indices into snapshots
	intents    []intent
	scratches  []workerScratch
	numWorkers int

	// Worker pool channels
	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

func newParallelState(workers int) *parallelState {
	numWorkers := workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	scratches := make([]workerScratch, numWorkers)
	for i := range scratches {
		scratches[i].Neighbors = make([]systems.Neighbor, 0, 64)
		scratches[i].Candidates = make([]systems.Entry, 0, 64)
	}
	return &parallelState{
		numWorkers: numWorkers,
		scratches:  scratches,
		snapshots:  make([]agentSnapshot, 0, 512),
		countdowns: make([]int32, 0, 512),
		intents:    make([]intent, 0, 512),
	}
}

// startWorkers launches persistent worker goroutines.
func (p *parallelState) startWorkers(f *Flock) {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(f, i)
	}
}

// stopWorkers signals all workers to exit and waits for them.
func (p *parallelState) stopWorkers() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *parallelState) worker(f *Flock, workerID int) {
	defer p.wg.Done()
	scratch := &p.scratches[workerID]

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			f.computeChunk(chunk.start, chunk.end, scratch, chunk.signals)
			p.doneChan <- struct{}{}
		}
	}
}

// computeSteering fills one intent per due agent, in parallel when enabled
// and there is enough work.
func (f *Flock) computeSteering(signals *systems.SimulationSignals) {
	p := f.parallel
	n := len(p.due)

	if cap(p.intents) < n {
		p.intents = make([]intent, n)
	}
	p.intents = p.intents[:n]
	if n == 0 {
		return
	}

	if !f.cfg.Simulation.Parallel || n < f.cfg.Simulation.ParallelThreshold || p.numWorkers < 2 {
		f.computeChunk(0, n, &p.scratches[0], signals)
		return
	}
	f.computeParallel(n, signals)
}

// computeParallel dispatches work to the worker pool and waits for it.
func (f *Flock) computeParallel(n int, signals *systems.SimulationSignals) {
	p := f.parallel
	if !p.running {
		p.startWorkers(f)
	}

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	chunksDispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}

		p.workChan <- workChunk{start: start, end: end, signals: signals}
		chunksDispatched++
	}

	// Barrier: every intent is written before any is applied
	for i := 0; i < chunksDispatched; i++ {
		<-p.doneChan
	}
}

// computeChunk steers due agents [i0, i1). It only reads the snapshots and
// the index and only writes its own intents.
func (f *Flock) computeChunk(i0, i1 int, scratch *workerScratch, signals *systems.SimulationSignals) {
	p := f.parallel

	for i := i0; i < i1; i++ {
		snap := &p.snapshots[p.due[i]]
		out := &p.intents[i]

		vision := snap.Vision
		scratch.Neighbors, scratch.Candidates = vision.Neighbors(
			scratch.Neighbors, scratch.Candidates,
			snap.Agent, f.index, f.vision,
		)

		ctx := systems.SteeringContext{
			Self:      snap.Agent,
			Neighbors: scratch.Neighbors,
			Probe:     f.probe,
			Signals:   signals,
		}
		out.Result = f.engine.Steer(&ctx)
		out.VisionRadius = vision.Radius
		out.Nearest = -1
		if len(scratch.Neighbors) > 0 {
			out.Nearest = scratch.Neighbors[0].Dist
		}
	}
}
