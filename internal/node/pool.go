// Package node implements the volunteer compute node: a worker pool that
// claims and runs chunks, a small state machine driving registration and
// claiming, and a signed HTTP client talking to the coordinator.
package node

import (
	"log"
	"sync"
	"time"

	"github.com/legacy3/wowlab-sub001/internal/domain"
	"github.com/legacy3/wowlab-sub001/internal/engine"
	"github.com/legacy3/wowlab-sub001/internal/infra/dsa"
	"github.com/legacy3/wowlab-sub001/internal/infra/observability"
)

// ChunkRunner executes one assigned chunk and returns its aggregated result.
// A function type rather than an interface, since a worker needs nothing
// beyond "run this batch spec".
type ChunkRunner func(chunk domain.Chunk) (domain.ChunkResult, error)

// PoolConfig controls worker pool concurrency.
type PoolConfig struct {
	MaxConcurrent int    // maximum chunks running at once; values below 1 are raised to 1
	NodeID        string // this node's id, used to label metrics
}

// queuedChunk pairs a backlog entry with the callback to invoke once it runs.
type queuedChunk struct {
	chunk  domain.Chunk
	onDone func(domain.Chunk, domain.ChunkResult, error)
}

// Pool runs chunks concurrently up to MaxConcurrent, the node-local mirror
// of the coordinator's per-node AvailableCapacity accounting.
// Backlog ordering is a dsa.PriorityQueue (the same starvation-preventing
// min-heap its own doc comment names as backing "the node's local queue of
// claimed-but-not-yet-run chunks"): a node that claims more chunks than it
// can run at once queues the rest FIFO rather than dropping them.
type Pool struct {
	mu        sync.RWMutex
	config    PoolConfig
	runner    ChunkRunner
	backlog   *dsa.PriorityQueue
	sem       chan struct{}
	notify    chan struct{}
	stop      chan struct{}
	active    int
	completed int64
	failed    int64
}

// NewPool creates a chunk worker pool and starts its dispatch loop.
func NewPool(cfg PoolConfig, runner ChunkRunner) *Pool {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	p := &Pool{
		config:  cfg,
		runner:  runner,
		backlog: dsa.NewPriorityQueue(dsa.DefaultPriorityQueueConfig()),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// Close stops the dispatch loop. Chunks already running finish normally;
// queued-but-not-started chunks are abandoned.
func (p *Pool) Close() { close(p.stop) }

// Submit enqueues chunk to run as soon as a slot is free. Always accepted;
// backlog depth is unbounded here because the caller (noded's poll loop)
// already bounds how many chunks it claims by AvailableCapacity.
func (p *Pool) Submit(chunk domain.Chunk, onDone func(domain.Chunk, domain.ChunkResult, error)) bool {
	p.backlog.Push(dsa.HeapItem{Key: chunk.ID, SubmittedAt: time.Now(), Value: queuedChunk{chunk, onDone}})
	p.wake()
	return true
}

func (p *Pool) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// dispatch pulls queued chunks and starts one goroutine per free slot,
// putting an item back on the heap if no slot is currently free.
func (p *Pool) dispatch() {
	for {
		select {
		case <-p.stop:
			return
		case <-p.notify:
		}

	drain:
		for {
			item, ok := p.backlog.Pop()
			if !ok {
				break
			}
			qc := item.Value.(queuedChunk)

			select {
			case p.sem <- struct{}{}:
				go p.run(qc.chunk, qc.onDone)
			default:
				// no free slot: put the item back and wait for a run to
				// finish (it calls wake) or a new Submit before retrying.
				p.backlog.Push(item)
				break drain
			}
		}
	}
}

func (p *Pool) run(chunk domain.Chunk, onDone func(domain.Chunk, domain.ChunkResult, error)) {
	defer func() { <-p.sem; p.wake() }()

	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	start := time.Now()
	result, err := p.runSafely(chunk)
	observability.ChunkRunDuration.Observe(float64(time.Since(start).Milliseconds()))

	p.mu.Lock()
	if err != nil {
		p.failed++
	} else {
		p.completed++
		observability.ChunksCompletedTotal.WithLabelValues(p.config.NodeID).Inc()
	}
	p.mu.Unlock()

	if err != nil {
		log.Printf("[node] chunk %s failed: %v", chunk.ID, err)
	}
	if onDone != nil {
		onDone(chunk, result, err)
	}
}

// runSafely invokes the runner, converting a panic in the simulation engine
// or a misbehaving rotation into domain.ErrChunkPanic instead of taking down
// the worker goroutine (and, left unrecovered, the whole node process).
func (p *Pool) runSafely(chunk domain.Chunk) (result domain.ChunkResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[node] chunk %s panicked: %v", chunk.ID, rec)
			err = domain.ErrChunkPanic
		}
	}()
	return p.runner(chunk)
}

// AvailableCapacity reports free worker slots, used to decide how many new
// chunks to request from the coordinator.
func (p *Pool) AvailableCapacity() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.MaxConcurrent - p.active
}

// Stats reports current pool counters.
type Stats struct {
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	MaxSlots  int   `json:"max_slots"`
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Active:    p.active,
		Queued:    p.backlog.Len(),
		Completed: p.completed,
		Failed:    p.failed,
		MaxSlots:  p.config.MaxConcurrent,
	}
}

// RunChunk executes a chunk's iterations through the simulation batch
// runner and reduces them to a domain.ChunkResult.
func RunChunk(chunk domain.Chunk, spec engine.BatchSpec) domain.ChunkResult {
	spec.BatchSeed = chunk.Seed
	spec.Iterations = chunk.Iterations
	runner := engine.NewBatchRunner(spec)
	result := runner.Run()

	return domain.ChunkResult{
		ChunkID:    chunk.ID,
		MeanDPS:    result.MeanDPS,
		StdDPS:     result.StdDPS,
		MinDPS:     result.MinDPS,
		MaxDPS:     result.MaxDPS,
		Iterations: result.Iterations,
	}
}
