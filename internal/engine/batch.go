package engine

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/legacy3/wowlab-sub001/internal/infra/observability"
)

// BatchSpec parameterizes a full batch run: total iteration count, the
// random seed the batch itself is derived from, and the combat simulation
// inputs each worker needs to build its own isolated Driver.
type BatchSpec struct {
	BatchSeed     int64
	Iterations    int64
	MaxTime       SimTime
	QueueCapacity int

	NewState     func() *SimState
	NewEvaluator func() RotationEvaluator
	Abilities    AbilityTable
}

// BatchResult is the final aggregated outcome of a batch run.
type BatchResult struct {
	MeanDPS    float64
	StdDPS     float64
	MinDPS     float64
	MaxDPS     float64
	Iterations int64
}

// BatchProgress is a snapshot of an in-flight batch, polled by callers that
// report progress upstream (e.g. a node updating job completion counts).
type BatchProgress struct {
	Completed int64
	Total     int64
	Cancelled bool
}

// BatchRunner drives BatchSpec.Iterations independent simulation iterations
// across a worker pool sized to the host's CPU cores, each worker owning its
// own Driver/EventQueue/RNG so no iteration's state is shared.
// Iteration i is always seeded from (BatchSeed, i) regardless of which
// worker executes it or in what order workers finish, so results are
// reproducible independent of scheduling.
type BatchRunner struct {
	spec      BatchSpec
	completed atomic.Int64
	cancelled atomic.Bool
}

// NewBatchRunner prepares a runner for spec. Iterations are not started
// until Run is called.
func NewBatchRunner(spec BatchSpec) *BatchRunner {
	return &BatchRunner{spec: spec}
}

// Cancel requests cooperative early stop. Workers finish their current
// iteration and then exit; already-completed iterations still contribute
// to the result.
func (r *BatchRunner) Cancel() { r.cancelled.Store(true) }

// Progress returns a point-in-time snapshot safe to call concurrently with
// Run.
func (r *BatchRunner) Progress() BatchProgress {
	return BatchProgress{
		Completed: r.completed.Load(),
		Total:     r.spec.Iterations,
		Cancelled: r.cancelled.Load(),
	}
}

// Run executes the batch and returns the aggregated result. Workers are
// capped at runtime.NumCPU().
func (r *BatchRunner) Run() BatchResult {
	workerCount := runtime.NumCPU()
	if int64(workerCount) > r.spec.Iterations {
		workerCount = int(r.spec.Iterations)
	}
	if workerCount < 1 {
		workerCount = 1
	}

	var nextIter atomic.Int64
	partials := make([]*Welford, workerCount)

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		partials[w] = NewWelford()
		go func(acc *Welford) {
			defer wg.Done()
			r.worker(acc, &nextIter)
		}(partials[w])
	}
	wg.Wait()

	total := NewWelford()
	for _, p := range partials {
		total.Merge(p)
	}

	return BatchResult{
		MeanDPS:    total.Mean(),
		StdDPS:     total.StdDev(),
		MinDPS:     total.Min(),
		MaxDPS:     total.Max(),
		Iterations: total.Count(),
	}
}

func (r *BatchRunner) worker(acc *Welford, nextIter *atomic.Int64) {
	state := r.spec.NewState()
	var evaluator RotationEvaluator
	if r.spec.NewEvaluator != nil {
		evaluator = r.spec.NewEvaluator()
	}
	driver := NewDriver(state, r.spec.QueueCapacity, evaluator, r.spec.Abilities, r.spec.MaxTime)

	for {
		if r.cancelled.Load() {
			return
		}
		i := nextIter.Add(1) - 1
		if i >= r.spec.Iterations {
			return
		}

		dps, ok := runIterationSafely(driver, iterationSeed(r.spec.BatchSeed, i))
		if !ok {
			continue
		}
		acc.Push(dps)
		r.completed.Add(1)
		observability.IterationsTotal.Inc()
		observability.IterationDPSHistogram.Observe(dps)
	}
}

// runIterationSafely contains a panic from a single iteration (a malformed
// rotation evaluator or a bug in event dispatch) so it cannot take down the
// rest of the batch; the panicking iteration is dropped from the result.
func runIterationSafely(driver *Driver, seed int64) (dps float64, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return driver.RunIteration(seed), true
}

// iterationSeed derives a per-iteration RNG seed from the batch seed and
// iteration index, so any worker computing iteration i gets the same seed
// regardless of assignment order.
func iterationSeed(batchSeed, iteration int64) int64 {
	// Splitmix64-style mixing of the two inputs, avoiding the low-bit
	// correlation a plain sum or xor would introduce across sequential i.
	x := uint64(batchSeed) + uint64(iteration)*0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	x = x ^ (x >> 31)
	return int64(x)
}
