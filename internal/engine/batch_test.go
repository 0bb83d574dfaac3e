package engine

import "testing"

func newTestBatchSpec(iterations int64) BatchSpec {
	return BatchSpec{
		BatchSeed:     123,
		Iterations:    iterations,
		MaxTime:       10_000,
		QueueCapacity: 1024,
		NewState: func() *SimState {
			return NewSimState(NewPlayer("p1"), []string{"boss"})
		},
		NewEvaluator: func() RotationEvaluator { return noopEvaluator{} },
		Abilities:    AbilityTable{},
	}
}

func TestBatchRunnerAggregatesAllIterations(t *testing.T) {
	r := NewBatchRunner(newTestBatchSpec(50))
	result := r.Run()

	if result.Iterations != 50 {
		t.Errorf("Iterations = %d, want 50", result.Iterations)
	}
	if result.MeanDPS <= 0 {
		t.Errorf("MeanDPS = %v, want > 0", result.MeanDPS)
	}
	if result.MinDPS > result.MeanDPS || result.MaxDPS < result.MeanDPS {
		t.Errorf("Min/Mean/Max out of order: %v/%v/%v", result.MinDPS, result.MeanDPS, result.MaxDPS)
	}
}

func TestBatchRunnerIsDeterministicAcrossRuns(t *testing.T) {
	spec := newTestBatchSpec(30)
	r1 := NewBatchRunner(spec)
	r2 := NewBatchRunner(spec)

	res1 := r1.Run()
	res2 := r2.Run()

	if res1.MeanDPS != res2.MeanDPS || res1.StdDPS != res2.StdDPS {
		t.Errorf("batch results diverged across runs with the same seed: %+v vs %+v", res1, res2)
	}
}

func TestBatchRunnerCancelStopsEarly(t *testing.T) {
	spec := newTestBatchSpec(1_000_000)
	r := NewBatchRunner(spec)
	r.Cancel()

	result := r.Run()
	if result.Iterations >= spec.Iterations {
		t.Errorf("Iterations = %d, expected early stop below %d", result.Iterations, spec.Iterations)
	}
}

func TestBatchProgressReflectsCompletion(t *testing.T) {
	r := NewBatchRunner(newTestBatchSpec(20))
	r.Run()

	p := r.Progress()
	if p.Completed != 20 || p.Total != 20 {
		t.Errorf("Progress() = %+v, want Completed=Total=20", p)
	}
}
