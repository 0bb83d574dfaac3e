package scheduler

import (
	"context"
	"fmt"

	"github.com/legacy3/wowlab-sub001/internal/domain"
)

// CompleteChunk records a node's reported chunk result and, once the
// completed chunks account for all of the job's iterations (see
// AggregateJobIfDone), aggregates them into the job's final
// JobResult. It is safe to call twice for the same chunk:
// JobStore.CompleteChunk reports alreadyCompleted and this function
// short-circuits without re-aggregating or double-counting progress.
// Returns whether the chunk was already completed by an earlier call and
// whether this call caused the parent job to complete, both needed by the
// HTTP handler's response body.
func CompleteChunk(ctx context.Context, jobs domain.JobStore, jobID, chunkID, nodeID string, result domain.ChunkResult) (alreadyCompleted, jobComplete bool, err error) {
	alreadyCompleted, err = jobs.CompleteChunk(ctx, chunkID, nodeID, result)
	if err != nil {
		return false, false, fmt.Errorf("complete chunk %s: %w", chunkID, err)
	}
	if alreadyCompleted {
		return true, false, nil
	}
	jobComplete, err = AggregateJobIfDone(ctx, jobs, jobID)
	if err != nil {
		return false, false, err
	}
	return false, jobComplete, nil
}

// AggregateJobIfDone sums the Iterations reported by jobID's completed
// chunks. Below the job's Iterations it records that sum as progress; once
// the sum reaches it, it merges the chunk results (mergeChunkResults) into
// the job's JobResult and marks it JobCompleted. Chunk statuses are not
// consulted: a job whose chunks have all completed but report fewer
// iterations in total than the job's count stays running. Safe to call repeatedly; a job
// already in a terminal status is left untouched. Returns whether the job
// is (now, or already was) JobCompleted.
func AggregateJobIfDone(ctx context.Context, jobs domain.JobStore, jobID string) (bool, error) {
	job, err := jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if job.Status == domain.JobCompleted {
		return true, nil
	}
	if job.Status == domain.JobFailed {
		return false, nil
	}

	results, err := jobs.ChunkResults(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("chunk results for job %s: %w", jobID, err)
	}
	if len(results) == 0 {
		return false, nil
	}

	var totalIterations int64
	for _, r := range results {
		totalIterations += r.Iterations
	}
	if totalIterations < job.Iterations {
		return false, jobs.UpdateJobProgress(ctx, jobID, totalIterations)
	}

	merged := mergeChunkResults(results)
	if err := jobs.CompleteJob(ctx, jobID, merged); err != nil {
		return false, err
	}
	return true, nil
}

// mergeChunkResults combines per-chunk mean/min/max/iteration summaries
// into one job-level result, weighting each chunk's mean by its iteration
// count. Per-chunk variance is not re-derived here: the
// engine's Welford merge (internal/engine) already folds per-iteration
// variance into each chunk's StdDPS before it reaches storage.
func mergeChunkResults(results []domain.ChunkResult) domain.JobResult {
	var (
		totalIterations int64
		weightedMeanSum float64
		minDPS          = results[0].MinDPS
		maxDPS          = results[0].MaxDPS
	)

	for _, r := range results {
		totalIterations += r.Iterations
		weightedMeanSum += r.MeanDPS * float64(r.Iterations)
		if r.MinDPS < minDPS {
			minDPS = r.MinDPS
		}
		if r.MaxDPS > maxDPS {
			maxDPS = r.MaxDPS
		}
	}

	mean := 0.0
	if totalIterations > 0 {
		mean = weightedMeanSum / float64(totalIterations)
	}

	return domain.JobResult{
		MeanDPS:         mean,
		MinDPS:          minDPS,
		MaxDPS:          maxDPS,
		TotalIterations: totalIterations,
	}
}
