package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/legacy3/wowlab-sub001/internal/domain"
	"github.com/legacy3/wowlab-sub001/internal/infra/observability"
)

// ReclaimStaleChunks returns chunks claimed by a node more than window ago
// that never completed (the node crashed or lost connectivity) back to
// pending, so the next assignment tick can hand them to another node.
// Cadence and window are driven by internal/daemon's SchedulerConfig.
func ReclaimStaleChunks(ctx context.Context, jobs domain.JobStore, window time.Duration, now time.Time) (n int, err error) {
	span := observability.DefaultTracer.StartSpan(ctx, "reclaim_tick", nil)
	defer func() { observability.DefaultTracer.EndSpan(span, err) }()

	cutoff := now.Add(-window).UnixMilli()
	n, err = jobs.ReclaimStaleChunks(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale chunks: %w", err)
	}
	if n > 0 {
		observability.ChunksReclaimedTotal.Add(float64(n))
	}
	return n, nil
}
