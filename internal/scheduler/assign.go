// Package scheduler assigns pending chunks to eligible online nodes and
// handles idempotent chunk completion and aggregation, ported from the
// backlog-aware greedy assignment tick in assign.rs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/legacy3/wowlab-sub001/internal/domain"
	"github.com/legacy3/wowlab-sub001/internal/infra/dsa"
	"github.com/legacy3/wowlab-sub001/internal/infra/observability"
)

// GuildFilters maps a Discord guild id to the Bloom filter of its member
// ids, kept behind a RWMutex so the assignment tick can read concurrently
// with a background filter-refresh job.
type GuildFilters struct {
	mu      sync.RWMutex
	filters map[string]*dsa.BloomFilter
}

// NewGuildFilters returns an empty filter map.
func NewGuildFilters() *GuildFilters {
	return &GuildFilters{filters: make(map[string]*dsa.BloomFilter)}
}

// Set replaces the filter for guildID, called by the Discord-side refresh.
func (g *GuildFilters) Set(guildID string, filter *dsa.BloomFilter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filters[guildID] = filter
}

// MightContain reports whether discordUserID may be a member of guildID.
// Returns false if the guild has no known filter.
func (g *GuildFilters) MightContain(guildID, discordUserID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	filter, ok := g.filters[guildID]
	if !ok {
		return false
	}
	return filter.MightContain(discordUserID)
}

// onlineNode is the scheduler's working view of one candidate node, with a
// running backlog count mutated as chunks are tentatively assigned within
// one tick.
type onlineNode struct {
	node    *domain.Node
	backlog int
}

// IsEligible reports whether node may run a chunk of job, by job access
// type:
//   - the job owner may always run their own job
//   - "public" jobs admit any node
//   - "user" jobs admit nodes with an explicit NodePermission grant
//   - "discord" jobs admit nodes whose linked Discord id is a member of the
//     job's guild, per a Bloom filter membership test
//   - absent/unrecognized access type admits only the owner (already
//     handled above)
func IsEligible(node *domain.Node, job *domain.Job, permissions []domain.NodePermission, filters *GuildFilters) bool {
	if node.UserID == job.UserID {
		return true
	}

	switch job.AccessType {
	case domain.AccessPublic:
		return true
	case domain.AccessUser:
		for _, p := range permissions {
			if p.NodeID == node.ID && p.AccessType == domain.AccessUser && p.TargetID == job.UserID {
				return true
			}
		}
		return false
	case domain.AccessDiscord:
		if node.DiscordID == "" || job.DiscordGuildID == "" || filters == nil {
			return false
		}
		return filters.MightContain(job.DiscordGuildID, node.DiscordID)
	default:
		return false
	}
}

// Assignment pairs a pending chunk with the node chosen to run it.
type Assignment struct {
	ChunkID string
	NodeID  string
}

// AssignPendingChunks implements the assignment tick:
// for each pending chunk, pick the eligible online node with the most
// available_capacity = min(max_parallel, total_cores) - backlog, and
// tentatively increment that node's backlog so subsequent chunks in the
// same tick spread across nodes instead of piling onto one. Nodes at
// capacity (backlog >= capacity) are never chosen.
func AssignPendingChunks(pending []*domain.Chunk, jobsByID map[string]*domain.Job, nodes []*domain.Node, permissions []domain.NodePermission, backlogs map[string]int, filters *GuildFilters) []Assignment {
	if len(pending) == 0 || len(nodes) == 0 {
		return nil
	}

	candidates := make([]*onlineNode, len(nodes))
	for i, n := range nodes {
		candidates[i] = &onlineNode{node: n, backlog: backlogs[n.ID]}
	}

	var assignments []Assignment
	for _, chunk := range pending {
		job, ok := jobsByID[chunk.JobID]
		if !ok {
			continue
		}

		var best *onlineNode
		bestAvail := 0
		for _, c := range candidates {
			avail := c.node.AvailableCapacity(c.backlog)
			if avail <= 0 {
				continue
			}
			if !IsEligible(c.node, job, permissions, filters) {
				continue
			}
			if best == nil || avail > bestAvail {
				best = c
				bestAvail = avail
			}
		}

		if best == nil {
			continue
		}
		assignments = append(assignments, Assignment{ChunkID: chunk.ID, NodeID: best.node.ID})
		best.backlog++
	}

	return assignments
}

// RunAssignmentTick executes one full assignment cycle against a JobStore
// and NodeStore: load pending chunks, load online nodes and their
// backlogs/permissions, compute assignments, and persist them.
func RunAssignmentTick(ctx context.Context, jobs domain.JobStore, nodeStore domain.NodeStore, filters *GuildFilters, limit int) (n int, err error) {
	tickStart := time.Now()
	span := observability.DefaultTracer.StartSpan(ctx, "assignment_tick", nil)
	defer func() {
		observability.AssignmentTickDuration.Observe(float64(time.Since(tickStart).Milliseconds()))
		observability.DefaultTracer.EndSpan(span, err)
	}()

	pending, err := jobs.PendingChunks(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("load pending chunks: %w", err)
	}
	observability.ChunksPending.Set(float64(len(pending)))
	if len(pending) == 0 {
		return 0, nil
	}

	nodes, err := nodeStore.OnlineNodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("load online nodes: %w", err)
	}
	if len(nodes) == 0 {
		return 0, nil
	}

	nodeIDs := make([]string, len(nodes))
	for i, n := range nodes {
		nodeIDs[i] = n.ID
	}
	permissions, err := nodeStore.Permissions(ctx, nodeIDs)
	if err != nil {
		return 0, fmt.Errorf("load permissions: %w", err)
	}

	backlogs, err := nodeStore.Backlogs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load backlogs: %w", err)
	}

	jobsByID := make(map[string]*domain.Job)
	for _, chunk := range pending {
		if _, ok := jobsByID[chunk.JobID]; ok {
			continue
		}
		job, err := jobs.GetJob(ctx, chunk.JobID)
		if err != nil {
			continue
		}
		jobsByID[chunk.JobID] = job
	}

	assignments := AssignPendingChunks(pending, jobsByID, nodes, permissions, backlogs, filters)
	if len(assignments) == 0 {
		return 0, nil
	}

	byChunk := make(map[string]string, len(assignments))
	for _, a := range assignments {
		byChunk[a.ChunkID] = a.NodeID
	}
	if err := jobs.AssignChunks(ctx, byChunk); err != nil {
		return 0, fmt.Errorf("persist assignments: %w", err)
	}
	observability.AssignmentsTotal.Add(float64(len(assignments)))
	return len(assignments), nil
}
