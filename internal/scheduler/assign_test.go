package scheduler

import (
	"context"
	"testing"

	"github.com/legacy3/wowlab-sub001/internal/domain"
	"github.com/legacy3/wowlab-sub001/internal/infra/dsa"
)

func node(id, userID string, cores, maxParallel int) *domain.Node {
	return &domain.Node{ID: id, UserID: userID, TotalCores: cores, MaxParallel: maxParallel, Status: domain.NodeOnline}
}

func TestIsEligibleOwnerAlwaysEligible(t *testing.T) {
	n := node("n1", "owner", 8, 8)
	job := &domain.Job{UserID: "owner", AccessType: domain.AccessOwner}
	if !IsEligible(n, job, nil, nil) {
		t.Error("owner should be eligible for their own job regardless of access type")
	}
}

func TestIsEligiblePublicAdmitsAnyNode(t *testing.T) {
	n := node("n1", "someone-else", 8, 8)
	job := &domain.Job{UserID: "owner", AccessType: domain.AccessPublic}
	if !IsEligible(n, job, nil, nil) {
		t.Error("public job should admit any node")
	}
}

func TestIsEligibleUserRequiresPermissionRow(t *testing.T) {
	n := node("n1", "grantee", 8, 8)
	job := &domain.Job{ID: "job1", UserID: "owner", AccessType: domain.AccessUser}

	if IsEligible(n, job, nil, nil) {
		t.Error("user-scoped job should reject a node with no permission row")
	}

	perms := []domain.NodePermission{{NodeID: "n1", AccessType: domain.AccessUser, TargetID: "owner"}}
	if !IsEligible(n, job, perms, nil) {
		t.Error("user-scoped job should admit a node with a matching permission row")
	}
}

func TestIsEligibleDiscordRequiresGuildMembership(t *testing.T) {
	n := node("n1", "someone-else", 8, 8)
	n.DiscordID = "discord-123"
	job := &domain.Job{UserID: "owner", AccessType: domain.AccessDiscord, DiscordGuildID: "guild-1"}

	filters := NewGuildFilters()
	if IsEligible(n, job, nil, filters) {
		t.Error("discord job should reject when guild has no known filter")
	}

	filters.Set("guild-1", dsa.NewGuildFilter([]string{"discord-123", "discord-999"}))
	if !IsEligible(n, job, nil, filters) {
		t.Error("discord job should admit a node whose discord id is in the guild filter")
	}
}

func TestIsEligibleNoAccessTypeRejectsNonOwner(t *testing.T) {
	n := node("n1", "someone-else", 8, 8)
	job := &domain.Job{UserID: "owner", AccessType: domain.AccessOwner}
	if IsEligible(n, job, nil, nil) {
		t.Error("owner-only job should reject a non-owner node")
	}
}

func TestAssignPendingChunksPicksLeastLoadedEligibleNode(t *testing.T) {
	jobA := &domain.Job{ID: "jobA", UserID: "owner", AccessType: domain.AccessPublic}
	jobsByID := map[string]*domain.Job{"jobA": jobA}

	nodes := []*domain.Node{
		node("n1", "owner", 8, 8),
		node("n2", "owner", 8, 8),
	}
	backlogs := map[string]int{"n1": 5, "n2": 1}

	pending := []*domain.Chunk{{ID: "c1", JobID: "jobA"}}

	assignments := AssignPendingChunks(pending, jobsByID, nodes, nil, backlogs, nil)
	if len(assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(assignments))
	}
	if assignments[0].NodeID != "n2" {
		t.Errorf("expected chunk assigned to n2 (more available capacity), got %s", assignments[0].NodeID)
	}
}

func TestAssignPendingChunksSpreadsAcrossNodesInOneTick(t *testing.T) {
	job := &domain.Job{ID: "jobA", UserID: "owner", AccessType: domain.AccessPublic}
	jobsByID := map[string]*domain.Job{"jobA": job}

	nodes := []*domain.Node{
		node("n1", "owner", 2, 2),
		node("n2", "owner", 2, 2),
	}
	backlogs := map[string]int{}

	pending := []*domain.Chunk{
		{ID: "c1", JobID: "jobA"},
		{ID: "c2", JobID: "jobA"},
		{ID: "c3", JobID: "jobA"},
	}

	assignments := AssignPendingChunks(pending, jobsByID, nodes, nil, backlogs, nil)
	if len(assignments) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(assignments))
	}

	counts := map[string]int{}
	for _, a := range assignments {
		counts[a.NodeID]++
	}
	if counts["n1"] != counts["n2"] && (counts["n1"] > 2 || counts["n2"] > 2) {
		t.Errorf("expected assignments spread across nodes, got %v", counts)
	}
	if counts["n1"]+counts["n2"] != 3 {
		t.Errorf("expected all 3 chunks assigned, got %v", counts)
	}
}

func TestAssignPendingChunksSkipsIneligibleNodes(t *testing.T) {
	job := &domain.Job{ID: "jobA", UserID: "owner", AccessType: domain.AccessUser}
	jobsByID := map[string]*domain.Job{"jobA": job}

	nodes := []*domain.Node{node("n1", "someone-else", 8, 8)}
	pending := []*domain.Chunk{{ID: "c1", JobID: "jobA"}}

	assignments := AssignPendingChunks(pending, jobsByID, nodes, nil, map[string]int{}, nil)
	if len(assignments) != 0 {
		t.Errorf("expected no assignments for ineligible node, got %d", len(assignments))
	}
}

func TestAssignPendingChunksSkipsNodesAtCapacity(t *testing.T) {
	job := &domain.Job{ID: "jobA", UserID: "owner", AccessType: domain.AccessPublic}
	jobsByID := map[string]*domain.Job{"jobA": job}

	nodes := []*domain.Node{node("n1", "owner", 4, 4)}
	backlogs := map[string]int{"n1": 4}
	pending := []*domain.Chunk{{ID: "c1", JobID: "jobA"}}

	assignments := AssignPendingChunks(pending, jobsByID, nodes, nil, backlogs, nil)
	if len(assignments) != 0 {
		t.Errorf("expected no assignments when node is at capacity, got %d", len(assignments))
	}
}

// fakeJobStore is a minimal in-memory domain.JobStore for scheduler tests,
// in the style of this corpus's hand-rolled test doubles.
type fakeJobStore struct {
	domain.JobStore
	jobs         map[string]*domain.Job
	pending      []*domain.Chunk
	assignments  map[string]string
	chunkResults map[string][]domain.ChunkResult
	completed    map[string]bool
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:         make(map[string]*domain.Job),
		assignments:  make(map[string]string),
		chunkResults: make(map[string][]domain.ChunkResult),
		completed:    make(map[string]bool),
	}
}

func (f *fakeJobStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return f.jobs[id], nil
}

func (f *fakeJobStore) PendingChunks(ctx context.Context, limit int) ([]*domain.Chunk, error) {
	return f.pending, nil
}

func (f *fakeJobStore) AssignChunks(ctx context.Context, assignments map[string]string) error {
	for k, v := range assignments {
		f.assignments[k] = v
	}
	return nil
}

func (f *fakeJobStore) CompleteChunk(ctx context.Context, chunkID, nodeID string, result domain.ChunkResult) (bool, error) {
	if f.completed[chunkID] {
		return true, nil
	}
	f.completed[chunkID] = true
	return false, nil
}

func (f *fakeJobStore) ChunkResults(ctx context.Context, jobID string) ([]domain.ChunkResult, error) {
	return f.chunkResults[jobID], nil
}

func (f *fakeJobStore) UpdateJobProgress(ctx context.Context, jobID string, completedIterations int64) error {
	f.jobs[jobID].CompletedIterations = completedIterations
	return nil
}

func (f *fakeJobStore) CompleteJob(ctx context.Context, jobID string, result domain.JobResult) error {
	j := f.jobs[jobID]
	j.Status = domain.JobCompleted
	j.Result = &result
	return nil
}

func TestAggregateJobIfDoneWaitsForAllIterations(t *testing.T) {
	store := newFakeJobStore()
	store.jobs["job1"] = &domain.Job{ID: "job1", Iterations: 1000, Status: domain.JobRunning}
	store.chunkResults["job1"] = []domain.ChunkResult{{Iterations: 400, MeanDPS: 100}}

	done, err := AggregateJobIfDone(context.Background(), store, "job1")
	if err != nil {
		t.Fatalf("AggregateJobIfDone error: %v", err)
	}
	if done || store.jobs["job1"].Status == domain.JobCompleted {
		t.Error("job should not complete before all iterations are in")
	}
	if store.jobs["job1"].CompletedIterations != 400 {
		t.Errorf("CompletedIterations = %d, want 400", store.jobs["job1"].CompletedIterations)
	}
}

func TestAggregateJobIfDoneCompletesAndMergesOnceAllIterationsLand(t *testing.T) {
	store := newFakeJobStore()
	store.jobs["job1"] = &domain.Job{ID: "job1", Iterations: 1000, Status: domain.JobRunning}
	store.chunkResults["job1"] = []domain.ChunkResult{
		{Iterations: 600, MeanDPS: 100, MinDPS: 50, MaxDPS: 150},
		{Iterations: 400, MeanDPS: 200, MinDPS: 80, MaxDPS: 300},
	}

	done, err := AggregateJobIfDone(context.Background(), store, "job1")
	if err != nil {
		t.Fatalf("AggregateJobIfDone error: %v", err)
	}
	if !done {
		t.Error("expected AggregateJobIfDone to report the job complete")
	}

	job := store.jobs["job1"]
	if job.Status != domain.JobCompleted {
		t.Fatalf("job status = %v, want completed", job.Status)
	}
	wantMean := (100*600.0 + 200*400.0) / 1000.0
	if job.Result.MeanDPS != wantMean {
		t.Errorf("MeanDPS = %v, want %v", job.Result.MeanDPS, wantMean)
	}
	if job.Result.MinDPS != 50 || job.Result.MaxDPS != 300 {
		t.Errorf("Min/MaxDPS = %v/%v, want 50/300", job.Result.MinDPS, job.Result.MaxDPS)
	}
	if job.Result.TotalIterations != 1000 {
		t.Errorf("TotalIterations = %d, want 1000", job.Result.TotalIterations)
	}
}

func TestAggregateJobIfDoneIgnoresAlreadyTerminalJob(t *testing.T) {
	store := newFakeJobStore()
	store.jobs["job1"] = &domain.Job{ID: "job1", Iterations: 100, Status: domain.JobFailed}

	done, err := AggregateJobIfDone(context.Background(), store, "job1")
	if err != nil {
		t.Fatalf("AggregateJobIfDone error: %v", err)
	}
	if done {
		t.Error("a failed job should never report done")
	}
	if store.jobs["job1"].Status != domain.JobFailed {
		t.Error("terminal job should not be mutated")
	}
}

func TestCompleteChunkIsIdempotent(t *testing.T) {
	store := newFakeJobStore()
	store.jobs["job1"] = &domain.Job{ID: "job1", Iterations: 100, Status: domain.JobRunning}
	store.chunkResults["job1"] = []domain.ChunkResult{{Iterations: 100, MeanDPS: 42}}

	result := domain.ChunkResult{ChunkID: "c1", Iterations: 100, MeanDPS: 42}

	alreadyCompleted, jobComplete, err := CompleteChunk(context.Background(), store, "job1", "c1", "n1", result)
	if err != nil {
		t.Fatalf("first CompleteChunk error: %v", err)
	}
	if alreadyCompleted {
		t.Error("first completion should not report alreadyCompleted")
	}
	if !jobComplete {
		t.Error("expected job_complete=true after its only chunk reports in")
	}
	if store.jobs["job1"].Status != domain.JobCompleted {
		t.Fatalf("job should complete after its only chunk reports in")
	}

	// Re-delivering the same completion must not re-aggregate or error.
	store.jobs["job1"].Status = domain.JobFailed // sentinel: would flip back if re-aggregated
	alreadyCompleted, jobComplete, err = CompleteChunk(context.Background(), store, "job1", "c1", "n1", result)
	if err != nil {
		t.Fatalf("second CompleteChunk error: %v", err)
	}
	if !alreadyCompleted {
		t.Error("replayed completion should report alreadyCompleted=true")
	}
	if jobComplete {
		t.Error("replayed completion should not report job_complete")
	}
	if store.jobs["job1"].Status != domain.JobFailed {
		t.Error("replayed completion should be a no-op, not re-run aggregation")
	}
}
