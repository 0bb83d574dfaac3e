package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/legacy3/wowlab-sub001/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetJob(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job := &domain.Job{
		ID: "job-1", UserID: "user-1", Spec: "{}", Iterations: 1000,
		AccessType: domain.AccessPublic, Status: domain.JobPending, CreatedAt: time.Now(),
	}
	if err := db.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := db.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.UserID != "user-1" || got.Iterations != 1000 || got.AccessType != domain.AccessPublic {
		t.Errorf("GetJob = %+v, want matching fields", got)
	}
}

func TestGetJobMissingReturnsErrJobNotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetJob(context.Background(), "missing"); err != domain.ErrJobNotFound {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestCreateChunksAndPendingChunks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	job := &domain.Job{ID: "job-1", UserID: "u1", Iterations: 200, CreatedAt: time.Now()}
	if err := db.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	chunks := []*domain.Chunk{
		{ID: "c1", JobID: "job-1", Seed: 1, Iterations: 100},
		{ID: "c2", JobID: "job-1", Seed: 2, Iterations: 100},
	}
	if err := db.CreateChunks(ctx, chunks); err != nil {
		t.Fatalf("CreateChunks: %v", err)
	}

	pending, err := db.PendingChunks(ctx, 10)
	if err != nil {
		t.Fatalf("PendingChunks: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("PendingChunks len = %d, want 2", len(pending))
	}
}

func TestAssignChunksThenClaimedChunksForNode(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	job := &domain.Job{ID: "job-1", UserID: "u1", Iterations: 100, CreatedAt: time.Now()}
	db.CreateJob(ctx, job)
	db.CreateChunks(ctx, []*domain.Chunk{{ID: "c1", JobID: "job-1", Seed: 1, Iterations: 100}})

	if err := db.AssignChunks(ctx, map[string]string{"c1": "node-1"}); err != nil {
		t.Fatalf("AssignChunks: %v", err)
	}

	pending, _ := db.PendingChunks(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("expected no pending chunks after assignment, got %d", len(pending))
	}

	claimed, err := db.ClaimedChunksForNode(ctx, "node-1", 10)
	if err != nil {
		t.Fatalf("ClaimedChunksForNode: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "c1" {
		t.Errorf("ClaimedChunksForNode = %+v, want [c1]", claimed)
	}
}

func TestCompleteChunkIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	job := &domain.Job{ID: "job-1", UserID: "u1", Iterations: 100, CreatedAt: time.Now()}
	db.CreateJob(ctx, job)
	db.CreateChunks(ctx, []*domain.Chunk{{ID: "c1", JobID: "job-1", Seed: 1, Iterations: 100}})
	db.AssignChunks(ctx, map[string]string{"c1": "node-1"})

	result := domain.ChunkResult{ChunkID: "c1", MeanDPS: 500, Iterations: 100}
	already, err := db.CompleteChunk(ctx, "c1", "node-1", result)
	if err != nil {
		t.Fatalf("CompleteChunk: %v", err)
	}
	if already {
		t.Error("first completion should not report alreadyCompleted")
	}

	already, err = db.CompleteChunk(ctx, "c1", "node-1", result)
	if err != nil {
		t.Fatalf("CompleteChunk (repeat): %v", err)
	}
	if !already {
		t.Error("repeat completion should report alreadyCompleted=true")
	}

	results, err := db.ChunkResults(ctx, "job-1")
	if err != nil {
		t.Fatalf("ChunkResults: %v", err)
	}
	if len(results) != 1 || results[0].MeanDPS != 500 {
		t.Errorf("ChunkResults = %+v, want one entry with MeanDPS=500", results)
	}
}

func TestCompleteChunkRejectsNonOwningNode(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	job := &domain.Job{ID: "job-1", UserID: "u1", Iterations: 100, CreatedAt: time.Now()}
	db.CreateJob(ctx, job)
	db.CreateChunks(ctx, []*domain.Chunk{{ID: "c1", JobID: "job-1", Seed: 1, Iterations: 100}})
	db.AssignChunks(ctx, map[string]string{"c1": "node-1"})

	result := domain.ChunkResult{ChunkID: "c1", MeanDPS: 500, Iterations: 100}
	if _, err := db.CompleteChunk(ctx, "c1", "node-2", result); err != domain.ErrForbidden {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestCompleteChunkUnknownChunkReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	result := domain.ChunkResult{ChunkID: "missing", Iterations: 100}
	if _, err := db.CompleteChunk(ctx, "missing", "node-1", result); err != domain.ErrChunkNotFound {
		t.Errorf("err = %v, want ErrChunkNotFound", err)
	}
}

func TestReclaimStaleChunksReturnsOldRunningChunksToPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	job := &domain.Job{ID: "job-1", UserID: "u1", Iterations: 100, CreatedAt: time.Now()}
	db.CreateJob(ctx, job)
	db.CreateChunks(ctx, []*domain.Chunk{{ID: "c1", JobID: "job-1", Seed: 1, Iterations: 100}})
	db.AssignChunks(ctx, map[string]string{"c1": "node-1"})

	cutoff := time.Now().Add(time.Hour).UnixMilli()
	n, err := db.ReclaimStaleChunks(ctx, cutoff)
	if err != nil {
		t.Fatalf("ReclaimStaleChunks: %v", err)
	}
	if n != 1 {
		t.Errorf("reclaimed = %d, want 1", n)
	}

	pending, _ := db.PendingChunks(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("expected chunk back in pending, got %d pending", len(pending))
	}
}

func TestUpsertNodeAndLookups(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n := &domain.Node{
		ID: "node-1", PublicKey: []byte("pubkey-bytes-012345678901234567"),
		Name: "test-node", TotalCores: 8, MaxParallel: 4, Status: domain.NodeOffline, LastSeen: time.Now(),
	}
	if err := db.UpsertNode(ctx, n); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	byID, err := db.GetNode(ctx, "node-1")
	if err != nil || byID == nil {
		t.Fatalf("GetNode: %v", err)
	}
	if byID.Name != "test-node" {
		t.Errorf("Name = %q, want test-node", byID.Name)
	}

	byKey, err := db.GetNodeByPublicKey(ctx, n.PublicKey)
	if err != nil || byKey == nil {
		t.Fatalf("GetNodeByPublicKey: %v", err)
	}
	if byKey.ID != "node-1" {
		t.Errorf("ID = %q, want node-1", byKey.ID)
	}
}

func TestSetOnlineAndOnlineNodes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.UpsertNode(ctx, &domain.Node{ID: "n1", PublicKey: []byte("k1"), Status: domain.NodeOffline, LastSeen: time.Now()})
	db.UpsertNode(ctx, &domain.Node{ID: "n2", PublicKey: []byte("k2"), Status: domain.NodeOffline, LastSeen: time.Now()})

	if err := db.SetOnline(ctx, "n1"); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}

	online, err := db.OnlineNodes(ctx)
	if err != nil {
		t.Fatalf("OnlineNodes: %v", err)
	}
	if len(online) != 1 || online[0].ID != "n1" {
		t.Errorf("OnlineNodes = %+v, want [n1]", online)
	}
}

func TestPermissionsFiltersByNodeID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.UpsertNode(ctx, &domain.Node{ID: "n1", PublicKey: []byte("k1"), LastSeen: time.Now()})
	db.UpsertNode(ctx, &domain.Node{ID: "n2", PublicKey: []byte("k2"), LastSeen: time.Now()})

	_, err := db.db.ExecContext(ctx,
		`INSERT INTO node_permissions (node_id, access_type, target_id) VALUES (?, ?, ?), (?, ?, ?)`,
		"n1", string(domain.AccessUser), "user-1",
		"n2", string(domain.AccessUser), "user-2")
	if err != nil {
		t.Fatalf("seed permissions: %v", err)
	}

	perms, err := db.Permissions(ctx, []string{"n1"})
	if err != nil {
		t.Fatalf("Permissions: %v", err)
	}
	if len(perms) != 1 || perms[0].TargetID != "user-1" {
		t.Errorf("Permissions = %+v, want one row for n1/user-1", perms)
	}
}

func TestBacklogsCountsRunningChunksPerNode(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.CreateJob(ctx, &domain.Job{ID: "job-1", UserID: "u1", Iterations: 100, CreatedAt: time.Now()})
	db.CreateChunks(ctx, []*domain.Chunk{
		{ID: "c1", JobID: "job-1", Iterations: 50},
		{ID: "c2", JobID: "job-1", Iterations: 50},
	})
	db.AssignChunks(ctx, map[string]string{"c1": "node-1", "c2": "node-1"})

	backlogs, err := db.Backlogs(ctx)
	if err != nil {
		t.Fatalf("Backlogs: %v", err)
	}
	if backlogs["node-1"] != 2 {
		t.Errorf("backlog[node-1] = %d, want 2", backlogs["node-1"])
	}
}
