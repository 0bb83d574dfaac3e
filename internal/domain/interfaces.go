package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// JobStore abstracts persistent job/chunk storage.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJobProgress(ctx context.Context, jobID string, completedIterations int64) error
	CompleteJob(ctx context.Context, jobID string, result JobResult) error
	FailJob(ctx context.Context, jobID string, reason string) error

	CreateChunks(ctx context.Context, chunks []*Chunk) error
	PendingChunks(ctx context.Context, limit int) ([]*Chunk, error)
	AssignChunks(ctx context.Context, assignments map[string]string) error // chunkID -> nodeID
	ClaimedChunksForNode(ctx context.Context, nodeID string, limit int) ([]*Chunk, error)
	CompleteChunk(ctx context.Context, chunkID, nodeID string, result ChunkResult) (alreadyCompleted bool, err error)
	ChunkResults(ctx context.Context, jobID string) ([]ChunkResult, error)
	ReclaimStaleChunks(ctx context.Context, olderThanUnixMs int64) (int, error)
}

// NodeStore abstracts persistent node/permission storage.
type NodeStore interface {
	UpsertNode(ctx context.Context, n *Node) error
	GetNodeByPublicKey(ctx context.Context, pubKey []byte) (*Node, error)
	GetNode(ctx context.Context, id string) (*Node, error)
	SetOnline(ctx context.Context, id string) error
	OnlineNodes(ctx context.Context) ([]*Node, error)
	Backlogs(ctx context.Context) (map[string]int, error)
	Permissions(ctx context.Context, nodeIDs []string) ([]NodePermission, error)
}
