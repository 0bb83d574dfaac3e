package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/legacy3/wowlab-sub001/internal/domain"
)

// CreateJob inserts a new job in JobPending status.
func (db *DB) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, spec, iterations, access_type, discord_guild_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.Spec, job.Iterations, string(job.AccessType), job.DiscordGuildID,
		string(domain.JobPending), job.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob loads a job by id, returning domain.ErrJobNotFound if absent.
func (db *DB) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT id, user_id, spec, iterations, completed_iterations, access_type,
		       discord_guild_id, status, mean_dps, min_dps, max_dps, failure_reason,
		       created_at, completed_at
		FROM jobs WHERE id = ?`, id)

	var (
		job                     domain.Job
		accessType, status      string
		meanDPS, minDPS, maxDPS sql.NullFloat64
		createdAt               string
		completedAt             sql.NullString
	)
	err := row.Scan(&job.ID, &job.UserID, &job.Spec, &job.Iterations, &job.CompletedIterations,
		&accessType, &job.DiscordGuildID, &status, &meanDPS, &minDPS, &maxDPS, &job.FailureReason,
		&createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	job.AccessType = domain.AccessType(accessType)
	job.Status = domain.JobStatus(status)
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		job.CompletedAt = &t
	}
	if meanDPS.Valid {
		job.Result = &domain.JobResult{
			MeanDPS:         meanDPS.Float64,
			MinDPS:          minDPS.Float64,
			MaxDPS:          maxDPS.Float64,
			TotalIterations: job.CompletedIterations,
		}
	}
	return &job, nil
}

// UpdateJobProgress records how many iterations have landed so far.
func (db *DB) UpdateJobProgress(ctx context.Context, jobID string, completedIterations int64) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE jobs SET completed_iterations = ? WHERE id = ?`, completedIterations, jobID)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// CompleteJob marks a job completed with its final aggregated result.
func (db *DB) CompleteJob(ctx context.Context, jobID string, result domain.JobResult) error {
	_, err := db.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, completed_iterations = ?, mean_dps = ?, min_dps = ?, max_dps = ?,
		    completed_at = ?
		WHERE id = ?`,
		string(domain.JobCompleted), result.TotalIterations, result.MeanDPS, result.MinDPS, result.MaxDPS,
		time.Now().UTC().Format(time.RFC3339), jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob marks a job failed with a human-readable reason.
func (db *DB) FailJob(ctx context.Context, jobID string, reason string) error {
	_, err := db.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, failure_reason = ?, completed_at = ? WHERE id = ?`,
		string(domain.JobFailed), reason, time.Now().UTC().Format(time.RFC3339), jobID)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// CreateChunks inserts a batch of freshly-sliced chunks for a job in one
// transaction.
func (db *DB) CreateChunks(ctx context.Context, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create chunks: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, job_id, seed, iterations, status)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare create chunks: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.JobID, c.Seed, c.Iterations, string(domain.ChunkPending)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// PendingChunks returns up to limit chunks still awaiting assignment.
func (db *DB) PendingChunks(ctx context.Context, limit int) ([]*domain.Chunk, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, job_id, seed, iterations, status, node_id
		FROM chunks WHERE status = ? ORDER BY rowid LIMIT ?`, string(domain.ChunkPending), limit)
	if err != nil {
		return nil, fmt.Errorf("pending chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ClaimedChunksForNode returns up to limit chunks currently running on
// nodeID, used by the node's claim endpoint to learn what it was assigned.
func (db *DB) ClaimedChunksForNode(ctx context.Context, nodeID string, limit int) ([]*domain.Chunk, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, job_id, seed, iterations, status, node_id
		FROM chunks WHERE node_id = ? AND status = ? ORDER BY rowid LIMIT ?`,
		nodeID, string(domain.ChunkRunning), limit)
	if err != nil {
		return nil, fmt.Errorf("claimed chunks for node %s: %w", nodeID, err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]*domain.Chunk, error) {
	var chunks []*domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var status string
		if err := rows.Scan(&c.ID, &c.JobID, &c.Seed, &c.Iterations, &status, &c.NodeID); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Status = domain.ChunkStatus(status)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// AssignChunks persists a batch of chunk->node assignments in one
// transaction, the SQLite-compatible equivalent of a single unnest-driven
// UPDATE (Postgres has array parameters; SQLite does not, so we loop
// inside one transaction instead).
func (db *DB) AssignChunks(ctx context.Context, assignments map[string]string) error {
	if len(assignments) == 0 {
		return nil
	}
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign chunks: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE chunks SET node_id = ?, status = ?, claimed_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare assign chunks: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for chunkID, nodeID := range assignments {
		if _, err := stmt.ExecContext(ctx, nodeID, string(domain.ChunkRunning), now, chunkID); err != nil {
			return fmt.Errorf("assign chunk %s: %w", chunkID, err)
		}
	}
	return tx.Commit()
}

// CompleteChunk records a chunk's reported result. Idempotent: a chunk
// already in ChunkCompleted is left untouched and alreadyCompleted=true is
// returned so callers skip re-aggregating the parent job. Returns
// domain.ErrChunkNotFound for an unknown chunk id and domain.ErrForbidden
// when nodeID does not match the chunk's assigned node.
func (db *DB) CompleteChunk(ctx context.Context, chunkID, nodeID string, result domain.ChunkResult) (bool, error) {
	var status, assignedNodeID string
	err := db.db.QueryRowContext(ctx, `SELECT status, node_id FROM chunks WHERE id = ?`, chunkID).Scan(&status, &assignedNodeID)
	if err == sql.ErrNoRows {
		return false, domain.ErrChunkNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lookup chunk %s: %w", chunkID, err)
	}
	if domain.ChunkStatus(status) == domain.ChunkCompleted {
		return true, nil
	}
	if assignedNodeID != nodeID {
		return false, domain.ErrForbidden
	}

	res, err := db.db.ExecContext(ctx, `
		UPDATE chunks
		SET status = ?, mean_dps = ?, std_dps = ?, min_dps = ?, max_dps = ?,
		    result_iterations = ?, completed_at = ?
		WHERE id = ? AND node_id = ? AND status != ?`,
		string(domain.ChunkCompleted), result.MeanDPS, result.StdDPS, result.MinDPS, result.MaxDPS,
		result.Iterations, time.Now().UTC().Format(time.RFC3339), chunkID, nodeID, string(domain.ChunkCompleted))
	if err != nil {
		return false, fmt.Errorf("complete chunk %s: %w", chunkID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return false, domain.ErrForbidden
	}
	return false, nil
}

// ChunkResults returns every completed chunk's result for a job.
func (db *DB) ChunkResults(ctx context.Context, jobID string) ([]domain.ChunkResult, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, mean_dps, std_dps, min_dps, max_dps, result_iterations
		FROM chunks WHERE job_id = ? AND status = ?`, jobID, string(domain.ChunkCompleted))
	if err != nil {
		return nil, fmt.Errorf("chunk results for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var results []domain.ChunkResult
	for rows.Next() {
		var r domain.ChunkResult
		if err := rows.Scan(&r.ChunkID, &r.MeanDPS, &r.StdDPS, &r.MinDPS, &r.MaxDPS, &r.Iterations); err != nil {
			return nil, fmt.Errorf("scan chunk result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ReclaimStaleChunks returns chunks claimed before the given cutoff (unix
// ms) back to pending, for nodes that crashed mid-chunk.
func (db *DB) ReclaimStaleChunks(ctx context.Context, olderThanUnixMs int64) (int, error) {
	cutoff := time.UnixMilli(olderThanUnixMs).UTC().Format(time.RFC3339)
	res, err := db.db.ExecContext(ctx, `
		UPDATE chunks
		SET status = ?, node_id = '', claimed_at = NULL
		WHERE status = ? AND claimed_at < ?`,
		string(domain.ChunkPending), string(domain.ChunkRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaim stale chunks rows affected: %w", err)
	}
	return int(n), nil
}
