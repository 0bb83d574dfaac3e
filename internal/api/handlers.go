package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/legacy3/wowlab-sub001/internal/auth"
	"github.com/legacy3/wowlab-sub001/internal/domain"
	"github.com/legacy3/wowlab-sub001/internal/infra/observability"
	"github.com/legacy3/wowlab-sub001/internal/scheduler"
)

type registerRequest struct {
	Name        string `json:"name"`
	PublicKey   string `json:"public_key"`
	TotalCores  int    `json:"total_cores"`
	MaxParallel int    `json:"max_parallel"`
}

type registerResponse struct {
	NodeID    string `json:"node_id"`
	ClaimCode string `json:"claim_code"`
}

// handleNodeRegister registers a node's freshly-generated keypair, deriving
// its claim code from the public key and persisting it unclaimed.
func (s *Server) handleNodeRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pubKey, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidEncoding.Error())
		return
	}

	node := &domain.Node{
		ID:          uuid.NewString(),
		PublicKey:   pubKey,
		Name:        req.Name,
		TotalCores:  req.TotalCores,
		MaxParallel: req.MaxParallel,
		Status:      domain.NodeOffline,
		LastSeen:    time.Now(),
	}
	if err := s.nodes.UpsertNode(r.Context(), node); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register node")
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		NodeID:    node.ID,
		ClaimCode: auth.DeriveClaimCode(pubKey),
	})
}

type setOnlineRequest struct {
	NodeID string `json:"node_id"`
}

// handleNodeSetOnline marks a node as heartbeating, called by noded every
// node.HeartbeatInterval.
func (s *Server) handleNodeSetOnline(w http.ResponseWriter, r *http.Request) {
	var req setOnlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.requireOwnedNode(r, req.NodeID); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if err := s.nodes.SetOnline(r.Context(), req.NodeID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark node online")
		return
	}
	if online, err := s.nodes.OnlineNodes(r.Context()); err == nil {
		observability.NodesOnline.Set(float64(len(online)))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type claimStatusResponse struct {
	Claimed bool `json:"claimed"`
}

// handleNodeClaimStatus reports whether an operator has linked this node to
// an account yet, polled by noded every node.ClaimPollInterval while its
// node.Machine is in StateClaiming.
func (s *Server) handleNodeClaimStatus(w http.ResponseWriter, r *http.Request) {
	var req setOnlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.requireOwnedNode(r, req.NodeID); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	n, err := s.nodes.GetNode(r.Context(), req.NodeID)
	if err != nil || n == nil {
		writeError(w, http.StatusNotFound, domain.ErrNodeNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, claimStatusResponse{Claimed: n.UserID != ""})
}

type chunkAssignment struct {
	ChunkID    string `json:"chunk_id"`
	JobID      string `json:"job_id"`
	Seed       int64  `json:"seed"`
	Iterations int64  `json:"iterations"`
	Spec       string `json:"spec"`
}

type claimChunksRequest struct {
	NodeID    string `json:"node_id"`
	BatchSize int    `json:"batch_size"`
}

type claimChunksResponse struct {
	Chunks []chunkAssignment `json:"chunks"`
}

// handleClaimChunks hands a node up to BatchSize of the chunks assigned to
// it that are still running. Assignment itself happens out of band in the
// scheduler's periodic tick; this endpoint only reports what has already
// landed on this node, and returns a chunk on every call until it is
// completed or reclaimed.
func (s *Server) handleClaimChunks(w http.ResponseWriter, r *http.Request) {
	var req claimChunksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.requireOwnedNode(r, req.NodeID); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	chunks, err := s.jobs.ClaimedChunksForNode(r.Context(), req.NodeID, req.BatchSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch claimed chunks")
		return
	}

	resp := claimChunksResponse{Chunks: make([]chunkAssignment, 0, len(chunks))}
	for _, c := range chunks {
		job, err := s.jobs.GetJob(r.Context(), c.JobID)
		if err != nil || job == nil {
			continue
		}
		resp.Chunks = append(resp.Chunks, chunkAssignment{
			ChunkID:    c.ID,
			JobID:      c.JobID,
			Seed:       c.Seed,
			Iterations: c.Iterations,
			Spec:       job.Spec,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type completeChunkRequest struct {
	NodeID     string  `json:"node_id"`
	ChunkID    string  `json:"chunk_id"`
	JobID      string  `json:"job_id"`
	MeanDPS    float64 `json:"mean_dps"`
	StdDPS     float64 `json:"std_dps"`
	MinDPS     float64 `json:"min_dps"`
	MaxDPS     float64 `json:"max_dps"`
	Iterations int64   `json:"iterations"`
}

type completeChunkResponse struct {
	Success          bool `json:"success"`
	JobComplete      bool `json:"job_complete"`
	AlreadyCompleted bool `json:"already_completed"`
}

// handleCompleteChunk records a node's chunk result and aggregates the
// parent job if this was its last outstanding chunk.
// Idempotent: a retried submission for an already-completed chunk is a
// no-op, so a node that never saw its own 200 response can safely resend.
func (s *Server) handleCompleteChunk(w http.ResponseWriter, r *http.Request) {
	var req completeChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.requireOwnedNode(r, req.NodeID); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	result := domain.ChunkResult{
		ChunkID:    req.ChunkID,
		MeanDPS:    req.MeanDPS,
		StdDPS:     req.StdDPS,
		MinDPS:     req.MinDPS,
		MaxDPS:     req.MaxDPS,
		Iterations: req.Iterations,
	}
	alreadyCompleted, jobComplete, err := scheduler.CompleteChunk(r.Context(), s.jobs, req.JobID, req.ChunkID, req.NodeID, result)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrChunkNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrForbidden):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to complete chunk")
		}
		return
	}
	writeJSON(w, http.StatusOK, completeChunkResponse{
		Success:          true,
		JobComplete:      jobComplete,
		AlreadyCompleted: alreadyCompleted,
	})
}

// requireOwnedNode verifies the signed request's public key belongs to
// nodeID, preventing one node's signature from being replayed against
// another node's id.
func (s *Server) requireOwnedNode(r *http.Request, nodeID string) error {
	identity, ok := nodeFromContext(r.Context())
	if !ok {
		return domain.ErrVerificationFailed
	}
	n, err := s.nodes.GetNodeByPublicKey(r.Context(), identity.PublicKey)
	if err != nil || n == nil {
		return domain.ErrNodeNotFound
	}
	if n.ID != nodeID {
		return domain.ErrForbidden
	}
	return nil
}
