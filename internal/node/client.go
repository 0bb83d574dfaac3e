package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/legacy3/wowlab-sub001/internal/auth"
)

// APIClient signs and sends every request to the coordinator with the
// node's Ed25519 keypair, per the envelope built in internal/auth.
type APIClient struct {
	BaseURL    string
	Keypair    auth.Keypair
	HTTPClient *http.Client
}

// NewAPIClient builds a client against baseURL using keypair for signing.
func NewAPIClient(baseURL string, keypair auth.Keypair) *APIClient {
	return &APIClient{
		BaseURL:    baseURL,
		Keypair:    keypair,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterRequest is the body sent to /node/register.
type RegisterRequest struct {
	Name        string `json:"name"`
	PublicKey   string `json:"public_key"`
	TotalCores  int    `json:"total_cores"`
	MaxParallel int    `json:"max_parallel"`
}

// RegisterResponse carries the coordinator-assigned node id and claim code.
type RegisterResponse struct {
	NodeID    string `json:"node_id"`
	ClaimCode string `json:"claim_code"`
}

// Register registers a new node identity with the coordinator.
func (c *APIClient) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	var resp RegisterResponse
	err := c.post(ctx, "/node/register", req, &resp)
	return resp, err
}

// SetOnlineRequest marks the node as actively heartbeating.
type SetOnlineRequest struct {
	NodeID string `json:"node_id"`
}

// SetOnline sends a heartbeat to the coordinator.
func (c *APIClient) SetOnline(ctx context.Context, nodeID string) error {
	return c.post(ctx, "/node/set_online", SetOnlineRequest{NodeID: nodeID}, nil)
}

// ClaimStatusResponse reports whether the node has been linked to a user.
type ClaimStatusResponse struct {
	Claimed bool `json:"claimed"`
}

// PollClaimStatus asks whether an operator has claimed this node yet.
func (c *APIClient) PollClaimStatus(ctx context.Context, nodeID string) (ClaimStatusResponse, error) {
	var resp ClaimStatusResponse
	err := c.post(ctx, "/node/claim_status", SetOnlineRequest{NodeID: nodeID}, &resp)
	return resp, err
}

// ChunkAssignment is one chunk the coordinator has handed this node.
type ChunkAssignment struct {
	ChunkID    string `json:"chunk_id"`
	JobID      string `json:"job_id"`
	Seed       int64  `json:"seed"`
	Iterations int64  `json:"iterations"`
	Spec       string `json:"spec"`
}

// ClaimChunksRequest asks for up to BatchSize chunks.
type ClaimChunksRequest struct {
	NodeID    string `json:"node_id"`
	BatchSize int    `json:"batch_size"`
}

// ClaimChunksResponse returns the chunks assigned to this node, if any.
type ClaimChunksResponse struct {
	Chunks []ChunkAssignment `json:"chunks"`
}

// ClaimChunks requests up to batchSize new chunk assignments.
func (c *APIClient) ClaimChunks(ctx context.Context, nodeID string, batchSize int) (ClaimChunksResponse, error) {
	var resp ClaimChunksResponse
	err := c.post(ctx, "/node/chunks/claim", ClaimChunksRequest{NodeID: nodeID, BatchSize: batchSize}, &resp)
	return resp, err
}

// CompleteChunkRequest reports a finished chunk's aggregated result.
type CompleteChunkRequest struct {
	NodeID     string  `json:"node_id"`
	ChunkID    string  `json:"chunk_id"`
	MeanDPS    float64 `json:"mean_dps"`
	StdDPS     float64 `json:"std_dps"`
	MinDPS     float64 `json:"min_dps"`
	MaxDPS     float64 `json:"max_dps"`
	Iterations int64   `json:"iterations"`
}

// CompleteChunk reports a chunk result. The coordinator-side handler is
// idempotent: resubmitting the same chunk after a dropped response is safe.
func (c *APIClient) CompleteChunk(ctx context.Context, req CompleteChunkRequest) error {
	return c.post(ctx, "/node/chunks/complete", req, nil)
}

func (c *APIClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	now := time.Now().Unix()
	message := auth.BuildSignMessage(now, http.MethodPost, path, payload)
	signature := c.Keypair.SignBase64([]byte(message))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Node-Public-Key", c.Keypair.PublicKeyBase64())
	httpReq.Header.Set("X-Node-Signature", signature)
	httpReq.Header.Set("X-Node-Timestamp", fmt.Sprintf("%d", now))

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
