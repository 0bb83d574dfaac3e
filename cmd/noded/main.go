// Command noded runs a volunteer compute node: it registers with a
// coordinator, waits to be claimed by an operator, then polls for and
// executes chunks until interrupted.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/legacy3/wowlab-sub001/internal/auth"
	"github.com/legacy3/wowlab-sub001/internal/daemon"
	"github.com/legacy3/wowlab-sub001/internal/domain"
	"github.com/legacy3/wowlab-sub001/internal/node"
)

var configPath string

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "noded.toml", "path to node config file")
}

var rootCmd = &cobra.Command{
	Use:   "noded",
	Short: "Run a wowlab volunteer compute node",
	RunE:  run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadNodeConfig(configPath)
	if err != nil {
		return err
	}

	keypair, nodeID, machine, err := resolveIdentity(cfg)
	if err != nil {
		return err
	}

	client := node.NewAPIClient(cfg.CoordinatorURL, keypair)
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := verifyOrRegister(ctx, client, cfg, machine, &nodeID); err != nil {
		return err
	}
	if err := persistIdentity(cfg, keypair, nodeID); err != nil {
		return err
	}

	specs := newChunkSpecs()
	pool := node.NewPool(node.PoolConfig{MaxConcurrent: maxParallel, NodeID: nodeID}, func(chunk domain.Chunk) (domain.ChunkResult, error) {
		return runChunk(chunk, specs.take(chunk.ID))
	})

	claimTicker := time.NewTicker(node.ClaimPollInterval)
	defer claimTicker.Stop()
	heartbeatTicker := time.NewTicker(node.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	workTicker := time.NewTicker(2 * time.Second)
	defer workTicker.Stop()

	log.Printf("[noded] node %s ready, claim code: %s", nodeID, keypair.ClaimCode())

	for {
		select {
		case <-ctx.Done():
			log.Println("[noded] shutting down")
			return nil

		case <-claimTicker.C:
			if machine.State() != node.StateClaiming {
				continue
			}
			resp, err := client.PollClaimStatus(ctx, nodeID)
			if err != nil {
				log.Printf("[noded] claim status poll failed: %v", err)
				continue
			}
			if resp.Claimed {
				machine.Claimed()
				log.Println("[noded] node claimed, starting work")
			}

		case <-heartbeatTicker.C:
			if err := client.SetOnline(ctx, nodeID); err != nil {
				log.Printf("[noded] heartbeat failed: %v", err)
			}

		case <-workTicker.C:
			if machine.State() != node.StateRunning {
				continue
			}
			pollAndRunChunks(ctx, client, nodeID, pool, specs)
		}
	}
}

func resolveIdentity(cfg daemon.NodeConfig) (auth.Keypair, string, *node.Machine, error) {
	if cfg.Identity.NodeID != "" && cfg.Identity.PrivateSeed != "" {
		kp, err := auth.KeypairFromBase64Seed(cfg.Identity.PrivateSeed)
		if err != nil {
			return auth.Keypair{}, "", nil, err
		}
		return kp, cfg.Identity.NodeID, node.NewMachine(true), nil
	}
	kp, err := auth.GenerateKeypair()
	if err != nil {
		return auth.Keypair{}, "", nil, err
	}
	return kp, "", node.NewMachine(false), nil
}

// verifyOrRegister drives the machine's initial transition: a persisted
// identity is checked against the coordinator, a fresh one is registered.
func verifyOrRegister(ctx context.Context, client *node.APIClient, cfg daemon.NodeConfig, machine *node.Machine, nodeID *string) error {
	switch machine.State() {
	case node.StateVerifying:
		resp, err := client.PollClaimStatus(ctx, *nodeID)
		if err != nil {
			machine.VerifyFailed()
			return verifyOrRegister(ctx, client, cfg, machine, nodeID)
		}
		machine.VerifySucceeded(resp.Claimed)
		return nil

	case node.StateRegistering:
		maxParallel := cfg.MaxParallel
		if maxParallel <= 0 {
			maxParallel = runtime.NumCPU()
		}
		resp, err := client.Register(ctx, node.RegisterRequest{
			Name:        cfg.Name,
			PublicKey:   client.Keypair.PublicKeyBase64(),
			TotalCores:  runtime.NumCPU(),
			MaxParallel: maxParallel,
		})
		if err != nil {
			return err
		}
		*nodeID = resp.NodeID
		machine.RegisterSucceeded()
		return nil

	default:
		return nil
	}
}

func persistIdentity(cfg daemon.NodeConfig, keypair auth.Keypair, nodeID string) error {
	cfg.Identity = daemon.NodeIdentity{NodeID: nodeID, PrivateSeed: keypair.SeedBase64()}
	return daemon.SaveNodeConfig(configPath, cfg)
}

// chunkSpecs holds each claimed chunk's job spec string, looked up by the
// pool runner at execution time. domain.Chunk carries no spec field (that
// lives on the job), so the node keeps this side table from claim to run.
type chunkSpecs struct {
	mu   sync.Mutex
	byID map[string]string
}

func newChunkSpecs() *chunkSpecs {
	return &chunkSpecs{byID: make(map[string]string)}
}

func (s *chunkSpecs) put(chunkID, spec string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[chunkID] = spec
}

func (s *chunkSpecs) take(chunkID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec := s.byID[chunkID]
	delete(s.byID, chunkID)
	return spec
}

// pollAndRunChunks requests as many new chunks as the pool has free
// capacity for, and submits each to the pool.
func pollAndRunChunks(ctx context.Context, client *node.APIClient, nodeID string, pool *node.Pool, specs *chunkSpecs) {
	free := pool.AvailableCapacity()
	if free <= 0 {
		return
	}

	resp, err := client.ClaimChunks(ctx, nodeID, free)
	if err != nil {
		log.Printf("[noded] claim chunks failed: %v", err)
		return
	}

	for _, a := range resp.Chunks {
		chunk := domain.Chunk{
			ID: a.ChunkID, JobID: a.JobID, Seed: a.Seed, Iterations: a.Iterations,
			Status: domain.ChunkRunning, NodeID: nodeID,
		}
		specs.put(chunk.ID, a.Spec)
		pool.Submit(chunk, func(c domain.Chunk, result domain.ChunkResult, err error) {
			if err != nil {
				log.Printf("[noded] chunk %s failed: %v", c.ID, err)
				return
			}
			req := node.CompleteChunkRequest{
				NodeID: nodeID, ChunkID: c.ID, MeanDPS: result.MeanDPS,
				StdDPS: result.StdDPS, MinDPS: result.MinDPS, MaxDPS: result.MaxDPS,
				Iterations: result.Iterations,
			}
			if err := client.CompleteChunk(context.Background(), req); err != nil {
				log.Printf("[noded] report chunk %s complete failed: %v", c.ID, err)
			}
		})
	}
}

func runChunk(chunk domain.Chunk, specJSON string) (domain.ChunkResult, error) {
	encounter, err := node.ParseEncounterSpec(specJSON)
	if err != nil {
		log.Printf("[noded] chunk %s: %v, using defaults", chunk.ID, err)
	}
	spec := node.BuildBatchSpec(encounter, chunk.Seed, chunk.Iterations)
	return node.RunChunk(chunk, spec), nil
}
