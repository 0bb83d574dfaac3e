package node

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/legacy3/wowlab-sub001/internal/domain"
)

var errFailedChunk = errors.New("simulated chunk failure")

func TestPoolRunsUpToMaxConcurrent(t *testing.T) {
	var running atomic.Int32
	var maxSeen atomic.Int32
	release := make(chan struct{})

	pool := NewPool(PoolConfig{MaxConcurrent: 2, NodeID: "n1"}, func(chunk domain.Chunk) (domain.ChunkResult, error) {
		n := running.Add(1)
		for {
			old := maxSeen.Load()
			if n <= old || maxSeen.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return domain.ChunkResult{ChunkID: chunk.ID}, nil
	})
	defer pool.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		pool.Submit(domain.Chunk{ID: string(rune('a' + i))}, func(domain.Chunk, domain.ChunkResult, error) {
			wg.Done()
		})
	}

	time.Sleep(50 * time.Millisecond)
	if got := maxSeen.Load(); got > 2 {
		t.Errorf("ran %d chunks concurrently, want <= 2", got)
	}
	close(release)
	wg.Wait()
}

func TestPoolQueuesBeyondCapacity(t *testing.T) {
	pool := NewPool(PoolConfig{MaxConcurrent: 1, NodeID: "n1"}, func(chunk domain.Chunk) (domain.ChunkResult, error) {
		time.Sleep(10 * time.Millisecond)
		return domain.ChunkResult{ChunkID: chunk.ID}, nil
	})
	defer pool.Close()

	var wg sync.WaitGroup
	wg.Add(5)
	var completedOrder []string
	var mu sync.Mutex
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		pool.Submit(domain.Chunk{ID: id}, func(c domain.Chunk, _ domain.ChunkResult, _ error) {
			mu.Lock()
			completedOrder = append(completedOrder, c.ID)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	if len(completedOrder) != 5 {
		t.Fatalf("completed %d chunks, want 5", len(completedOrder))
	}
}

func TestPoolAvailableCapacityReflectsActive(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(PoolConfig{MaxConcurrent: 2, NodeID: "n1"}, func(chunk domain.Chunk) (domain.ChunkResult, error) {
		<-release
		return domain.ChunkResult{ChunkID: chunk.ID}, nil
	})
	defer pool.Close()

	pool.Submit(domain.Chunk{ID: "a"}, nil)
	time.Sleep(20 * time.Millisecond)

	if got := pool.AvailableCapacity(); got != 1 {
		t.Errorf("AvailableCapacity = %d, want 1", got)
	}
	close(release)
}

func TestPoolReportsFailure(t *testing.T) {
	var gotErr error
	done := make(chan struct{})

	pool := NewPool(PoolConfig{MaxConcurrent: 1, NodeID: "n1"}, func(domain.Chunk) (domain.ChunkResult, error) {
		return domain.ChunkResult{}, errFailedChunk
	})
	defer pool.Close()

	pool.Submit(domain.Chunk{ID: "a"}, func(_ domain.Chunk, _ domain.ChunkResult, err error) {
		gotErr = err
		close(done)
	})
	<-done

	if gotErr != errFailedChunk {
		t.Errorf("onDone err = %v, want errFailedChunk", gotErr)
	}
	stats := pool.Stats()
	if stats.Failed != 1 {
		t.Errorf("Stats.Failed = %d, want 1", stats.Failed)
	}
}
