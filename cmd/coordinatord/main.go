// Command coordinatord runs the coordinator: the HTTP API nodes talk to,
// the periodic assignment tick, and the stale-chunk reclaim sweep.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/legacy3/wowlab-sub001/internal/api"
	"github.com/legacy3/wowlab-sub001/internal/daemon"
	"github.com/legacy3/wowlab-sub001/internal/infra/sqlite"
	"github.com/legacy3/wowlab-sub001/internal/scheduler"
)

var configPath string

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "coordinatord.toml", "path to coordinator config file")
}

var rootCmd = &cobra.Command{
	Use:   "coordinatord",
	Short: "Run the wowlab coordinator daemon",
	RunE:  run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadCoordinatorConfig(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	reclaimWindow, err := time.ParseDuration(cfg.Scheduler.ReclaimWindow)
	if err != nil {
		return fmt.Errorf("parse reclaim_window %q: %w", cfg.Scheduler.ReclaimWindow, err)
	}

	guildFilters := scheduler.NewGuildFilters()

	server := api.NewServer(db, db)
	server.EnableMetrics()

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runAssignmentLoop(ctx, db, db, guildFilters, cfg.Scheduler)
	go runReclaimLoop(ctx, db, reclaimWindow)

	go func() {
		log.Printf("[coordinatord] listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[coordinatord] http server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[coordinatord] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// runAssignmentLoop ticks the scheduler's assignment pass every
// AssignIntervalMs until ctx is cancelled.
func runAssignmentLoop(ctx context.Context, jobs *sqlite.DB, nodes *sqlite.DB, filters *scheduler.GuildFilters, cfg daemon.SchedulerConfig) {
	interval := time.Duration(cfg.AssignIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := scheduler.RunAssignmentTick(ctx, jobs, nodes, filters, int(cfg.MaxChunkSize))
			if err != nil {
				log.Printf("[coordinatord] assignment tick failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[coordinatord] assigned %d chunks", n)
			}
		}
	}
}

// runReclaimLoop sweeps stale running chunks back to pending on a cadence
// of half the reclaim window, so a dead node's chunk is noticed promptly
// without hammering the store.
func runReclaimLoop(ctx context.Context, jobs *sqlite.DB, window time.Duration) {
	ticker := time.NewTicker(window / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := scheduler.ReclaimStaleChunks(ctx, jobs, window, time.Now())
			if err != nil {
				log.Printf("[coordinatord] reclaim sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[coordinatord] reclaimed %d stale chunks", n)
			}
		}
	}
}
