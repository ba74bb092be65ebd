// Package main is the entry point for the task orchestration kernel.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/claude-flow/core/internal/agentpool"
	"github.com/claude-flow/core/internal/common/appctx"
	"github.com/claude-flow/core/internal/config"
	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/internal/health"
	"github.com/claude-flow/core/internal/httpapi"
	"github.com/claude-flow/core/internal/logging"
	"github.com/claude-flow/core/internal/mcpserver"
	"github.com/claude-flow/core/internal/memory"
	"github.com/claude-flow/core/internal/orchestrator"
	"github.com/claude-flow/core/internal/plugin"
	"github.com/claude-flow/core/internal/session"
	"github.com/claude-flow/core/internal/swarm"
	"github.com/claude-flow/core/internal/taskqueue"
	"github.com/claude-flow/core/internal/taskregistry"
	"github.com/claude-flow/core/pkg/flow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logging.SetDefault(log)

	log.Info("starting claude-flow kernel")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := newEventBus(cfg.EventBus, log)
	if err != nil {
		log.Fatal("failed to construct event bus", zap.Error(err))
	}

	pool := agentpool.New(cfg.Agent.MaxConcurrentAgents, bus)
	registry := taskregistry.New(bus)
	queue := taskqueue.NewTaskQueue(cfg.Task.SoftLimit, cfg.Task.HardLimit)
	orch := orchestrator.New(registry, queue, pool, bus)
	sessions := session.New(bus)
	monitor := health.New(
		time.Duration(cfg.Agent.HealthCheckInterval)*time.Second,
		bus,
		log,
	)
	plugins := plugin.New(bus, log)

	coordinator := swarm.New(swarm.Config{
		Topology:      flow.Topology(cfg.Swarm.Topology),
		InboxCapacity: cfg.Swarm.InboxCapacity,
		Consensus:     newConsensusStrategy(cfg.Swarm.ConsensusStrategy),
		ShutdownGrace: time.Duration(cfg.Orchestrator.DrainTimeoutSec) * time.Second,
	}, pool, orch, sessions, monitor, plugins, bus, log)

	if err := coordinator.Initialize(ctx, nil); err != nil {
		log.Fatal("failed to initialize swarm coordinator", zap.Error(err))
	}

	deps := mcpserver.Dependencies{
		Orchestrator: orch,
		Pool:         pool,
		Swarm:        coordinator,
		Memory:       memory.NewInMemory(cfg.Memory.Backend),
	}
	mcp := mcpserver.New(deps, log)

	switch cfg.MCPServer.Transport {
	case "stdio":
		log.Info("serving MCP over stdio")
		if err := mcp.ServeStdio(ctx); err != nil {
			log.Fatal("stdio transport exited with error", zap.Error(err))
		}
		shutdownSwarm(coordinator, log)
		return
	default:
		runHTTP(ctx, cancel, cfg, coordinator, mcp, log)
	}
}

func runHTTP(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, coordinator *swarm.Coordinator, mcp *mcpserver.Server, log *logging.Logger) {
	api := httpapi.New(httpapi.Config{
		AuthTokens:     cfg.Auth.Tokens,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, mcp, log)

	port := cfg.Server.Port
	if port == 0 {
		port = 7300
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      api.Router(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down claude-flow kernel")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	shutdownSwarm(coordinator, log)

	log.Info("claude-flow kernel stopped")
}

// shutdownSwarm drains running tasks and tears down the swarm's sessions,
// agents, and plugins on a context detached from the caller's lifetime, so
// the sequence runs to completion even though the root context that served
// requests has already been cancelled.
func shutdownSwarm(coordinator *swarm.Coordinator, log *logging.Logger) {
	stopCh := make(chan struct{})
	shutdownCtx, shutdownCancel := appctx.Detached(context.Background(), stopCh, 30*time.Second)
	defer shutdownCancel()
	defer close(stopCh)

	if err := coordinator.Shutdown(shutdownCtx, true); err != nil {
		log.Error("swarm shutdown error", zap.Error(err))
	}
}

func newEventBus(cfg config.EventBusConfig, log *logging.Logger) (eventbus.EventBus, error) {
	if cfg.Backend == "nats" {
		return eventbus.NewNATSBus(cfg.NATSURL, log)
	}
	return eventbus.NewMemoryBus(log), nil
}

func newConsensusStrategy(name string) swarm.ConsensusStrategy {
	if name == "raft-like" {
		return swarm.RaftLike{}
	}
	return swarm.QuorumVote{}
}
