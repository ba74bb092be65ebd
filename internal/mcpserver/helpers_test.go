package mcpserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/claude-flow/core/internal/agentpool"
	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/internal/health"
	"github.com/claude-flow/core/internal/logging"
	"github.com/claude-flow/core/internal/memory"
	"github.com/claude-flow/core/internal/orchestrator"
	"github.com/claude-flow/core/internal/plugin"
	"github.com/claude-flow/core/internal/session"
	"github.com/claude-flow/core/internal/swarm"
	"github.com/claude-flow/core/internal/taskqueue"
	"github.com/claude-flow/core/internal/taskregistry"
)

func newTestDeps(t *testing.T) (Dependencies, *logging.Logger) {
	log, err := logging.New(logging.Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	bus := eventbus.NewMemoryBus(log)

	pool := agentpool.New(10, bus)
	reg := taskregistry.New(bus)
	queue := taskqueue.NewTaskQueue(0, 0)
	orch := orchestrator.New(reg, queue, pool, bus)
	sessions := session.New(bus)
	monitor := health.New(10*time.Millisecond, bus, log)
	plugins := plugin.New(bus, log)
	coordinator := swarm.New(swarm.Config{}, pool, orch, sessions, monitor, plugins, bus, log)

	deps := Dependencies{
		Orchestrator: orch,
		Pool:         pool,
		Swarm:        coordinator,
		Memory:       memory.NewInMemory("test"),
	}
	return deps, log
}
