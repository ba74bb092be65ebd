package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-flow/core/internal/agentpool"
	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/internal/logging"
	"github.com/claude-flow/core/internal/taskqueue"
	"github.com/claude-flow/core/internal/taskregistry"
	"github.com/claude-flow/core/pkg/flow"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *agentpool.Pool, eventbus.EventBus) {
	log, err := logging.New(logging.Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	bus := eventbus.NewMemoryBus(log)
	reg := taskregistry.New(bus)
	q := taskqueue.NewTaskQueue(0, 0)
	pool := agentpool.New(10, bus)
	return New(reg, q, pool, bus), pool, bus
}

func TestCreateTaskWithNoDependenciesIsQueued(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	task, err := orch.CreateTask(flow.TaskSpec{Type: "implement"})
	require.NoError(t, err)
	assert.Equal(t, flow.TaskQueued, task.Status)
}

func TestCreateTaskWithDependencyIsBlockedAfterAdd(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	dep, err := orch.CreateTask(flow.TaskSpec{Type: "plan"})
	require.NoError(t, err)
	task, err := orch.CreateTask(flow.TaskSpec{Type: "implement"})
	require.NoError(t, err)

	require.NoError(t, orch.AddDependency(task.ID, dep.ID))
	got, _ := orch.registry.Get(task.ID)
	assert.Equal(t, flow.TaskBlocked, got.Status)
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	a, _ := orch.CreateTask(flow.TaskSpec{Type: "a"})
	b, _ := orch.CreateTask(flow.TaskSpec{Type: "b"})

	require.NoError(t, orch.AddDependency(b.ID, a.ID))
	err := orch.AddDependency(a.ID, b.ID)
	assert.Error(t, err)
}

func TestAddDependencyRejectsSelf(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	a, _ := orch.CreateTask(flow.TaskSpec{Type: "a"})
	err := orch.AddDependency(a.ID, a.ID)
	assert.Error(t, err)
}

func TestCompletingDependencyUnblocksDependent(t *testing.T) {
	orch, pool, _ := newTestOrchestrator(t)
	dep, _ := orch.CreateTask(flow.TaskSpec{Type: "plan"})
	task, _ := orch.CreateTask(flow.TaskSpec{Type: "implement"})
	require.NoError(t, orch.AddDependency(task.ID, dep.ID))

	agent, err := pool.Spawn(flow.AgentConfig{Type: "any", MaxConcurrentTasks: 2, SupportedTaskTypes: []string{"plan"}})
	require.NoError(t, err)
	require.NoError(t, orch.AssignTask(dep.ID, agent.ID))
	require.NoError(t, orch.StartTask(dep.ID))
	require.NoError(t, orch.CompleteTask(dep.ID, "done"))

	got, _ := orch.registry.Get(task.ID)
	assert.Equal(t, flow.TaskQueued, got.Status)
}

func TestAssignTaskRejectsAgentAtCapacity(t *testing.T) {
	orch, pool, _ := newTestOrchestrator(t)
	agent, err := pool.Spawn(flow.AgentConfig{Type: "any", MaxConcurrentTasks: 1, SupportedTaskTypes: []string{"plan"}})
	require.NoError(t, err)

	first, _ := orch.CreateTask(flow.TaskSpec{Type: "plan"})
	require.NoError(t, orch.AssignTask(first.ID, agent.ID))

	second, _ := orch.CreateTask(flow.TaskSpec{Type: "plan"})
	err = orch.AssignTask(second.ID, agent.ID)
	assert.Error(t, err)

	got, _ := pool.Get(agent.ID)
	assert.Equal(t, 1, got.CurrentTaskCount)

	requeued, _ := orch.registry.Get(second.ID)
	assert.Equal(t, flow.TaskQueued, requeued.Status)
}

func TestQueueTaskEmitsWarningOverSoftLimit(t *testing.T) {
	log, err := logging.New(logging.Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	bus := eventbus.NewMemoryBus(log)
	reg := taskregistry.New(bus)
	q := taskqueue.NewTaskQueue(1, 0)
	pool := agentpool.New(10, bus)
	orch := New(reg, q, pool, bus)

	var warnings int
	bus.Subscribe("system:warning", func(e *eventbus.Event) error {
		warnings++
		return nil
	})

	_, err = orch.CreateTask(flow.TaskSpec{Type: "plan"})
	require.NoError(t, err)
	assert.Equal(t, 0, warnings)

	_, err = orch.CreateTask(flow.TaskSpec{Type: "plan"})
	require.NoError(t, err)
	assert.Equal(t, 1, warnings)
}

func TestGetNextTaskFiltersByCapabilityAndType(t *testing.T) {
	orch, pool, _ := newTestOrchestrator(t)
	_, err := orch.CreateTask(flow.TaskSpec{Type: "review", Priority: 90})
	require.NoError(t, err)
	coding, err := orch.CreateTask(flow.TaskSpec{Type: "implement", Priority: 50})
	require.NoError(t, err)

	agent, err := pool.Spawn(flow.AgentConfig{
		Type:               "coder",
		SupportedTaskTypes: []string{"implement"},
		MaxConcurrentTasks: 2,
	})
	require.NoError(t, err)

	got, err := orch.GetNextTask(agent.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, coding.ID, got.ID)
	assert.Equal(t, flow.TaskAssigned, got.Status)
}

func TestGetNextTaskWithoutAgentIgnoresCapability(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	task, err := orch.CreateTask(flow.TaskSpec{Type: "implement"})
	require.NoError(t, err)

	got, err := orch.GetNextTask("")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestGetNextTaskReturnsNilWhenQueueEmpty(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	got, err := orch.GetNextTask("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStartTaskRequiresAssigned(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	task, _ := orch.CreateTask(flow.TaskSpec{Type: "implement"})
	err := orch.StartTask(task.ID)
	assert.Error(t, err)
}

func TestFullLifecycleHappyPath(t *testing.T) {
	orch, pool, bus := newTestOrchestrator(t)
	var events []string
	for _, et := range []string{"task:queued", "task:assigned", "task:started", "task:completed"} {
		et := et
		bus.Subscribe(et, func(e *eventbus.Event) error {
			events = append(events, et)
			return nil
		})
	}

	task, err := orch.CreateTask(flow.TaskSpec{Type: "implement"})
	require.NoError(t, err)
	agent, err := pool.Spawn(flow.AgentConfig{Type: "coder", SupportedTaskTypes: []string{"implement"}, MaxConcurrentTasks: 1})
	require.NoError(t, err)

	got, err := orch.GetNextTask(agent.ID)
	require.NoError(t, err)
	require.Equal(t, task.ID, got.ID)

	require.NoError(t, orch.StartTask(task.ID))
	require.NoError(t, orch.CompleteTask(task.ID, map[string]string{"ok": "true"}))

	final, _ := orch.registry.Get(task.ID)
	assert.Equal(t, flow.TaskCompleted, final.Status)

	a, _ := pool.Get(agent.ID)
	assert.Equal(t, 0, a.CurrentTaskCount)
	assert.EqualValues(t, 1, a.TasksCompleted)

	assert.Equal(t, []string{"task:queued", "task:assigned", "task:started", "task:completed"}, events)
}

func TestFailTaskThenRetryRequeues(t *testing.T) {
	orch, pool, _ := newTestOrchestrator(t)
	task, err := orch.CreateTask(flow.TaskSpec{
		Type:     "implement",
		Metadata: flow.TaskMetadata{MaxRetries: 1},
	})
	require.NoError(t, err)
	agent, _ := pool.Spawn(flow.AgentConfig{Type: "coder", SupportedTaskTypes: []string{"implement"}, MaxConcurrentTasks: 1})

	_, err = orch.GetNextTask(agent.ID)
	require.NoError(t, err)
	require.NoError(t, orch.StartTask(task.ID))
	require.NoError(t, orch.FailTask(task.ID, errors.New("boom")))

	failed, _ := orch.registry.Get(task.ID)
	assert.Equal(t, flow.TaskFailed, failed.Status)

	require.NoError(t, orch.RetryTask(task.ID))
	retried, _ := orch.registry.Get(task.ID)
	assert.Equal(t, flow.TaskQueued, retried.Status)
	assert.Equal(t, 1, retried.Metadata.RetryCount)
}

func TestRetryTaskExhaustedIsTerminal(t *testing.T) {
	orch, pool, _ := newTestOrchestrator(t)
	task, _ := orch.CreateTask(flow.TaskSpec{
		Type:     "implement",
		Metadata: flow.TaskMetadata{MaxRetries: 0},
	})
	agent, _ := pool.Spawn(flow.AgentConfig{Type: "coder", SupportedTaskTypes: []string{"implement"}, MaxConcurrentTasks: 1})

	_, _ = orch.GetNextTask(agent.ID)
	_ = orch.StartTask(task.ID)
	_ = orch.FailTask(task.ID, errors.New("boom"))

	err := orch.RetryTask(task.ID)
	assert.Error(t, err)
}

func TestCancelTaskFromQueued(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	task, _ := orch.CreateTask(flow.TaskSpec{Type: "implement"})
	require.NoError(t, orch.CancelTask(task.ID))

	got, _ := orch.registry.Get(task.ID)
	assert.Equal(t, flow.TaskCancelled, got.Status)
}

func TestCancelTaskTerminalRejected(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	task, _ := orch.CreateTask(flow.TaskSpec{Type: "implement"})
	require.NoError(t, orch.CancelTask(task.ID))
	assert.Error(t, orch.CancelTask(task.ID))
}

func TestDetectDeadlockFalseWhenBlockerQueuedOrCancelled(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	a, _ := orch.CreateTask(flow.TaskSpec{Type: "a"})
	b, _ := orch.CreateTask(flow.TaskSpec{Type: "b"})

	require.NoError(t, orch.AddDependency(a.ID, b.ID))
	assert.False(t, orch.DetectDeadlock(), "b is still queued, not a deadlock")

	require.NoError(t, orch.CancelTask(b.ID))
	assert.False(t, orch.DetectDeadlock(), "cancelled tasks are terminal, not part of a stuck set")
}

func TestDetectDeadlockFalseWhenQueueHasWork(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	_, err := orch.CreateTask(flow.TaskSpec{Type: "a"})
	require.NoError(t, err)
	assert.False(t, orch.DetectDeadlock())
}
