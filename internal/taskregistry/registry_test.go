package taskregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/internal/logging"
	"github.com/claude-flow/core/pkg/flow"
)

func newTestRegistry(t *testing.T) (*Registry, eventbus.EventBus) {
	log, err := logging.New(logging.Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	bus := eventbus.NewMemoryBus(log)
	return New(bus), bus
}

func TestCreateAssignsIDAndEmitsEvent(t *testing.T) {
	reg, bus := newTestRegistry(t)
	var gotEvent *eventbus.Event
	bus.Subscribe("task:created", func(e *eventbus.Event) error {
		gotEvent = e
		return nil
	})

	task := reg.Create(flow.TaskSpec{Type: "implement", Description: "do thing"})
	require.NotEmpty(t, task.ID)
	assert.Equal(t, flow.TaskPending, task.Status)
	assert.Equal(t, 50, task.Priority, "default priority is 50")
	require.NotNil(t, gotEvent)
	assert.Equal(t, task.ID, gotEvent.Data["taskId"])
}

func TestCreatePreservesExplicitPriority(t *testing.T) {
	reg, _ := newTestRegistry(t)
	task := reg.Create(flow.TaskSpec{Type: "implement", Priority: 80})
	assert.Equal(t, 80, task.Priority)
}

func TestGetReturnsClone(t *testing.T) {
	reg, _ := newTestRegistry(t)
	task := reg.Create(flow.TaskSpec{Type: "implement"})

	got, ok := reg.Get(task.ID)
	require.True(t, ok)
	got.Status = flow.TaskRunning

	reread, _ := reg.Get(task.ID)
	assert.Equal(t, flow.TaskPending, reread.Status, "mutating a returned snapshot must not affect the registry")
}

func TestRoundTripFieldsPreserved(t *testing.T) {
	reg, _ := newTestRegistry(t)
	spec := flow.TaskSpec{
		Type:        "implement",
		Description: "ship the feature",
		Priority:    65,
	}
	created := reg.Create(spec)
	got, ok := reg.Get(created.ID)
	require.True(t, ok)

	assert.Equal(t, spec.Type, got.Type)
	assert.Equal(t, spec.Description, got.Description)
	assert.Equal(t, spec.Priority, got.Priority)
}

func TestMetricsMonotonic(t *testing.T) {
	reg, _ := newTestRegistry(t)
	task := reg.Create(flow.TaskSpec{Type: "implement"})

	reg.Mutate(task.ID, func(tk *flow.Task) bool {
		tk.Status = flow.TaskCompleted
		now := time.Now()
		tk.StartedAt = &now
		end := now.Add(time.Second)
		tk.CompletedAt = &end
		return true
	})
	live, _ := reg.Get(task.ID)
	reg.RecordCompletion(live)

	m := reg.Metrics()
	assert.EqualValues(t, 1, m.TotalTasks)
	assert.EqualValues(t, 1, m.CompletedTasks)
}

func TestCleanupPurgesOldTerminalTasks(t *testing.T) {
	reg, _ := newTestRegistry(t)
	task := reg.Create(flow.TaskSpec{Type: "implement"})

	past := time.Now().Add(-time.Hour)
	reg.Mutate(task.ID, func(tk *flow.Task) bool {
		tk.Status = flow.TaskCompleted
		tk.CompletedAt = &past
		return true
	})

	removed := reg.Cleanup(time.Now())
	assert.Equal(t, 1, removed)
	_, ok := reg.Get(task.ID)
	assert.False(t, ok)
}
