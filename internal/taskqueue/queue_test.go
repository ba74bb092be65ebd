package taskqueue

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-flow/core/pkg/flow"
)

func newTestTask(id string, priority int) *flow.Task {
	return &flow.Task{
		ID:        id,
		Type:      "test",
		Priority:  priority,
		Status:    flow.TaskQueued,
		CreatedAt: time.Now(),
	}
}

func TestNewTaskQueue(t *testing.T) {
	q := NewTaskQueue(0, 100)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueDequeue(t *testing.T) {
	q := NewTaskQueue(0, 10)
	task := newTestTask("task-1", 5)

	require.NoError(t, q.Enqueue(task))
	assert.Equal(t, 1, q.Len())

	dequeued := q.Dequeue()
	require.NotNil(t, dequeued)
	assert.Equal(t, task.ID, dequeued.Task.ID)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueDuplicateRejected(t *testing.T) {
	q := NewTaskQueue(0, 10)
	task := newTestTask("task-1", 5)

	require.NoError(t, q.Enqueue(task))
	assert.ErrorIs(t, q.Enqueue(task), ErrTaskExists)
}

func TestEnqueueRejectsAboveHardLimit(t *testing.T) {
	q := NewTaskQueue(0, 2)
	require.NoError(t, q.Enqueue(newTestTask("task-1", 5)))
	require.NoError(t, q.Enqueue(newTestTask("task-2", 5)))
	assert.ErrorIs(t, q.Enqueue(newTestTask("task-3", 5)), ErrQueueFull)
}

func TestDequeueEmptyQueue(t *testing.T) {
	q := NewTaskQueue(0, 10)
	assert.Nil(t, q.Dequeue())
}

func TestPriorityOrdering(t *testing.T) {
	q := NewTaskQueue(0, 10)
	require.NoError(t, q.Enqueue(newTestTask("low", 1)))
	require.NoError(t, q.Enqueue(newTestTask("high", 10)))
	require.NoError(t, q.Enqueue(newTestTask("medium", 5)))

	assert.Equal(t, "high", q.Dequeue().Task.ID)
	assert.Equal(t, "medium", q.Dequeue().Task.ID)
	assert.Equal(t, "low", q.Dequeue().Task.ID)
}

func TestUpdatePriorityReordersHeap(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewTaskQueue(0, 10)
		ta := newTestTask("TA", 80)
		require.NoError(t, q.Enqueue(ta))
		time.Sleep(time.Millisecond)
		tb := newTestTask("TB", 80)
		require.NoError(t, q.Enqueue(tb))

		peek := q.List()
		_ = peek
		assert.True(t, q.UpdatePriority("TB", 90))

		first := q.Dequeue()
		assert.Equal(t, "TB", first.Task.ID)
	})
}

func TestPriorityTieBreaksOnEarlierCreation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewTaskQueue(0, 10)
		require.NoError(t, q.Enqueue(newTestTask("first", 50)))
		time.Sleep(time.Millisecond)
		require.NoError(t, q.Enqueue(newTestTask("second", 50)))

		assert.Equal(t, "first", q.Dequeue().Task.ID)
		assert.Equal(t, "second", q.Dequeue().Task.ID)
	})
}

func TestRemove(t *testing.T) {
	q := NewTaskQueue(0, 10)
	require.NoError(t, q.Enqueue(newTestTask("task-1", 5)))
	require.NoError(t, q.Enqueue(newTestTask("task-2", 3)))

	assert.True(t, q.Remove("task-1"))
	assert.Equal(t, 1, q.Len())
	assert.False(t, q.Remove("task-1"))
}

func TestRemoveNonExistent(t *testing.T) {
	q := NewTaskQueue(0, 10)
	assert.False(t, q.Remove("nonexistent"))
}

func TestSoftAndHardLimit(t *testing.T) {
	q := NewTaskQueue(1, 2)
	assert.False(t, q.IsOverSoftLimit())

	require.NoError(t, q.Enqueue(newTestTask("task-1", 5)))
	assert.True(t, q.IsOverSoftLimit())
	assert.False(t, q.IsFull())

	require.NoError(t, q.Enqueue(newTestTask("task-2", 5)))
	assert.True(t, q.IsFull())
}

func TestList(t *testing.T) {
	q := NewTaskQueue(0, 10)
	require.NoError(t, q.Enqueue(newTestTask("task-1", 5)))
	require.NoError(t, q.Enqueue(newTestTask("task-2", 3)))
	require.NoError(t, q.Enqueue(newTestTask("task-3", 7)))

	assert.Len(t, q.List(), 3)
}

func TestUnlimitedQueue(t *testing.T) {
	q := NewTaskQueue(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Enqueue(newTestTask(string(rune('a'+i)), 5)))
	}
	assert.False(t, q.IsFull())
}

func TestDequeueMatchingSkipsIneligibleAndPreservesThem(t *testing.T) {
	q := NewTaskQueue(0, 10)
	require.NoError(t, q.Enqueue(newTestTask("high-wrong-type", 90)))
	require.NoError(t, q.Enqueue(newTestTask("low-right-type", 10)))

	got := q.DequeueMatching(func(t *flow.Task) bool { return t.ID == "low-right-type" })
	require.NotNil(t, got)
	assert.Equal(t, "low-right-type", got.Task.ID)
	assert.Equal(t, 1, q.Len(), "the skipped higher-priority task must remain queued")

	next := q.Dequeue()
	require.NotNil(t, next)
	assert.Equal(t, "high-wrong-type", next.Task.ID)
}

func TestDequeueMatchingNoneMatchLeavesQueueIntact(t *testing.T) {
	q := NewTaskQueue(0, 10)
	require.NoError(t, q.Enqueue(newTestTask("task-1", 5)))

	got := q.DequeueMatching(func(t *flow.Task) bool { return false })
	assert.Nil(t, got)
	assert.Equal(t, 1, q.Len())
}
