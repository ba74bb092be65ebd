// Package taskqueue implements the kernel's priority queue over pending
// tasks: a container/heap priority queue ordered by descending priority,
// ties broken by earlier task creation time.
package taskqueue

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/claude-flow/core/pkg/flow"
)

var (
	ErrQueueFull  = errors.New("taskqueue: queue is full")
	ErrTaskExists = errors.New("taskqueue: task already queued")
)

// QueuedTask is one entry in the priority queue.
type QueuedTask struct {
	Task     *flow.Task
	Priority int
	index    int
}

type taskHeap []*QueuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Task.CreatedAt.Before(h[j].Task.CreatedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	item := x.(*QueuedTask)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// TaskQueue is a thread-safe priority queue over pending tasks, with a soft
// limit (admission continues but signals backpressure) and a hard limit
// (admission is rejected) per the kernel's resource model.
type TaskQueue struct {
	mu        sync.RWMutex
	heap      taskHeap
	byID      map[string]*QueuedTask
	softLimit int
	hardLimit int
}

// NewTaskQueue constructs an empty queue. A zero limit means unbounded.
func NewTaskQueue(softLimit, hardLimit int) *TaskQueue {
	q := &TaskQueue{
		heap:      make(taskHeap, 0),
		byID:      make(map[string]*QueuedTask),
		softLimit: softLimit,
		hardLimit: hardLimit,
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue admits task into the queue. It fails with ErrTaskExists if the
// task is already queued, or ErrQueueFull once the hard limit is reached.
func (q *TaskQueue) Enqueue(task *flow.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[task.ID]; exists {
		return ErrTaskExists
	}
	if q.hardLimit > 0 && len(q.heap) >= q.hardLimit {
		return ErrQueueFull
	}

	qt := &QueuedTask{Task: task, Priority: task.Priority}
	heap.Push(&q.heap, qt)
	q.byID[task.ID] = qt
	return nil
}

// Dequeue removes and returns the highest-priority task, nil if empty.
func (q *TaskQueue) Dequeue() *QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	qt := heap.Pop(&q.heap).(*QueuedTask)
	delete(q.byID, qt.Task.ID)
	return qt
}

// UpdatePriority changes a queued task's priority in place, re-establishing
// the heap invariant. It reports false if taskID is not currently queued.
func (q *TaskQueue) UpdatePriority(taskID string, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	qt, ok := q.byID[taskID]
	if !ok {
		return false
	}
	qt.Priority = priority
	heap.Fix(&q.heap, qt.index)
	return true
}

// DequeueMatching removes and returns the highest-priority task for which
// match returns true, leaving every task it skipped over back in the
// queue at its original priority. It returns nil if no entry matches.
func (q *TaskQueue) DequeueMatching(match func(*flow.Task) bool) *QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*QueuedTask
	var found *QueuedTask
	for len(q.heap) > 0 {
		qt := heap.Pop(&q.heap).(*QueuedTask)
		delete(q.byID, qt.Task.ID)
		if match(qt.Task) {
			found = qt
			break
		}
		skipped = append(skipped, qt)
	}
	for _, qt := range skipped {
		qt.index = -1
		heap.Push(&q.heap, qt)
		q.byID[qt.Task.ID] = qt
	}
	return found
}

// Remove drops taskID from the queue without dequeuing it for assignment.
func (q *TaskQueue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	qt, exists := q.byID[taskID]
	if !exists {
		return false
	}
	heap.Remove(&q.heap, qt.index)
	delete(q.byID, taskID)
	return true
}

func (q *TaskQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.heap)
}

// IsOverSoftLimit reports whether admission should emit a backpressure
// warning on the next enqueue (soft limit exceeded, hard limit not yet hit).
func (q *TaskQueue) IsOverSoftLimit() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.softLimit > 0 && len(q.heap) >= q.softLimit
}

func (q *TaskQueue) IsFull() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.hardLimit > 0 && len(q.heap) >= q.hardLimit
}

// List returns a snapshot of every queued entry; order is heap-internal,
// not priority order.
func (q *TaskQueue) List() []*QueuedTask {
	q.mu.RLock()
	defer q.mu.RUnlock()
	result := make([]*QueuedTask, len(q.heap))
	copy(result, q.heap)
	return result
}
