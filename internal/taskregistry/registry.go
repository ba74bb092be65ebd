// Package taskregistry is the task half of the kernel's task arena: a
// map from task id to task record plus aggregate metrics. The queue half
// lives in internal/taskqueue; the orchestrator owns state transitions
// across both.
package taskregistry

import (
	"sync"
	"time"

	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/pkg/flow"
)

// Metrics is a read-only snapshot of aggregate task counters.
type Metrics struct {
	TotalTasks     int64
	CompletedTasks int64
	FailedTasks    int64
	CancelledTasks int64
	TotalDuration  time.Duration
	TotalWaitTime  time.Duration
}

// AverageDuration returns the arithmetic mean task run duration over
// completed tasks, zero if none have completed.
func (m Metrics) AverageDuration() time.Duration {
	if m.CompletedTasks == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.CompletedTasks)
}

// AverageWaitTime returns the arithmetic mean queue wait time over
// completed tasks, zero if none have completed.
func (m Metrics) AverageWaitTime() time.Duration {
	if m.CompletedTasks == 0 {
		return 0
	}
	return m.TotalWaitTime / time.Duration(m.CompletedTasks)
}

// Registry owns every task's record for its entire lifetime.
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]*flow.Task
	metrics Metrics
	bus     eventbus.EventBus
}

func New(bus eventbus.EventBus) *Registry {
	return &Registry{
		tasks: make(map[string]*flow.Task),
		bus:   bus,
	}
}

// NewTaskID returns a cryptographically random, collision-free task id: a
// hex-encoded nanosecond timestamp (for human-debuggable rough ordering in
// logs, never relied on for uniqueness) followed by a uuid body.
func NewTaskID() string {
	return flow.NewID("task")
}

// Create registers a new task from spec with status=pending and emits
// task:created. The caller never supplies the id.
func (r *Registry) Create(spec flow.TaskSpec) *flow.Task {
	priority := spec.Priority
	if priority == 0 {
		priority = 50
	}

	task := &flow.Task{
		ID:           NewTaskID(),
		Type:         spec.Type,
		Description:  spec.Description,
		Priority:     priority,
		Status:       flow.TaskPending,
		Input:        spec.Input,
		CreatedAt:    time.Now().UTC(),
		Timeout:      spec.Timeout,
		Dependencies: make(map[string]struct{}),
		Dependents:   make(map[string]struct{}),
		Metadata:     spec.Metadata,
	}
	for _, dep := range spec.Dependencies {
		task.Dependencies[dep] = struct{}{}
	}

	r.mu.Lock()
	r.tasks[task.ID] = task
	r.metrics.TotalTasks++
	r.mu.Unlock()

	r.bus.Emit(eventbus.NewEvent("task:created", "taskregistry", map[string]interface{}{"taskId": task.ID}))
	return task.Clone()
}

// Get returns a snapshot of a task by id.
func (r *Registry) Get(id string) (*flow.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// mutate gives the caller exclusive access to the live (non-cloned) record
// for in-place transition application; it is for use by the orchestrator,
// which owns the state machine, not by arbitrary callers.
func (r *Registry) mutate(id string, fn func(*flow.Task) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return false
	}
	return fn(t)
}

// Mutate exposes mutate to the orchestrator package.
func (r *Registry) Mutate(id string, fn func(*flow.Task) bool) bool {
	return r.mutate(id, fn)
}

// List returns a snapshot of every task currently held.
func (r *Registry) List() []*flow.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*flow.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// RecordCompletion updates aggregate counters for a task that just reached
// a terminal or failed status; called by the orchestrator at the point of
// transition.
func (r *Registry) RecordCompletion(t *flow.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch t.Status {
	case flow.TaskCompleted:
		r.metrics.CompletedTasks++
		r.metrics.TotalDuration += t.Duration()
		r.metrics.TotalWaitTime += t.WaitTime()
	case flow.TaskFailed:
		r.metrics.FailedTasks++
	case flow.TaskCancelled:
		r.metrics.CancelledTasks++
	}
}

// Metrics returns a read-only snapshot of aggregate counters.
func (r *Registry) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

// Cleanup purges terminal tasks completed before olderThan, returning the
// number removed.
func (r *Registry) Cleanup(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.tasks {
		if !t.IsTerminal() && t.Status != flow.TaskFailed {
			continue
		}
		if t.CompletedAt != nil && t.CompletedAt.Before(olderThan) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}
