// Package orchestrator implements the kernel's task orchestrator (C6): the
// normative task state machine, dependency graph, assignment policy, and
// retry policy, wired to the task registry, priority queue, and agent pool.
package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/claude-flow/core/internal/agentpool"
	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/internal/kernelerr"
	"github.com/claude-flow/core/internal/taskqueue"
	"github.com/claude-flow/core/internal/taskregistry"
	"github.com/claude-flow/core/pkg/flow"
)

// Orchestrator coordinates task admission, dependency resolution,
// assignment, and completion. Its only lock is graphMu; where it is held,
// it is taken before the calls into the registry, queue and pool, which
// each lock internally.
type Orchestrator struct {
	registry *taskregistry.Registry
	queue    *taskqueue.TaskQueue
	pool     *agentpool.Pool
	bus      eventbus.EventBus

	graphMu sync.Mutex // serializes dependency-graph mutations and blocking recomputation
}

func New(registry *taskregistry.Registry, queue *taskqueue.TaskQueue, pool *agentpool.Pool, bus eventbus.EventBus) *Orchestrator {
	return &Orchestrator{registry: registry, queue: queue, pool: pool, bus: bus}
}

// invalidState constructs the standard "invalid-state" error for a rejected
// transition.
func invalidState(taskID string, from flow.TaskStatus, action string) error {
	return kernelerr.NewConflict("invalid-state", fmt.Sprintf("task %s: cannot %s from status %q", taskID, action, from))
}

// CreateTask admits a new task, transitioning it directly to queued if it
// has no unmet dependencies, or to blocked otherwise.
func (o *Orchestrator) CreateTask(spec flow.TaskSpec) (*flow.Task, error) {
	task := o.registry.Create(spec)
	o.graphMu.Lock()
	for depID := range task.Dependencies {
		o.registry.Mutate(depID, func(t *flow.Task) bool {
			if t.Dependents == nil {
				t.Dependents = make(map[string]struct{})
			}
			t.Dependents[task.ID] = struct{}{}
			return true
		})
	}
	o.graphMu.Unlock()
	if err := o.admit(task.ID); err != nil {
		return nil, err
	}
	out, _ := o.registry.Get(task.ID)
	return out, nil
}

// CreateBatchTasks admits every spec, returning the created tasks in input
// order. A failure partway through does not roll back tasks already
// created; callers inspect the returned error slice semantics by checking
// the length of the result against the input.
func (o *Orchestrator) CreateBatchTasks(specs []flow.TaskSpec) ([]*flow.Task, error) {
	out := make([]*flow.Task, 0, len(specs))
	for _, spec := range specs {
		t, err := o.CreateTask(spec)
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

// admit computes whether taskID's dependencies are satisfied and performs
// the pending -> {queued, blocked} transition accordingly.
func (o *Orchestrator) admit(taskID string) error {
	o.graphMu.Lock()
	defer o.graphMu.Unlock()

	task, ok := o.registry.Get(taskID)
	if !ok {
		return kernelerr.NewNotFound("task-not-found", taskID)
	}
	if task.Status != flow.TaskPending {
		return invalidState(taskID, task.Status, "admit")
	}

	if o.blockingSetEmpty(task) {
		return o.transitionToQueued(taskID)
	}
	return o.transitionToBlocked(taskID)
}

// blockingSetEmpty reports whether every dependency of task has reached a
// terminal completed state. It is recomputed from the registry on every
// call rather than cached, per the correctness requirement under
// concurrent completions.
func (o *Orchestrator) blockingSetEmpty(task *flow.Task) bool {
	for depID := range task.Dependencies {
		dep, ok := o.registry.Get(depID)
		if !ok || dep.Status != flow.TaskCompleted {
			return false
		}
	}
	return true
}

func (o *Orchestrator) transitionToQueued(taskID string) error {
	var queuedTask *flow.Task
	o.registry.Mutate(taskID, func(t *flow.Task) bool {
		t.Status = flow.TaskQueued
		queuedTask = t.Clone()
		return true
	})
	overSoftLimit := o.queue.IsOverSoftLimit()
	if err := o.queue.Enqueue(queuedTask); err != nil {
		return err
	}
	o.bus.Emit(eventbus.NewEvent("task:queued", "orchestrator", map[string]interface{}{"taskId": taskID}))
	if overSoftLimit {
		o.bus.Emit(eventbus.NewEvent("system:warning", "orchestrator", map[string]interface{}{
			"reason":     "queue-soft-limit-exceeded",
			"queueDepth": o.queue.Len(),
		}))
	}
	return nil
}

func (o *Orchestrator) transitionToBlocked(taskID string) error {
	o.registry.Mutate(taskID, func(t *flow.Task) bool {
		t.Status = flow.TaskBlocked
		return true
	})
	o.bus.Emit(eventbus.NewEvent("task:blocked", "orchestrator", map[string]interface{}{"taskId": taskID}))
	return nil
}

// QueueTask forces a pending or blocked task back through admission. It is
// the external hook for re-evaluating a task after out-of-band changes.
func (o *Orchestrator) QueueTask(taskID string) error {
	task, ok := o.registry.Get(taskID)
	if !ok {
		return kernelerr.NewNotFound("task-not-found", taskID)
	}
	switch task.Status {
	case flow.TaskPending:
		return o.admit(taskID)
	case flow.TaskBlocked:
		o.graphMu.Lock()
		defer o.graphMu.Unlock()
		if !o.blockingSetEmpty(task) {
			return invalidState(taskID, task.Status, "queue")
		}
		return o.transitionToQueued(taskID)
	default:
		return invalidState(taskID, task.Status, "queue")
	}
}

// AddDependency inserts a dependency edge taskID -> dependsOnID, rejecting
// it if it would create a cycle or either task does not exist. If taskID is
// currently queued, a new dependency may move it back to blocked.
func (o *Orchestrator) AddDependency(taskID, dependsOnID string) error {
	o.graphMu.Lock()
	defer o.graphMu.Unlock()

	if taskID == dependsOnID {
		return kernelerr.NewValidation("self-dependency", "a task cannot depend on itself")
	}
	task, ok := o.registry.Get(taskID)
	if !ok {
		return kernelerr.NewNotFound("task-not-found", taskID)
	}
	if _, ok := o.registry.Get(dependsOnID); !ok {
		return kernelerr.NewNotFound("task-not-found", dependsOnID)
	}
	if o.wouldCycle(dependsOnID, taskID) {
		return kernelerr.NewConflict("circular-dependency", fmt.Sprintf("adding %s -> %s would create a cycle", taskID, dependsOnID))
	}

	o.registry.Mutate(taskID, func(t *flow.Task) bool {
		if t.Dependencies == nil {
			t.Dependencies = make(map[string]struct{})
		}
		t.Dependencies[dependsOnID] = struct{}{}
		return true
	})
	o.registry.Mutate(dependsOnID, func(t *flow.Task) bool {
		if t.Dependents == nil {
			t.Dependents = make(map[string]struct{})
		}
		t.Dependents[taskID] = struct{}{}
		return true
	})

	if task.Status == flow.TaskQueued {
		refreshed, _ := o.registry.Get(taskID)
		if !o.blockingSetEmpty(refreshed) {
			o.queue.Remove(taskID)
			o.registry.Mutate(taskID, func(t *flow.Task) bool {
				t.Status = flow.TaskBlocked
				return true
			})
			o.bus.Emit(eventbus.NewEvent("task:blocked", "orchestrator", map[string]interface{}{"taskId": taskID}))
		}
	}
	return nil
}

// RemoveDependency deletes the edge and, if the dependent task is now
// fully unblocked, transitions it blocked -> queued.
func (o *Orchestrator) RemoveDependency(taskID, dependsOnID string) error {
	o.graphMu.Lock()
	defer o.graphMu.Unlock()

	task, ok := o.registry.Get(taskID)
	if !ok {
		return kernelerr.NewNotFound("task-not-found", taskID)
	}

	o.registry.Mutate(taskID, func(t *flow.Task) bool {
		delete(t.Dependencies, dependsOnID)
		return true
	})
	o.registry.Mutate(dependsOnID, func(t *flow.Task) bool {
		delete(t.Dependents, taskID)
		return true
	})

	if task.Status == flow.TaskBlocked {
		refreshed, _ := o.registry.Get(taskID)
		if o.blockingSetEmpty(refreshed) {
			return o.transitionToQueued(taskID)
		}
	}
	return nil
}

// wouldCycle reports whether a path already exists from `from` to `to`
// (meaning adding the edge to->from, i.e. from depends transitively on the
// thing that would depend on it, creates a cycle). Walk is a DFS over the
// Dependencies graph starting at from.
func (o *Orchestrator) wouldCycle(from, to string) bool {
	visited := make(map[string]bool)
	var dfs func(id string) bool
	dfs = func(id string) bool {
		if id == to {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		task, ok := o.registry.Get(id)
		if !ok {
			return false
		}
		for depID := range task.Dependencies {
			if dfs(depID) {
				return true
			}
		}
		return false
	}
	return dfs(from)
}

// AssignTask explicitly assigns taskID to agentID, bypassing the priority
// queue. Used by callers that have already selected a specific agent.
func (o *Orchestrator) AssignTask(taskID, agentID string) error {
	task, ok := o.registry.Get(taskID)
	if !ok {
		return kernelerr.NewNotFound("task-not-found", taskID)
	}
	if task.Status != flow.TaskQueued {
		return invalidState(taskID, task.Status, "assign")
	}
	agent, ok := o.pool.Get(agentID)
	if !ok {
		return kernelerr.NewNotFound("agent-not-found", agentID)
	}
	if !o.queue.Remove(taskID) {
		return invalidState(taskID, task.Status, "assign")
	}
	if err := o.doAssign(task, agent); err != nil {
		_ = o.queue.Enqueue(task)
		return err
	}
	return nil
}

// doAssign transitions task to assigned and increments agent's load. Callers
// must have already removed task from the queue; on a capacity error the
// task is left unassigned and it is the caller's responsibility to
// re-enqueue it.
func (o *Orchestrator) doAssign(task *flow.Task, agent *flow.Agent) error {
	if !agent.HasCapacity() {
		return kernelerr.NewCapacity("agent-at-capacity", "agent "+agent.ID+" has no available task capacity")
	}
	o.registry.Mutate(task.ID, func(t *flow.Task) bool {
		t.Status = flow.TaskAssigned
		t.AssignedAgentID = agent.ID
		return true
	})
	o.pool.Mutate(agent.ID, func(a *flow.Agent) bool {
		a.CurrentTaskCount++
		a.LastActivityAt = time.Now().UTC()
		return true
	})
	o.bus.Emit(eventbus.NewEvent("task:assigned", "orchestrator", map[string]interface{}{
		"taskId":  task.ID,
		"agentId": agent.ID,
	}))
	return nil
}

// GetNextTask dequeues and assigns the highest-priority eligible task. If
// agentID is empty, the head of the queue is returned regardless of
// capability. If agentID is given, the task's requiredCapabilities must be
// a subset of the agent's capabilities and its type must be supported.
//
// If the agent disappears between dequeue and assignment, the task is
// re-enqueued at its original priority and GetNextTask returns nil, nil.
func (o *Orchestrator) GetNextTask(agentID string) (*flow.Task, error) {
	if agentID == "" {
		qt := o.queue.Dequeue()
		if qt == nil {
			return nil, nil
		}
		return qt.Task.Clone(), nil
	}

	agent, ok := o.pool.Get(agentID)
	if !ok {
		return nil, kernelerr.NewNotFound("agent-not-found", agentID)
	}

	qt := o.queue.DequeueMatching(func(t *flow.Task) bool {
		return agent.HasCapacity() && taskEligibleFor(t, agent)
	})
	if qt == nil {
		return nil, nil
	}

	agent, ok = o.pool.Get(agentID)
	if !ok || !agent.HasCapacity() {
		_ = o.queue.Enqueue(qt.Task)
		return nil, nil
	}

	if err := o.doAssign(qt.Task, agent); err != nil {
		_ = o.queue.Enqueue(qt.Task)
		return nil, nil
	}
	out, _ := o.registry.Get(qt.Task.ID)
	return out, nil
}

func taskEligibleFor(t *flow.Task, agent *flow.Agent) bool {
	if !agent.SupportsTaskType(t.Type) {
		return false
	}
	return agent.HasCapability(t.Metadata.RequiredCapabilities)
}

// StartTask transitions an assigned task to running.
func (o *Orchestrator) StartTask(taskID string) error {
	task, ok := o.registry.Get(taskID)
	if !ok {
		return kernelerr.NewNotFound("task-not-found", taskID)
	}
	if task.Status != flow.TaskAssigned {
		return invalidState(taskID, task.Status, "start")
	}
	now := time.Now().UTC()
	o.registry.Mutate(taskID, func(t *flow.Task) bool {
		t.Status = flow.TaskRunning
		t.StartedAt = &now
		return true
	})
	o.bus.Emit(eventbus.NewEvent("task:started", "orchestrator", map[string]interface{}{"taskId": taskID}))
	return nil
}

// CompleteTask transitions a running task to completed, records the
// result, releases the assigned agent's slot, and unblocks dependents.
func (o *Orchestrator) CompleteTask(taskID string, result interface{}) error {
	task, ok := o.registry.Get(taskID)
	if !ok {
		return kernelerr.NewNotFound("task-not-found", taskID)
	}
	if task.Status != flow.TaskRunning {
		return invalidState(taskID, task.Status, "complete")
	}

	now := time.Now().UTC()
	o.registry.Mutate(taskID, func(t *flow.Task) bool {
		t.Status = flow.TaskCompleted
		t.Output = result
		t.CompletedAt = &now
		return true
	})
	o.releaseAgent(task.AssignedAgentID, true)

	final, _ := o.registry.Get(taskID)
	o.registry.RecordCompletion(final)
	o.bus.Emit(eventbus.NewEvent("task:completed", "orchestrator", map[string]interface{}{"taskId": taskID}))

	o.unblockDependents(taskID)
	return nil
}

// FailTask transitions a running task to failed. Requeueing a failed task
// whose retries remain is a separate RetryTask call.
func (o *Orchestrator) FailTask(taskID string, cause error) error {
	task, ok := o.registry.Get(taskID)
	if !ok {
		return kernelerr.NewNotFound("task-not-found", taskID)
	}
	if task.Status != flow.TaskRunning {
		return invalidState(taskID, task.Status, "fail")
	}

	now := time.Now().UTC()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	o.registry.Mutate(taskID, func(t *flow.Task) bool {
		t.Status = flow.TaskFailed
		t.Error = msg
		t.CompletedAt = &now
		return true
	})
	o.releaseAgent(task.AssignedAgentID, false)

	final, _ := o.registry.Get(taskID)
	o.registry.RecordCompletion(final)
	o.bus.Emit(eventbus.NewEvent("task:failed", "orchestrator", map[string]interface{}{
		"taskId": taskID,
		"error":  msg,
	}))
	return nil
}

func (o *Orchestrator) releaseAgent(agentID string, success bool) {
	if agentID == "" {
		return
	}
	o.pool.Mutate(agentID, func(a *flow.Agent) bool {
		if a.CurrentTaskCount > 0 {
			a.CurrentTaskCount--
		}
		if success {
			a.TasksCompleted++
		} else {
			a.TasksFailed++
			a.ErrorCount++
		}
		a.LastActivityAt = time.Now().UTC()
		return true
	})
}

// RetryTask re-queues a failed task if its retry policy allows another
// attempt, otherwise the failure is terminal.
func (o *Orchestrator) RetryTask(taskID string) error {
	task, ok := o.registry.Get(taskID)
	if !ok {
		return kernelerr.NewNotFound("task-not-found", taskID)
	}
	if task.Status != flow.TaskFailed {
		return invalidState(taskID, task.Status, "retry")
	}
	if task.Metadata.RetryCount >= task.Metadata.MaxRetries {
		return kernelerr.NewConflict("retries-exhausted", fmt.Sprintf("task %s has exhausted its %d retries", taskID, task.Metadata.MaxRetries))
	}

	o.registry.Mutate(taskID, func(t *flow.Task) bool {
		t.Metadata.RetryCount++
		t.Status = flow.TaskQueued
		t.Error = ""
		t.AssignedAgentID = ""
		t.StartedAt = nil
		t.CompletedAt = nil
		return true
	})
	refreshed, _ := o.registry.Get(taskID)
	if err := o.queue.Enqueue(refreshed); err != nil {
		return err
	}
	o.bus.Emit(eventbus.NewEvent("task:queued", "orchestrator", map[string]interface{}{
		"taskId":     taskID,
		"retryCount": refreshed.Metadata.RetryCount,
	}))
	return nil
}

// CancelTask transitions pending, queued, assigned, running, or blocked
// tasks to cancelled. Any terminal task rejects cancellation.
func (o *Orchestrator) CancelTask(taskID string) error {
	task, ok := o.registry.Get(taskID)
	if !ok {
		return kernelerr.NewNotFound("task-not-found", taskID)
	}
	switch task.Status {
	case flow.TaskPending, flow.TaskQueued, flow.TaskAssigned, flow.TaskRunning, flow.TaskBlocked:
	default:
		return invalidState(taskID, task.Status, "cancel")
	}

	o.queue.Remove(taskID)
	if task.Status == flow.TaskAssigned || task.Status == flow.TaskRunning {
		o.releaseAgent(task.AssignedAgentID, false)
	}

	now := time.Now().UTC()
	o.registry.Mutate(taskID, func(t *flow.Task) bool {
		t.Status = flow.TaskCancelled
		t.CompletedAt = &now
		return true
	})
	final, _ := o.registry.Get(taskID)
	o.registry.RecordCompletion(final)
	o.bus.Emit(eventbus.NewEvent("task:cancelled", "orchestrator", map[string]interface{}{"taskId": taskID}))
	return nil
}

// unblockDependents walks the completed task's reverse edges; any
// dependent whose blocking set has become empty moves blocked -> queued.
// The blocking set is recomputed per dependent rather than cached.
func (o *Orchestrator) unblockDependents(completedID string) {
	o.graphMu.Lock()
	defer o.graphMu.Unlock()

	task, ok := o.registry.Get(completedID)
	if !ok {
		return
	}
	dependents := make([]string, 0, len(task.Dependents))
	for id := range task.Dependents {
		dependents = append(dependents, id)
	}
	sort.Strings(dependents)

	for _, depID := range dependents {
		dep, ok := o.registry.Get(depID)
		if !ok || dep.Status != flow.TaskBlocked {
			continue
		}
		if o.blockingSetEmpty(dep) {
			_ = o.transitionToQueued(depID)
		}
	}
}

// DetectDeadlock reports whether every non-terminal task is blocked and
// every blocker referenced by a blocked task is itself non-terminal and
// present in the same stuck set, meaning no queued or running task exists
// that could ever unblock the rest.
func (o *Orchestrator) DetectDeadlock() bool {
	all := o.registry.List()
	nonTerminal := make(map[string]*flow.Task)
	for _, t := range all {
		switch t.Status {
		case flow.TaskCompleted, flow.TaskCancelled, flow.TaskFailed:
		default:
			nonTerminal[t.ID] = t
		}
	}
	if len(nonTerminal) == 0 {
		return false
	}
	for _, t := range nonTerminal {
		if t.Status != flow.TaskBlocked {
			return false
		}
		for depID := range t.Dependencies {
			if _, stuck := nonTerminal[depID]; !stuck {
				dep, ok := o.registry.Get(depID)
				if ok && dep.Status == flow.TaskCompleted {
					continue
				}
				return false
			}
		}
	}
	return true
}

// Metrics returns the underlying registry's aggregate task metrics.
func (o *Orchestrator) Metrics() taskregistry.Metrics {
	return o.registry.Metrics()
}

// Tasks returns a snapshot of every task currently held by the registry.
func (o *Orchestrator) Tasks() []*flow.Task {
	return o.registry.List()
}

// RunningTaskCount reports how many tasks are currently in the running
// state, used by the swarm coordinator's shutdown drain loop.
func (o *Orchestrator) RunningTaskCount() int {
	count := 0
	for _, t := range o.registry.List() {
		if t.Status == flow.TaskRunning {
			count++
		}
	}
	return count
}
