package flow

import "time"

// TaskStatus is a node in the state machine normatively defined in the task
// orchestrator component. Only orchestrator.go may mutate a Task's Status;
// every other package treats it as read-only.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskQueued    TaskStatus = "queued"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskBlocked   TaskStatus = "blocked"
)

// TaskMetadata carries the bookkeeping fields that do not participate in the
// state machine itself but are read by the orchestrator's retry and
// assignment policies.
type TaskMetadata struct {
	RetryCount           int      `json:"retryCount"`
	MaxRetries           int      `json:"maxRetries"`
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty"`
	Domain               string   `json:"domain,omitempty"`
	Phase                string   `json:"phase,omitempty"`
	ParentID             string   `json:"parentId,omitempty"`
	ChildIDs             []string `json:"childIds,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
}

// TaskSpec is the caller-supplied shape for CreateTask; the kernel populates
// everything else (id, timestamps, status).
type TaskSpec struct {
	Type         string        `json:"type"`
	Description  string        `json:"description"`
	Priority     int           `json:"priority"` // default 50 if zero
	Timeout      time.Duration `json:"timeout,omitempty"`
	Dependencies []string      `json:"dependencies,omitempty"`
	Input        interface{}   `json:"input,omitempty"`
	Metadata     TaskMetadata  `json:"metadata"`
}

// Task is a unit of work flowing through the orchestrator's state machine.
type Task struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Priority    int         `json:"priority"`
	Status      TaskStatus  `json:"status"`
	Input       interface{} `json:"input,omitempty"`
	Output      interface{} `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`

	AssignedAgentID string `json:"assignedAgentId,omitempty"`

	// Dependencies holds the set of task ids that must complete before this
	// task may run. Dependents is the reverse index: tasks that name this
	// task as a dependency. Both are maintained by the orchestrator's
	// dependency graph, never mutated directly by callers.
	Dependencies map[string]struct{} `json:"-"`
	Dependents   map[string]struct{} `json:"-"`

	Metadata TaskMetadata `json:"metadata"`
}

// DependencyList returns Dependencies as a slice for JSON responses and
// snapshots; the order of the ids is not defined.
func (t *Task) DependencyList() []string {
	out := make([]string, 0, len(t.Dependencies))
	for id := range t.Dependencies {
		out = append(out, id)
	}
	return out
}

// WaitTime returns StartedAt-CreatedAt, or zero if the task has not started.
func (t *Task) WaitTime() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return t.StartedAt.Sub(t.CreatedAt)
}

// Duration returns CompletedAt-StartedAt, or zero if the task has not
// completed or never started.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// IsTerminal reports whether Status can no longer transition (other than the
// documented failed->queued retry path, which orchestrator.go handles
// explicitly rather than treating failed as non-terminal here).
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskCompleted, TaskCancelled:
		return true
	default:
		return false
	}
}

// Clone returns a copy safe to hand outside the registry's lock.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Dependencies != nil {
		cp.Dependencies = make(map[string]struct{}, len(t.Dependencies))
		for k := range t.Dependencies {
			cp.Dependencies[k] = struct{}{}
		}
	}
	if t.Dependents != nil {
		cp.Dependents = make(map[string]struct{}, len(t.Dependents))
		for k := range t.Dependents {
			cp.Dependents[k] = struct{}{}
		}
	}
	cp.Metadata.RequiredCapabilities = append([]string(nil), t.Metadata.RequiredCapabilities...)
	cp.Metadata.ChildIDs = append([]string(nil), t.Metadata.ChildIDs...)
	cp.Metadata.Tags = append([]string(nil), t.Metadata.Tags...)
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}
