package flow

import "time"

// AgentStatus is the lifecycle status of a pooled agent.
type AgentStatus string

const (
	AgentSpawning   AgentStatus = "spawning"
	AgentActive     AgentStatus = "active"
	AgentIdle       AgentStatus = "idle"
	AgentBusy       AgentStatus = "busy"
	AgentBlocked    AgentStatus = "blocked"
	AgentTerminated AgentStatus = "terminated"
	AgentError      AgentStatus = "error"
)

// HealthState is the coarse health classification derived from an agent's
// error rate (see agentpool.CheckHealth).
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// RetryPolicy configures how an agent's own task attempts are retried; it is
// distinct from task-level retry bookkeeping in Task.Metadata, and exists so
// that a given agent type can carry its own default policy.
type RetryPolicy struct {
	MaxRetries int           `json:"maxRetries"`
	BaseDelay  time.Duration `json:"baseDelay"`
}

// ResourceCaps bounds what an agent may consume; the kernel treats these as
// opaque hints for the execution substrate it does not manage.
type ResourceCaps struct {
	CPUMillis  int `json:"cpuMillis,omitempty"`
	MemoryMB   int `json:"memoryMB,omitempty"`
	TimeoutSec int `json:"timeoutSec,omitempty"`
}

// AgentConfig is the immutable-at-spawn-time configuration for an agent.
type AgentConfig struct {
	Type                string        `json:"type"`
	Capabilities        []string      `json:"capabilities"`
	SupportedTaskTypes  []string      `json:"supportedTaskTypes"`
	MaxConcurrentTasks  int           `json:"maxConcurrentTasks"`
	Priority            int           `json:"priority"` // 0-100
	Timeout             time.Duration `json:"timeout,omitempty"`
	Retry               RetryPolicy   `json:"retry"`
	Resources           ResourceCaps  `json:"resources"`
}

// HealthRecord is the most recent health evaluation for an agent.
type HealthRecord struct {
	State     HealthState `json:"state"`
	ErrorRate float64     `json:"errorRate"`
	CheckedAt time.Time   `json:"checkedAt"`
}

// Agent is a bounded work-handler identified by a stable opaque id.
// Agents are abstract: the kernel knows nothing about what actually executes
// the work, only its capability surface and current load.
type Agent struct {
	ID        string      `json:"id"`
	Config    AgentConfig `json:"config"`
	Status    AgentStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`

	TasksCompleted   int64 `json:"tasksCompleted"`
	TasksFailed      int64 `json:"tasksFailed"`
	ErrorCount       int64 `json:"errorCount"`
	CurrentTaskCount int   `json:"currentTaskCount"`

	LastActivityAt time.Time     `json:"lastActivityAt"`
	Health         *HealthRecord `json:"health,omitempty"`
}

// HasCapacity reports whether the agent can accept one more task.
func (a *Agent) HasCapacity() bool {
	return a.CurrentTaskCount < a.Config.MaxConcurrentTasks
}

// HasCapability reports whether the agent advertises every tag in required.
func (a *Agent) HasCapability(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(a.Config.Capabilities))
	for _, c := range a.Config.Capabilities {
		have[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// SupportsTaskType reports whether the agent is configured to run tasks of
// the given type. An agent with no declared supported types supports none.
func (a *Agent) SupportsTaskType(taskType string) bool {
	for _, t := range a.Config.SupportedTaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// pool's lock (slices are copied, the health pointer is duplicated).
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Config.Capabilities = append([]string(nil), a.Config.Capabilities...)
	cp.Config.SupportedTaskTypes = append([]string(nil), a.Config.SupportedTaskTypes...)
	if a.Health != nil {
		h := *a.Health
		cp.Health = &h
	}
	return &cp
}
