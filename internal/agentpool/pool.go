// Package agentpool implements the kernel's fixed-capacity agent pool (C3):
// spawn/terminate/restart, O(1) lookups, and error-rate health
// classification.
package agentpool

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/pkg/flow"
)

var (
	ErrCapacityExhausted = errors.New("agentpool: maximum concurrent agents reached")
	ErrAgentExists       = errors.New("agentpool: agent id already registered")
	ErrAgentNotFound     = errors.New("agentpool: agent not found")
)

// SpawnResult is one entry of a SpawnBatch report.
type SpawnResult struct {
	ID    string
	Agent *flow.Agent
	Err   error
}

// Pool is the kernel's fixed-capacity agent pool.
type Pool struct {
	mu       sync.RWMutex
	agents   map[string]*flow.Agent
	capacity int
	bus      eventbus.EventBus
}

func New(capacity int, bus eventbus.EventBus) *Pool {
	return &Pool{
		agents:   make(map[string]*flow.Agent),
		capacity: capacity,
		bus:      bus,
	}
}

func newAgentID() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("agent_%s", hex.EncodeToString(buf[:]))
}

// Spawn constructs a new agent record in "spawning", transitions it to
// "active", and emits agent:spawned. It fails if the pool is at capacity.
func (p *Pool) Spawn(cfg flow.AgentConfig) (*flow.Agent, error) {
	p.mu.Lock()
	if len(p.agents) >= p.capacity {
		p.mu.Unlock()
		return nil, ErrCapacityExhausted
	}

	agent := &flow.Agent{
		ID:             newAgentID(),
		Config:         cfg,
		Status:         flow.AgentSpawning,
		CreatedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	}
	p.agents[agent.ID] = agent
	agent.Status = flow.AgentActive
	p.mu.Unlock()

	p.bus.Emit(eventbus.NewEvent("agent:spawned", "agentpool", map[string]interface{}{"agentId": agent.ID}))
	return agent.Clone(), nil
}

// SpawnBatch spawns len(configs) agents. If admitting the whole batch would
// exceed capacity, the entire batch is rejected before any agent is
// created; otherwise agents are spawned concurrently and results reported
// per-config in input order.
func (p *Pool) SpawnBatch(configs []flow.AgentConfig) ([]SpawnResult, error) {
	p.mu.RLock()
	remaining := p.capacity - len(p.agents)
	p.mu.RUnlock()

	if len(configs) > remaining {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d remaining slots", ErrCapacityExhausted, len(configs), remaining)
	}

	results := make([]SpawnResult, len(configs))
	var g errgroup.Group
	for i, cfg := range configs {
		i, cfg := i, cfg
		g.Go(func() error {
			agent, err := p.Spawn(cfg)
			results[i] = SpawnResult{Agent: agent, Err: err}
			if agent != nil {
				results[i].ID = agent.ID
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Terminate removes id from the pool and emits agent:terminated.
func (p *Pool) Terminate(id string, reason string) error {
	p.mu.Lock()
	agent, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return ErrAgentNotFound
	}
	agent.Status = flow.AgentTerminated
	delete(p.agents, id)
	p.mu.Unlock()

	p.bus.Emit(eventbus.NewEvent("agent:terminated", "agentpool", map[string]interface{}{
		"agentId": id,
		"reason":  reason,
	}))
	return nil
}

// Restart terminates id and spawns a fresh agent with the same
// configuration it held at termination.
func (p *Pool) Restart(id string, reason string) (*flow.Agent, error) {
	p.mu.RLock()
	agent, ok := p.agents[id]
	var cfg flow.AgentConfig
	if ok {
		cfg = agent.Config
	}
	p.mu.RUnlock()
	if !ok {
		return nil, ErrAgentNotFound
	}

	if err := p.Terminate(id, reason); err != nil {
		return nil, err
	}
	return p.Spawn(cfg)
}

// Get returns a snapshot of an agent, O(1).
func (p *Pool) Get(id string) (*flow.Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.agents[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// List returns a snapshot of every agent currently pooled.
func (p *Pool) List() []*flow.Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*flow.Agent, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a.Clone())
	}
	return out
}

// Len returns the current pool size.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.agents)
}

// Mutate exposes in-place access to the live agent record for the
// orchestrator's assignment bookkeeping (currentTaskCount, counters).
func (p *Pool) Mutate(id string, fn func(*flow.Agent) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return false
	}
	return fn(a)
}

// CheckHealth computes the error rate and classifies it, emitting
// agent:health-changed on any non-healthy result.
func (p *Pool) CheckHealth(id string) (*flow.HealthRecord, error) {
	p.mu.Lock()
	agent, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return nil, ErrAgentNotFound
	}

	denom := agent.TasksCompleted + agent.TasksFailed
	if denom < 1 {
		denom = 1
	}
	rate := float64(agent.ErrorCount) / float64(denom)

	state := flow.HealthHealthy
	switch {
	case rate >= 0.5:
		state = flow.HealthUnhealthy
	case rate >= 0.2:
		state = flow.HealthDegraded
	}

	record := &flow.HealthRecord{State: state, ErrorRate: rate, CheckedAt: time.Now().UTC()}
	agent.Health = record
	p.mu.Unlock()

	if state != flow.HealthHealthy {
		p.bus.Emit(eventbus.NewEvent("agent:health-changed", "agentpool", map[string]interface{}{
			"agentId": id,
			"state":   string(state),
			"rate":    rate,
		}))
	}

	out := *record
	return &out, nil
}
