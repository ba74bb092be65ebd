// Package swarm implements the kernel's canonical coordination engine
// (C7): topology membership, the inter-agent message bus, pluggable
// consensus, phase/milestone tracking, and the top-level initialize/
// shutdown lifecycle that supervises the agent pool, orchestrator, and
// plugin registry.
package swarm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/claude-flow/core/internal/agentpool"
	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/internal/health"
	"github.com/claude-flow/core/internal/kernelerr"
	"github.com/claude-flow/core/internal/logging"
	"github.com/claude-flow/core/internal/orchestrator"
	"github.com/claude-flow/core/internal/plugin"
	"github.com/claude-flow/core/internal/session"
	"github.com/claude-flow/core/pkg/flow"
)

// DefaultShutdownGrace bounds how long Shutdown waits for in-flight tasks
// to drain before forcing agent termination.
const DefaultShutdownGrace = 30 * time.Second

// Milestone is a named, flag-gated checkpoint tracked for observability
// only; reaching one never blocks task flow.
type Milestone struct {
	Name      string
	Criteria  map[string]bool
	Reached   bool
	ReachedAt time.Time
}

func (m Milestone) allCriteriaMet() bool {
	for _, ok := range m.Criteria {
		if !ok {
			return false
		}
	}
	return true
}

// Coordinator is the single engine every other component's lifecycle
// delegates to.
type Coordinator struct {
	mu sync.RWMutex

	status    flow.SwarmStatus
	topology  flow.Topology
	strategy  Strategy
	members   []string // join order, drives position-based topologies
	leaderID  string
	startedAt time.Time
	phase     string
	milestones map[string]*Milestone

	unhealthyStreak int

	pool     *agentpool.Pool
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	monitor  *health.Monitor
	plugins  *plugin.Registry
	messages *MessageBus
	consensus ConsensusStrategy
	shutdownGrace time.Duration

	bus eventbus.EventBus
	log *logging.Logger

	admissionOpen bool
}

// Config configures a new Coordinator.
type Config struct {
	Topology       flow.Topology
	InboxCapacity  int
	Consensus      ConsensusStrategy
	ShutdownGrace  time.Duration
}

func New(
	cfg Config,
	pool *agentpool.Pool,
	orch *orchestrator.Orchestrator,
	sessions *session.Manager,
	monitor *health.Monitor,
	plugins *plugin.Registry,
	bus eventbus.EventBus,
	log *logging.Logger,
) *Coordinator {
	if cfg.Topology == "" {
		cfg.Topology = flow.TopologyHierarchical
	}
	if cfg.Consensus == nil {
		cfg.Consensus = QuorumVote{}
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	return &Coordinator{
		status:     flow.SwarmInitializing,
		topology:   cfg.Topology,
		strategy:   NewStrategy(cfg.Topology),
		milestones: make(map[string]*Milestone),
		pool:       pool,
		orch:       orch,
		sessions:   sessions,
		monitor:    monitor,
		plugins:    plugins,
		messages:   NewMessageBus(cfg.InboxCapacity, bus),
		consensus:  cfg.Consensus,
		shutdownGrace: cfg.ShutdownGrace,
		bus:        bus,
		log:        log,
	}
}

// Initialize loads plugins, starts the health monitor, reports the
// plugin-contributed agent and task types in the swarm:initialized event,
// and transitions to running.
func (c *Coordinator) Initialize(ctx context.Context, pluginConfig map[string]interface{}) error {
	c.mu.Lock()
	if c.status != flow.SwarmInitializing {
		c.mu.Unlock()
		return kernelerr.NewConflict("invalid-state", "swarm already initialized")
	}
	c.mu.Unlock()

	pc, err := c.plugins.Initialize(ctx, pluginConfig)
	if err != nil {
		return err
	}

	if c.monitor != nil {
		c.monitor.OnStateChange(c.onHealthStateChange)
		c.monitor.Start(ctx)
	}

	c.mu.Lock()
	c.status = flow.SwarmRunning
	c.startedAt = time.Now().UTC()
	c.admissionOpen = true
	c.mu.Unlock()

	if c.bus != nil {
		data := map[string]interface{}{"topology": string(c.topology)}
		if pc != nil {
			data["agentTypes"] = pc.AgentTypes()
			data["taskTypes"] = pc.TaskTypes()
		}
		c.bus.Emit(eventbus.NewEvent("swarm:initialized", "swarm", data))
	}
	return nil
}

// onHealthStateChange implements the adaptive-topology swap: two
// consecutive unhealthy transitions trigger a fallback to mesh, which
// trades structure for maximum direct reachability under sustained
// degradation.
func (c *Coordinator) onHealthStateChange(previous, current health.Status, snap health.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current == health.StatusUnhealthy {
		c.status = flow.SwarmDegraded
		c.unhealthyStreak++
	} else {
		if c.status == flow.SwarmDegraded && current == health.StatusHealthy {
			c.status = flow.SwarmRunning
		}
		c.unhealthyStreak = 0
	}

	if c.topology == flow.TopologyAdaptive && c.unhealthyStreak >= 2 {
		c.strategy = Mesh{}
		c.unhealthyStreak = 0
	}
}

// Join adds agentID to the topology's membership list.
func (c *Coordinator) Join(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.members {
		if m == agentID {
			return
		}
	}
	c.members = append(c.members, agentID)
	if c.leaderID == "" {
		c.leaderID = agentID
	}
}

// Leave removes agentID from the topology and re-elects a leader (the next
// member in join order) if it was the leader.
func (c *Coordinator) Leave(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, m := range c.members {
		if m == agentID {
			c.members = append(c.members[:i], c.members[i+1:]...)
			break
		}
	}
	if c.leaderID == agentID {
		if len(c.members) > 0 {
			c.leaderID = c.members[0]
		} else {
			c.leaderID = ""
		}
		if c.bus != nil {
			c.bus.Emit(eventbus.NewEvent("swarm:leader-elected", "swarm", map[string]interface{}{"leaderId": c.leaderID}))
		}
	}
}

// Peers, Parent, and NextHop expose the active topology strategy over the
// current membership.
func (c *Coordinator) Peers(agentID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategy.Peers(agentID, c.members)
}

func (c *Coordinator) Parent(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategy.Parent(agentID, c.members)
}

// Send routes msg through the topology: direct delivery if to is a direct
// peer of from (or the topology is mesh), otherwise via next hop.
func (c *Coordinator) Send(msg Message) {
	c.mu.RLock()
	members := append([]string(nil), c.members...)
	strategy := c.strategy
	c.mu.RUnlock()

	if msg.To == BroadcastTo {
		for _, m := range members {
			if m != msg.From {
				cp := msg
				cp.To = m
				c.messages.Send(m, cp)
			}
		}
		return
	}

	hop := strategy.NextHop(msg.From, msg.To, members)
	for _, p := range strategy.Peers(msg.From, members) {
		if p == msg.To {
			hop = msg.To
			break
		}
	}
	if hop == "" {
		hop = msg.To
	}
	c.messages.Send(hop, msg)
}

// Inbox drains agentID's pending messages.
func (c *Coordinator) Inbox(agentID string) []Message {
	return c.messages.Drain(agentID)
}

// RequestConsensus runs a consensus round with the default quorum and
// threshold, gathering votes from voters via collectVotes.
func (c *Coordinator) RequestConsensus(ctx context.Context, topic string, options, voters []string, timeout time.Duration, collectVotes func(context.Context, chan<- Vote)) Decision {
	return RequestConsensus(ctx, c.consensus, topic, options, voters, timeout, collectVotes)
}

// SetPhase records the coordinator's coarse ordered phase id.
func (c *Coordinator) SetPhase(phase string) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
}

// DefineMilestone registers a named milestone with its criteria flags, all
// initially false.
func (c *Coordinator) DefineMilestone(name string, criteriaKeys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	criteria := make(map[string]bool, len(criteriaKeys))
	for _, k := range criteriaKeys {
		criteria[k] = false
	}
	c.milestones[name] = &Milestone{Name: name, Criteria: criteria}
}

// MarkCriterion flips one criterion of a milestone; if every criterion is
// now true, the milestone is marked reached and swarm:milestone-reached is
// emitted. Observational only: it never blocks task flow.
func (c *Coordinator) MarkCriterion(milestoneName, criterion string) {
	c.mu.Lock()
	m, ok := c.milestones[milestoneName]
	if !ok || m.Reached {
		c.mu.Unlock()
		return
	}
	if _, exists := m.Criteria[criterion]; exists {
		m.Criteria[criterion] = true
	}
	justReached := m.allCriteriaMet()
	if justReached {
		m.Reached = true
		m.ReachedAt = time.Now().UTC()
	}
	c.mu.Unlock()

	if justReached && c.bus != nil {
		c.bus.Emit(eventbus.NewEvent("swarm:milestone-reached", "swarm", map[string]interface{}{"milestone": milestoneName}))
	}
}

// DetectDeadlock delegates to the orchestrator and, if a deadlock is
// found, emits deadlock-detected.
func (c *Coordinator) DetectDeadlock() bool {
	stuck := c.orch.DetectDeadlock()
	if stuck && c.bus != nil {
		c.bus.Emit(eventbus.NewEvent("deadlock-detected", "swarm", nil))
	}
	return stuck
}

// Shutdown stops admission, drains in-flight tasks up to grace, terminates
// all sessions, terminates every agent lowest-priority-first, stops the
// health monitor, and emits swarm:shutdown.
func (c *Coordinator) Shutdown(ctx context.Context, graceful bool) error {
	c.mu.Lock()
	if c.status == flow.SwarmStopped {
		c.mu.Unlock()
		return nil
	}
	c.admissionOpen = false
	c.mu.Unlock()

	if graceful {
		c.drain(ctx, c.shutdownGrace)
	}

	if c.sessions != nil {
		if err := c.sessions.TerminateAllSessions(ctx); err != nil && c.log != nil {
			c.log.WithComponent("swarm").WithError(err).Error("terminate all sessions failed during shutdown")
		}
	}

	c.terminateAgentsByPriority()

	if c.monitor != nil {
		c.monitor.Stop()
	}
	if c.plugins != nil {
		if err := c.plugins.Shutdown(ctx); err != nil && c.log != nil {
			c.log.WithComponent("swarm").WithError(err).Error("plugin shutdown reported errors")
		}
	}

	c.mu.Lock()
	c.status = flow.SwarmStopped
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Emit(eventbus.NewEvent("swarm:shutdown", "swarm", nil))
	}
	return nil
}

// drain waits up to grace for the orchestrator's registry to report no
// running tasks, polling rather than blocking on a dedicated completion
// channel since completions arrive from arbitrary caller goroutines.
func (c *Coordinator) drain(ctx context.Context, grace time.Duration) {
	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if c.noRunningTasks() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) noRunningTasks() bool {
	return c.orch.RunningTaskCount() == 0
}

func (c *Coordinator) terminateAgentsByPriority() {
	agents := c.pool.List()
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].Config.Priority < agents[j].Config.Priority
	})
	for _, a := range agents {
		_ = c.pool.Terminate(a.ID, "swarm shutdown")
	}
}

// Snapshot returns a diagnostics-oriented, point-in-time view of the swarm.
func (c *Coordinator) Snapshot() flow.SwarmSnapshot {
	c.mu.RLock()
	snap := flow.SwarmSnapshot{
		Topology:  c.topology,
		LeaderID:  c.leaderID,
		Status:    c.status,
		StartedAt: c.startedAt,
		Phase:     c.phase,
	}
	c.mu.RUnlock()

	snap.Agents = c.pool.List()
	snap.Tasks = c.orch.Tasks()
	return snap
}

// Status returns the coordinator's current coarse status.
func (c *Coordinator) Status() flow.SwarmStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
