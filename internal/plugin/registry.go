// Package plugin implements the kernel's plugin registry (C8): dependency-
// ordered initialization with rollback, and reverse-order shutdown.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/internal/kernelerr"
	"github.com/claude-flow/core/internal/logging"
)

// Context is handed to every plugin's Initialize call.
type Context struct {
	EventBus eventbus.EventBus
	Logger   *logging.Logger
	Config   map[string]interface{}

	mu                sync.Mutex
	agentTypes        map[string]interface{}
	taskTypes         map[string]interface{}
	mcpTools          map[string]interface{}
	cliCommands       map[string]interface{}
	memoryBackends    map[string]interface{}
}

func newContext(bus eventbus.EventBus, log *logging.Logger, cfg map[string]interface{}) *Context {
	return &Context{
		EventBus:       bus,
		Logger:         log,
		Config:         cfg,
		agentTypes:     make(map[string]interface{}),
		taskTypes:      make(map[string]interface{}),
		mcpTools:       make(map[string]interface{}),
		cliCommands:    make(map[string]interface{}),
		memoryBackends: make(map[string]interface{}),
	}
}

func (c *Context) RegisterAgentType(name string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentTypes[name] = v
}

func (c *Context) RegisterTaskType(name string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskTypes[name] = v
}

func (c *Context) RegisterMCPTool(name string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mcpTools[name] = v
}

func (c *Context) RegisterCLICommand(name string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cliCommands[name] = v
}

func (c *Context) RegisterMemoryBackend(name string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memoryBackends[name] = v
}

func (c *Context) AgentTypes() []string     { return keysOf(c.agentTypes) }
func (c *Context) TaskTypes() []string      { return keysOf(c.taskTypes) }
func (c *Context) MCPTools() []string       { return keysOf(c.mcpTools) }
func (c *Context) CLICommands() []string    { return keysOf(c.cliCommands) }
func (c *Context) MemoryBackends() []string { return keysOf(c.memoryBackends) }

func keysOf(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Plugin is a unit of kernel-extending functionality, loaded in dependency
// order at startup and shut down in reverse order.
type Plugin interface {
	Name() string
	Version() string
	Dependencies() []string
	Initialize(ctx context.Context, pc *Context) error
	Shutdown(ctx context.Context) error
}

// Registry owns plugin registration, topological ordering, and the
// init/shutdown lifecycle.
type Registry struct {
	mu          sync.Mutex
	plugins     map[string]Plugin
	initialized []string // names, in the order they were successfully initialized
	bus         eventbus.EventBus
	log         *logging.Logger
}

func New(bus eventbus.EventBus, log *logging.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		bus:     bus,
		log:     log,
	}
}

// Register adds a plugin. It rejects duplicate names and plugins with an
// empty name or version.
func (r *Registry) Register(p Plugin) error {
	if p.Name() == "" {
		return kernelerr.NewValidation("invalid-plugin", "plugin name must not be empty")
	}
	if p.Version() == "" {
		return kernelerr.NewValidation("invalid-plugin", fmt.Sprintf("plugin %q must declare a version", p.Name()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.Name()]; exists {
		return kernelerr.NewConflict("duplicate-plugin", fmt.Sprintf("plugin %q already registered", p.Name()))
	}
	r.plugins[p.Name()] = p
	return nil
}

// topologicalOrder computes a dependency-respecting initialization order
// using Kahn's algorithm, failing with MISSING_DEPENDENCY if a plugin
// depends on an unregistered plugin and with CIRCULAR_DEPENDENCY if the
// dependency graph contains a cycle.
func (r *Registry) topologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(r.plugins))
	dependents := make(map[string][]string, len(r.plugins))

	for name := range r.plugins {
		inDegree[name] = 0
	}
	for name, p := range r.plugins {
		for _, dep := range p.Dependencies() {
			if _, ok := r.plugins[dep]; !ok {
				return nil, kernelerr.NewValidation("MISSING_DEPENDENCY", fmt.Sprintf("plugin %q depends on unregistered plugin %q", name, dep))
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sortStrings(queue)

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		next := append([]string(nil), dependents[n]...)
		sortStrings(next)
		for _, d := range next {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
				sortStrings(queue)
			}
		}
	}

	if len(order) != len(r.plugins) {
		return nil, kernelerr.NewConflict("CIRCULAR_DEPENDENCY", "plugin dependency graph contains a cycle")
	}
	return order, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Initialize computes the dependency-respecting order and initializes
// every plugin sequentially. If any plugin fails, every plugin already
// initialized in this call is shut down in reverse order before the
// INITIALIZATION_FAILED error is returned.
func (r *Registry) Initialize(ctx context.Context, cfg map[string]interface{}) (*Context, error) {
	r.mu.Lock()
	order, err := r.topologicalOrder()
	plugins := make(map[string]Plugin, len(r.plugins))
	for k, v := range r.plugins {
		plugins[k] = v
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	pc := newContext(r.bus, r.log, cfg)

	var done []string
	for _, name := range order {
		p := plugins[name]
		if err := p.Initialize(ctx, pc); err != nil {
			r.rollback(ctx, plugins, done)
			return nil, kernelerr.NewExternal("INITIALIZATION_FAILED", fmt.Sprintf("plugin %q failed to initialize", name), err)
		}
		done = append(done, name)
	}

	r.mu.Lock()
	r.initialized = done
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Emit(eventbus.NewEvent("plugin:initialized", "plugin", map[string]interface{}{"order": done}))
	}
	return pc, nil
}

func (r *Registry) rollback(ctx context.Context, plugins map[string]Plugin, done []string) {
	for i := len(done) - 1; i >= 0; i-- {
		name := done[i]
		if err := plugins[name].Shutdown(ctx); err != nil && r.log != nil {
			r.log.WithComponent("plugin").WithError(err).Error("rollback shutdown failed for " + name)
		}
	}
}

// Shutdown walks the successfully-initialized plugins in reverse order,
// logging (not aborting on) individual failures so every plugin gets a
// shutdown attempt. The trailing run of plugins nothing else depends on is
// shut down concurrently via errgroup; the remainder, where ordering still
// matters, is shut down sequentially.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	plugins := make(map[string]Plugin, len(r.plugins))
	for k, v := range r.plugins {
		plugins[k] = v
	}
	order := append([]string(nil), r.initialized...)
	r.mu.Unlock()

	dependedOn := make(map[string]bool, len(plugins))
	for _, p := range plugins {
		for _, dep := range p.Dependencies() {
			dependedOn[dep] = true
		}
	}

	tailStart := len(order)
	for tailStart > 0 && !dependedOn[order[tailStart-1]] {
		tailStart--
	}

	var mu sync.Mutex
	var firstErr error
	record := func(name string, err error) {
		if err == nil {
			return
		}
		if r.log != nil {
			r.log.WithComponent("plugin").WithError(err).Error("shutdown failed for " + name)
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	if tailStart < len(order) {
		var g errgroup.Group
		for _, name := range order[tailStart:] {
			name := name
			g.Go(func() error {
				record(name, plugins[name].Shutdown(ctx))
				return nil
			})
		}
		_ = g.Wait()
	}

	for i := tailStart - 1; i >= 0; i-- {
		name := order[i]
		record(name, plugins[name].Shutdown(ctx))
	}

	if r.bus != nil {
		r.bus.Emit(eventbus.NewEvent("plugin:shutdown", "plugin", nil))
	}
	return firstErr
}

// Get returns a registered plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[name]
	return p, ok
}

// InitializedOrder returns the order plugins were initialized in, for
// diagnostics.
func (r *Registry) InitializedOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.initialized...)
}
