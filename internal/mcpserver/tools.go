package mcpserver

import (
	"context"
	"fmt"

	"github.com/claude-flow/core/internal/agentpool"
	"github.com/claude-flow/core/internal/config"
	"github.com/claude-flow/core/internal/kernelerr"
	"github.com/claude-flow/core/internal/memory"
	"github.com/claude-flow/core/internal/orchestrator"
	"github.com/claude-flow/core/internal/swarm"
	"github.com/claude-flow/core/pkg/flow"
)

// Handler is the kernel-side shape of a callable operation: it reads
// decoded JSON arguments and returns a JSON-serializable result, oblivious
// to which transport (stdio, HTTP, WebSocket) carried the call.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ToolSpec describes one operation exposed over tools/list and tools/call.
type ToolSpec struct {
	Name        string
	Description string
	Handler     Handler
}

// Dependencies bundles the kernel components tools are grounded on.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Pool         *agentpool.Pool
	Swarm        *swarm.Coordinator
	Memory       memory.Backend
}

func argString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string", key)
	}
	return s, nil
}

func optString(args map[string]interface{}, key, def string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func optInt(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func optStringSlice(args map[string]interface{}, key string) []string {
	v, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(v))
	for _, item := range v {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// BuildTools constructs every tool this kernel exposes, bound to deps.
func BuildTools(deps Dependencies) []ToolSpec {
	return []ToolSpec{
		{Name: "task.create", Description: "Create and admit a new task.", Handler: taskCreateHandler(deps)},
		{Name: "task.get", Description: "Fetch a task by id.", Handler: taskGetHandler(deps)},
		{Name: "task.cancel", Description: "Cancel a task from any pre-terminal state.", Handler: taskCancelHandler(deps)},
		{Name: "task.retry", Description: "Requeue a failed task if retries remain.", Handler: taskRetryHandler(deps)},
		{Name: "agent.spawn", Description: "Spawn a new agent into the pool, by explicit config or by preset name.", Handler: agentSpawnHandler(deps)},
		{Name: "agent.presets", Description: "List the built-in agent role presets.", Handler: agentPresetsHandler(deps)},
		{Name: "agent.list", Description: "List every agent currently in the pool.", Handler: agentListHandler(deps)},
		{Name: "agent.terminate", Description: "Terminate an agent by id.", Handler: agentTerminateHandler(deps)},
		{Name: "swarm.snapshot", Description: "Return a point-in-time view of swarm state.", Handler: swarmSnapshotHandler(deps)},
		{Name: "swarm.join", Description: "Add an agent id to the swarm topology.", Handler: swarmJoinHandler(deps)},
		{Name: "memory.store", Description: "Store a value in the configured memory backend.", Handler: memoryStoreHandler(deps)},
		{Name: "memory.retrieve", Description: "Retrieve a value from the configured memory backend.", Handler: memoryRetrieveHandler(deps)},
		{Name: "memory.search", Description: "Search the configured memory backend.", Handler: memorySearchHandler(deps)},
	}
}

func taskCreateHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		taskType, err := argString(args, "type")
		if err != nil {
			return nil, err
		}
		spec := flow.TaskSpec{
			Type:        taskType,
			Description: optString(args, "description", ""),
			Priority:    optInt(args, "priority", 0),
			Metadata: flow.TaskMetadata{
				RequiredCapabilities: optStringSlice(args, "requiredCapabilities"),
			},
		}
		return deps.Orchestrator.CreateTask(spec)
	}
}

func taskGetHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		id, err := argString(args, "id")
		if err != nil {
			return nil, err
		}
		for _, t := range deps.Orchestrator.Tasks() {
			if t.ID == id {
				return t, nil
			}
		}
		return nil, fmt.Errorf("task not found: %s", id)
	}
}

func taskCancelHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		id, err := argString(args, "id")
		if err != nil {
			return nil, err
		}
		if err := deps.Orchestrator.CancelTask(id); err != nil {
			return nil, err
		}
		return map[string]string{"id": id, "status": "cancelled"}, nil
	}
}

func taskRetryHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		id, err := argString(args, "id")
		if err != nil {
			return nil, err
		}
		if err := deps.Orchestrator.RetryTask(id); err != nil {
			return nil, err
		}
		return map[string]string{"id": id, "status": "queued"}, nil
	}
}

func agentSpawnHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		if preset := optString(args, "preset", ""); preset != "" {
			cfg, ok := config.Preset(preset)
			if !ok {
				return nil, kernelerr.NewNotFound("unknown-preset", "no such agent preset: "+preset)
			}
			return deps.Pool.Spawn(cfg)
		}

		agentType, err := argString(args, "type")
		if err != nil {
			return nil, err
		}
		cfg := flow.AgentConfig{
			Type:               agentType,
			Capabilities:       optStringSlice(args, "capabilities"),
			SupportedTaskTypes: optStringSlice(args, "supportedTaskTypes"),
			MaxConcurrentTasks: optInt(args, "maxConcurrentTasks", 1),
			Priority:           optInt(args, "priority", 50),
		}
		return deps.Pool.Spawn(cfg)
	}
}

func agentPresetsHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return config.AgentPresets, nil
	}
}

func agentListHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return deps.Pool.List(), nil
	}
}

func agentTerminateHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		id, err := argString(args, "id")
		if err != nil {
			return nil, err
		}
		reason := optString(args, "reason", "requested via mcp")
		if err := deps.Pool.Terminate(id, reason); err != nil {
			return nil, err
		}
		return map[string]string{"id": id, "status": "terminated"}, nil
	}
}

func swarmSnapshotHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return deps.Swarm.Snapshot(), nil
	}
}

func swarmJoinHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		id, err := argString(args, "agentId")
		if err != nil {
			return nil, err
		}
		deps.Swarm.Join(id)
		return map[string]string{"agentId": id, "status": "joined"}, nil
	}
}

func memoryStoreHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		key, err := argString(args, "key")
		if err != nil {
			return nil, err
		}
		value := args["value"]
		meta, _ := args["metadata"].(map[string]interface{})
		if err := deps.Memory.Store(ctx, key, value, meta); err != nil {
			return nil, err
		}
		return map[string]string{"key": key, "status": "stored"}, nil
	}
}

func memoryRetrieveHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		key, err := argString(args, "key")
		if err != nil {
			return nil, err
		}
		entry, err := deps.Memory.Retrieve(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, fmt.Errorf("no entry for key: %s", key)
		}
		return entry, nil
	}
}

func memorySearchHandler(deps Dependencies) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		query, err := argString(args, "query")
		if err != nil {
			return nil, err
		}
		opts := memory.SearchOptions{Limit: optInt(args, "limit", 0)}
		return deps.Memory.Search(ctx, query, opts)
	}
}
