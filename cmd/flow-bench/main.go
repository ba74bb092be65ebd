// Package main implements a load-test CLI for task admission: it spins up
// an in-process kernel and submits a configurable batch of tasks, reporting
// queue and assignment latency.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/claude-flow/core/internal/agentpool"
	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/internal/logging"
	"github.com/claude-flow/core/internal/orchestrator"
	"github.com/claude-flow/core/internal/taskqueue"
	"github.com/claude-flow/core/internal/taskregistry"
	"github.com/claude-flow/core/pkg/flow"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flow-bench",
	Short: "Load-test task admission against an in-process kernel",
}

var admitCmd = &cobra.Command{
	Use:   "admit",
	Short: "Submit a batch of tasks and report queue/assignment latency",
	RunE:  runAdmit,
}

func init() {
	admitCmd.Flags().Int("tasks", 1000, "number of tasks to submit")
	admitCmd.Flags().Int("agents", 10, "number of worker agents to spawn")
	admitCmd.Flags().Int("fanout", 0, "number of dependency edges per task, chained to the previous task")
	admitCmd.Flags().String("task-type", "bench.unit", "task type string assigned to every submitted task")
	rootCmd.AddCommand(admitCmd)
}

func runAdmit(cmd *cobra.Command, args []string) error {
	taskCount, _ := cmd.Flags().GetInt("tasks")
	agentCount, _ := cmd.Flags().GetInt("agents")
	fanout, _ := cmd.Flags().GetInt("fanout")
	taskType, _ := cmd.Flags().GetString("task-type")

	log, err := logging.New(logging.Config{Level: "warn", Format: "console"})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	bus := eventbus.NewMemoryBus(log)
	pool := agentpool.New(agentCount, bus)
	registry := taskregistry.New(bus)
	queue := taskqueue.NewTaskQueue(0, 0)
	orch := orchestrator.New(registry, queue, pool, bus)

	for i := 0; i < agentCount; i++ {
		if _, err := pool.Spawn(flow.AgentConfig{
			Type:               "bench-worker",
			SupportedTaskTypes: []string{taskType},
			MaxConcurrentTasks: 4,
			Priority:           1,
		}); err != nil {
			return fmt.Errorf("failed to spawn agent: %w", err)
		}
	}

	fmt.Printf("Submitting %d tasks across %d agents (fanout=%d)...\n", taskCount, agentCount, fanout)

	admitStart := time.Now()
	taskIDs := make([]string, 0, taskCount)

	for i := 0; i < taskCount; i++ {
		spec := flow.TaskSpec{
			Type:        taskType,
			Description: fmt.Sprintf("bench task %d", i),
			Priority:    1,
		}
		for d := 1; d <= fanout && i-d >= 0; d++ {
			spec.Dependencies = append(spec.Dependencies, taskIDs[i-d])
		}
		task, err := orch.CreateTask(spec)
		if err != nil {
			return fmt.Errorf("failed to create task %d: %w", i, err)
		}
		taskIDs = append(taskIDs, task.ID)
	}
	admitElapsed := time.Since(admitStart)

	assignStart := time.Now()
	var wg sync.WaitGroup
	assignedCount := 0
	var mu sync.Mutex
	for i := 0; i < agentCount; i++ {
		agentID := pool.List()[i].ID
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			for {
				task, err := orch.GetNextTask(agentID)
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				assignedCount++
				mu.Unlock()
			}
		}(agentID)
	}
	wg.Wait()
	assignElapsed := time.Since(assignStart)

	fmt.Println()
	fmt.Println("Results:")
	fmt.Printf("  Admission time:   %s (%.0f tasks/sec)\n", admitElapsed, float64(taskCount)/admitElapsed.Seconds())
	fmt.Printf("  Assignment time:  %s (%.0f assignments/sec)\n", assignElapsed, float64(assignedCount)/assignElapsed.Seconds())
	fmt.Printf("  Tasks submitted:  %d\n", taskCount)
	fmt.Printf("  Tasks assigned:   %d\n", assignedCount)
	fmt.Printf("  Queue depth:      %d\n", queue.Len())
	fmt.Printf("  Running tasks:    %d\n", orch.RunningTaskCount())

	return nil
}
