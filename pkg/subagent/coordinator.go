// Package subagent coordinates delegation from a parent run to managed
// sub-agents, exposing each one as a callable tool.
package subagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/arka/pkg/control"
	"github.com/harun/arka/pkg/tools"
)

// Coordinator manages sub-agent lifecycle and tracking.
type Coordinator struct {
	agents  map[string]Agent
	runs    map[string]*RunRecord
	control *control.Channel
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// Config holds coordinator configuration.
type Config struct {
	// Control optionally escalates sub-agent failures to the run's driver.
	Control *control.Channel

	Logger zerolog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		agents:  make(map[string]Agent),
		runs:    make(map[string]*RunRecord),
		control: cfg.Control,
		logger:  cfg.Logger,
	}
}

// Register adds a managed agent. Names must be unique.
func (c *Coordinator) Register(agent Agent) error {
	if agent == nil {
		return fmt.Errorf("agent cannot be nil")
	}
	if agent.Name() == "" {
		return fmt.Errorf("agent name cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[agent.Name()]; exists {
		return fmt.Errorf("agent already registered: %s", agent.Name())
	}

	c.agents[agent.Name()] = agent
	c.logger.Info().Str("agent", agent.Name()).Msg("Sub-agent registered")

	return nil
}

// Agents returns the registered agent names.
func (c *Coordinator) Agents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.agents))
	for name := range c.agents {
		names = append(names, name)
	}
	return names
}

// Tools renders every managed agent as a tool definition for the parent run.
func (c *Coordinator) Tools() []tools.Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := make([]tools.Definition, 0, len(c.agents))
	for _, agent := range c.agents {
		defs = append(defs, c.toolFor(agent))
	}
	return defs
}

func (c *Coordinator) toolFor(agent Agent) tools.Definition {
	return tools.Definition{
		Name:        agent.Name(),
		Description: fmt.Sprintf("Delegate a task to the %s agent. %s", agent.Name(), agent.Description()),
		Parameters: []tools.Parameter{
			{
				Name:        "task",
				Type:        "string",
				Description: "The task to hand off, fully self-contained",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			task, _ := args["task"].(string)
			return c.Delegate(ctx, agent.Name(), task)
		},
	}
}

// Delegate runs one task on a managed agent, tracking it as a run record.
func (c *Coordinator) Delegate(ctx context.Context, agentName, task string) (interface{}, error) {
	c.mu.RLock()
	agent := c.agents[agentName]
	c.mu.RUnlock()

	if agent == nil {
		return nil, fmt.Errorf("unknown sub-agent: %s", agentName)
	}

	runID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	record := &RunRecord{
		ID:        runID,
		Agent:     agentName,
		Task:      task,
		Status:    StatusRunning,
		StartedAt: time.Now().UnixMilli(),
	}

	c.mu.Lock()
	c.runs[runID] = record
	c.mu.Unlock()

	c.logger.Info().
		Str("agent", agentName).
		Str("run_id", runID).
		Msg("Delegating to sub-agent")

	result, runErr := agent.Run(ctx, task)

	completed := time.Now().UnixMilli()

	c.mu.Lock()
	record.CompletedAt = &completed
	if runErr != nil {
		record.Status = StatusFailed
		record.Error = runErr.Error()
	} else {
		record.Status = StatusCompleted
		record.Result = result
	}
	c.mu.Unlock()

	if runErr != nil {
		return c.escalate(ctx, agentName, task, runErr)
	}

	return result, nil
}

// escalate asks the run's driver what to do about a failed delegation. With
// nobody attached the request skips, and the failure surfaces as a tool error.
func (c *Coordinator) escalate(ctx context.Context, agentName, task string, runErr error) (interface{}, error) {
	if c.control == nil {
		return nil, runErr
	}

	resp, err := c.control.Request(ctx, control.Request{
		Kind:     control.KindEscalation,
		Prompt:   fmt.Sprintf("sub-agent %s failed on %q: %v", agentName, task, runErr),
		Fallback: control.FallbackSkip,
	})
	if err != nil {
		return nil, runErr
	}

	// An approved escalation substitutes the driver's value for the failure.
	if resp.Approved && resp.Value != nil {
		return resp.Value, nil
	}

	return nil, runErr
}

// GetRun returns one run record by ID.
func (c *Coordinator) GetRun(runID string) (*RunRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.runs[runID]
	if !ok {
		return nil, false
	}
	clone := *record
	return &clone, true
}

// GetStats returns coordinator statistics.
func (c *Coordinator) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{TotalRuns: len(c.runs)}
	for _, record := range c.runs {
		switch record.Status {
		case StatusCompleted:
			stats.CompletedRuns++
		case StatusFailed:
			stats.FailedRuns++
		default:
			stats.ActiveRuns++
		}
	}
	return stats
}
