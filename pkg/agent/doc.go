// Package agent drives LLM tasks to completion through a bounded step loop.
//
// Invariants:
// - Each step makes exactly one model call; model calls are never retried here.
// - A run ends in exactly one terminal state: success, max_steps_reached, or error.
// - Tool failures become observations; only provider, planner, and context errors end the run.
// - Control requests are only raised between BeginStep and EndStep of the active step.
//
// Usage:
//
//	runner, _ := agent.New(agent.Config{
//		Provider: provider,
//		Model:    "claude-sonnet-4-5",
//		Registry: registry,
//		MaxSteps: 12,
//	})
//	result, _ := runner.Run(ctx, agent.RunParams{Task: "summarize the report"})
//	_ = result
package agent
