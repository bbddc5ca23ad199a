package subagent

import "context"

// Agent is a managed sub-agent callable from a parent run.
type Agent interface {
	// Name returns the unique agent name, used as its tool name.
	Name() string

	// Description explains what the agent does, for the parent's model.
	Description() string

	// Run executes one task to completion and returns its output.
	Run(ctx context.Context, task string) (interface{}, error)
}

// RunStatus represents the execution state of a sub-agent run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// IsTerminal returns true if the status is terminal.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunRecord tracks one delegation to a managed agent.
type RunRecord struct {
	ID          string      `json:"id"`
	Agent       string      `json:"agent"`
	Task        string      `json:"task"`
	Status      RunStatus   `json:"status"`
	StartedAt   int64       `json:"started_at"`
	CompletedAt *int64      `json:"completed_at,omitempty"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Stats summarizes coordinator activity.
type Stats struct {
	TotalRuns     int `json:"total_runs"`
	ActiveRuns    int `json:"active_runs"`
	CompletedRuns int `json:"completed_runs"`
	FailedRuns    int `json:"failed_runs"`
}
