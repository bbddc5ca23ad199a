package agent

import (
	"time"

	"github.com/harun/arka/pkg/memory"
	"github.com/harun/arka/pkg/model"
	"github.com/harun/arka/pkg/tools"
)

// RunState represents the orchestrator state machine.
type RunState string

const (
	StateRunning   RunState = "running"
	StateSuspended RunState = "suspended"
	StateSuccess   RunState = "success"
	StateMaxSteps  RunState = "max_steps_reached"
	StateError     RunState = "error"
)

// IsTerminal returns true when the state ends a run.
func (s RunState) IsTerminal() bool {
	return s == StateSuccess || s == StateMaxSteps || s == StateError
}

// RunParams contains input parameters for one run.
type RunParams struct {
	// Task is the user task to solve.
	Task string `json:"task"`

	// KeepMemory continues the prior conversation instead of resetting to
	// the system prompt. The zero value resets, which is the documented
	// default for bare runs.
	KeepMemory bool `json:"keep_memory,omitempty"`
}

// RunResult is the terminal summary of a completed run. Produced exactly once.
type RunResult struct {
	RunID      string           `json:"run_id"`
	Output     interface{}      `json:"output,omitempty"`
	State      RunState         `json:"state"`
	Usage      model.TokenUsage `json:"usage"`
	Duration   time.Duration    `json:"duration"`
	StepsTaken int              `json:"steps_taken"`
	Error      string           `json:"error,omitempty"`
}

// ActionStep is the immutable record of one iteration: model call, action,
// observation. EndedAt is always at or after StartedAt once the step stops.
type ActionStep struct {
	StepNumber int `json:"step_number"`

	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`

	TokenUsage model.TokenUsage `json:"token_usage"`

	ModelOutput *model.Response    `json:"model_output,omitempty"`
	ToolCalls   []model.ToolCall   `json:"tool_calls,omitempty"`
	ToolOutputs []tools.ToolOutput `json:"tool_outputs,omitempty"`

	Observation  string      `json:"observation,omitempty"`
	IsFinal      bool        `json:"is_final,omitempty"`
	ActionOutput interface{} `json:"action_output,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// record projects the step into its memory form.
func (s *ActionStep) record() memory.ActionRecord {
	rec := memory.ActionRecord{
		StepNumber: s.StepNumber,
		ToolCalls:  s.ToolCalls,
		Error:      s.Error,
		IsFinal:    s.IsFinal,
	}

	if s.ModelOutput != nil {
		rec.ModelOutput = s.ModelOutput.Content
	}

	if len(s.ToolOutputs) > 0 {
		for _, out := range s.ToolOutputs {
			rec.Observations = append(rec.Observations, memory.ToolObservation{
				CallID:  out.ID,
				Content: out.Observation,
			})
		}
	} else {
		rec.Observation = s.Observation
	}

	return rec
}
