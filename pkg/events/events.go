package events

import "time"

// Type identifies a lifecycle event.
type Type string

const (
	TypeRunStarted    Type = "run_started"
	TypePlanCreated   Type = "plan_created"
	TypeStepCompleted Type = "step_completed"
	TypeRunCompleted  Type = "run_completed"
	TypeRunFailed     Type = "run_failed"
)

// Step-completed statuses.
const (
	StatusSuccess     = "success"
	StatusFinalAnswer = "final_answer"
)

// Event is one lifecycle notification. Emission is best effort: absence of a
// consumer never blocks or fails the run.
type Event struct {
	RunID      string                 `json:"run_id"`
	Type       Type                   `json:"type"`
	StepNumber int                    `json:"step_number,omitempty"`
	Status     string                 `json:"status,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Sink consumes lifecycle events. Implementations must not block the caller.
type Sink interface {
	Emit(event Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(Event) {}
