package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/harun/arka/pkg/model"
)

// RecordKind identifies a memory record variant.
type RecordKind string

const (
	KindSystemPrompt RecordKind = "system_prompt"
	KindTask         RecordKind = "task"
	KindPlanning     RecordKind = "planning"
	KindAction       RecordKind = "action"
)

// Record is one entry in agent memory. Records are immutable once appended.
type Record interface {
	// Kind returns the record variant.
	Kind() RecordKind

	// Messages renders the record as conversation messages for the provider.
	Messages() []model.Message
}

// SystemPromptRecord holds the system prompt that opens every conversation.
type SystemPromptRecord struct {
	Prompt string `json:"prompt"`
}

func (r SystemPromptRecord) Kind() RecordKind { return KindSystemPrompt }

func (r SystemPromptRecord) Messages() []model.Message {
	return []model.Message{{Role: model.RoleSystem, Content: r.Prompt}}
}

// PlanningRecord holds a plan produced between steps.
type PlanningRecord struct {
	ID         string    `json:"id"`
	StepNumber int       `json:"step_number"`
	Plan       string    `json:"plan"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r PlanningRecord) Kind() RecordKind { return KindPlanning }

func (r PlanningRecord) Messages() []model.Message {
	return []model.Message{
		{Role: model.RoleAssistant, Content: r.Plan},
		{Role: model.RoleUser, Content: "Continue with the task following the plan above."},
	}
}

// ToolObservation pairs one tool call with its observation text.
type ToolObservation struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
}

// ActionRecord is the memory projection of one completed step.
type ActionRecord struct {
	StepNumber   int               `json:"step_number"`
	ModelOutput  string            `json:"model_output"`
	ToolCalls    []model.ToolCall  `json:"tool_calls,omitempty"`
	Observations []ToolObservation `json:"observations,omitempty"`
	Observation  string            `json:"observation,omitempty"`
	Error        string            `json:"error,omitempty"`
	IsFinal      bool              `json:"is_final,omitempty"`
}

func (r ActionRecord) Kind() RecordKind { return KindAction }

func (r ActionRecord) Messages() []model.Message {
	msgs := []model.Message{{
		Role:      model.RoleAssistant,
		Content:   r.ModelOutput,
		ToolCalls: r.ToolCalls,
	}}

	for _, obs := range r.Observations {
		msgs = append(msgs, model.Message{
			Role:       model.RoleTool,
			Content:    obs.Content,
			ToolCallID: obs.CallID,
		})
	}

	if len(r.Observations) == 0 {
		switch {
		case r.Error != "":
			msgs = append(msgs, model.Message{
				Role:    model.RoleUser,
				Content: fmt.Sprintf("Error: %s\nFix the problem and try again.", r.Error),
			})
		case r.Observation != "":
			msgs = append(msgs, model.Message{
				Role:    model.RoleUser,
				Content: "Observation: " + r.Observation,
			})
		}
	}

	return msgs
}

// TaskRecord holds the user task that starts a run.
type TaskRecord struct {
	Task string `json:"task"`
}

func (r TaskRecord) Kind() RecordKind { return KindTask }

func (r TaskRecord) Messages() []model.Message {
	return []model.Message{{Role: model.RoleUser, Content: r.Task}}
}

// AgentMemory is the append-only record sequence for one run. It is owned by
// the orchestrator: appends happen strictly between steps, never while a step
// is in flight.
type AgentMemory struct {
	systemPrompt SystemPromptRecord
	records      []Record
	mu           sync.RWMutex
}

// New creates a memory seeded with a system prompt.
func New(systemPrompt string) *AgentMemory {
	return &AgentMemory{
		systemPrompt: SystemPromptRecord{Prompt: systemPrompt},
	}
}

// Append adds a record to the end of memory.
func (m *AgentMemory) Append(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

// Reset clears all records, keeping only the system prompt.
func (m *AgentMemory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
}

// SystemPrompt returns the seeded system prompt text.
func (m *AgentMemory) SystemPrompt() string {
	return m.systemPrompt.Prompt
}

// Records returns a copy of the appended records, in order.
func (m *AgentMemory) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Len returns the number of appended records, excluding the system prompt.
func (m *AgentMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// CountKind returns how many records of the given kind have been appended.
func (m *AgentMemory) CountKind(kind RecordKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if r.Kind() == kind {
			n++
		}
	}
	return n
}

// ToMessages renders the full memory as an ordered message list, starting
// with the system prompt.
func (m *AgentMemory) ToMessages() []model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.systemPrompt.Messages()
	for _, r := range m.records {
		msgs = append(msgs, r.Messages()...)
	}
	return msgs
}
