// Package planner generates and refreshes plans between agent steps. The
// orchestrator owns the cadence; this package owns the prompts and the model
// call that produces each plan record.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/arka/pkg/memory"
	"github.com/harun/arka/pkg/model"
)

// Planner produces planning records for a run.
type Planner struct {
	provider  model.Provider
	modelName string
	templates *TemplateSet
	logger    zerolog.Logger
}

// Config holds planner configuration.
type Config struct {
	Provider model.Provider
	Model    string

	// TemplateDir optionally overrides the built-in prompts; changed files
	// reload live.
	TemplateDir string

	Logger zerolog.Logger
}

// New creates a planner.
func New(cfg Config) (*Planner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	templates, err := NewTemplateSet(cfg.TemplateDir, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load planning templates: %w", err)
	}

	return &Planner{
		provider:  cfg.Provider,
		modelName: cfg.Model,
		templates: templates,
		logger:    cfg.Logger,
	}, nil
}

// Close releases the template watcher.
func (p *Planner) Close() error {
	return p.templates.Close()
}

// Due reports whether planning runs before the given step: before step 1 and
// again after every interval-th step.
func Due(stepNumber, interval int) bool {
	if interval <= 0 {
		return false
	}
	return (stepNumber-1)%interval == 0
}

// Plan generates one planning record for the given step.
func (p *Planner) Plan(ctx context.Context, task string, mem *memory.AgentMemory, stepNumber int) (*memory.PlanningRecord, error) {
	prompt, err := p.renderPrompt(task, mem, stepNumber)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.provider.Generate(ctx, model.Request{
		Model: p.modelName,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "You are a planning assistant. Produce a concise numbered plan, nothing else."},
			{Role: model.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("planning call failed: %w", err)
	}

	p.logger.Debug().
		Int("step", stepNumber).
		Dur("duration", time.Since(start)).
		Msg("Plan generated")

	return &memory.PlanningRecord{
		ID:         uuid.New().String(),
		StepNumber: stepNumber,
		Plan:       resp.Content,
		CreatedAt:  time.Now(),
	}, nil
}

func (p *Planner) renderPrompt(task string, mem *memory.AgentMemory, stepNumber int) (string, error) {
	data := promptData{
		Task:       task,
		StepNumber: stepNumber,
		Transcript: summarizeTranscript(mem),
	}

	if stepNumber <= 1 {
		return p.templates.RenderInitial(data)
	}
	return p.templates.RenderUpdate(data)
}

// summarizeTranscript flattens completed actions into a short progress
// summary for the update prompt.
func summarizeTranscript(mem *memory.AgentMemory) string {
	if mem == nil {
		return ""
	}

	var b strings.Builder
	for _, record := range mem.Records() {
		action, ok := record.(memory.ActionRecord)
		if !ok {
			continue
		}

		fmt.Fprintf(&b, "Step %d:", action.StepNumber)
		for _, call := range action.ToolCalls {
			fmt.Fprintf(&b, " called %s;", call.Name)
		}
		if action.Error != "" {
			fmt.Fprintf(&b, " error: %s", action.Error)
		} else if action.Observation != "" {
			fmt.Fprintf(&b, " observed: %s", firstLine(action.Observation))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
