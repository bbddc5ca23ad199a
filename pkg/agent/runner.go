package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/arka/internal/metrics"
	"github.com/harun/arka/pkg/control"
	"github.com/harun/arka/pkg/events"
	"github.com/harun/arka/pkg/memory"
	"github.com/harun/arka/pkg/model"
	"github.com/harun/arka/pkg/planner"
	"github.com/harun/arka/pkg/runstore"
	"github.com/harun/arka/pkg/sandbox"
	"github.com/harun/arka/pkg/subagent"
	"github.com/harun/arka/pkg/tools"
)

const defaultMaxSteps = 10

// Config configures a Runner. Provider and Model are required; everything
// else has a working default.
type Config struct {
	Provider model.Provider
	Model    string

	// Registry holds the callable tools. When nil an empty registry is
	// created. The final_answer tool is registered automatically if absent.
	Registry *tools.Registry

	// MaxSteps bounds the run. Zero means the default of 10.
	MaxSteps int

	// PlanningInterval enables periodic planning when positive. Requires
	// Planner to be set.
	PlanningInterval int
	Planner          *planner.Planner

	// Instructions are appended to the system prompt verbatim.
	Instructions string
	SystemPrompt string

	// SubAgents exposes registered sub-agents as callable tools.
	SubAgents *subagent.Coordinator

	// Control carries suspension requests out of tools. A fresh channel is
	// created when nil so tool fallbacks still resolve.
	Control *control.Channel

	Events events.Sink
	Store  *runstore.Store

	// Sandbox executes fenced code actions. When nil a code action is a
	// structural step error.
	Sandbox sandbox.Executor

	MaxToolConcurrency int
	Temperature        float64
	MaxTokens          int

	Logger zerolog.Logger
}

// Runner drives an agent task to completion through repeated model calls
// and tool executions. A Runner is safe to reuse across runs but executes
// at most one run at a time.
type Runner struct {
	cfg        Config
	memory     *memory.AgentMemory
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	control    *control.Channel
	events     events.Sink
	logger     zerolog.Logger

	runMu sync.Mutex
}

// New builds a Runner from cfg.
func New(cfg Config) (*Runner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("agent: model is required")
	}
	if cfg.PlanningInterval > 0 && cfg.Planner == nil {
		return nil, fmt.Errorf("agent: planning interval set but no planner configured")
	}

	registry := cfg.Registry
	if registry == nil {
		registry = tools.NewRegistry()
	}

	ctrl := cfg.Control
	if ctrl == nil {
		ctrl = control.New()
	}

	if !registry.Has(tools.FinalAnswerName) {
		if err := registry.Register(tools.FinalAnswer()); err != nil {
			return nil, fmt.Errorf("agent: register final_answer: %w", err)
		}
	}

	if cfg.SubAgents != nil {
		for _, def := range cfg.SubAgents.Tools() {
			if err := registry.Register(def); err != nil {
				return nil, fmt.Errorf("agent: register sub-agent tool: %w", err)
			}
		}
	}

	sink := cfg.Events
	if sink == nil {
		sink = events.NopSink{}
	}

	dispatcher, err := tools.NewDispatcher(tools.DispatcherConfig{
		Registry:       registry,
		MaxConcurrency: cfg.MaxToolConcurrency,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: dispatcher: %w", err)
	}

	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}

	return &Runner{
		cfg:        cfg,
		memory:     memory.New(buildSystemPrompt(cfg, registry)),
		registry:   registry,
		dispatcher: dispatcher,
		control:    ctrl,
		events:     sink,
		logger:     cfg.Logger.With().Str("component", "agent").Logger(),
	}, nil
}

func buildSystemPrompt(cfg Config, registry *tools.Registry) string {
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = fmt.Sprintf(
			"You are an expert assistant solving tasks step by step.\n"+
				"At each step call one or more of the available tools, or write a fenced code block to execute.\n"+
				"When you know the answer, call the final_answer tool with it.\n"+
				"Available tools: %v",
			registry.Names())
	}
	if cfg.Instructions != "" {
		prompt += "\n\n" + cfg.Instructions
	}
	return prompt
}

// Memory returns the runner's transcript store.
func (r *Runner) Memory() *memory.AgentMemory { return r.memory }

// Control returns the runner's control channel.
func (r *Runner) Control() *control.Channel { return r.control }

// Run executes the task to a terminal state. A fatal execution error is
// reported through the result's State and Error fields; the returned error
// is reserved for misuse such as a nil receiver context or a concurrent run.
func (r *Runner) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	if params.Task == "" {
		return nil, fmt.Errorf("agent: task is required")
	}
	if !r.runMu.TryLock() {
		return nil, fmt.Errorf("agent: a run is already in progress")
	}
	defer r.runMu.Unlock()

	return r.runLoop(ctx, params, nil), nil
}

// runLoop is the single orchestration path shared by Run, Stream, and
// Handle. emit, when non-nil, receives each completed step before the loop
// decides whether to continue.
func (r *Runner) runLoop(ctx context.Context, params RunParams, emit func(*ActionStep)) *RunResult {
	runID := uuid.NewString()
	start := time.Now()
	logger := r.logger.With().Str("run_id", runID).Logger()

	result := &RunResult{RunID: runID, State: StateRunning}

	if !params.KeepMemory {
		r.memory.Reset()
	}
	r.memory.Append(memory.TaskRecord{Task: params.Task})

	r.events.Emit(events.Event{
		RunID:     runID,
		Type:      events.TypeRunStarted,
		Payload:   map[string]interface{}{"task": params.Task},
		Timestamp: start,
	})
	logger.Info().Str("task", params.Task).Int("max_steps", r.cfg.MaxSteps).Msg("run started")

	var steps []*ActionStep
	fatal := func(err error) {
		result.State = StateError
		result.Error = err.Error()
		logger.Error().Err(err).Int("step", result.StepsTaken).Msg("run failed")
		if closeErr := r.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("resource release failed")
		}
		r.events.Emit(events.Event{
			RunID:      runID,
			Type:       events.TypeRunFailed,
			StepNumber: result.StepsTaken,
			Payload:    map[string]interface{}{"error": err.Error()},
			Timestamp:  time.Now(),
		})
	}

	for stepNumber := 1; stepNumber <= r.cfg.MaxSteps; stepNumber++ {
		if err := ctx.Err(); err != nil {
			fatal(err)
			break
		}

		if planner.Due(stepNumber, r.cfg.PlanningInterval) {
			plan, err := r.cfg.Planner.Plan(ctx, params.Task, r.memory, stepNumber)
			if err != nil {
				fatal(fmt.Errorf("planning failed: %w", err))
				break
			}
			r.memory.Append(plan)
			r.events.Emit(events.Event{
				RunID:      runID,
				Type:       events.TypePlanCreated,
				StepNumber: stepNumber,
				Payload:    map[string]interface{}{"plan": plan.Plan},
				Timestamp:  time.Now(),
			})
		}

		r.control.BeginStep()
		step, fatalErr := r.executeStep(ctx, stepNumber)
		r.control.EndStep()

		r.memory.Append(step.record())
		result.Usage.Add(step.TokenUsage)
		result.StepsTaken = stepNumber
		steps = append(steps, step)

		status := "success"
		if step.Error != "" {
			status = "error"
		}
		metrics.RecordStep(status, step.Duration)

		if fatalErr != nil {
			fatal(fatalErr)
			break
		}

		eventStatus := events.StatusSuccess
		if step.IsFinal {
			eventStatus = events.StatusFinalAnswer
		}
		r.events.Emit(events.Event{
			RunID:      runID,
			Type:       events.TypeStepCompleted,
			StepNumber: stepNumber,
			Status:     eventStatus,
			Timestamp:  time.Now(),
		})
		logger.Debug().
			Int("step", stepNumber).
			Int("tool_calls", len(step.ToolCalls)).
			Bool("final", step.IsFinal).
			Msg("step completed")

		if emit != nil {
			emit(step)
		}

		if step.IsFinal {
			result.State = StateSuccess
			result.Output = step.ActionOutput
			break
		}
	}

	if result.State == StateRunning {
		result.State = StateMaxSteps
	}
	result.Duration = time.Since(start)

	metrics.RecordRun(string(result.State), result.Duration)
	metrics.AddTokens(result.Usage.InputTokens, result.Usage.OutputTokens)

	if result.State != StateError {
		r.events.Emit(events.Event{
			RunID:      runID,
			Type:       events.TypeRunCompleted,
			StepNumber: result.StepsTaken,
			Payload:    map[string]interface{}{"state": string(result.State)},
			Timestamp:  time.Now(),
		})
	}
	logger.Info().
		Str("state", string(result.State)).
		Int("steps", result.StepsTaken).
		Dur("duration", result.Duration).
		Msg("run finished")

	r.persist(params.Task, result, steps)
	return result
}

// persist writes the finished run to the store, best effort.
func (r *Runner) persist(task string, result *RunResult, steps []*ActionStep) {
	if r.cfg.Store == nil {
		return
	}

	var output string
	if result.Output != nil {
		output = fmt.Sprint(result.Output)
	}
	run := runstore.RunRecord{
		ID:           result.RunID,
		Task:         task,
		State:        string(result.State),
		StepsTaken:   result.StepsTaken,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		DurationMs:   result.Duration.Milliseconds(),
		Output:       output,
		Error:        result.Error,
	}

	records := make([]runstore.StepRecord, 0, len(steps))
	for _, step := range steps {
		payload, err := json.Marshal(step)
		if err != nil {
			r.logger.Warn().Err(err).Int("step", step.StepNumber).Msg("failed to encode step")
			continue
		}
		records = append(records, runstore.StepRecord{
			RunID:      result.RunID,
			StepNumber: step.StepNumber,
			Payload:    string(payload),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.cfg.Store.SaveRun(ctx, run, records); err != nil {
		r.logger.Warn().Err(err).Str("run_id", result.RunID).Msg("failed to persist run")
	}
}

// Close releases resources held by collaborators that support closing.
func (r *Runner) Close() error {
	if closer, ok := r.cfg.Provider.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
