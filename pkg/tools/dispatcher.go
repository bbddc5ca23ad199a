package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/arka/internal/metrics"
	"github.com/harun/arka/pkg/model"
)

// DefaultMaxConcurrency bounds parallel tool execution within one dispatch.
const DefaultMaxConcurrency = 4

const maxObservationBytes = 16 * 1024

// ToolOutput is the response for one tool call.
type ToolOutput struct {
	ID            string      `json:"id"`
	Output        interface{} `json:"output,omitempty"`
	Observation   string      `json:"observation"`
	IsFinalAnswer bool        `json:"is_final_answer,omitempty"`
}

// Dispatcher runs a batch of tool calls from one model response with bounded
// concurrency, returning outputs in request order. It never fails the whole
// batch: every per-call failure becomes a structured output.
type Dispatcher struct {
	registry       *Registry
	maxConcurrency int
	logger         zerolog.Logger
}

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	Registry       *Registry
	MaxConcurrency int
	Logger         zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}

	return &Dispatcher{
		registry:       cfg.Registry,
		maxConcurrency: cfg.MaxConcurrency,
		logger:         cfg.Logger,
	}, nil
}

// Dispatch executes every call and returns outputs with index correspondence
// to calls, regardless of completion order.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []model.ToolCall) []ToolOutput {
	if len(calls) == 0 {
		return nil
	}

	// A single call runs inline; no pool needed.
	if len(calls) == 1 {
		return []ToolOutput{d.execute(ctx, calls[0])}
	}

	outputs := make([]ToolOutput, len(calls))
	gate := make(chan struct{}, d.maxConcurrency)
	done := make(chan int, len(calls))

	for i, call := range calls {
		go func(idx int, tc model.ToolCall) {
			gate <- struct{}{}
			defer func() { <-gate }()

			// Each slot is written exactly once by exactly one worker.
			outputs[idx] = d.execute(ctx, tc)
			done <- idx
		}(i, call)
	}

	for range calls {
		<-done
	}

	return outputs
}

// execute runs one call, converting every failure mode into an observation.
// Observations carry no tool name; the caller prefixes them when it assembles
// the step record.
func (d *Dispatcher) execute(ctx context.Context, call model.ToolCall) (out ToolOutput) {
	out.ID = call.ID
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			out.Output = nil
			out.Observation = fmt.Sprintf("panic: %v", p)
			out.IsFinalAnswer = false
			metrics.RecordToolExecution(call.Name, false, time.Since(start))
		}
	}()

	def := d.registry.Get(call.Name)
	if def == nil {
		d.logger.Warn().Str("tool", call.Name).Msg("Unknown tool requested")
		metrics.RecordToolExecution(call.Name, false, time.Since(start))
		return ToolOutput{
			ID:          call.ID,
			Observation: fmt.Sprintf("unknown tool, available tools: %v", d.registry.Names()),
		}
	}

	if err := d.registry.ValidateArguments(call.Name, call.Arguments); err != nil {
		metrics.RecordToolExecution(call.Name, false, time.Since(start))
		return ToolOutput{
			ID:          call.ID,
			Observation: err.Error(),
		}
	}

	result, err := def.Handler(ctx, call.Arguments)
	duration := time.Since(start)

	if err != nil {
		d.logger.Debug().
			Str("tool", call.Name).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")
		metrics.RecordToolExecution(call.Name, false, duration)
		return ToolOutput{
			ID:          call.ID,
			Observation: err.Error(),
		}
	}

	d.logger.Debug().
		Str("tool", call.Name).
		Dur("duration", duration).
		Msg("Tool execution completed")
	metrics.RecordToolExecution(call.Name, true, duration)

	return ToolOutput{
		ID:            call.ID,
		Output:        result,
		Observation:   formatObservation(result),
		IsFinalAnswer: call.Name == FinalAnswerName,
	}
}

func formatObservation(output interface{}) string {
	if output == nil {
		return "null"
	}
	s := fmt.Sprintf("%v", output)
	if len(s) > maxObservationBytes {
		s = s[:maxObservationBytes] + "\n[output truncated]"
	}
	return s
}
