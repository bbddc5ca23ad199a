package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/arka/pkg/control"
	"github.com/harun/arka/pkg/memory"
	"github.com/harun/arka/pkg/model"
	"github.com/harun/arka/pkg/planner"
	"github.com/harun/arka/pkg/tools"
)

// scriptedProvider replays a fixed sequence of responses. Once the script
// is exhausted it keeps returning the last entry.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*model.Response
	errs      []error
	calls     int
}

func (p *scriptedProvider) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.calls
	p.calls++
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	return p.responses[idx], nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func toolCallResponse(name string, args map[string]interface{}) *model.Response {
	return &model.Response{
		ToolCalls: []model.ToolCall{{ID: "call-1", Name: name, Arguments: args}},
		Usage:     model.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}
}

func finalAnswerResponse(answer string) *model.Response {
	return toolCallResponse(tools.FinalAnswerName, map[string]interface{}{"answer": answer})
}

func echoTool(t *testing.T, registry *tools.Registry) {
	t.Helper()
	err := registry.Register(tools.Definition{
		Name:        "echo",
		Description: "Echo the input back",
		Parameters: []tools.Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		},
	})
	require.NoError(t, err)
}

func newTestRunner(t *testing.T, provider model.Provider, mutate func(*Config)) *Runner {
	t.Helper()

	registry := tools.NewRegistry()
	echoTool(t, registry)

	cfg := Config{
		Provider: provider,
		Model:    "test-model",
		Registry: registry,
		MaxSteps: 5,
		Logger:   zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	runner, err := New(cfg)
	require.NoError(t, err)
	return runner
}

func TestNew(t *testing.T) {
	t.Run("should require a provider", func(t *testing.T) {
		_, err := New(Config{Model: "m"})
		assert.ErrorContains(t, err, "provider is required")
	})

	t.Run("should require a model", func(t *testing.T) {
		_, err := New(Config{Provider: &scriptedProvider{}})
		assert.ErrorContains(t, err, "model is required")
	})

	t.Run("should reject a planning interval without a planner", func(t *testing.T) {
		_, err := New(Config{Provider: &scriptedProvider{}, Model: "m", PlanningInterval: 3})
		assert.ErrorContains(t, err, "no planner configured")
	})

	t.Run("should register final_answer automatically", func(t *testing.T) {
		runner := newTestRunner(t, &scriptedProvider{}, nil)
		assert.True(t, runner.registry.Has(tools.FinalAnswerName))
	})
}

func TestRun(t *testing.T) {
	t.Run("should require a task", func(t *testing.T) {
		runner := newTestRunner(t, &scriptedProvider{}, nil)
		_, err := runner.Run(context.Background(), RunParams{})
		assert.ErrorContains(t, err, "task is required")
	})

	t.Run("should succeed when the model calls final_answer", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			toolCallResponse("echo", map[string]interface{}{"text": "hi"}),
			toolCallResponse("echo", map[string]interface{}{"text": "again"}),
			finalAnswerResponse("42"),
		}}
		runner := newTestRunner(t, provider, nil)

		result, err := runner.Run(context.Background(), RunParams{Task: "compute"})
		require.NoError(t, err)

		assert.Equal(t, StateSuccess, result.State)
		assert.Equal(t, "42", result.Output)
		assert.Equal(t, 3, result.StepsTaken)
		assert.NotEmpty(t, result.RunID)
	})

	t.Run("should stop at max steps without a final answer", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			toolCallResponse("echo", map[string]interface{}{"text": "loop"}),
		}}
		runner := newTestRunner(t, provider, nil)

		result, err := runner.Run(context.Background(), RunParams{Task: "never finishes"})
		require.NoError(t, err)

		assert.Equal(t, StateMaxSteps, result.State)
		assert.Equal(t, 5, result.StepsTaken)
		assert.Equal(t, 5, provider.callCount())
		assert.Nil(t, result.Output)
	})

	t.Run("should accumulate token usage across steps", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			toolCallResponse("echo", map[string]interface{}{"text": "a"}),
			toolCallResponse("echo", map[string]interface{}{"text": "b"}),
			finalAnswerResponse("done"),
		}}
		runner := newTestRunner(t, provider, nil)

		result, err := runner.Run(context.Background(), RunParams{Task: "count tokens"})
		require.NoError(t, err)

		assert.Equal(t, 30, result.Usage.InputTokens)
		assert.Equal(t, 15, result.Usage.OutputTokens)
	})

	t.Run("should continue after a structural step error", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			{Content: "just musing, no action", Usage: model.TokenUsage{InputTokens: 1}},
			finalAnswerResponse("recovered"),
		}}
		runner := newTestRunner(t, provider, nil)

		result, err := runner.Run(context.Background(), RunParams{Task: "recover"})
		require.NoError(t, err)

		assert.Equal(t, StateSuccess, result.State)
		assert.Equal(t, "recovered", result.Output)
		assert.Equal(t, 2, result.StepsTaken)
	})

	t.Run("should report a provider failure in the result, not the error", func(t *testing.T) {
		provider := &scriptedProvider{
			responses: []*model.Response{nil},
			errs:      []error{fmt.Errorf("rate limited")},
		}
		runner := newTestRunner(t, provider, nil)

		result, err := runner.Run(context.Background(), RunParams{Task: "doomed"})
		require.NoError(t, err)

		assert.Equal(t, StateError, result.State)
		assert.Contains(t, result.Error, "rate limited")
		assert.Equal(t, 1, result.StepsTaken)
	})

	t.Run("should treat context cancellation as fatal", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			toolCallResponse("echo", map[string]interface{}{"text": "x"}),
		}}
		runner := newTestRunner(t, provider, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := runner.Run(ctx, RunParams{Task: "cancelled"})
		require.NoError(t, err)

		assert.Equal(t, StateError, result.State)
		assert.Contains(t, result.Error, "context canceled")
	})

	t.Run("should record the transcript in memory", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			toolCallResponse("echo", map[string]interface{}{"text": "one"}),
			finalAnswerResponse("two"),
		}}
		runner := newTestRunner(t, provider, nil)

		_, err := runner.Run(context.Background(), RunParams{Task: "remember"})
		require.NoError(t, err)

		assert.Equal(t, 1, runner.memory.CountKind(memory.KindTask))
		assert.Equal(t, 2, runner.memory.CountKind(memory.KindAction))
	})

	t.Run("should interleave planning records at the configured interval", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			toolCallResponse("echo", map[string]interface{}{"text": "one"}),
			toolCallResponse("echo", map[string]interface{}{"text": "two"}),
			finalAnswerResponse("planned"),
		}}
		plannerProvider := &scriptedProvider{responses: []*model.Response{
			{Content: "1. echo twice\n2. answer"},
		}}
		plan, err := planner.New(planner.Config{
			Provider: plannerProvider,
			Model:    "test-model",
			Logger:   zerolog.Nop(),
		})
		require.NoError(t, err)
		defer plan.Close()

		runner := newTestRunner(t, provider, func(cfg *Config) {
			cfg.PlanningInterval = 2
			cfg.Planner = plan
		})

		result, err := runner.Run(context.Background(), RunParams{Task: "with planning"})
		require.NoError(t, err)

		assert.Equal(t, StateSuccess, result.State)
		// Plans land before steps 1 and 3.
		assert.Equal(t, 2, runner.memory.CountKind(memory.KindPlanning))
		assert.Equal(t, 3, runner.memory.CountKind(memory.KindAction))
		assert.Equal(t, 2, plannerProvider.callCount())
	})

	t.Run("should fail the run when planning fails", func(t *testing.T) {
		plan, err := planner.New(planner.Config{
			Provider: &scriptedProvider{responses: []*model.Response{nil}, errs: []error{fmt.Errorf("planner down")}},
			Model:    "test-model",
			Logger:   zerolog.Nop(),
		})
		require.NoError(t, err)
		defer plan.Close()

		runner := newTestRunner(t, &scriptedProvider{responses: []*model.Response{finalAnswerResponse("x")}}, func(cfg *Config) {
			cfg.PlanningInterval = 1
			cfg.Planner = plan
		})

		result, err := runner.Run(context.Background(), RunParams{Task: "doomed plan"})
		require.NoError(t, err)

		assert.Equal(t, StateError, result.State)
		assert.Contains(t, result.Error, "planner down")
		assert.Equal(t, 0, result.StepsTaken)
	})

	t.Run("should reset memory between runs by default", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{finalAnswerResponse("a")}}
		runner := newTestRunner(t, provider, nil)

		_, err := runner.Run(context.Background(), RunParams{Task: "first"})
		require.NoError(t, err)
		_, err = runner.Run(context.Background(), RunParams{Task: "second"})
		require.NoError(t, err)

		assert.Equal(t, 1, runner.memory.CountKind(memory.KindTask))
		assert.Equal(t, 1, runner.memory.CountKind(memory.KindAction))
	})

	t.Run("should keep memory across runs when requested", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{finalAnswerResponse("a")}}
		runner := newTestRunner(t, provider, nil)

		_, err := runner.Run(context.Background(), RunParams{Task: "first"})
		require.NoError(t, err)
		_, err = runner.Run(context.Background(), RunParams{Task: "second", KeepMemory: true})
		require.NoError(t, err)

		assert.Equal(t, 2, runner.memory.CountKind(memory.KindTask))
		assert.Equal(t, 2, runner.memory.CountKind(memory.KindAction))
	})

	t.Run("should reject a concurrent run", func(t *testing.T) {
		blocker := make(chan struct{})
		provider := &blockingProvider{release: blocker}
		runner := newTestRunner(t, provider, nil)

		stream, err := runner.RunStream(context.Background(), RunParams{Task: "slow"})
		require.NoError(t, err)

		_, err = runner.Run(context.Background(), RunParams{Task: "too eager"})
		assert.ErrorContains(t, err, "already in progress")

		close(blocker)
		for {
			if _, ok := stream.Next(context.Background()); !ok {
				break
			}
		}
		stream.Result()
	})

	t.Run("should prefix each failed tool observation once", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			toolCallResponse("failing", nil),
			finalAnswerResponse("done"),
		}}
		runner := newTestRunner(t, provider, func(cfg *Config) {
			require.NoError(t, cfg.Registry.Register(tools.Definition{
				Name:        "failing",
				Description: "Always fails",
				Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
					return nil, fmt.Errorf("boom")
				},
			}))
		})

		stream, err := runner.RunStream(context.Background(), RunParams{Task: "fail once"})
		require.NoError(t, err)

		step, ok := stream.Next(context.Background())
		require.True(t, ok)
		assert.Equal(t, "failing: boom", step.Observation)
		assert.Equal(t, 1, strings.Count(step.Observation, "failing:"))

		for {
			if _, ok := stream.Next(context.Background()); !ok {
				break
			}
		}
		result := stream.Result()
		assert.Equal(t, StateSuccess, result.State)
	})

	t.Run("should error a code action without a sandbox", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			{Content: "```python\nprint('hi')\n```"},
			finalAnswerResponse("ok"),
		}}
		runner := newTestRunner(t, provider, nil)

		result, err := runner.Run(context.Background(), RunParams{Task: "code"})
		require.NoError(t, err)

		assert.Equal(t, StateSuccess, result.State)
		records := runner.memory.Records()
		var found bool
		for _, rec := range records {
			action, ok := rec.(memory.ActionRecord)
			if ok && action.StepNumber == 1 {
				assert.Contains(t, action.Error, "no sandbox")
				found = true
			}
		}
		assert.True(t, found, "expected an action record for step 1")
	})
}

// blockingProvider blocks Generate until released, then finishes the run.
type blockingProvider struct {
	release <-chan struct{}
}

func (p *blockingProvider) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return finalAnswerResponse("released"), nil
}

func (p *blockingProvider) Name() string { return "blocking" }

func TestRunStream(t *testing.T) {
	t.Run("should deliver steps in order then the result", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			toolCallResponse("echo", map[string]interface{}{"text": "one"}),
			toolCallResponse("echo", map[string]interface{}{"text": "two"}),
			finalAnswerResponse("three"),
		}}
		runner := newTestRunner(t, provider, nil)

		stream, err := runner.RunStream(context.Background(), RunParams{Task: "stream"})
		require.NoError(t, err)

		var numbers []int
		for {
			step, ok := stream.Next(context.Background())
			if !ok {
				break
			}
			numbers = append(numbers, step.StepNumber)
		}
		assert.Equal(t, []int{1, 2, 3}, numbers)

		result := stream.Result()
		assert.Equal(t, StateSuccess, result.State)
		assert.Equal(t, "three", result.Output)
	})

	t.Run("should not run ahead of the consumer", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			toolCallResponse("echo", map[string]interface{}{"text": "x"}),
		}}
		runner := newTestRunner(t, provider, nil)

		stream, err := runner.RunStream(context.Background(), RunParams{Task: "lazy"})
		require.NoError(t, err)

		// With nobody pulling, the loop parks after producing the first step.
		require.Eventually(t, func() bool { return provider.callCount() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, provider.callCount())

		step, ok := stream.Next(context.Background())
		require.True(t, ok)
		assert.Equal(t, 1, step.StepNumber)
		require.Eventually(t, func() bool { return provider.callCount() == 2 }, time.Second, 5*time.Millisecond)

		stream.Cancel()
		result := stream.Result()
		assert.Equal(t, StateError, result.State)
	})

	t.Run("should stop on cancel", func(t *testing.T) {
		blocker := make(chan struct{})
		defer close(blocker)
		provider := &blockingProvider{release: blocker}
		runner := newTestRunner(t, provider, nil)

		stream, err := runner.RunStream(context.Background(), RunParams{Task: "stuck"})
		require.NoError(t, err)

		stream.Cancel()
		result := stream.Result()
		assert.Equal(t, StateError, result.State)
	})
}

func TestRunSuspendable(t *testing.T) {
	t.Run("should surface control requests and resume on respond", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			toolCallResponse("ask", map[string]interface{}{"question": "which format?"}),
			finalAnswerResponse("json it is"),
		}}

		var ctrl *control.Channel
		runner := newTestRunner(t, provider, func(cfg *Config) {
			ctrl = control.New()
			cfg.Control = ctrl
			err := cfg.Registry.Register(tools.Definition{
				Name:        "ask",
				Description: "Ask the driver a question",
				Parameters: []tools.Parameter{
					{Name: "question", Type: "string", Description: "Question", Required: true},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
					resp, err := ctrl.Request(ctx, control.Request{
						Kind:     control.KindUserInput,
						Prompt:   args["question"].(string),
						Fallback: control.FallbackRaise,
					})
					if err != nil {
						return nil, err
					}
					return resp.Value, nil
				},
			})
			require.NoError(t, err)
		})

		handle, err := runner.RunSuspendable(context.Background(), RunParams{Task: "interactive"})
		require.NoError(t, err)

		req := <-handle.Requests()
		assert.Equal(t, control.KindUserInput, req.Kind)
		assert.Equal(t, "which format?", req.Prompt)
		assert.Equal(t, StateSuspended, handle.State())

		require.NoError(t, handle.Respond(control.Response{Approved: true, Value: "json"}))

		var observations []string
		for step := range handle.Steps() {
			observations = append(observations, step.Observation)
		}
		require.Len(t, observations, 2)
		assert.Contains(t, observations[0], "json")

		result := handle.Result()
		assert.Equal(t, StateSuccess, result.State)
		assert.Equal(t, StateSuccess, handle.State())
	})

	t.Run("should close requests when the run ends", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{finalAnswerResponse("quick")}}
		runner := newTestRunner(t, provider, nil)

		handle, err := runner.RunSuspendable(context.Background(), RunParams{Task: "no questions"})
		require.NoError(t, err)

		result := handle.Result()
		assert.Equal(t, StateSuccess, result.State)

		_, open := <-handle.Requests()
		assert.False(t, open)
		assert.False(t, runner.control.Attached())
	})

	t.Run("should unblock a waiting tool on cancel", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*model.Response{
			toolCallResponse("user_input", map[string]interface{}{"question": "still there?"}),
			finalAnswerResponse("never reached"),
		}}
		var ctrl *control.Channel
		runner := newTestRunner(t, provider, func(cfg *Config) {
			ctrl = control.New()
			cfg.Control = ctrl
			require.NoError(t, cfg.Registry.Register(tools.UserInput(ctrl)))
		})

		handle, err := runner.RunSuspendable(context.Background(), RunParams{Task: "hang"})
		require.NoError(t, err)

		select {
		case <-handle.Requests():
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for control request")
		}

		handle.Cancel()
		result := handle.Result()
		assert.Equal(t, StateError, result.State)
	})
}

func TestClassifyAction(t *testing.T) {
	t.Run("should prefer tool calls over code", func(t *testing.T) {
		resp := &model.Response{
			Content:   "```python\nprint(1)\n```",
			ToolCalls: []model.ToolCall{{Name: "echo"}},
		}
		assert.Equal(t, actionToolCalls, classifyAction(resp))
	})

	t.Run("should detect fenced code", func(t *testing.T) {
		assert.Equal(t, actionCode, classifyAction(&model.Response{Content: "```python\nx = 1\n```"}))
	})

	t.Run("should classify plain prose as no action", func(t *testing.T) {
		assert.Equal(t, actionNone, classifyAction(&model.Response{Content: "I am thinking."}))
	})
}

func TestExtractCode(t *testing.T) {
	t.Run("should extract python by default", func(t *testing.T) {
		code, lang, ok := extractCode("before\n```python\nx = 1\n```\nafter")
		require.True(t, ok)
		assert.Equal(t, "x = 1", code)
		assert.Equal(t, "python", string(lang))
	})

	t.Run("should map shell fences to shell", func(t *testing.T) {
		_, lang, ok := extractCode("```bash\nls -la\n```")
		require.True(t, ok)
		assert.Equal(t, "shell", string(lang))
	})

	t.Run("should ignore empty blocks", func(t *testing.T) {
		_, _, ok := extractCode("```python\n\n```")
		assert.False(t, ok)
	})
}
