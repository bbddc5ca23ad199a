package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/harun/arka/pkg/model"
	"github.com/harun/arka/pkg/sandbox"
)

// actionKind is the exhaustive classification of a model response.
type actionKind int

const (
	actionNone actionKind = iota
	actionToolCalls
	actionCode
)

var codeBlockRe = regexp.MustCompile("(?s)```(python|py|sh|shell|bash)?\\s*\n(.*?)```")

// classifyAction decides what the response asks for. Structured tool calls
// win over a code block; a response with neither is a structural error the
// caller records.
func classifyAction(resp *model.Response) actionKind {
	if len(resp.ToolCalls) > 0 {
		return actionToolCalls
	}
	if _, _, ok := extractCode(resp.Content); ok {
		return actionCode
	}
	return actionNone
}

// extractCode pulls the first fenced code block out of free-form text.
func extractCode(content string) (code string, lang sandbox.Language, ok bool) {
	match := codeBlockRe.FindStringSubmatch(content)
	if match == nil {
		return "", "", false
	}

	switch match[1] {
	case "sh", "shell", "bash":
		lang = sandbox.LanguageShell
	default:
		lang = sandbox.LanguagePython
	}

	code = strings.TrimSpace(match[2])
	if code == "" {
		return "", "", false
	}
	return code, lang, true
}

// executeStep produces exactly one step record. The model is called exactly
// once and never retried here. A non-nil error is step-fatal; structural
// problems land on the step's Error field instead and the loop continues.
// Timing and token usage are recorded even mid-error.
func (r *Runner) executeStep(ctx context.Context, stepNumber int) (step *ActionStep, fatalErr error) {
	step = &ActionStep{
		StepNumber: stepNumber,
		StartedAt:  time.Now(),
	}

	defer func() {
		if p := recover(); p != nil {
			fatalErr = fmt.Errorf("step %d panicked: %v", stepNumber, p)
			step.Error = fatalErr.Error()
		}
		step.EndedAt = time.Now()
		step.Duration = step.EndedAt.Sub(step.StartedAt)
	}()

	resp, err := r.cfg.Provider.Generate(ctx, model.Request{
		Model:       r.cfg.Model,
		Messages:    r.memory.ToMessages(),
		Tools:       r.registry.Specs(),
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	})
	if err != nil {
		step.Error = err.Error()
		return step, fmt.Errorf("model call failed: %w", err)
	}

	step.ModelOutput = resp
	step.TokenUsage = resp.Usage

	switch classifyAction(resp) {
	case actionToolCalls:
		r.executeToolCalls(ctx, step, resp.ToolCalls)
	case actionCode:
		r.executeCode(ctx, step, resp.Content)
	case actionNone:
		step.Error = "model response contained neither tool calls nor runnable code"
	}

	return step, nil
}

func (r *Runner) executeToolCalls(ctx context.Context, step *ActionStep, calls []model.ToolCall) {
	step.ToolCalls = calls
	step.ToolOutputs = r.dispatcher.Dispatch(ctx, calls)

	var observations []string
	for i, out := range step.ToolOutputs {
		observations = append(observations, fmt.Sprintf("%s: %s", calls[i].Name, out.Observation))
		if out.IsFinalAnswer {
			step.IsFinal = true
			step.ActionOutput = out.Output
		}
	}
	step.Observation = strings.Join(observations, "\n")
}

func (r *Runner) executeCode(ctx context.Context, step *ActionStep, content string) {
	code, lang, _ := extractCode(content)

	if r.cfg.Sandbox == nil {
		step.Error = "model produced a code action but no sandbox is configured"
		return
	}

	result, err := r.cfg.Sandbox.Execute(ctx, sandbox.ExecRequest{
		Code:     code,
		Language: lang,
	})
	if err != nil {
		step.Error = err.Error()
		return
	}

	step.Observation = result.Logs
	step.Error = result.Error
	if result.IsFinalAnswer {
		step.IsFinal = true
		step.ActionOutput = result.Output
	} else if result.Error == "" {
		step.ActionOutput = result.Output
	}
}
