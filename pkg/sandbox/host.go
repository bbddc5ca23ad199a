package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// finalAnswerMarker prefixes the stdout line that carries the final answer.
// The python prelude emits it from final_answer().
const finalAnswerMarker = "__ARKA_FINAL_ANSWER__:"

const pythonPrelude = `import sys
def final_answer(value):
    print("__ARKA_FINAL_ANSWER__:" + str(value))
    sys.exit(0)
`

// HostExecutor runs code in host subprocesses. It provides no isolation
// beyond the timeout and output cap; callers wanting real containment should
// wrap it behind their own runtime.
type HostExecutor struct {
	config Config
	logger zerolog.Logger
}

// NewHostExecutor creates a host-based executor.
func NewHostExecutor(config Config, logger zerolog.Logger) (*HostExecutor, error) {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultConfig().MaxOutputBytes
	}
	if len(config.AllowedLanguages) == 0 {
		config.AllowedLanguages = DefaultConfig().AllowedLanguages
	}

	return &HostExecutor{config: config, logger: logger}, nil
}

// Execute runs one snippet and folds stdout/stderr into the result contract.
func (h *HostExecutor) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrEmptyCode
	}
	if !h.languageAllowed(req.Language) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = h.config.DefaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd, cleanup, err := h.buildCommand(execCtx, req)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	} else if h.config.WorkingDir != "" {
		cmd.Dir = h.config.WorkingDir
	}

	cmd.Env = h.buildEnvironment(req.Env)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		h.logger.Warn().
			Str("language", string(req.Language)).
			Dur("timeout", timeout).
			Msg("Code execution timed out")
		return &ExecResult{
			Logs:     h.truncate(stdout.String()),
			Error:    fmt.Sprintf("%v after %v", ErrExecutionTimeout, timeout),
			Duration: duration,
		}, nil
	}

	result := h.foldOutput(stdout.String(), stderr.String(), runErr)
	result.Duration = duration

	h.logger.Debug().
		Str("language", string(req.Language)).
		Dur("duration", duration).
		Bool("final_answer", result.IsFinalAnswer).
		Msg("Code execution completed")

	return result, nil
}

func (h *HostExecutor) buildCommand(ctx context.Context, req ExecRequest) (*exec.Cmd, func(), error) {
	switch req.Language {
	case LanguagePython:
		file, err := os.CreateTemp("", "arka-*.py")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create temp file: %w", err)
		}
		source := pythonPrelude + req.Code
		if _, err := file.WriteString(source); err != nil {
			file.Close()
			os.Remove(file.Name())
			return nil, nil, fmt.Errorf("failed to write code: %w", err)
		}
		file.Close()

		cleanup := func() { os.Remove(file.Name()) }
		return exec.CommandContext(ctx, "python3", file.Name()), cleanup, nil

	case LanguageShell:
		return exec.CommandContext(ctx, "sh", "-c", req.Code), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}
}

// foldOutput maps process output onto the result contract: a marker line wins
// as the final answer, otherwise the full stdout is the action output.
func (h *HostExecutor) foldOutput(stdout, stderr string, runErr error) *ExecResult {
	result := &ExecResult{}

	var logLines []string
	for _, line := range strings.Split(stdout, "\n") {
		if answer, found := strings.CutPrefix(line, finalAnswerMarker); found {
			result.IsFinalAnswer = true
			result.Output = answer
			continue
		}
		logLines = append(logLines, line)
	}
	result.Logs = h.truncate(strings.TrimRight(strings.Join(logLines, "\n"), "\n"))

	if !result.IsFinalAnswer {
		result.Output = result.Logs
	}

	if runErr != nil && !result.IsFinalAnswer {
		msg := runErr.Error()
		if trimmed := strings.TrimSpace(stderr); trimmed != "" {
			msg = h.truncate(trimmed)
		}
		result.Error = msg
	}

	return result
}

func (h *HostExecutor) languageAllowed(lang Language) bool {
	for _, allowed := range h.config.AllowedLanguages {
		if allowed == lang {
			return true
		}
	}
	return false
}

func (h *HostExecutor) buildEnvironment(extra map[string]string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"TMPDIR=" + os.TempDir(),
	}
	for key, value := range extra {
		env = append(env, key+"="+value)
	}
	return env
}

func (h *HostExecutor) truncate(s string) string {
	if len(s) <= h.config.MaxOutputBytes {
		return s
	}
	return s[:h.config.MaxOutputBytes] + "\n[output truncated]"
}
