package sandbox

import (
	"context"
	"time"
)

// Language identifies a supported code language.
type Language string

const (
	LanguagePython Language = "python"
	LanguageShell  Language = "shell"
)

// ExecRequest is one code execution request.
type ExecRequest struct {
	// Code is the source to run.
	Code string `json:"code"`

	// Language selects the interpreter.
	Language Language `json:"language"`

	// Timeout bounds the execution; zero means the executor default.
	Timeout time.Duration `json:"timeout"`

	// WorkingDir is the working directory.
	WorkingDir string `json:"working_dir,omitempty"`

	// Env are extra environment variables.
	Env map[string]string `json:"env,omitempty"`
}

// ExecResult is the contract consumed by the step executor.
type ExecResult struct {
	// Output is the action output, or the final answer when IsFinalAnswer.
	Output string `json:"output"`

	// Logs is everything the code printed.
	Logs string `json:"logs"`

	// Error holds the failure text, empty on success.
	Error string `json:"error,omitempty"`

	// IsFinalAnswer reports that the code signaled completion.
	IsFinalAnswer bool `json:"is_final_answer"`

	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration"`
}

// Executor runs model-authored code.
type Executor interface {
	// Execute runs one snippet and returns the folded result.
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)
}

// Config defines executor configuration.
type Config struct {
	// AllowedLanguages restricts what may run; empty allows python and shell.
	AllowedLanguages []Language `json:"allowed_languages"`

	// DefaultTimeout applies when a request carries none.
	DefaultTimeout time.Duration `json:"default_timeout"`

	// WorkingDir is the default working directory.
	WorkingDir string `json:"working_dir"`

	// MaxOutputBytes truncates captured output.
	MaxOutputBytes int `json:"max_output_bytes"`
}

// DefaultConfig returns a default executor configuration.
func DefaultConfig() Config {
	return Config{
		AllowedLanguages: []Language{LanguagePython, LanguageShell},
		DefaultTimeout:   30 * time.Second,
		MaxOutputBytes:   64 * 1024,
	}
}
