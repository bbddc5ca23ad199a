package sandbox

import "errors"

var (
	// ErrUnsupportedLanguage is returned when the language is not allowed
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrExecutionTimeout is returned when execution times out
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrEmptyCode is returned when the request carries no code
	ErrEmptyCode = errors.New("code cannot be empty")
)
