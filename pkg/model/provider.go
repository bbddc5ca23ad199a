package model

import (
	"context"
	"fmt"
)

// Provider is an interface for LLM API backends. Implementations own their
// retry, queueing, and circuit-breaker behavior; callers issue exactly one
// Generate per logical request.
type Provider interface {
	// Generate makes one generation call.
	Generate(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// NewProvider creates a provider by name.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
