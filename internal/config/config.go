package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Arka configuration
type Config struct {
	// Provider
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Agent
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Planning
	Planning PlanningConfig `json:"planning" mapstructure:"planning"`

	// Sandbox
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`

	// Store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Events
	Events EventsConfig `json:"events" mapstructure:"events"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig holds model provider configuration
type ProviderConfig struct {
	Name   string `json:"name" mapstructure:"name"` // anthropic, openai
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
}

// AgentConfig holds run loop configuration
type AgentConfig struct {
	MaxSteps           int     `json:"max_steps" mapstructure:"max_steps"`
	MaxToolConcurrency int     `json:"max_tool_concurrency" mapstructure:"max_tool_concurrency"`
	Temperature        float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens          int     `json:"max_tokens" mapstructure:"max_tokens"`
	Instructions       string  `json:"instructions" mapstructure:"instructions"`
}

// PlanningConfig holds planner configuration
type PlanningConfig struct {
	Interval    int    `json:"interval" mapstructure:"interval"` // steps between plans; 0 disables
	TemplateDir string `json:"template_dir" mapstructure:"template_dir"`
}

// SandboxConfig holds code execution configuration
type SandboxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	TimeoutSec int    `json:"timeout_sec" mapstructure:"timeout_sec"`
	WorkingDir string `json:"working_dir" mapstructure:"working_dir"`
}

// StoreConfig holds run persistence configuration
type StoreConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	Path          string `json:"path" mapstructure:"path"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
}

// EventsConfig holds event streaming configuration
type EventsConfig struct {
	WebSocketURL string `json:"websocket_url" mapstructure:"websocket_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level"`
	File  string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:  "anthropic",
			Model: "claude-sonnet-4-5",
		},
		Agent: AgentConfig{
			MaxSteps:           10,
			MaxToolConcurrency: 4,
			MaxTokens:          4096,
		},
		Sandbox: SandboxConfig{
			TimeoutSec: 30,
		},
		Store: StoreConfig{
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "openai":
	case "":
		return fmt.Errorf("provider name is required")
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider.Name)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider model is required")
	}
	if c.Agent.MaxSteps < 0 {
		return fmt.Errorf("max_steps must not be negative")
	}
	if c.Agent.MaxToolConcurrency < 0 {
		return fmt.Errorf("max_tool_concurrency must not be negative")
	}
	if c.Planning.Interval < 0 {
		return fmt.Errorf("planning interval must not be negative")
	}
	return nil
}

// String returns the configuration as pretty JSON with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Provider.APIKey != "" {
		masked.Provider.APIKey = "***"
	}
	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
